package connector

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mmcdole/gofeed"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// Dynasty discovers documents from the Dynasty (Innofactor) platform.
// Listings are frame pages; meeting items link documents by docid.
type Dynasty struct {
	src     *model.Source
	fetcher Fetcher
}

var defaultDynastyPaths = []model.PathEntry{
	{Path: "/cgi/DREQUEST.PHP?page=meeting_frames", DocType: types.DocTypeMinutes},
}

// dynastyItemKeywords mark anchors that lead to meeting items
var dynastyItemKeywords = []string{"docid=", "htmtxt", "download", "fileshow"}

// dynastyFrameKeywords mark content frames worth following
var dynastyFrameKeywords = []string{"kokous", "meeting", "official", "announcement", "handler"}

func (c *Dynasty) Platform() types.Platform {
	return types.PlatformDynasty
}

func (c *Dynasty) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	entries := c.src.Config.Paths.ByDocType()
	if len(entries) == 0 {
		entries = defaultDynastyPaths
	}

	var refs []model.DocumentRef
	var pageErrs []error
	for _, entry := range entries {
		listingURL := absURL(c.src.BaseURL, entry.Path)
		resp, err := c.fetcher.Fetch(ctx, listingURL)
		if err != nil {
			pageErrs = append(pageErrs, goerr.Wrap(err, "failed to fetch listing", goerr.V("url", listingURL)))
			continue
		}
		if looksLikeRSS(resp.ContentType, resp.Body) {
			rssRefs, err := c.parseRSS(ctx, resp.Text(), entry.DocType)
			if err != nil {
				pageErrs = append(pageErrs, err)
				continue
			}
			refs = append(refs, rssRefs...)
			continue
		}
		refs = append(refs, c.parseListing(ctx, resp.Body, listingURL, entry.DocType)...)
	}

	if len(pageErrs) > 0 {
		return refs, goerr.Wrap(pageErrs[0], "dynasty discovery failed",
			goerr.V("sourceID", c.src.ID), goerr.V("failedPages", len(pageErrs)))
	}
	return refs, nil
}

func looksLikeRSS(contentType string, body []byte) bool {
	if strings.Contains(contentType, "xml") {
		return true
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(string(head), "<rss")
}

func (c *Dynasty) parseRSS(ctx context.Context, content string, docType types.DocType) ([]model.DocumentRef, error) {
	feed, err := gofeed.NewParser().ParseString(content)
	if err != nil {
		return nil, goerr.Wrap(err, "unparseable dynasty rss", goerr.V("sourceID", c.src.ID))
	}

	var refs []model.DocumentRef
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		fileURLs := c.itemFiles(ctx, item.Link, strings.ToLower(item.Link))
		if len(fileURLs) == 0 {
			continue
		}
		meetingDate := extractDate(item.Title)
		if meetingDate == nil {
			meetingDate = item.PublishedParsed
		}
		ref := model.DocumentRef{
			Municipality: c.src.Municipality,
			Platform:     types.PlatformDynasty,
			Body:         extractBody(item.Title, meetingBodyPatterns, c.src.Config.BodyPatterns),
			MeetingDate:  meetingDate,
			PublishedAt:  item.PublishedParsed,
			DocType:      docType,
			Title:        item.Title,
			SourceURL:    item.Link,
			FileURLs:     fileURLs,
			ExternalID:   c.externalID(item.Link),
		}
		if err := ref.Validate(); err != nil {
			logging.From(ctx).Warn("skipping invalid dynasty item", "link", item.Link, "error", err.Error())
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (c *Dynasty) parseListing(ctx context.Context, body []byte, baseURL string, docType types.DocType) []model.DocumentRef {
	root, err := parseHTML(body)
	if err != nil {
		logging.From(ctx).Warn("unparseable dynasty listing", "url", baseURL, "error", err.Error())
		return nil
	}

	// Frame pages carry no items themselves; follow the content frame.
	for _, src := range collectFrames(root) {
		if !containsAny(strings.ToLower(src), dynastyFrameKeywords) {
			continue
		}
		frameURL := absURL(baseURL, src)
		resp, err := c.fetcher.Fetch(ctx, frameURL)
		if err != nil {
			logging.From(ctx).Warn("failed to fetch dynasty frame", "url", frameURL, "error", err.Error())
			continue
		}
		if frameRoot, err := parseHTML(resp.Body); err == nil {
			root = frameRoot
			baseURL = frameURL
			break
		}
	}

	seen := make(map[string]bool)
	var refs []model.DocumentRef
	for _, a := range collectAnchors(root) {
		lower := strings.ToLower(a.Href)
		if !containsAny(lower, dynastyItemKeywords) {
			continue
		}
		full := absURL(baseURL, a.Href)
		if full == "" || full == baseURL || strings.HasPrefix(a.Href, "#") || seen[full] {
			continue
		}
		seen[full] = true

		fileURLs := c.itemFiles(ctx, full, lower)
		if len(fileURLs) == 0 {
			continue
		}

		title := a.Text
		if title == "" {
			title = a.Context
		}
		ref := model.DocumentRef{
			Municipality: c.src.Municipality,
			Platform:     types.PlatformDynasty,
			Body:         extractBody(a.Context, meetingBodyPatterns, c.src.Config.BodyPatterns),
			MeetingDate:  extractDate(a.Context),
			DocType:      docType,
			Title:        title,
			SourceURL:    full,
			FileURLs:     fileURLs,
			ExternalID:   c.externalID(full),
		}
		if err := ref.Validate(); err != nil {
			logging.From(ctx).Warn("skipping invalid dynasty item", "url", full, "error", err.Error())
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// itemFiles resolves the binary URLs of an item: direct file links are
// used as-is, item pages are scanned for attachment links.
func (c *Dynasty) itemFiles(ctx context.Context, itemURL, lowerHref string) []string {
	if strings.Contains(lowerHref, ".pdf") || strings.Contains(lowerHref, "fileshow") || strings.Contains(lowerHref, "download") {
		return []string{itemURL}
	}
	resp, err := c.fetcher.Fetch(ctx, itemURL)
	if err != nil {
		return []string{itemURL}
	}
	root, err := parseHTML(resp.Body)
	if err != nil {
		return []string{itemURL}
	}
	var urls []string
	for _, a := range collectAnchors(root) {
		lower := strings.ToLower(a.Href)
		if strings.Contains(lower, ".pdf") || strings.Contains(lower, "download") || strings.Contains(lower, "fileshow") {
			if full := absURL(itemURL, a.Href); full != "" {
				urls = append(urls, full)
			}
		}
	}
	if len(urls) == 0 {
		return []string{itemURL}
	}
	return urls
}

// externalID prefers the platform's item id from the docid parameter
func (c *Dynasty) externalID(rawURL string) string {
	if id := queryParam(rawURL, "docid"); id != "" {
		return id
	}
	return model.StableID(rawURL)
}
