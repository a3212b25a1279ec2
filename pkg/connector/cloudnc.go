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

// CloudNC discovers documents from the CloudNC platform. The platform
// publishes a meeting RSS feed; configured listing paths fall back to
// HTML parsing of meeting pages with PDF attachments.
type CloudNC struct {
	src     *model.Source
	fetcher Fetcher
}

const defaultCloudNCRSSPath = "/meetingrss"

// cloudncLinkKeywords mark anchors that lead to meeting documents
var cloudncLinkKeywords = []string{
	"kokous", "download", "pöytäkirja", "poytakirja", "esityslista",
	"päätös", "paatos", "kuulutus", "asiakirja",
}

func (c *CloudNC) Platform() types.Platform {
	return types.PlatformCloudNC
}

func (c *CloudNC) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	if entries := c.src.Config.Paths.ByDocType(); len(entries) > 0 {
		return c.discoverListings(ctx, entries)
	}

	rssPath := c.src.Config.RSSPath
	if rssPath == "" {
		rssPath = defaultCloudNCRSSPath
	}
	rssURL := absURL(c.src.BaseURL, rssPath)
	resp, err := c.fetcher.Fetch(ctx, rssURL)
	if err != nil {
		return nil, goerr.Wrap(err, "cloudnc rss fetch failed",
			goerr.V("sourceID", c.src.ID), goerr.V("url", rssURL))
	}
	return c.parseRSS(ctx, resp.Text(), rssURL)
}

func (c *CloudNC) discoverListings(ctx context.Context, entries []model.PathEntry) ([]model.DocumentRef, error) {
	var refs []model.DocumentRef
	var pageErrs []error
	for _, entry := range entries {
		listingURL := absURL(c.src.BaseURL, entry.Path)
		resp, err := c.fetcher.Fetch(ctx, listingURL)
		if err != nil {
			pageErrs = append(pageErrs, goerr.Wrap(err, "failed to fetch listing", goerr.V("url", listingURL)))
			continue
		}
		refs = append(refs, c.parseListing(ctx, resp.Body, listingURL, entry.DocType)...)
	}
	if len(pageErrs) > 0 {
		return refs, goerr.Wrap(pageErrs[0], "cloudnc discovery failed",
			goerr.V("sourceID", c.src.ID), goerr.V("failedPages", len(pageErrs)))
	}
	return refs, nil
}

func (c *CloudNC) parseRSS(ctx context.Context, content, feedURL string) ([]model.DocumentRef, error) {
	feed, err := gofeed.NewParser().ParseString(content)
	if err != nil {
		return nil, goerr.Wrap(err, "unparseable cloudnc rss",
			goerr.V("sourceID", c.src.ID), goerr.V("url", feedURL))
	}

	var refs []model.DocumentRef
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		var fileURLs []string
		for _, enc := range item.Enclosures {
			if strings.HasPrefix(enc.Type, "application/pdf") && enc.URL != "" {
				fileURLs = append(fileURLs, enc.URL)
			}
		}
		if len(fileURLs) == 0 {
			fileURLs = c.scanAttachments(ctx, item.Link)
		}
		if len(fileURLs) == 0 {
			logging.From(ctx).Debug("cloudnc item without attachments", "link", item.Link)
			continue
		}

		meetingDate := extractDate(item.Title)
		if meetingDate == nil {
			meetingDate = item.PublishedParsed
		}
		ref := model.DocumentRef{
			Municipality: c.src.Municipality,
			Platform:     types.PlatformCloudNC,
			Body:         extractBody(item.Title, meetingBodyPatterns, c.src.Config.BodyPatterns),
			MeetingDate:  meetingDate,
			PublishedAt:  item.PublishedParsed,
			DocType:      inferDocType(item.Title),
			Title:        item.Title,
			SourceURL:    item.Link,
			FileURLs:     fileURLs,
			ExternalID:   c.externalID(fileURLs[0], item.Link),
		}
		if err := ref.Validate(); err != nil {
			logging.From(ctx).Warn("skipping invalid cloudnc item", "link", item.Link, "error", err.Error())
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (c *CloudNC) parseListing(ctx context.Context, body []byte, baseURL string, docType types.DocType) []model.DocumentRef {
	root, err := parseHTML(body)
	if err != nil {
		logging.From(ctx).Warn("unparseable cloudnc listing", "url", baseURL, "error", err.Error())
		return nil
	}

	seen := make(map[string]bool)
	var refs []model.DocumentRef
	for _, a := range collectAnchors(root) {
		lower := strings.ToLower(a.Href + " " + a.Text)
		if !containsAny(lower, cloudncLinkKeywords) {
			continue
		}
		full := absURL(baseURL, a.Href)
		if full == "" || full == baseURL || strings.Contains(a.Href, "#") || seen[full] {
			continue
		}
		seen[full] = true

		var fileURLs []string
		if strings.Contains(strings.ToLower(a.Href), ".pdf") {
			fileURLs = []string{full}
		} else {
			fileURLs = c.scanAttachments(ctx, full)
		}
		if len(fileURLs) == 0 {
			continue
		}

		ref := model.DocumentRef{
			Municipality: c.src.Municipality,
			Platform:     types.PlatformCloudNC,
			Body:         extractBody(a.Text, meetingBodyPatterns, c.src.Config.BodyPatterns),
			MeetingDate:  extractDate(a.Context),
			DocType:      docType,
			Title:        a.Text,
			SourceURL:    full,
			FileURLs:     fileURLs,
			ExternalID:   c.externalID(fileURLs[0], full),
		}
		if err := ref.Validate(); err != nil {
			logging.From(ctx).Warn("skipping invalid cloudnc item", "url", full, "error", err.Error())
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// scanAttachments fetches a meeting page and collects its PDF and
// download links.
func (c *CloudNC) scanAttachments(ctx context.Context, pageURL string) []string {
	resp, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil
	}
	root, err := parseHTML(resp.Body)
	if err != nil {
		return nil
	}
	var urls []string
	for _, a := range collectAnchors(root) {
		lower := strings.ToLower(a.Href)
		if strings.Contains(lower, ".pdf") || strings.Contains(lower, "download") {
			if full := absURL(pageURL, a.Href); full != "" {
				urls = append(urls, full)
			}
		}
	}
	return urls
}

// externalID prefers the platform's numeric file id, falling back to a
// stable hash of the item URL.
func (c *CloudNC) externalID(fileURL, itemURL string) string {
	if id := lastNumber(fileURL); id != "" {
		return id
	}
	return model.StableID(itemURL)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
