package connector

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// TWeb discovers documents from TWeb/KTweb platforms. Listings are
// per-doc-type HTML pages; document links carry a docid query parameter
// and files are served through fileshow URLs.
type TWeb struct {
	src     *model.Source
	fetcher Fetcher
}

// defaultTWebPaths are the listing pages probed when the source
// configures none.
var defaultTWebPaths = []model.PathEntry{
	{Path: "/ktwebscr/epj_tek_tweb.htm", DocType: types.DocTypeAgenda},
	{Path: "/ktwebscr/pk_tek_tweb.htm", DocType: types.DocTypeMinutes},
	{Path: "/ktwebscr/vparhaku_tweb.htm", DocType: types.DocTypeDecision},
	{Path: "/ktwebscr/kuullist_tweb.htm", DocType: types.DocTypeAnnouncement},
}

func (c *TWeb) Platform() types.Platform {
	return types.PlatformTWeb
}

func (c *TWeb) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	entries := c.src.Config.Paths.ByDocType()
	configured := len(entries) > 0
	if !configured {
		entries = defaultTWebPaths
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
		refs = append(refs, c.parseListing(ctx, resp.Body, listingURL, entry.DocType)...)
	}

	// With default probing, missing listing pages are expected; a
	// configured path failing is a source error.
	if len(pageErrs) > 0 && (configured || len(refs) == 0) {
		return refs, goerr.Wrap(pageErrs[0], "tweb discovery failed",
			goerr.V("sourceID", c.src.ID), goerr.V("failedPages", len(pageErrs)))
	}
	return refs, nil
}

func (c *TWeb) parseListing(ctx context.Context, body []byte, baseURL string, docType types.DocType) []model.DocumentRef {
	root, err := parseHTML(body)
	if err != nil {
		logging.From(ctx).Warn("unparseable tweb listing", "url", baseURL, "error", err.Error())
		return nil
	}

	seen := make(map[string]bool)
	var refs []model.DocumentRef
	for _, a := range collectAnchors(root) {
		lower := strings.ToLower(a.Href)
		if !strings.Contains(lower, "docid") && !strings.Contains(lower, "fileshow") {
			continue
		}
		full := absURL(baseURL, a.Href)
		if full == "" || seen[full] {
			continue
		}
		seen[full] = true

		docID := queryParam(full, "docid")
		if docID == "" {
			docID = model.StableID(full)
		}

		fileURLs := c.fileURLs(ctx, full, lower)
		if len(fileURLs) == 0 {
			continue
		}

		title := a.Text
		if title == "" {
			title = a.Context
		}
		ref := model.DocumentRef{
			Municipality: c.src.Municipality,
			Platform:     types.PlatformTWeb,
			Body:         extractBody(a.Context, meetingBodyPatterns, c.src.Config.BodyPatterns),
			MeetingDate:  extractDate(a.Context),
			DocType:      docType,
			Title:        title,
			SourceURL:    full,
			FileURLs:     fileURLs,
			ExternalID:   docID,
		}
		if err := ref.Validate(); err != nil {
			logging.From(ctx).Warn("skipping invalid tweb item", "url", full, "error", err.Error())
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// fileURLs resolves the binary URLs of a listing item. Direct fileshow
// and PDF links are used as-is; document pages are scanned for fileshow
// links, falling back to the page URL itself (TWeb serves the PDF from
// docid pages).
func (c *TWeb) fileURLs(ctx context.Context, itemURL, lowerHref string) []string {
	if strings.Contains(lowerHref, "fileshow") || strings.Contains(lowerHref, ".pdf") {
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
		if strings.Contains(lower, "fileshow") || strings.Contains(lower, ".pdf") {
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
