package connector

import (
	"context"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// MunicipalWebsite is the generic scraper for municipalities that
// publish PDFs directly on their website.
type MunicipalWebsite struct {
	src     *model.Source
	fetcher Fetcher
}

var defaultPDFPattern = regexp.MustCompile(`(?i)\.pdf`)

func (c *MunicipalWebsite) Platform() types.Platform {
	return types.PlatformMunicipalWebsite
}

func (c *MunicipalWebsite) Discover(ctx context.Context) ([]model.DocumentRef, error) {
	pdfRe := defaultPDFPattern
	if p := c.src.Config.PDFPattern; p != "" {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid pdf_pattern in source config",
				goerr.V("sourceID", c.src.ID), goerr.V("pattern", p))
		}
		pdfRe = re
	}

	type listing struct {
		path    string
		docType types.DocType // zero when inferred per anchor
	}
	var listings []listing
	for _, entry := range c.src.Config.Paths.ByDocType() {
		listings = append(listings, listing{path: entry.Path, docType: entry.DocType})
	}
	for _, p := range c.src.Config.ListingPaths {
		listings = append(listings, listing{path: p})
	}
	if len(listings) == 0 {
		listings = append(listings, listing{path: "/"})
	}

	var refs []model.DocumentRef
	var pageErrs []error
	for _, l := range listings {
		listingURL := absURL(c.src.BaseURL, l.path)
		resp, err := c.fetcher.Fetch(ctx, listingURL)
		if err != nil {
			pageErrs = append(pageErrs, goerr.Wrap(err, "failed to fetch listing", goerr.V("url", listingURL)))
			continue
		}
		refs = append(refs, c.parsePage(ctx, resp.Body, listingURL, l.docType, pdfRe)...)
	}

	if len(pageErrs) > 0 {
		return refs, goerr.Wrap(pageErrs[0], "municipal website discovery failed",
			goerr.V("sourceID", c.src.ID), goerr.V("failedPages", len(pageErrs)))
	}
	return refs, nil
}

func (c *MunicipalWebsite) parsePage(ctx context.Context, body []byte, baseURL string, docType types.DocType, pdfRe *regexp.Regexp) []model.DocumentRef {
	root, err := parseHTML(body)
	if err != nil {
		logging.From(ctx).Warn("unparseable listing page", "url", baseURL, "error", err.Error())
		return nil
	}

	seen := make(map[string]bool)
	var refs []model.DocumentRef
	for _, a := range collectAnchors(root) {
		if !pdfRe.MatchString(a.Href) {
			continue
		}
		full := absURL(baseURL, a.Href)
		if full == "" || seen[full] {
			continue
		}
		seen[full] = true

		dt := docType
		if dt == "" {
			dt = inferDocType(a.Context + " " + a.Href)
		}
		title := a.Text
		if title == "" {
			title = a.Context
		}
		ref := model.DocumentRef{
			Municipality: c.src.Municipality,
			Platform:     types.PlatformMunicipalWebsite,
			Body:         extractBody(a.Context+" "+a.Href, defaultBodyPatterns, c.src.Config.BodyPatterns),
			MeetingDate:  extractDate(a.Context),
			DocType:      dt,
			Title:        title,
			SourceURL:    full,
			FileURLs:     []string{full},
			ExternalID:   model.StableID(full),
		}
		if err := ref.Validate(); err != nil {
			logging.From(ctx).Warn("skipping invalid website item", "url", full, "error", err.Error())
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}
