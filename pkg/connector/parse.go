package connector

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ymparistovahti/vahti/pkg/domain/types"
	"golang.org/x/net/html"
)

// anchor is one <a href> element with its surrounding context block
type anchor struct {
	Href    string
	Text    string
	Context string
}

// contextTags are the ancestors whose text gives an anchor its context
var contextTags = map[string]bool{
	"li": true, "p": true, "div": true, "td": true, "tr": true,
	"article": true, "section": true,
}

func parseHTML(b []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(b))
}

// collectAnchors walks the document and returns every anchor with a
// non-empty href, in document order.
func collectAnchors(root *html.Node) []anchor {
	var out []anchor
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := attrVal(n, "href"); href != "" {
				out = append(out, anchor{
					Href:    href,
					Text:    nodeText(n),
					Context: contextText(n),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// collectFrames returns the src of every frame and iframe
func collectFrames(root *html.Node) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "frame" || n.Data == "iframe") {
			if src := attrVal(n, "src"); src != "" {
				out = append(out, src)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func attrVal(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// contextText returns the text of the nearest context ancestor, falling
// back to the anchor's own text.
func contextText(n *html.Node) string {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && contextTags[p.Data] {
			return nodeText(p)
		}
	}
	return nodeText(n)
}

// absURL resolves href against base. Unresolvable hrefs come back empty.
func absURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}

// queryParam extracts a query parameter from a URL, case-insensitively
// on the key.
func queryParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for k, vs := range u.Query() {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// bodyPattern maps a lowercase keyword to a committee label. Matching is
// ordered: more specific keywords come first.
type bodyPattern struct {
	Keyword string
	Label   string
}

// defaultBodyPatterns is the committee dictionary used when a source
// configures no overrides.
var defaultBodyPatterns = []bodyPattern{
	{"valtuusto", "Kunnanvaltuusto"},
	{"hallitus", "Kunnanhallitus"},
	{"ympäristö", "Ympäristölautakunta"},
	{"tekninen", "Tekninen lautakunta"},
	{"rakennus", "Rakennuslautakunta"},
	{"hyvinvointi", "Hyvinvointilautakunta"},
	{"sivistys", "Sivistyslautakunta"},
	{"tarkastus", "Tarkastuslautakunta"},
}

// meetingBodyPatterns extends the dictionary for the meeting-management
// platforms whose listings name organs more precisely.
var meetingBodyPatterns = []bodyPattern{
	{"kaupunginvaltuusto", "Kaupunginvaltuusto"},
	{"kunnanvaltuusto", "Kunnanvaltuusto"},
	{"aluevaltuusto", "Aluevaltuusto"},
	{"maakuntavaltuusto", "Maakuntavaltuusto"},
	{"valtuusto", "Valtuusto"},
	{"kaupunginhallitus", "Kaupunginhallitus"},
	{"kunnanhallitus", "Kunnanhallitus"},
	{"aluehallitus", "Aluehallitus"},
	{"maakuntahallitus", "Maakuntahallitus"},
	{"hallitus", "Hallitus"},
	{"ympäristö", "Ympäristölautakunta"},
	{"tekninen", "Tekninen lautakunta"},
	{"kaavoitus", "Kaavoituslautakunta"},
	{"rakennus", "Rakennuslautakunta"},
	{"lupa", "Lupalautakunta"},
	{"hyvinvointi", "Hyvinvointilautakunta"},
	{"sivistys", "Sivistyslautakunta"},
	{"tarkastus", "Tarkastuslautakunta"},
}

// unknownBody is the label used when no committee keyword matches
const unknownBody = "Tuntematon"

// extractBody finds the committee name for a text. Overrides from source
// configuration take precedence over the built-in dictionary.
func extractBody(text string, patterns []bodyPattern, overrides map[string]string) string {
	lower := strings.ToLower(text)
	for keyword, label := range overrides {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return label
		}
	}
	for _, p := range patterns {
		if strings.Contains(lower, p.Keyword) {
			return p.Label
		}
	}
	return unknownBody
}

var (
	finnishDateRe = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	isoDateRe     = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

// extractDate finds a d.m.yyyy or yyyy-mm-dd date in the text
func extractDate(text string) *time.Time {
	if m := finnishDateRe.FindStringSubmatch(text); m != nil {
		if t := validDate(m[3], m[2], m[1]); t != nil {
			return t
		}
	}
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if t := validDate(m[1], m[2], m[3]); t != nil {
			return t
		}
	}
	return nil
}

func validDate(ys, ms, ds string) *time.Time {
	y, m, d := atoi(ys), atoi(ms), atoi(ds)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return nil
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || t.Month() != time.Month(m) || t.Day() != d {
		return nil
	}
	return &t
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// docTypeKeywords maps Finnish document keywords to document types, in
// match order. ASCII-folded variants cover filenames without umlauts.
var docTypeKeywords = []struct {
	Keyword string
	DocType types.DocType
}{
	{"esityslista", types.DocTypeAgenda},
	{"pöytäkirja", types.DocTypeMinutes},
	{"poytakirja", types.DocTypeMinutes},
	{"päätös", types.DocTypeDecision},
	{"paatos", types.DocTypeDecision},
	{"viranhaltija", types.DocTypeDecision},
	{"kuulutus", types.DocTypeAnnouncement},
}

// inferDocType guesses the document type from keywords, defaulting to
// minutes.
func inferDocType(text string) types.DocType {
	lower := strings.ToLower(text)
	for _, kw := range docTypeKeywords {
		if strings.Contains(lower, kw.Keyword) {
			return kw.DocType
		}
	}
	return types.DocTypeMinutes
}

// lastNumber extracts the last run of digits in a URL path, used by
// platforms whose download URLs carry a numeric file id.
var lastNumberRe = regexp.MustCompile(`(\d+)(?:\D*)$`)

func lastNumber(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if m := lastNumberRe.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}
