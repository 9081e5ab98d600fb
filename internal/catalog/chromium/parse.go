package chromium

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listingbot/internal/catalog"
)

// Selectors locate listing data in rendered pages. They are CSS selectors
// evaluated with goquery against the page's outer HTML.
type Selectors struct {
	ListItem   string `json:"list_item"`   // anchors of listings on a category page
	Name       string `json:"name"`        // listing title on a detail page
	FactRow    string `json:"fact_row"`    // one fact per match
	FactLabel  string `json:"fact_label"`  // evaluated inside FactRow
	FactValue  string `json:"fact_value"`  // evaluated inside FactRow
	Screenshot string `json:"screenshot"`  // element to capture; empty = full page
}

func DefaultSelectors() Selectors {
	return Selectors{
		ListItem:   `a[href*="/lediga-objekt/"]`,
		Name:       "h1",
		FactRow:    ".object-facts li, .object-facts tr",
		FactLabel:  ".label, th, dt",
		FactValue:  ".value, td, dd",
		Screenshot: "",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if strings.TrimSpace(s.ListItem) == "" {
		s.ListItem = d.ListItem
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = d.Name
	}
	if strings.TrimSpace(s.FactRow) == "" {
		s.FactRow = d.FactRow
	}
	if strings.TrimSpace(s.FactLabel) == "" {
		s.FactLabel = d.FactLabel
	}
	if strings.TrimSpace(s.FactValue) == "" {
		s.FactValue = d.FactValue
	}
	return s
}

// parseLinks extracts listing links in document order, resolved against
// pageURL and de-duplicated by canonical form. The category page itself is
// never returned as a listing.
func parseLinks(html, pageURL string, sel Selectors) ([]catalog.Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	self := canonical(base)
	seen := map[string]struct{}{}
	var out []catalog.Link
	doc.Find(sel.ListItem).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		id := canonical(u)
		if id == self {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, catalog.Link{ID: id, URL: u.String()})
	})
	return out, nil
}

// parseDetail extracts name and facts from a detail page.
func parseDetail(html string, link catalog.Link, sel Selectors) (catalog.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return catalog.Record{}, fmt.Errorf("parse html: %w", err)
	}
	name := collapse(doc.Find(sel.Name).First().Text())
	if name == "" {
		return catalog.Record{}, fmt.Errorf("no element matches name selector %q", sel.Name)
	}

	var facts []catalog.Fact
	doc.Find(sel.FactRow).Each(func(_ int, row *goquery.Selection) {
		label := strings.TrimSuffix(collapse(row.Find(sel.FactLabel).First().Text()), ":")
		value := collapse(row.Find(sel.FactValue).First().Text())
		if label == "" || value == "" {
			return
		}
		facts = append(facts, catalog.Fact{Label: label, Value: value})
	})

	return catalog.Record{Name: name, Facts: facts, Link: link.ID}, nil
}

// canonical drops query, fragment and trailing slash so that the same
// listing reached through different links shares one identifier.
func canonical(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	c.Host = strings.ToLower(c.Host)
	c.Scheme = strings.ToLower(c.Scheme)
	if len(c.Path) > 1 {
		c.Path = strings.TrimRight(c.Path, "/")
	}
	c.RawPath = ""
	return c.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
