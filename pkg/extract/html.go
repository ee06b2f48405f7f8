// Package extract turns a fetched product page into content.Facts.
//
// The selectors cover the storefront's product template and fall back to
// generic markup (h1, Open Graph and description meta tags) so that other
// shops still yield a title and a description.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/content"
)

var (
	// ErrEmptyPage is returned for an empty payload.
	ErrEmptyPage = errors.New("empty page")

	// ErrNotProductPage is returned when no title can be found.
	ErrNotProductPage = errors.New("no product title found")
)

var (
	titleSelectors = []string{"h1.prod-title", "h1.product-title", "h1.product__title", "h1"}

	descriptionSelectors = []string{
		".product-description p",
		".product__description p",
		"[itemprop=description] p",
		".product-description",
		"[itemprop=description]",
	}

	imageSelectors = []string{
		".product-gallery img",
		".product__gallery img",
		".product-image img",
		`img[src*="/content/images/"]`,
	}

	specRowSelectors  = []string{"table.product-features tr", ".product-features tr", ".product-specs tr"}
	specItemSelectors = []string{".product-features li", ".product-specs li", ".characteristics li"}
	advantageSelector = ".product-advantages li, .advantages li"

	brandNames = map[string]bool{"brand": true, "бренд": true, "виробник": true, "производитель": true}
)

// HTMLExtractor parses product pages with goquery. The zero value is ready
// to use and safe for concurrent use.
type HTMLExtractor struct{}

// New creates an HTML extractor.
func New() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract parses raw as the locale's product page found at key.
func (HTMLExtractor) Extract(ctx context.Context, raw []byte, key, locale string) (content.Facts, error) {
	if err := ctx.Err(); err != nil {
		return content.Facts{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return content.Facts{}, ErrEmptyPage
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return content.Facts{}, fmt.Errorf("parse html: %w", err)
	}

	f := content.Facts{Key: key, Locale: locale}

	f.Title = firstText(doc, titleSelectors)
	if f.Title == "" {
		f.Title = metaContent(doc, `meta[property="og:title"]`)
	}
	if f.Title == "" {
		return content.Facts{}, fmt.Errorf("%w at %s", ErrNotProductPage, key)
	}

	f.Description = descriptionText(doc)
	if f.Description == "" {
		f.Description = metaContent(doc, `meta[name="description"]`)
	}

	f.Specs = specs(doc)

	f.Brand = metaContent(doc, `meta[property="product:brand"]`)
	if f.Brand == "" {
		for _, s := range f.Specs {
			if brandNames[strings.ToLower(strings.TrimSuffix(s.Name, ":"))] {
				f.Brand = s.Value
				break
			}
		}
	}

	f.Image = resolveURL(key, imageURL(doc))

	doc.Find(advantageSelector).Each(func(_ int, s *goquery.Selection) {
		if t := normSpace(s.Text()); t != "" {
			f.Advantages = append(f.Advantages, t)
		}
	})

	return f, nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if t := normSpace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func descriptionText(doc *goquery.Document) string {
	for _, sel := range descriptionSelectors {
		var parts []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := normSpace(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, sel string) string {
	v, _ := doc.Find(sel).First().Attr("content")
	return normSpace(v)
}

func specs(doc *goquery.Document) []content.Spec {
	var out []content.Spec
	for _, sel := range specRowSelectors {
		doc.Find(sel).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td, th")
			if cells.Length() < 2 {
				return
			}
			name := normSpace(cells.Eq(0).Text())
			value := normSpace(cells.Eq(1).Text())
			if name != "" && value != "" {
				out = append(out, content.Spec{Name: strings.TrimSuffix(name, ":"), Value: value})
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	for _, sel := range specItemSelectors {
		doc.Find(sel).Each(func(_ int, li *goquery.Selection) {
			name, value, ok := strings.Cut(normSpace(li.Text()), ":")
			if ok && strings.TrimSpace(name) != "" && strings.TrimSpace(value) != "" {
				out = append(out, content.Spec{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return out
}

func imageURL(doc *goquery.Document) string {
	if v := metaContent(doc, `meta[property="og:image"]`); v != "" {
		return v
	}
	for _, sel := range imageSelectors {
		img := doc.Find(sel).First()
		for _, attr := range []string{"data-src", "src"} {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func normSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
