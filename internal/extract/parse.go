package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// ListingParser returns the item URLs found in a listing page body, resolved
// against base. Markup that does not match yields an empty slice.
type ListingParser func(base *url.URL, body []byte) ([]string, error)

// ItemParser turns an item page body into a label to text map.
type ItemParser func(pageURL string, body []byte) (map[string]string, error)

// NewListingParser builds a goquery ListingParser reading href attributes
// from the elements matched by sel.ListingLink.
func NewListingParser(sel Selectors) ListingParser {
	sel = sel.withDefaults()
	return func(base *url.URL, body []byte) ([]string, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse listing html: %w", err)
		}
		seen := make(map[string]struct{})
		var urls []string
		doc.Find(sel.ListingLink).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				href, ok = s.Find("a[href]").First().Attr("href")
			}
			href = strings.TrimSpace(href)
			if !ok || href == "" {
				return
			}
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			abs := ref.String()
			if base != nil {
				abs = base.ResolveReference(ref).String()
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			urls = append(urls, abs)
		})
		return urls, nil
	}
}

// NewItemParser builds a goquery ItemParser. Missing blocks are skipped; the
// image field is always present and empty when the image or its parameter is
// absent.
func NewItemParser(sel Selectors) ItemParser {
	sel = sel.withDefaults()
	return func(pageURL string, body []byte) (map[string]string, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse item html: %w", err)
		}
		fields := map[string]string{catalog.FieldURL: pageURL}

		if title := cleanText(doc.Find(sel.Title).First().Text()); title != "" {
			fields[catalog.FieldName] = title
		}
		parseSubHeader(doc.Find(sel.SubHeader).First(), sel.YearTitle, fields)
		parseSpecTable(doc.Find(sel.SpecTable).First(), fields)
		parseContributors(doc.Find(sel.ContributorBlocks), fields)

		src, _ := doc.Find(sel.Image).First().Attr("src")
		fields[catalog.FieldImageURL] = imageFromSrc(src, sel.ImageURLParam)
		return fields, nil
	}
}

func parseSubHeader(block *goquery.Selection, yearTitle string, fields map[string]string) {
	if block.Length() == 0 {
		return
	}
	block.Find("p").Each(func(i int, p *goquery.Selection) {
		text := cleanText(p.Text())
		if text == "" {
			return
		}
		if title, _ := p.Attr("title"); title == yearTitle {
			fields[catalog.FieldYear] = text
			return
		}
		if i == 0 {
			fields[catalog.FieldType] = text
		}
	})
}

func parseSpecTable(table *goquery.Selection, fields map[string]string) {
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		label := strings.TrimSpace(strings.TrimSuffix(cleanText(th.Text()), ":"))
		if label == "" {
			return
		}
		fields[label] = cleanText(td.Text())
	})
}

func parseContributors(blocks *goquery.Selection, fields map[string]string) {
	blocks.Each(func(_ int, block *goquery.Selection) {
		role, _ := block.Attr("title")
		role = strings.TrimSpace(role)
		if role == "" {
			return
		}
		var names []string
		block.Find("a").Each(func(_ int, a *goquery.Selection) {
			if n := cleanText(a.Text()); n != "" {
				names = append(names, n)
			}
		})
		if len(names) > 0 {
			fields[role] = strings.Join(names, " / ")
		}
	})
}

// ReviewParser returns the reviews listed on a review page body. Links are
// resolved against base.
type ReviewParser func(base *url.URL, body []byte) ([]catalog.Review, error)

// stripIcon removes an icon ligature rendered as text at either end of s.
func stripIcon(s, icon string) string {
	s = cleanText(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, icon))
	return strings.TrimSpace(strings.TrimSuffix(s, icon))
}

// NewReviewParser builds a goquery ReviewParser. Rows with no recognizable
// field are dropped.
func NewReviewParser(sel ReviewSelectors) ReviewParser {
	sel = sel.withDefaults()
	return func(base *url.URL, body []byte) ([]catalog.Review, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse review html: %w", err)
		}
		var out []catalog.Review
		doc.Find(sel.Row).Each(func(_ int, row *goquery.Selection) {
			rv := catalog.Review{
				Game:   stripIcon(row.Find(sel.GameTitle).First().Text(), "open_in_new"),
				Date:   stripIcon(row.Find(sel.Date).First().Text(), "update"),
				Score:  cleanText(row.Find(sel.Score).First().Text()),
				Author: reviewAuthor(row, sel),
			}
			if href, ok := row.Find(sel.GameLink).First().Attr("href"); ok {
				rv.GameURL = resolveHref(base, href)
			}
			if rv == (catalog.Review{}) {
				return
			}
			out = append(out, rv)
		})
		return out, nil
	}
}

// reviewAuthor reads the reviewer from the avatar image alt text, falling
// back to the avatar button's data-nickname.
func reviewAuthor(row *goquery.Selection, sel ReviewSelectors) string {
	if alt, ok := row.Find(sel.AvatarImage).First().Attr("alt"); ok {
		alt = strings.TrimSpace(alt)
		if i := strings.Index(strings.ToLower(alt), "avatar de :"); i >= 0 {
			alt = alt[i+len("avatar de :"):]
		}
		if name := cleanText(alt); name != "" {
			return name
		}
	}
	nick, _ := row.Find(sel.AvatarButton).First().Attr("data-nickname")
	return cleanText(nick)
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil || href == "" {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// imageFromSrc pulls the real image location out of a proxied src such as
// /_next/image?url=https%3A%2F%2Fcdn%2Fa.png&w=640.
func imageFromSrc(src, param string) string {
	if src == "" {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return u.Query().Get(param)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
