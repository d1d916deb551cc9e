package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/PuerkitoBio/goquery"
)

// CardsParser extracts items from listing pages built from repeated
// article cards: a heading, a link, a teaser paragraph and a date.
type CardsParser struct {
	fetcher engine.PageFetcher
}

// NewCardsParser constructs a CardsParser.
func NewCardsParser(fetcher engine.PageFetcher) *CardsParser {
	return &CardsParser{fetcher: fetcher}
}

// Fetch implements Parser.
func (p *CardsParser) Fetch(ctx context.Context, req Request) ([]engine.RawItem, error) {
	page, err := p.fetcher.FetchPage(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", req.URL, err)
	}
	return ParseCards(page.Body, req.URL, req.Name, req.Limit)
}

// ParseCards runs card extraction over an HTML document.
func ParseCards(body []byte, baseURL, sourceName string, limit int) ([]engine.RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	base, _ := url.Parse(baseURL)

	cards := doc.Find("article")
	if cards.Length() == 0 {
		cards = doc.Find(".post, .card, li.blog-post")
	}

	seen := make(map[string]bool)
	var items []engine.RawItem
	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		heading := card.Find("h1, h2, h3").First()
		link := heading.Find("a[href]").First()
		if link.Length() == 0 {
			link = card.Find("a[href]").First()
		}
		href, _ := link.Attr("href")
		abs := resolve(base, href)
		title := collapse(heading.Text())
		if title == "" {
			title = collapse(link.Text())
		}
		if title == "" || abs == "" || seen[abs] {
			return true
		}
		seen[abs] = true

		item := engine.RawItem{
			EntryID:    abs,
			Title:      title,
			URL:        abs,
			Abstract:   collapse(card.Find("p").First().Text()),
			SourceName: sourceName,
		}
		timeSel := card.Find("time").First()
		raw, ok := timeSel.Attr("datetime")
		if !ok {
			raw = timeSel.Text()
		}
		if ts, ok := parseFeedDate(raw); ok {
			item.PublishedAt = &ts
		}
		items = append(items, item)
		return true
	})
	return items, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
