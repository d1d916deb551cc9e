package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/antchfx/xmlquery"
)

var feedDateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02",
}

// FeedParser reads RSS 2.0 and Atom feeds.
type FeedParser struct {
	fetcher engine.PageFetcher
}

// NewFeedParser constructs a FeedParser.
func NewFeedParser(fetcher engine.PageFetcher) *FeedParser {
	return &FeedParser{fetcher: fetcher}
}

// Fetch implements Parser.
func (p *FeedParser) Fetch(ctx context.Context, req Request) ([]engine.RawItem, error) {
	page, err := p.fetcher.FetchPage(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", req.URL, err)
	}
	return ParseFeed(page.Body, req.Name, req.Limit)
}

// ParseFeed extracts items from an RSS or Atom document.
func ParseFeed(body []byte, sourceName string, limit int) ([]engine.RawItem, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	var items []engine.RawItem
	for _, n := range xmlquery.Find(doc, "//*[local-name()='item' or local-name()='entry']") {
		if limit > 0 && len(items) >= limit {
			break
		}
		item := feedItem(n, sourceName)
		if item.Title == "" || item.URL == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func feedItem(n *xmlquery.Node, sourceName string) engine.RawItem {
	item := engine.RawItem{
		Title:      collapse(childText(n, "title")),
		Abstract:   collapse(firstText(n, "description", "summary", "content")),
		SourceName: sourceName,
	}
	item.URL = feedLink(n)
	item.EntryID = strings.TrimSpace(firstText(n, "guid", "id"))
	if item.EntryID == "" {
		item.EntryID = item.URL
	}
	for _, a := range xmlquery.Find(n, "./*[local-name()='author' or local-name()='creator']") {
		name := strings.TrimSpace(childText(a, "name"))
		if name == "" {
			name = strings.TrimSpace(a.InnerText())
		}
		if name != "" {
			item.Authors = append(item.Authors, name)
		}
	}
	if ts, ok := parseFeedDate(firstText(n, "pubDate", "published", "updated", "date")); ok {
		item.PublishedAt = &ts
	}
	return item
}

func feedLink(n *xmlquery.Node) string {
	for _, l := range xmlquery.Find(n, "./*[local-name()='link']") {
		if href := strings.TrimSpace(l.SelectAttr("href")); href != "" {
			rel := l.SelectAttr("rel")
			if rel == "" || rel == "alternate" {
				return href
			}
			continue
		}
		if text := strings.TrimSpace(l.InnerText()); text != "" {
			return text
		}
	}
	return ""
}

func childText(n *xmlquery.Node, name string) string {
	c := xmlquery.FindOne(n, "./*[local-name()='"+name+"']")
	if c == nil {
		return ""
	}
	return c.InnerText()
}

func firstText(n *xmlquery.Node, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(childText(n, name)); v != "" {
			return v
		}
	}
	return ""
}

func parseFeedDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range feedDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
