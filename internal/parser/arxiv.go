package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/antchfx/xmlquery"
)

// ArxivAPI is the arXiv export API endpoint.
const ArxivAPI = "http://export.arxiv.org/api/query"

// ArxivDefaultQuery covers the machine learning and AI categories.
const ArxivDefaultQuery = "cat:cs.LG OR cat:cs.AI OR cat:cs.CL OR cat:cs.CV OR cat:cs.RO"

// ArxivParser pulls the newest submissions from the arXiv Atom API.
type ArxivParser struct {
	fetcher engine.PageFetcher
}

// NewArxivParser constructs an ArxivParser.
func NewArxivParser(fetcher engine.PageFetcher) *ArxivParser {
	return &ArxivParser{fetcher: fetcher}
}

// Fetch implements Parser.
func (p *ArxivParser) Fetch(ctx context.Context, req Request) ([]engine.RawItem, error) {
	apiURL := ArxivQueryURL(req.URL, req.Limit)
	page, err := p.fetcher.FetchPage(ctx, apiURL)
	if err != nil {
		return nil, fmt.Errorf("fetch arxiv: %w", err)
	}
	doc, err := xmlquery.Parse(strings.NewReader(string(page.Body)))
	if err != nil {
		return nil, fmt.Errorf("parse arxiv feed: %w", err)
	}
	var items []engine.RawItem
	for _, n := range xmlquery.Find(doc, "//*[local-name()='entry']") {
		if req.Limit > 0 && len(items) >= req.Limit {
			break
		}
		item := feedItem(n, req.Name)
		if pdf := xmlquery.FindOne(n, "./*[local-name()='link'][@title='pdf']"); pdf != nil {
			item.URL = pdf.SelectAttr("href")
		}
		if item.URL == "" {
			item.URL = item.EntryID
		}
		if item.EntryID == "" || item.Title == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// ArxivQueryURL derives the API query from a source URL. An export API URL is
// kept with its search terms; anything else falls back to the default query.
func ArxivQueryURL(sourceURL string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := url.Values{}
	if u, err := url.Parse(sourceURL); err == nil && u.Host == "export.arxiv.org" && u.Query().Get("search_query") != "" {
		q = u.Query()
	} else {
		q.Set("search_query", ArxivDefaultQuery)
	}
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(limit))
	return ArxivAPI + "?" + q.Encode()
}
