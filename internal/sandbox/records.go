package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ToRawItems validates records and converts them. Records beyond limit are
// dropped when limit > 0.
func ToRawItems(records []map[string]string, sourceName string, limit int) ([]engine.RawItem, error) {
	if len(records) == 0 {
		return nil, ErrEmptyResult
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	items := make([]engine.RawItem, 0, len(records))
	for i, rec := range records {
		if missing := missingKeys(rec); len(missing) > 0 {
			return nil, fmt.Errorf("%w: record %d lacks %s", ErrMissingKeys, i, strings.Join(missing, ", "))
		}
		item := engine.RawItem{
			EntryID:    strings.TrimSpace(rec["entry_id"]),
			Title:      strings.TrimSpace(rec["title"]),
			URL:        strings.TrimSpace(rec["url"]),
			Abstract:   strings.TrimSpace(firstNonEmpty(rec["abstract"], rec["summary"])),
			SourceName: sourceName,
		}
		if authors := strings.TrimSpace(rec["authors"]); authors != "" {
			for _, a := range strings.Split(authors, ",") {
				if a = strings.TrimSpace(a); a != "" {
					item.Authors = append(item.Authors, a)
				}
			}
		}
		if ts, ok := parseDate(firstNonEmpty(rec["published_date"], rec["published"], rec["date"])); ok {
			item.PublishedAt = &ts
		}
		items = append(items, item)
	}
	return items, nil
}

func missingKeys(rec map[string]string) []string {
	var missing []string
	for _, k := range RequiredKeys {
		if strings.TrimSpace(rec[k]) == "" {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
