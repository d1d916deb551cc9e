package ingest

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// CanonicalURL normalizes rawURL for deduplication: scheme and host are
// lowercased, the fragment and utm_* tracking parameters are dropped and a
// trailing slash is trimmed. Unparseable input is returned trimmed.
func CanonicalURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if strings.HasPrefix(strings.ToLower(key), "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	} else {
		u.Path = ""
	}
	return u.String()
}

// Dedup collapses items sharing a canonical URL. Order follows first
// appearance; the last duplicate's content wins. Items without a URL are
// keyed by entry id.
func Dedup(items []engine.RawItem) []engine.RawItem {
	index := make(map[string]int, len(items))
	out := make([]engine.RawItem, 0, len(items))
	for _, item := range items {
		key := CanonicalURL(item.URL)
		if key == "" {
			key = "entry:" + item.EntryID
		}
		if i, ok := index[key]; ok {
			out[i] = item
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}
