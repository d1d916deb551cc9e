package parser

import "github.com/JakeFAU/synthesis-engine/internal/engine"

// Aliases map the source types suggested by discovery onto built-in parsers.
var Aliases = map[string]string{
	"blog":  TypeHTMLCards,
	"news":  TypeHTMLCards,
	"rss":   TypeFeed,
	"atom":  TypeFeed,
	"other": TypeHTMLCards,
}

// NewDefaultRegistry registers the built-in parsers and their aliases.
func NewDefaultRegistry(fetcher engine.PageFetcher) *Registry {
	r := NewRegistry()
	builtins := map[string]Parser{
		TypeArxiv:     NewArxivParser(fetcher),
		TypeFeed:      NewFeedParser(fetcher),
		TypeHTMLCards: NewCardsParser(fetcher),
	}
	for tag, p := range builtins {
		_ = r.Register(tag, p)
	}
	for alias, target := range Aliases {
		_ = r.Register(alias, builtins[target])
	}
	return r
}
