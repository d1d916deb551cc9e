package parser

import (
	"context"
	"fmt"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/sandbox"
)

// Runner evaluates generated parser code.
type Runner interface {
	Run(ctx context.Context, code string, req sandbox.Request, fetch sandbox.FetchFunc) ([]engine.RawItem, error)
}

// ScriptParser runs approved healed code through the sandbox.
type ScriptParser struct {
	code    string
	runner  Runner
	fetcher engine.PageFetcher
}

// NewScriptParser wraps code.
func NewScriptParser(code string, runner Runner, fetcher engine.PageFetcher) *ScriptParser {
	return &ScriptParser{code: code, runner: runner, fetcher: fetcher}
}

// Fetch implements Parser.
func (p *ScriptParser) Fetch(ctx context.Context, req Request) ([]engine.RawItem, error) {
	items, err := p.runner.Run(ctx, p.code,
		sandbox.Request{URL: req.URL, Name: req.Name, Limit: req.Limit}, PageFetchFunc(p.fetcher))
	if err != nil {
		return nil, fmt.Errorf("run script parser: %w", err)
	}
	return items, nil
}

// PageFetchFunc adapts a PageFetcher to the sandbox host capability.
func PageFetchFunc(fetcher engine.PageFetcher) sandbox.FetchFunc {
	return func(ctx context.Context, url string) (string, error) {
		page, err := fetcher.FetchPage(ctx, url)
		if err != nil {
			return "", err
		}
		return string(page.Body), nil
	}
}
