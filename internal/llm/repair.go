package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/synthesis-engine/internal/sandbox"
)

// RepairRequest is one iteration of the parser repair loop.
type RepairRequest struct {
	SourceName string
	URL        string
	Page       string
	Iteration  int
	Previous   string
	Failure    string
}

// Repairer asks the model for replacement parser code.
type Repairer struct {
	gen     Generator
	model   string
	allowed []string
}

// NewRepairer constructs a Repairer. allowed lists the importable packages.
func NewRepairer(gen Generator, model string, allowed []string) *Repairer {
	if len(allowed) == 0 {
		allowed = sandbox.DefaultAllowedPackages
	}
	return &Repairer{gen: gen, model: model, allowed: allowed}
}

// Synthesize returns candidate code with markdown fences removed.
func (r *Repairer) Synthesize(ctx context.Context, req RepairRequest) (string, error) {
	prompt, err := render(repairPrompt, struct {
		RepairRequest
		Signature string
		Allowed   string
	}{req, sandbox.Signature, strings.Join(r.allowed, ", ")})
	if err != nil {
		return "", err
	}
	text, err := r.gen.Generate(ctx, prompt, GenerateOptions{Model: r.model})
	if err != nil {
		return "", fmt.Errorf("synthesize parser for %s: %w", req.SourceName, err)
	}
	code := strings.TrimSpace(sandbox.StripFences(text))
	if code == "" {
		return "", errors.New("synthesize parser: empty candidate")
	}
	return code, nil
}
