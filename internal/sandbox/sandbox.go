// Package sandbox evaluates machine-generated parser code in a yaegi
// interpreter restricted to text-processing packages and a single host
// capability for fetching pages from the source's own host.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultTimeout bounds evaluation plus execution of one candidate.
const DefaultTimeout = 10 * time.Second

// HostPackage is the import path of the capability package offered to parsers.
const HostPackage = "synth/host"

// Signature is the entry point every generated parser must define.
const Signature = "func Parse(url string, name string, limit int) ([]map[string]string, error)"

// Failure categories. Each is wrapped with detail that is fed back to the
// generator on the next repair iteration.
var (
	ErrForbiddenImport = errors.New("forbidden import")
	ErrConcurrency     = errors.New("goroutines and timer callbacks are not allowed")
	ErrCompile         = errors.New("compile error")
	ErrNoEntryPoint    = errors.New("entry point Parse not found")
	ErrSignature       = errors.New("entry point Parse has the wrong signature")
	ErrRuntime         = errors.New("parser returned an error")
	ErrPanic           = errors.New("parser panicked")
	ErrTimeout         = errors.New("parser timed out")
	ErrEmptyResult     = errors.New("parser returned no records")
	ErrMissingKeys     = errors.New("record missing required keys")
	ErrHostNotAllowed  = errors.New("fetch outside the source host")
)

// RequiredKeys must be present and non-empty in every record.
var RequiredKeys = []string{"title", "url", "entry_id"}

// DefaultAllowedPackages is the import allow-list.
var DefaultAllowedPackages = []string{
	"bytes", "encoding/json", "encoding/xml", "errors", "fmt", "html",
	"math", "net/url", "path", "regexp", "sort", "strconv", "strings",
	"time", "unicode", "unicode/utf8",
}

// bannedTime lists time functions that run a callback on a goroutine the
// interpreter does not recover. They are withheld from the interpreter and
// rejected before evaluation.
var bannedTime = map[string]bool{"AfterFunc": true}

// ParseFunc is the native type of the generated entry point.
type ParseFunc = func(string, string, int) ([]map[string]string, error)

// FetchFunc serves host.Fetch calls.
type FetchFunc func(ctx context.Context, url string) (string, error)

// Request is the invocation handed to the generated parser.
type Request struct {
	URL   string
	Name  string
	Limit int
}

// Config tunes the evaluator.
type Config struct {
	Timeout         time.Duration
	AllowedPackages []string
}

// Evaluator runs candidate parsers.
type Evaluator struct {
	timeout time.Duration
	allowed map[string]bool
	symbols interp.Exports
}

// New constructs an Evaluator.
func New(cfg Config) *Evaluator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	pkgs := cfg.AllowedPackages
	if len(pkgs) == 0 {
		pkgs = DefaultAllowedPackages
	}
	allowed := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		allowed[p] = true
	}
	symbols := make(interp.Exports)
	for key, syms := range stdlib.Symbols {
		// keys look like "net/url/url"
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if !allowed[key[:idx]] {
			continue
		}
		if key == "time/time" {
			syms = withoutSymbols(syms, bannedTime)
		}
		symbols[key] = syms
	}
	return &Evaluator{timeout: cfg.Timeout, allowed: allowed, symbols: symbols}
}

// Check compiles code and resolves its entry point without running it.
func (e *Evaluator) Check(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	noFetch := func(context.Context, string) (string, error) {
		return "", errors.New("fetch unavailable during compile check")
	}
	_, err := e.load(ctx, code, Request{}, noFetch)
	return err
}

// Run evaluates code, invokes Parse and validates the records.
func (e *Evaluator) Run(ctx context.Context, code string, req Request, fetch FetchFunc) ([]engine.RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	parse, err := e.load(ctx, code, req, fetch)
	if err != nil {
		return nil, err
	}

	type result struct {
		records []map[string]string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		records, err := parse(req.URL, req.Name, req.Limit)
		done <- result{records: records, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, ErrPanic) {
				return nil, res.err
			}
			return nil, fmt.Errorf("%w: %v", ErrRuntime, res.err)
		}
		return ToRawItems(res.records, req.Name, req.Limit)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}
}

func (e *Evaluator) load(ctx context.Context, code string, req Request, fetch FetchFunc) (parse ParseFunc, err error) {
	src := wrapCode(code)
	if err := e.validateSource(src); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(e.symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(hostExports(ctx, req.URL, fetch)); err != nil {
		return nil, fmt.Errorf("load host symbols: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			parse, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w during compile", ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	v, err := i.EvalWithContext(ctx, "main.Parse")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoEntryPoint, err)
	}
	fn, ok := v.Interface().(ParseFunc)
	if !ok {
		return nil, fmt.Errorf("%w: expected %s", ErrSignature, Signature)
	}
	return fn, nil
}

// validateSource rejects imports outside the allow-list and any construct
// that would run candidate code on a goroutine of its own, where a panic
// cannot be recovered and would take the process down.
func (e *Evaluator) validateSource(src string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "parser.go", src, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompile, err)
	}
	var forbidden []string
	timeNames := make(map[string]bool)
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCompile, err)
		}
		if path == "time" {
			name := "time"
			if imp.Name != nil {
				name = imp.Name.Name
			}
			timeNames[name] = true
		}
		if path == HostPackage || e.allowed[path] {
			continue
		}
		forbidden = append(forbidden, path)
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %s (allowed: %s, %s)", ErrForbiddenImport,
			strings.Join(forbidden, ", "), strings.Join(e.allowedList(), ", "), HostPackage)
	}

	var bad error
	ast.Inspect(file, func(n ast.Node) bool {
		if bad != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.GoStmt:
			bad = fmt.Errorf("%w: go statement at line %d", ErrConcurrency, fset.Position(node.Pos()).Line)
		case *ast.SelectorExpr:
			if pkg, ok := node.X.(*ast.Ident); ok && timeNames[pkg.Name] && bannedTime[node.Sel.Name] {
				bad = fmt.Errorf("%w: time.%s", ErrConcurrency, node.Sel.Name)
			}
		}
		return true
	})
	return bad
}

func withoutSymbols(syms map[string]reflect.Value, drop map[string]bool) map[string]reflect.Value {
	out := make(map[string]reflect.Value, len(syms))
	for name, v := range syms {
		if !drop[name] {
			out[name] = v
		}
	}
	return out
}

func (e *Evaluator) allowedList() []string {
	out := make([]string, 0, len(e.allowed))
	for p := range e.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func hostExports(ctx context.Context, sourceURL string, fetch FetchFunc) interp.Exports {
	hostFetch := func(target string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !sameHost(sourceURL, target) {
			return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, target)
		}
		return fetch(ctx, target)
	}
	return interp.Exports{
		HostPackage + "/host": {
			"Fetch": reflect.ValueOf(hostFetch),
		},
	}
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	ha := strings.TrimPrefix(strings.ToLower(ua.Hostname()), "www.")
	hb := strings.TrimPrefix(strings.ToLower(ub.Hostname()), "www.")
	return ha != "" && ha == hb
}

func wrapCode(code string) string {
	code = StripFences(code)
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

// StripFences removes a surrounding markdown code fence if present.
func StripFences(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return code
	}
	if nl := strings.Index(trimmed, "\n"); nl >= 0 {
		trimmed = trimmed[nl+1:]
	} else {
		return ""
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed) + "\n"
}
