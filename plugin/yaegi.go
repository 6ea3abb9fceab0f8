package plugin

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/hupe1980/neurallink/core"
)

// EntryPoint is the function every plugin must define.
const EntryPoint = "HandleTrigger"

// DefaultAllowedImports is the stdlib subset visible to plugin code. Nothing
// here touches the filesystem, network or processes.
var DefaultAllowedImports = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
}

// YaegiOptions configures YaegiCompiler.
type YaegiOptions struct {
	AllowedImports []string
	// CompileTimeout bounds evaluation of the source, including package
	// initializers and init functions.
	CompileTimeout time.Duration
}

// YaegiCompiler compiles plugin source with the yaegi interpreter, exposing
// only the allowed stdlib packages.
type YaegiCompiler struct {
	allowed map[string]bool
	symbols interp.Exports
	timeout time.Duration
}

// NewYaegiCompiler creates a compiler.
func NewYaegiCompiler(optFns ...func(o *YaegiOptions)) *YaegiCompiler {
	opts := YaegiOptions{AllowedImports: DefaultAllowedImports, CompileTimeout: DefaultTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CompileTimeout <= 0 {
		opts.CompileTimeout = DefaultTimeout
	}

	allowed := make(map[string]bool, len(opts.AllowedImports))
	for _, p := range opts.AllowedImports {
		allowed[p] = true
	}

	// stdlib.Symbols is keyed "import/path/name"
	symbols := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if allowed[key[:idx]] {
			symbols[key] = syms
		}
	}

	return &YaegiCompiler{allowed: allowed, symbols: symbols, timeout: opts.CompileTimeout}
}

// AllowedImports returns the allowlist, sorted.
func (c *YaegiCompiler) AllowedImports() []string {
	out := make([]string, 0, len(c.allowed))
	for p := range c.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Check parses source and verifies its imports without evaluating it.
// Syntax errors yield *CompileError; disallowed imports wrap
// core.ErrPluginRejected.
func (c *YaegiCompiler) Check(name, source string) (string, error) {
	src := normalizeSource(source)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name+".go", src, parser.ImportsOnly)
	if err != nil {
		return "", &CompileError{Plugin: name, Err: err}
	}
	if file.Name.Name != "main" {
		return "", &CompileError{Plugin: name, Err: fmt.Errorf("package must be main, got %s", file.Name.Name)}
	}

	var forbidden []string
	for _, spec := range file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return "", &CompileError{Plugin: name, Err: err}
		}
		if !c.allowed[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return "", fmt.Errorf("%w: %q imports %v (allowed: %v)", core.ErrPluginRejected, name, forbidden, c.AllowedImports())
	}

	return src, nil
}

// Compile implements Compiler.
func (c *YaegiCompiler) Compile(name, source string) (Handler, error) {
	src, err := c.Check(name, source)
	if err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(c.symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := eval(ctx, i, src); err != nil {
		return nil, &CompileError{Plugin: name, Err: err}
	}

	v, err := eval(ctx, i, "main."+EntryPoint)
	if err != nil {
		return nil, &CompileError{Plugin: name, Err: fmt.Errorf("%s not found: %w", EntryPoint, err)}
	}

	fn, ok := v.Interface().(func(string, map[string]interface{}) (map[string]interface{}, error))
	if !ok {
		return nil, &CompileError{
			Plugin: name,
			Err:    fmt.Errorf("%s has signature %s", EntryPoint, v.Type()),
		}
	}

	return &yaegiHandler{fn: fn}, nil
}

// yaegiHandler runs the interpreted entry point on its own goroutine so a
// context deadline can abandon it.
type yaegiHandler struct {
	fn func(string, map[string]interface{}) (map[string]interface{}, error)
}

func (h *yaegiHandler) Handle(ctx context.Context, trigger string, data map[string]any) (*Effect, error) {
	type outcome struct {
		res map[string]any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := h.fn(trigger, data)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return decodeEffect(o.res)
	case <-ctx.Done():
		return nil, fmt.Errorf("plugin abandoned: %w", ctx.Err())
	}
}

// eval stops the interpreter when ctx ends, so a looping initializer cannot
// hold the caller.
func eval(ctx context.Context, i *interp.Interpreter, src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	v, err = i.EvalWithContext(ctx, src)
	if ctx.Err() != nil {
		return v, fmt.Errorf("evaluation did not finish: %w", ctx.Err())
	}
	return v, err
}

var packageClause = regexp.MustCompile(`(?m)^\s*package\s+\w+`)

// normalizeSource adds "package main" to bare snippets.
func normalizeSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if packageClause.MatchString(trimmed) {
		return trimmed + "\n"
	}
	return "package main\n\n" + trimmed + "\n"
}
