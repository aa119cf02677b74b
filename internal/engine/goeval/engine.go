// Package goeval evaluates Go source one top-level unit at a time using the
// yaegi interpreter. Interpreter state persists across units of one Engine,
// so a script can declare names and use them later.
package goeval

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"script-executor/internal/engine"
)

// Name is the registry name of the Go engine.
const Name = "go"

// ErrForbiddenImport is reported when a unit imports a package outside the
// configured allow-list.
var ErrForbiddenImport = errors.New("forbidden import")

// Options configures a Go engine.
type Options struct {
	// AllowedImports lists importable packages. Nil selects
	// DefaultAllowedImports; an entry of AllowAll permits everything.
	AllowedImports []string
}

// Engine is a yaegi-backed engine.Engine.
type Engine struct {
	interp *interp.Interpreter
	policy *ImportPolicy
	stdout bytes.Buffer
	stderr bytes.Buffer
}

var _ engine.Engine = (*Engine)(nil)

// New creates an interpreter with the standard library symbols loaded.
func New(opts Options) (*Engine, error) {
	e := &Engine{policy: NewImportPolicy(opts.AllowedImports)}

	i := interp.New(interp.Options{
		Stdout: &e.stdout,
		Stderr: &e.stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	e.interp = i
	return e, nil
}

// NewFactory returns an engine.Factory creating Go engines with opts.
func NewFactory(opts Options) engine.Factory {
	return func() (engine.Engine, error) {
		return New(opts)
	}
}

// Register adds the Go engine to r under Name.
func Register(r *engine.Registry, opts Options) {
	r.Register(Name, NewFactory(opts))
}

func (e *Engine) AnalyzeCompletion(source string) engine.Completion {
	return AnalyzeCompletion(source)
}

// Eval compiles and runs one unit. Syntax errors, forbidden imports and
// compile errors reject the unit. A panic while running it is reported on
// otherwise valid events.
func (e *Engine) Eval(unit string) ([]engine.Event, error) {
	if e.interp == nil {
		return nil, errors.New("engine closed")
	}

	p := planUnit(unit)
	if p.err != nil {
		return []engine.Event{{
			Source:      strings.TrimSpace(unit),
			Status:      engine.StatusRejected,
			Diagnostics: []string{p.err.Error()},
		}}, nil
	}
	if err := e.policy.Check(p.imports); err != nil {
		return rejectAll(p.parts, err), nil
	}

	prog, err := e.interp.Compile(unit)
	if err != nil {
		e.drainOutput()
		return rejectAll(p.parts, err), nil
	}

	res, runErr := e.interp.Execute(prog)
	out, errOut := e.drainOutput()

	events := make([]engine.Event, 0, len(p.parts))
	for idx, pt := range p.parts {
		ev := engine.Event{
			Source:  pt.source,
			Status:  engine.StatusValid,
			SubKind: pt.kind,
		}
		switch {
		case runErr != nil:
			ev.Diagnostics = []string{"panic: " + runErr.Error()}
		case pt.fromResult:
			if e.singleResult(pt, res) {
				ev.Value = formatValue(res)
			}
			if ev.Value == "" && pt.kind == engine.SubKindTempExpression {
				ev.SubKind = engine.SubKindStatement
			}
		case pt.probe != "":
			ev.Value = e.probe(pt.probe)
		}
		if idx == 0 {
			ev.Stdout = out
			if errOut != "" {
				ev.Diagnostics = append(ev.Diagnostics, "stderr: "+errOut)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close drops the interpreter. Eval fails afterwards.
func (e *Engine) Close() error {
	e.interp = nil
	return nil
}

func (e *Engine) probe(expr string) string {
	v, err := e.interp.Eval(expr)
	e.drainOutput()
	if err != nil {
		return ""
	}
	return formatValue(v)
}

// singleResult reports whether res is the one value of the unit's
// expression. yaegi returns a placeholder for calls to functions without
// results, so calls are decided from the callee's signature. Conversions,
// builtins and computed callees fall back to rejecting function results.
func (e *Engine) singleResult(pt part, res reflect.Value) bool {
	if !pt.call {
		return true
	}
	if pt.callee != "" {
		fn, err := e.interp.Eval(pt.callee)
		e.drainOutput()
		if err == nil && fn.IsValid() && fn.Kind() == reflect.Func {
			return fn.Type().NumOut() == 1
		}
	}
	return res.IsValid() && res.Kind() != reflect.Func
}

// drainOutput returns and clears what the interpreter wrote to stdout and
// stderr. Stderr carries yaegi's panic traces, so it is kept apart.
func (e *Engine) drainOutput() (stdout, stderr string) {
	stdout, stderr = e.stdout.String(), strings.TrimSpace(e.stderr.String())
	e.stdout.Reset()
	e.stderr.Reset()
	return stdout, stderr
}

func rejectAll(parts []part, err error) []engine.Event {
	events := make([]engine.Event, 0, len(parts))
	for _, pt := range parts {
		events = append(events, engine.Event{
			Source:      pt.source,
			Status:      engine.StatusRejected,
			SubKind:     pt.kind,
			Diagnostics: []string{err.Error()},
		})
	}
	return events
}

// formatValue renders a value the way an interactive session echoes it:
// strings quoted, everything else in its default format.
func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.String {
		return strconv.Quote(v.String())
	}
	if !v.CanInterface() {
		return v.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
