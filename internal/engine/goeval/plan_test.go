package goeval

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"script-executor/internal/engine"
)

func TestPlanUnit(t *testing.T) {
	tests := []struct {
		unit    string
		kinds   []engine.SubKind
		probes  []string
		imports []string
	}{
		{`import "strings"`, []engine.SubKind{engine.SubKindImport}, []string{""}, []string{"strings"}},
		{"import (\n\t\"fmt\"\n\t\"strings\"\n)", []engine.SubKind{engine.SubKindImport, engine.SubKindImport}, []string{"", ""}, []string{"fmt", "strings"}},
		{"var a, b = 1, 2", []engine.SubKind{engine.SubKindVarDeclInit, engine.SubKindVarDeclInit}, []string{"a", "b"}, nil},
		{"var n int", []engine.SubKind{engine.SubKindVarDecl}, []string{"n"}, nil},
		{"var _ = 3", []engine.SubKind{engine.SubKindVarDeclInit}, []string{""}, nil},
		{"const k = 3", []engine.SubKind{engine.SubKindConstDecl}, []string{""}, nil},
		{"type point struct{ x, y int }", []engine.SubKind{engine.SubKindTypeDecl}, []string{""}, nil},
		{"func f() int { return 1 }", []engine.SubKind{engine.SubKindFuncDecl}, []string{""}, nil},
		{"x, y := 1, 2", []engine.SubKind{engine.SubKindVarDeclInit, engine.SubKindVarDeclInit}, []string{"x", "y"}, nil},
		{"x = 5", []engine.SubKind{engine.SubKindAssignment}, []string{"x"}, nil},
		{"p.x += 1", []engine.SubKind{engine.SubKindAssignment}, []string{"p.x"}, nil},
		{"m[k()] = 1", []engine.SubKind{engine.SubKindAssignment}, []string{""}, nil},
		{"_ = f()", []engine.SubKind{engine.SubKindAssignment}, []string{""}, nil},
		{"x", []engine.SubKind{engine.SubKindVarValue}, []string{""}, nil},
		{"(x)", []engine.SubKind{engine.SubKindVarValue}, []string{""}, nil},
		{"1 + 2", []engine.SubKind{engine.SubKindTempExpression}, []string{""}, nil},
		{"x++", []engine.SubKind{engine.SubKindStatement}, []string{""}, nil},
		{"for i := 0; i < 3; i++ {\n}", []engine.SubKind{engine.SubKindStatement}, []string{""}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			p := planUnit(tt.unit)
			if p.err != nil {
				t.Fatalf("planUnit(%q) error = %v", tt.unit, p.err)
			}

			var kinds []engine.SubKind
			var probes []string
			for _, pt := range p.parts {
				kinds = append(kinds, pt.kind)
				probes = append(probes, pt.probe)
			}
			if diff := cmp.Diff(tt.kinds, kinds); diff != "" {
				t.Errorf("kinds mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.probes, probes); diff != "" {
				t.Errorf("probes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.imports, p.imports); diff != "" {
				t.Errorf("imports mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanUnit_ExpressionsUseResult(t *testing.T) {
	for _, unit := range []string{"x", "1 + 2", "f()"} {
		p := planUnit(unit)
		if len(p.parts) != 1 || !p.parts[0].fromResult {
			t.Errorf("planUnit(%q) parts = %+v, want one part reading the result", unit, p.parts)
		}
	}
}

func TestPlanUnit_CallCallee(t *testing.T) {
	tests := []struct {
		unit   string
		call   bool
		callee string
	}{
		{"x + 1", false, ""},
		{"f()", true, "f"},
		{`fmt.Println("hi")`, true, "fmt.Println"},
		{"(f)()", true, "(f)"},
		{"mk()()", true, ""},
		{"m[k]()", true, ""},
	}
	for _, tt := range tests {
		p := planUnit(tt.unit)
		if len(p.parts) != 1 {
			t.Fatalf("planUnit(%q) parts = %+v", tt.unit, p.parts)
		}
		if got := p.parts[0]; got.call != tt.call || got.callee != tt.callee {
			t.Errorf("planUnit(%q) call = %v callee = %q, want %v %q", tt.unit, got.call, got.callee, tt.call, tt.callee)
		}
	}
}

func TestPlanUnit_SyntaxError(t *testing.T) {
	for _, unit := range []string{"x := ", "a + )", "func {"} {
		p := planUnit(unit)
		if p.err == nil {
			t.Errorf("planUnit(%q) error = nil, want syntax error", unit)
		}
	}
}
