package goeval

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"script-executor/internal/engine"
)

// part is one event-producing construct of a unit.
type part struct {
	kind   engine.SubKind
	source string
	// probe is an expression re-evaluated after the unit ran to obtain the
	// printed value. Empty means the value comes from the unit result, or
	// there is none.
	probe string
	// fromResult takes the value from the result of evaluating the unit.
	fromResult bool
	// call marks a bare call expression, whose result is only a value when
	// the callee returns exactly one. callee is the callee's text when it can
	// be re-evaluated without side effects.
	call   bool
	callee string
}

// plan is the static breakdown of a unit before it is evaluated.
type plan struct {
	parts   []part
	imports []string
	err     error
}

const (
	filePrefix = "package p\n"
	stmtPrefix = "package p\nfunc _() {\n"
	stmtSuffix = "\n}\n"
)

// planUnit decides which events a unit produces. Declarations are tried
// first, then statements. A unit that parses as neither carries err.
func planUnit(unit string) plan {
	fset := token.NewFileSet()
	if f, err := parser.ParseFile(fset, "", filePrefix+unit, 0); err == nil && len(f.Decls) > 0 {
		src := []byte(filePrefix + unit)
		var p plan
		for _, decl := range f.Decls {
			p.parts = append(p.parts, planDecl(fset, src, decl, &p.imports)...)
		}
		return p
	}

	f, err := parser.ParseFile(fset, "", stmtPrefix+unit+stmtSuffix, 0)
	if err != nil {
		return plan{err: cleanParseError(err)}
	}
	src := []byte(stmtPrefix + unit + stmtSuffix)
	body := f.Decls[0].(*ast.FuncDecl).Body

	var p plan
	for _, stmt := range body.List {
		p.parts = append(p.parts, planStmt(fset, src, stmt)...)
	}
	if len(p.parts) == 0 {
		p.parts = []part{{kind: engine.SubKindStatement, source: strings.TrimSpace(unit)}}
	}
	return p
}

func planDecl(fset *token.FileSet, src []byte, decl ast.Decl, imports *[]string) []part {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		return []part{{kind: engine.SubKindFuncDecl, source: nodeText(fset, src, d)}}
	case *ast.GenDecl:
		var parts []part
		for _, spec := range d.Specs {
			switch s := spec.(type) {
			case *ast.ImportSpec:
				path, _ := strconv.Unquote(s.Path.Value)
				*imports = append(*imports, path)
				parts = append(parts, part{kind: engine.SubKindImport, source: "import " + nodeText(fset, src, s)})
			case *ast.TypeSpec:
				parts = append(parts, part{kind: engine.SubKindTypeDecl, source: "type " + nodeText(fset, src, s)})
			case *ast.ValueSpec:
				parts = append(parts, planValueSpec(d.Tok, s)...)
			}
		}
		return parts
	}
	return nil
}

func planValueSpec(tok token.Token, s *ast.ValueSpec) []part {
	kind := engine.SubKindVarDecl
	switch {
	case tok == token.CONST:
		kind = engine.SubKindConstDecl
	case len(s.Values) > 0:
		kind = engine.SubKindVarDeclInit
	}

	parts := make([]part, 0, len(s.Names))
	for _, name := range s.Names {
		p := part{kind: kind, source: fmt.Sprintf("%s %s", tok, name.Name)}
		if name.Name != "_" && kind != engine.SubKindConstDecl {
			p.probe = name.Name
		}
		parts = append(parts, p)
	}
	return parts
}

func planStmt(fset *token.FileSet, src []byte, stmt ast.Stmt) []part {
	text := nodeText(fset, src, stmt)
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		kind := engine.SubKindAssignment
		if s.Tok == token.DEFINE {
			kind = engine.SubKindVarDeclInit
		}
		parts := make([]part, 0, len(s.Lhs))
		for _, lhs := range s.Lhs {
			p := part{kind: kind, source: text}
			if isPure(lhs) && !isBlank(lhs) {
				p.probe = nodeText(fset, src, lhs)
			}
			parts = append(parts, p)
		}
		return parts
	case *ast.ExprStmt:
		x := ast.Unparen(s.X)
		if _, ok := x.(*ast.Ident); ok {
			return []part{{kind: engine.SubKindVarValue, source: text, fromResult: true}}
		}
		p := part{kind: engine.SubKindTempExpression, source: text, fromResult: true}
		if call, ok := x.(*ast.CallExpr); ok {
			p.call = true
			if isPure(call.Fun) {
				p.callee = nodeText(fset, src, call.Fun)
			}
		}
		return []part{p}
	case *ast.EmptyStmt:
		return nil
	default:
		return []part{{kind: engine.SubKindStatement, source: text}}
	}
}

// isPure reports whether re-evaluating e has no side effects.
func isPure(e ast.Expr) bool {
	switch x := ast.Unparen(e).(type) {
	case *ast.Ident:
		return true
	case *ast.SelectorExpr:
		return isPure(x.X)
	default:
		return false
	}
}

func isBlank(e ast.Expr) bool {
	id, ok := ast.Unparen(e).(*ast.Ident)
	return ok && id.Name == "_"
}

func nodeText(fset *token.FileSet, src []byte, n ast.Node) string {
	start := fset.Position(n.Pos()).Offset
	end := fset.Position(n.End()).Offset
	if start < 0 || end > len(src) || start > end {
		return ""
	}
	return string(src[start:end])
}

// cleanParseError strips the synthetic wrapper positions from parser errors.
func cleanParseError(err error) error {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && strings.Count(msg[:i], ":") <= 1 {
		msg = msg[i+2:]
	}
	return fmt.Errorf("syntax error: %s", msg)
}
