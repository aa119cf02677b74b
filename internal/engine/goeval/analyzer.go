package goeval

import (
	"go/scanner"
	"go/token"

	"script-executor/internal/engine"
)

// AnalyzeCompletion finds the first complete top-level unit of Go source.
//
// A unit ends at the first statement terminator, explicit or inserted by
// the automatic semicolon rule, found outside any brackets. Semicolons in the
// header of an if, for, switch or select statement belong to that statement.
// Blank lines and comments before the unit are not part of it; a comment on
// the unit's last line is, along with the line break that ends it.
func AnalyzeCompletion(source string) engine.Completion {
	src := []byte(source)
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))

	var s scanner.Scanner
	s.Init(file, src, nil, 0)

	depth := 0
	start := -1
	inHeader := false

	for {
		pos, tok, lit := s.Scan()
		if tok == token.EOF {
			return engine.Completion{Remainder: source}
		}
		offset := file.Offset(pos)

		if tok == token.SEMICOLON {
			if start < 0 || depth > 0 || (inHeader && lit == ";") {
				continue
			}
			end := offset
			if lit == ";" || (end < len(src) && src[end] == '\n') {
				end++
			}
			return engine.Completion{
				Complete:  true,
				Unit:      source[start:end],
				Remainder: source[end:],
			}
		}

		if start < 0 {
			start = offset
		}

		switch tok {
		case token.IF, token.FOR, token.SWITCH, token.SELECT:
			if depth == 0 {
				inHeader = true
			}
		case token.LBRACE:
			if depth == 0 {
				inHeader = false
			}
			depth++
		case token.LPAREN, token.LBRACK:
			depth++
		case token.RPAREN, token.RBRACK, token.RBRACE:
			if depth > 0 {
				depth--
			}
		}
	}
}
