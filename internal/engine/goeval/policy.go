package goeval

import (
	"fmt"
	"sort"
)

// AllowAll in an allow-list permits every package known to the interpreter.
const AllowAll = "*"

// DefaultAllowedImports are the standard library packages scripts may
// import when no allow-list is configured. Packages with filesystem,
// process, network or unsafe access are left out.
var DefaultAllowedImports = []string{
	"bytes",
	"encoding/base64",
	"encoding/hex",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"math/rand",
	"path",
	"path/filepath",
	"regexp",
	"slices",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// ImportPolicy decides which packages a script may import.
type ImportPolicy struct {
	allowed  map[string]bool
	allowAll bool
}

// NewImportPolicy builds a policy from an allow-list. A nil list selects
// DefaultAllowedImports.
func NewImportPolicy(allowed []string) *ImportPolicy {
	if allowed == nil {
		allowed = DefaultAllowedImports
	}
	p := &ImportPolicy{allowed: make(map[string]bool, len(allowed))}
	for _, pkg := range allowed {
		if pkg == AllowAll {
			p.allowAll = true
			continue
		}
		p.allowed[pkg] = true
	}
	return p
}

// Check returns an error naming every forbidden package in paths.
func (p *ImportPolicy) Check(paths []string) error {
	if p.allowAll {
		return nil
	}
	var forbidden []string
	for _, path := range paths {
		if !p.allowed[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %v", ErrForbiddenImport, forbidden)
	}
	return nil
}

// Allowed returns the allow-list, sorted.
func (p *ImportPolicy) Allowed() []string {
	pkgs := make([]string, 0, len(p.allowed))
	for pkg := range p.allowed {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}
