package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidScript    = errors.New("invalid script path")
	ErrScriptNotAllowed = errors.New("script is not under an allowed root")
)

// ScriptResolver maps requested script paths onto the configured roots.
type ScriptResolver struct {
	roots []string
}

// NewScriptResolver creates a resolver. With no roots every script is
// refused.
func NewScriptResolver(roots []string) *ScriptResolver {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}
	return &ScriptResolver{roots: cleaned}
}

// Resolve returns the real path of script. Relative paths are taken from
// the first root. Symlinks are followed before the root check.
func (s *ScriptResolver) Resolve(script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: script is required", ErrInvalidScript)
	}
	if strings.ContainsRune(script, 0) {
		return "", fmt.Errorf("%w: script contains NUL", ErrInvalidScript)
	}
	if len(s.roots) == 0 {
		return "", fmt.Errorf("%w: no script_roots configured; API runs are disabled", ErrScriptNotAllowed)
	}

	path := script
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.roots[0], path)
	}
	path = filepath.Clean(path)

	// A missing file is left for the run to report as not found.
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		path = filepath.Join(dir, filepath.Base(path))
	}

	for _, root := range s.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return path, nil
		}
	}
	return "", ErrScriptNotAllowed
}
