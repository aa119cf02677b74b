package api

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestScriptResolver(t *testing.T) {
	root := t.TempDir()
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	outside := t.TempDir()

	script := filepath.Join(root, "a.goscript")
	if err := os.WriteFile(script, []byte("1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(outside, "secret.goscript")
	if err := os.WriteFile(secret, []byte("1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.goscript")
	if err := os.Symlink(secret, link); err != nil {
		t.Fatal(err)
	}

	r := NewScriptResolver([]string{root})

	tests := []struct {
		name    string
		script  string
		want    string
		wantErr error
	}{
		{"relative", "a.goscript", script, nil},
		{"absolute", script, script, nil},
		{"missing file stays resolvable", "new.goscript", filepath.Join(root, "new.goscript"), nil},
		{"empty", "  ", "", ErrInvalidScript},
		{"escape", "../x.goscript", "", ErrScriptNotAllowed},
		{"outside", secret, "", ErrScriptNotAllowed},
		{"symlink out of root", "link.goscript", "", ErrScriptNotAllowed},
		{"root prefix is not enough", root + "-other/a.goscript", "", ErrScriptNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.script)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve(%q) error = %v, want %v", tt.script, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.script, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.script, got, tt.want)
			}
		})
	}
}

func TestScriptResolver_NoRoots(t *testing.T) {
	_, err := NewScriptResolver(nil).Resolve("/tmp/a.goscript")
	if !errors.Is(err, ErrScriptNotAllowed) {
		t.Errorf("Resolve() error = %v, want ErrScriptNotAllowed", err)
	}
}
