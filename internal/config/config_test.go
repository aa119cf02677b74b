package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Executor.Engine != "go" {
		t.Errorf("Executor.Engine = %q, want go", cfg.Executor.Engine)
	}
	if cfg.Executor.AllowedImports != nil {
		t.Errorf("Executor.AllowedImports = %v, want nil (engine default)", cfg.Executor.AllowedImports)
	}
	if cfg.Audit.BufferSize != 256 {
		t.Errorf("Audit.BufferSize = %d, want 256", cfg.Audit.BufferSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"empty engine", func(c *Config) { c.Executor.Engine = "" }, true},
		{"max_script_bytes 0", func(c *Config) { c.Executor.MaxScriptBytes = 0 }, true},
		{"audit buffer 0", func(c *Config) { c.Audit.BufferSize = 0 }, true},
		{"negative retries", func(c *Config) { c.Audit.MaxRetries = -1 }, true},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
		{"relative script root", func(c *Config) {
			c.Executor.ScriptRoots = []string{"relative/path"}
		}, true},
		{"absolute script root", func(c *Config) {
			c.Executor.ScriptRoots = []string{"/srv/scripts"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090
executor:
  script_roots: ["/srv/scripts"]
  allowed_imports: ["fmt", "strings"]
audit:
  buffer_size: 16
  retry_backoff: 1s
security:
  allowed_keys: ["k1"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if diff := cmp.Diff([]string{"fmt", "strings"}, cfg.Executor.AllowedImports); diff != "" {
		t.Errorf("AllowedImports mismatch (-want +got):\n%s", diff)
	}
	if cfg.Executor.Engine != "go" {
		t.Errorf("Executor.Engine = %q, want default go", cfg.Executor.Engine)
	}
	if cfg.Audit.BufferSize != 16 || cfg.Audit.RetryBackoff != time.Second {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	if cfg.Audit.MaxRetries != 3 {
		t.Errorf("Audit.MaxRetries = %d, want default 3", cfg.Audit.MaxRetries)
	}
}

func TestLoad_IgnoresTracingSection(t *testing.T) {
	t.Setenv("PORT", "")
	// Spans go to the global otel provider; older files may still carry this.
	cfg, err := Load(writeConfig(t, "tracing:\n  enabled: true\n  sample_rate: 0.5\nserver:\n  port: 9091\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9091 {
		t.Errorf("Server.Port = %d, want 9091", cfg.Server.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://localhost/executor")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://localhost/executor" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
}

func TestLoad_BadPortEnv(t *testing.T) {
	t.Setenv("PORT", "eighty")
	if _, err := Load(writeConfig(t, "{}\n")); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}

func TestLoad_Invalid(t *testing.T) {
	if _, err := Load(writeConfig(t, "executor:\n  script_roots: [\"rel\"]\n")); err == nil {
		t.Error("expected validation error for relative script root")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
