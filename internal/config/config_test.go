package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func testPaths(t *testing.T) InstancePaths {
	t.Helper()
	t.Setenv(EnvHome, t.TempDir())
	t.Setenv(EnvListen, "")
	paths, err := EnsureInstanceDirs("")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs() error = %v", err)
	}
	return paths
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	paths := testPaths(t)

	cfg, err := Load(paths)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("Path = %q, want empty", cfg.Path)
	}
	if cfg.Listen != DefaultListen || cfg.Socket != paths.Socket {
		t.Fatalf("listen/socket = %q/%q", cfg.Listen, cfg.Socket)
	}
	if cfg.Initial.Language != "csharp" || cfg.Initial.Width != 700 || cfg.Initial.Height != 500 {
		t.Fatalf("initial = %+v", cfg.Initial)
	}
	if cfg.RequestTimeout.Std() != 5*time.Second {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout.Std())
	}
}

func TestLoadYAML(t *testing.T) {
	paths := testPaths(t)
	writeFile(t, paths.Home, "config.yaml", `
listen: 127.0.0.1:9000
allowedOrigins: ["https://tools.example.com"]
initial:
  value: "class C {}"
  language: csharp
  width: 1024
  height: 768
requestTimeout: 1500ms
scriptsDir: ~/edbridge-scripts
backends:
  csharp:
    kind: LSP
    command: csharp-ls
    args: ["--stdio"]
  python:
    kind: grpc
    target: 127.0.0.1:50051
`)

	cfg, err := Load(paths)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path != paths.ConfigYAML {
		t.Fatalf("Path = %q", cfg.Path)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.Initial.Width != 1024 || cfg.Initial.Value != "class C {}" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.RequestTimeout.Std() != 1500*time.Millisecond {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout.Std())
	}
	if strings.HasPrefix(cfg.ScriptsDir, "~") {
		t.Fatalf("ScriptsDir not expanded: %s", cfg.ScriptsDir)
	}
	if got := cfg.BackendLanguages(); len(got) != 2 || got[0] != "csharp" || got[1] != "python" {
		t.Fatalf("BackendLanguages() = %v", got)
	}
	if b := cfg.Backends["csharp"]; b.Kind != "lsp" || b.Command != "csharp-ls" || len(b.Args) != 1 {
		t.Fatalf("csharp backend = %+v", b)
	}
}

func TestLoadTOML(t *testing.T) {
	paths := testPaths(t)
	writeFile(t, paths.Home, "config.toml", `
listen = "127.0.0.1:9100"
requestTimeout = "2s"

[initial]
language = "json"
width = 400
height = 300

[backends.go]
kind = "lsp"
command = "gopls"
rootDir = "/src"
`)

	cfg, err := Load(paths)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path != paths.ConfigTOML || cfg.Listen != "127.0.0.1:9100" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Initial.Language != "json" || cfg.Initial.Width != 400 {
		t.Fatalf("initial = %+v", cfg.Initial)
	}
	if cfg.RequestTimeout.Std() != 2*time.Second {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout.Std())
	}
	if b := cfg.Backends["go"]; b.Command != "gopls" || b.RootDir != "/src" {
		t.Fatalf("go backend = %+v", b)
	}
}

func TestListenOverride(t *testing.T) {
	paths := testPaths(t)
	t.Setenv(EnvListen, "0.0.0.0:7777")

	cfg, err := Load(paths)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != "0.0.0.0:7777" {
		t.Fatalf("Listen = %q, want env override", cfg.Listen)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	paths := testPaths(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown yaml key", "a.yaml", "listne: x\n", "field listne not found"},
		{"unknown toml key", "b.toml", "listne = \"x\"\n", "unknown keys listne"},
		{"bad duration", "c.yaml", "requestTimeout: soon\n", "parse duration"},
		{"unknown backend kind", "d.yaml", "backends:\n  c:\n    kind: tcp\n", `unknown kind "tcp"`},
		{"lsp without command", "e.yaml", "backends:\n  c:\n    kind: lsp\n", "needs a command"},
		{"grpc without target", "f.toml", "[backends.c]\nkind = \"grpc\"\n", "needs a target"},
		{"negative size", "g.yaml", "initial:\n  width: -1\n", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, dir, tt.file, tt.body), paths)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadFile() error = %v, want %q", err, tt.want)
			}
		})
	}

	if _, err := LoadFile(writeFile(t, dir, "h.ini", "x=1"), paths); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ini file error = %v", err)
	}
	if _, err := LoadFile(writeFile(t, dir, "i.yaml", "backends:\n  c:\n    kind: lsp\n"), paths); !errors.Is(err, ErrInvalid) {
		t.Fatalf("invalid config error = %v, want ErrInvalid", err)
	}
}

func TestEmptyYAMLKeepsDefaults(t *testing.T) {
	paths := testPaths(t)
	cfg, err := LoadFile(writeFile(t, t.TempDir(), "empty.yaml", ""), paths)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("Listen = %q", cfg.Listen)
	}
}
