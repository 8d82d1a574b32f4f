package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetHomeHonoursOverride(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/edbridge-home")
	if got := GetHome(); got != "/tmp/edbridge-home" {
		t.Errorf("GetHome() = %s; want override", got)
	}

	t.Setenv(EnvHome, "")
	userHome, _ := os.UserHomeDir()
	if got, want := GetHome(), filepath.Join(userHome, ".edbridge"); got != want {
		t.Errorf("GetHome() = %s; want %s", got, want)
	}
}

func TestGetInstancePaths(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	paths := GetInstancePaths("")

	if !strings.HasSuffix(paths.ConfigYAML, filepath.Join("instances", "default", "config.yaml")) {
		t.Errorf("ConfigYAML path incorrect: %s", paths.ConfigYAML)
	}
	if !strings.HasSuffix(paths.ConfigTOML, filepath.Join("instances", "default", "config.toml")) {
		t.Errorf("ConfigTOML path incorrect: %s", paths.ConfigTOML)
	}
	if !strings.HasSuffix(paths.Socket, filepath.Join("run", "edbridged.sock")) {
		t.Errorf("Socket path incorrect: %s", paths.Socket)
	}
	if !strings.HasSuffix(paths.ScriptsDir, filepath.Join("default", "scripts")) {
		t.Errorf("ScriptsDir path incorrect: %s", paths.ScriptsDir)
	}
	if GetInstancePaths("default") != paths {
		t.Error("Empty string and 'default' should give same paths")
	}
	if GetInstancePaths("other").Home == paths.Home {
		t.Error("named instances should get their own home")
	}
}

func TestConfigFilePrefersExistingFile(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	paths, err := EnsureInstanceDirs("")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs() error = %v", err)
	}
	for _, dir := range []string{paths.Logs, paths.RunDir, paths.ScriptsDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("directory %s not created: %v", dir, err)
		}
	}

	if got := paths.ConfigFile(); got != paths.ConfigYAML {
		t.Fatalf("ConfigFile() with nothing on disk = %s", got)
	}
	if err := os.WriteFile(paths.ConfigTOML, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := paths.ConfigFile(); got != paths.ConfigTOML {
		t.Fatalf("ConfigFile() = %s, want TOML file", got)
	}
	if err := os.WriteFile(paths.ConfigYAML, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := paths.ConfigFile(); got != paths.ConfigYAML {
		t.Fatalf("ConfigFile() = %s, want YAML file", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("EDBRIDGE_TEST_DIR", "/srv/editor")

	tests := map[string]string{
		"~/scripts":                  filepath.Join(home, "scripts"),
		"~":                          home,
		"/absolute/path":             "/absolute/path",
		"$EDBRIDGE_TEST_DIR/schemas": "/srv/editor/schemas",
		"~other/x":                   "~other/x",
		"":                           "",
	}
	for in, want := range tests {
		if got := ExpandPath(in); got != want {
			t.Errorf("ExpandPath(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestRunDirIsPrivate(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	paths, err := EnsureInstanceDirs("perm")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs() error = %v", err)
	}
	info, err := os.Stat(paths.RunDir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("run dir mode = %o", perm)
	}
}
