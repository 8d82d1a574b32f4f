package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultInstance = "default"

	// EnvHome overrides the edbridge home directory.
	EnvHome = "EDBRIDGE_HOME"
)

// InstancePaths contains all paths for an edbridge instance.
type InstancePaths struct {
	Home       string // Instance home directory
	ConfigYAML string // YAML configuration file path
	ConfigTOML string // TOML configuration file path
	Socket     string // IPC socket path
	Logs       string // Logs directory
	RunDir     string // Runtime files directory
	ScriptsDir string // Editor scripts directory
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetHome(), "instances", instanceName)

	return InstancePaths{
		Home:       instanceDir,
		ConfigYAML: filepath.Join(instanceDir, "config.yaml"),
		ConfigTOML: filepath.Join(instanceDir, "config.toml"),
		Socket:     filepath.Join(instanceDir, "run", "edbridged.sock"),
		Logs:       filepath.Join(instanceDir, "logs"),
		RunDir:     filepath.Join(instanceDir, "run"),
		ScriptsDir: filepath.Join(instanceDir, "scripts"),
	}
}

// ConfigFile returns the configuration file the instance uses: the YAML
// file if present, else the TOML file if present, else the YAML path.
func (p InstancePaths) ConfigFile() string {
	for _, candidate := range []string{p.ConfigYAML, p.ConfigTOML} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return p.ConfigYAML
}

// GetHome returns the edbridge home directory: EDBRIDGE_HOME when set,
// otherwise ~/.edbridge.
func GetHome() string {
	if override := strings.TrimSpace(os.Getenv(EnvHome)); override != "" {
		return ExpandPath(override)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".edbridge")
}

// ExpandPath expands a leading ~ and any $VAR references.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// EnsureInstanceDirs creates the instance tree. The run directory holds the
// IPC socket and is private to the user.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)
	for dir, mode := range map[string]os.FileMode{
		paths.Home:       0o755,
		paths.Logs:       0o755,
		paths.ScriptsDir: 0o755,
		paths.RunDir:     0o700,
	} {
		if err := os.MkdirAll(dir, mode); err != nil {
			return paths, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return paths, nil
}
