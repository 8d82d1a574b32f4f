// Package config loads the daemon configuration from YAML or TOML files and
// lays out the per-instance directories under the edbridge home.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/edbridge/internal/constants"
)

// EnvListen overrides the websocket listen address.
const EnvListen = "EDBRIDGE_LISTEN"

// DefaultListen is the websocket address used when none is configured.
const DefaultListen = "127.0.0.1:7410"

var (
	// ErrUnsupportedFormat is returned for configuration files that are
	// neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Initial holds the answers the daemon gives to host capability queries
// while no host peer is attached.
type Initial struct {
	Value    string `yaml:"value" toml:"value"`
	Language string `yaml:"language" toml:"language"`
	Width    int    `yaml:"width" toml:"width"`
	Height   int    `yaml:"height" toml:"height"`
}

// Backend configures the language service for one language id.
type Backend struct {
	Kind    string            `yaml:"kind" toml:"kind"`
	Command string            `yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" toml:"args,omitempty"`
	RootDir string            `yaml:"rootDir,omitempty" toml:"rootDir,omitempty"`
	Target  string            `yaml:"target,omitempty" toml:"target,omitempty"`
	Token   string            `yaml:"token,omitempty" toml:"token,omitempty"`
	Options map[string]string `yaml:"options,omitempty" toml:"options,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Listen         string             `yaml:"listen" toml:"listen"`
	Socket         string             `yaml:"socket" toml:"socket"`
	AllowedOrigins []string           `yaml:"allowedOrigins" toml:"allowedOrigins"`
	Initial        Initial            `yaml:"initial" toml:"initial"`
	RequestTimeout Duration           `yaml:"requestTimeout" toml:"requestTimeout"`
	ScriptsDir     string             `yaml:"scriptsDir" toml:"scriptsDir"`
	Backends       map[string]Backend `yaml:"backends" toml:"backends"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-" toml:"-"`
}

// Default returns the configuration used when no file exists.
func Default(paths InstancePaths) Config {
	return Config{
		Listen: DefaultListen,
		Socket: paths.Socket,
		Initial: Initial{
			Language: constants.DefaultInitialLanguage,
			Width:    constants.DefaultWidth,
			Height:   constants.DefaultHeight,
		},
		RequestTimeout: Duration(constants.LanguageServiceRequestTimeout),
		ScriptsDir:     paths.ScriptsDir,
	}
}

// Load reads the instance configuration. A missing file yields defaults.
// EDBRIDGE_LISTEN overrides the listen address either way.
func Load(paths InstancePaths) (Config, error) {
	cfg := Default(paths)
	path := paths.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.Path = path
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadFile reads an explicit configuration file over the defaults of paths.
func LoadFile(path string, paths InstancePaths) (Config, error) {
	cfg := Default(paths)
	if err := decodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Path = path
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	if listen := strings.TrimSpace(os.Getenv(EnvListen)); listen != "" {
		cfg.Listen = listen
	}
	cfg.Socket = ExpandPath(cfg.Socket)
	cfg.ScriptsDir = ExpandPath(cfg.ScriptsDir)
	for id, b := range cfg.Backends {
		b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
		b.RootDir = ExpandPath(b.RootDir)
		cfg.Backends[id] = b
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes as io.EOF and leaves the defaults.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("config: parse %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot serve.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Listen) == "" && strings.TrimSpace(c.Socket) == "" {
		problems = append(problems, "neither listen nor socket is set")
	}
	if c.Initial.Width < 0 || c.Initial.Height < 0 {
		problems = append(problems, "initial width and height must not be negative")
	}
	if c.RequestTimeout < 0 {
		problems = append(problems, "requestTimeout must not be negative")
	}
	for _, id := range c.BackendLanguages() {
		b := c.Backends[id]
		if strings.TrimSpace(id) == "" {
			problems = append(problems, "backend with empty language id")
			continue
		}
		if _, ok := constants.AllowedBackendKinds[b.Kind]; !ok {
			problems = append(problems, fmt.Sprintf("backend %s: unknown kind %q", id, b.Kind))
			continue
		}
		switch b.Kind {
		case constants.BackendKindLSP:
			if strings.TrimSpace(b.Command) == "" {
				problems = append(problems, fmt.Sprintf("backend %s: lsp backend needs a command", id))
			}
		case constants.BackendKindGRPC:
			if strings.TrimSpace(b.Target) == "" {
				problems = append(problems, fmt.Sprintf("backend %s: grpc backend needs a target", id))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// BackendLanguages returns the configured language ids in sorted order.
func (c Config) BackendLanguages() []string {
	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
