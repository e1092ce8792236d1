package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// Server is the base url of the Taguette server.
	Server string `json:"server" toml:"server"`
	// Project is the id of the project to work on.
	Project int `json:"project" toml:"project"`
	// Cookie is the value of the "user" login cookie.
	Cookie string `json:"cookie" toml:"cookie"`
	// XSRFToken is the value of the "_xsrf" cookie.
	XSRFToken string `json:"xsrf_token" toml:"xsrf_token"`
	// ClientVersion must match the server's version for event polling.
	ClientVersion string `json:"client_version" toml:"client_version"`
	// Workspace is where document text files are written for editors.
	Workspace string `json:"workspace" toml:"workspace"`
	// Database is the path of the local cache. Empty means the default
	// under the XDG state directory.
	Database string `json:"database" toml:"database"`
	// PreviewAddr is the listen address of the live preview.
	PreviewAddr string `json:"preview_addr" toml:"preview_addr"`
	// PollRetry is the minimum delay between two failing event polls.
	PollRetry Duration `json:"poll_retry" toml:"poll_retry"`
	// Parsers is the number of markup parsers kept in the pool.
	Parsers int `json:"parsers" toml:"parsers"`
}

var defaultConfig = Config{
	Server:        "http://localhost:7465",
	Project:       1,
	ClientVersion: "1.4.1",
	Workspace:     ".",
	PreviewAddr:   "localhost:0",
	PollRetry:     Duration(5 * time.Second),
	Parsers:       4,
}

// Default returns the default configuration.
func Default() Config {
	return defaultConfig
}

// Load overlays the fields present in v, usually LSP initialization
// options, onto the defaults.
func Load(v any) (Config, error) {
	cfg := defaultConfig
	if v == nil {
		return cfg, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}

	return cfg, nil
}

// LoadFromJSON reads JSON from r into a Config.
func LoadFromJSON(r io.Reader) (Config, error) {
	cfg := defaultConfig

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile reads a TOML configuration file.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration can reach a server.
func (c Config) Validate() error {
	if c.Server == "" {
		return errors.New("no server configured")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server url %q: scheme must be http or https", c.Server)
	}
	if c.Project <= 0 {
		return fmt.Errorf("invalid project id %d", c.Project)
	}
	if c.Parsers <= 0 {
		return fmt.Errorf("invalid parser count %d", c.Parsers)
	}
	return nil
}

// StateDir returns the XDG state directory of taglight, creating it if
// needed.
func StateDir() (string, error) {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		stateHome = filepath.Join(homeDir, ".local", "state")
	}

	dir := filepath.Join(stateHome, "taglight")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// DatabasePath returns Database, or taglight.db in the state directory.
func (c Config) DatabasePath() (string, error) {
	if c.Database != "" {
		return c.Database, nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "taglight.db"), nil
}

// Duration is a time.Duration read from strings such as "5s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
