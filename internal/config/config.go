// Package config loads dotrack settings from defaults, an optional JSON
// file, DOTRACK_* environment variables and command line flags, in that
// order of precedence (later wins).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap/zapcore"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

const (
	BackendGit = "git"
	BackendKV  = "kv"
)

type Config struct {
	WorkTree      string `json:"work_tree"`
	StoreDir      string `json:"store_dir"`
	Backend       string `json:"backend"`
	LogLevel      string `json:"log_level"`
	DefaultBranch string `json:"default_branch"`
	RemoteName    string `json:"remote_name"`
}

func Default() Config {
	return Config{
		WorkTree:      "~",
		StoreDir:      ".dotrack",
		Backend:       BackendGit,
		LogLevel:      "warn",
		DefaultBranch: "main",
		RemoteName:    "origin",
	}
}

// FilePath is where Load looks for the config file when none is given.
func FilePath() string {
	return filepath.Join(xdg.ConfigHome, "dotrack", "config.json")
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(string) (string, bool)

var envVars = map[string]func(*Config) *string{
	"DOTRACK_WORK_TREE":      func(c *Config) *string { return &c.WorkTree },
	"DOTRACK_STORE_DIR":      func(c *Config) *string { return &c.StoreDir },
	"DOTRACK_BACKEND":        func(c *Config) *string { return &c.Backend },
	"DOTRACK_LOG_LEVEL":      func(c *Config) *string { return &c.LogLevel },
	"DOTRACK_DEFAULT_BRANCH": func(c *Config) *string { return &c.DefaultBranch },
	"DOTRACK_REMOTE":         func(c *Config) *string { return &c.RemoteName },
}

// Load applies the file at path and then the environment on top of the
// defaults. An empty path means FilePath(), which may be absent; an explicit
// path must exist.
func Load(path string, lookup LookupEnv) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = FilePath()
	}
	if err := cfg.readFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg.applyEnv(lookup)
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup LookupEnv) {
	for name, field := range envVars {
		if v, ok := lookup(name); ok && v != "" {
			*field(c) = v
		}
	}
}

// ResolveWorkTree expands "~" and returns the absolute work tree. Any
// failure to locate the home directory wraps ErrHomeDirectoryNotFound.
func (c *Config) ResolveWorkTree() (string, error) {
	path := c.WorkTree
	if path == "" || path == "~" {
		home, err := homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("%w: %v", tracker.ErrHomeDirectoryNotFound, err)
		}
		path = home
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", tracker.ErrHomeDirectoryNotFound, err)
	}
	return tracker.CanonicalWorkTree(expanded)
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGit, BackendKV:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendGit, BackendKV)
	}
	if c.StoreDir == "" || c.StoreDir == "." || c.StoreDir == ".." ||
		strings.ContainsAny(c.StoreDir, `/\`) {
		return fmt.Errorf("store dir %q must be a single directory name", c.StoreDir)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.DefaultBranch == "" {
		return errors.New("default branch must not be empty")
	}
	return nil
}
