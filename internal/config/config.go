// Package config provides centralized configuration for the mergegym backend.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds application-wide configuration.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string
	// DataRoot is the base directory relative repository paths resolve
	// against.
	DataRoot string
	// MaxParallel bounds how many files are analyzed at once.
	MaxParallel int
	// AnalyzeTimeout bounds the content and diff fetches of one file.
	AnalyzeTimeout time.Duration
	// MarkerSize is the conflict marker length (git's conflict-marker-size).
	MarkerSize int
	// DefaultRepo is used when a command or request names no repository.
	DefaultRepo string
}

// fileConfig is the on-disk shape of mergegym.yaml / mergegym.toml. Zero
// values leave the current setting alone.
type fileConfig struct {
	Addr           string `yaml:"addr" toml:"addr"`
	DataRoot       string `yaml:"data_root" toml:"data_root"`
	MaxParallel    int    `yaml:"max_parallel" toml:"max_parallel"`
	AnalyzeTimeout string `yaml:"analyze_timeout" toml:"analyze_timeout"`
	MarkerSize     int    `yaml:"marker_size" toml:"marker_size"`
	DefaultRepo    string `yaml:"repo" toml:"repo"`
}

// FileNames lists the config files Load looks for, in order.
var FileNames = []string{"mergegym.yaml", "mergegym.yml", "mergegym.toml"}

// DefaultConfig returns the default configuration, reading from environment variables.
func DefaultConfig() *Config {
	c := &Config{
		Addr:           ":8080",
		DataRoot:       ".mergegym-data",
		MaxParallel:    4,
		AnalyzeTimeout: 30 * time.Second,
		MarkerSize:     7,
	}
	if v := os.Getenv("MERGEGYM_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("MERGEGYM_DATA_ROOT"); v != "" {
		c.DataRoot = v
	}
	if n, err := strconv.Atoi(os.Getenv("MERGEGYM_MAX_PARALLEL")); err == nil && n > 0 {
		c.MaxParallel = n
	}
	if d, err := time.ParseDuration(os.Getenv("MERGEGYM_ANALYZE_TIMEOUT")); err == nil && d > 0 {
		c.AnalyzeTimeout = d
	}
	if v := os.Getenv("MERGEGYM_REPO"); v != "" {
		c.DefaultRepo = v
	}
	return c
}

// Load returns the default configuration overlaid with the first config
// file found in dir. A missing file is not an error.
func Load(dir string) (*Config, error) {
	c := DefaultConfig()
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var fc fileConfig
		if filepath.Ext(name) == ".toml" {
			err = toml.Unmarshal(data, &fc)
		} else {
			err = yaml.Unmarshal(data, &fc)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := c.apply(fc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return c, nil
	}
	return c, nil
}

func (c *Config) apply(fc fileConfig) error {
	if fc.Addr != "" {
		c.Addr = fc.Addr
	}
	if fc.DataRoot != "" {
		c.DataRoot = fc.DataRoot
	}
	if fc.MaxParallel > 0 {
		c.MaxParallel = fc.MaxParallel
	}
	if fc.AnalyzeTimeout != "" {
		d, err := time.ParseDuration(fc.AnalyzeTimeout)
		if err != nil {
			return fmt.Errorf("analyze_timeout: %w", err)
		}
		c.AnalyzeTimeout = d
	}
	if fc.MarkerSize > 0 {
		c.MarkerSize = fc.MarkerSize
	}
	if fc.DefaultRepo != "" {
		c.DefaultRepo = fc.DefaultRepo
	}
	return nil
}

// RepoPath resolves a repository argument against DataRoot. Empty names
// fall back to DefaultRepo, then to the current directory.
func (c *Config) RepoPath(name string) string {
	if name == "" {
		name = c.DefaultRepo
	}
	if name == "" {
		return "."
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataRoot, name)
}

// Global is the application-wide configuration instance.
var Global = DefaultConfig()
