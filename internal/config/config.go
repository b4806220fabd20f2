package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Instance is one messaging account sharing the inbox. Static
// reference data: the sync core reads it for filtering and
// decoration but never mutates it.
type Instance struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Color string `toml:"color"`
}

// Config represents the global ~/.inboxd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	BackendURL string `toml:"backend_url"`
	PushURL    string `toml:"push_url"`
	Token      string `toml:"token"`

	// RefreshSeconds is the interval between periodic snapshot
	// fetches. Zero means the built-in default.
	RefreshSeconds int `toml:"refresh_seconds"`

	Instances []Instance `toml:"instances"`
}

const defaultRefreshSeconds = 60

// RefreshInterval returns the snapshot refresh period.
func (c *Config) RefreshInterval() time.Duration {
	secs := c.RefreshSeconds
	if secs <= 0 {
		secs = defaultRefreshSeconds
	}
	return time.Duration(secs) * time.Second
}

// InstanceByID looks up an instance in the static reference table.
func (c *Config) InstanceByID(id string) (Instance, bool) {
	for _, inst := range c.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

// Load reads config from the given path. Returns an error if the
// file is missing; callers decide whether that is fatal.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
