// Package config loads the tracker configuration from the user's XDG config
// directory: which spreadsheet backs the ledger, the task catalogue, and the
// tuning knobs for caching and retries.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/record"
)

const (
	xdgAppName = "acpleff"
	configFile = "config.json"
)

// ErrMissingSpreadsheetID means the tracker has not been pointed at a
// spreadsheet yet; nothing can run until it is set.
var ErrMissingSpreadsheetID = errors.New("spreadsheet_id is not configured")

// Config is the on-disk configuration.
type Config struct {
	SpreadsheetID          string        `json:"spreadsheet_id"`
	Tasks                  []record.Task `json:"tasks"`
	DefaultDurationSeconds int           `json:"default_duration_seconds"`
	CacheTTLSeconds        int           `json:"cache_ttl_seconds"`
	RetryMaxAttempts       int           `json:"retry_max_attempts"`
	RetryBaseDelayMillis   int           `json:"retry_base_delay_millis"`
}

// defaultTasks is the catalogue used until a site configures its own.
// "Other Work" is the freeform task: time-tracked, no per-item target.
func defaultTasks() []record.Task {
	return []record.Task{
		{Name: "Indexing", PerItemSeconds: 120, Position: 0},
		{Name: "Scanning", PerItemSeconds: 60, Position: 1},
		{Name: "QC", PerItemSeconds: 90, Position: 2},
		{Name: "Other Work", Position: 3, Freeform: true},
	}
}

func applyDefaults(cfg *Config) {
	if len(cfg.Tasks) == 0 {
		cfg.Tasks = defaultTasks()
	}
	sort.SliceStable(cfg.Tasks, func(i, j int) bool {
		return cfg.Tasks[i].Position < cfg.Tasks[j].Position
	})
	if cfg.DefaultDurationSeconds <= 0 {
		cfg.DefaultDurationSeconds = 3600
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = 5
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryBaseDelayMillis <= 0 {
		cfg.RetryBaseDelayMillis = 1000
	}
}

// GetConfigPath returns the path of the config file under the user's home.
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName, configFile), nil
}

// Load reads the config file, filling defaults for anything unset. A missing
// file yields a pure-defaults Config with no spreadsheet ID.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			return &cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Validate checks that the config can actually drive the tracker.
func (c *Config) Validate() error {
	if c.SpreadsheetID == "" {
		return ErrMissingSpreadsheetID
	}
	freeform := 0
	seen := make(map[int]string)
	for _, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task with empty name at position %d", t.Position)
		}
		if prev, dup := seen[t.Position]; dup {
			return fmt.Errorf("tasks %q and %q share position %d", prev, t.Name, t.Position)
		}
		seen[t.Position] = t.Name
		if t.Freeform {
			freeform++
		} else if t.PerItemSeconds <= 0 {
			return fmt.Errorf("task %q has no per-item duration", t.Name)
		}
	}
	if freeform > 1 {
		return fmt.Errorf("only one freeform task is allowed, found %d", freeform)
	}
	return nil
}

// Save writes the config file, creating the directory as needed.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes a config file to an explicit path.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}
