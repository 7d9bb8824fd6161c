// Package config loads and saves the sequencer's persisted YAML
// configuration, enforcing the numeric bounds assigned to the
// configuration boundary — never inside internal/logic.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fenwick-energy/phase-switcher/internal/logic"
)

// minBoundSeconds and maxBoundSeconds are the [min, max] range every
// duration field is clamped to.
const (
	minBoundSeconds = 10
	maxBoundSeconds = 3600
)

// document is the on-disk YAML shape.
type document struct {
	Enabled       bool  `yaml:"enabled"`
	OperatingMode uint8 `yaml:"operating_mode"`
	DelayUpS      int   `yaml:"delay_up_s"`
	DelayDownS    int   `yaml:"delay_down_s"`
	MinDurationS  int   `yaml:"min_duration_s"`
	PauseTimeS    int   `yaml:"pause_time_s"`
}

// Store loads and persists logic.Config at a fixed filesystem path.
type Store struct {
	path string
}

// NewStore creates a Store reading and writing the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the configuration file, clamping every duration field to
// [10s, 3600s]. If the file does not exist, it returns DefaultConfig().
func (s *Store) Load() (logic.Config, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return logic.Config{}, fmt.Errorf("read config %s: %w", s.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return logic.Config{}, fmt.Errorf("parse config %s: %w", s.path, err)
	}

	return fromDocument(doc), nil
}

// Save persists cfg to the configured path and returns the clamped
// configuration actually written — callers must reload from this
// value, not the one passed in, since out-of-bounds fields are
// silently clamped rather than rejected.
func (s *Store) Save(cfg logic.Config) (logic.Config, error) {
	doc := toDocument(cfg)
	data, err := yaml.Marshal(doc)
	if err != nil {
		return logic.Config{}, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return logic.Config{}, fmt.Errorf("write config %s: %w", s.path, err)
	}
	return fromDocument(doc), nil
}

// DefaultConfig returns the configuration used when no file is present,
// matching original_source's compiled-in defaults.
func DefaultConfig() logic.Config {
	return logic.Config{
		Enabled:       false,
		OperatingMode: logic.OneTwoThreeDynamic,
		DelayUp:       30 * time.Second,
		DelayDown:     30 * time.Second,
		MinDuration:   60 * time.Second,
		PauseTime:     30 * time.Second,
	}
}

func clampSeconds(v int) int {
	if v < minBoundSeconds {
		return minBoundSeconds
	}
	if v > maxBoundSeconds {
		return maxBoundSeconds
	}
	return v
}

func fromDocument(doc document) logic.Config {
	return logic.Config{
		Enabled:       doc.Enabled,
		OperatingMode: logic.OperatingMode(doc.OperatingMode),
		DelayUp:       time.Duration(clampSeconds(doc.DelayUpS)) * time.Second,
		DelayDown:     time.Duration(clampSeconds(doc.DelayDownS)) * time.Second,
		MinDuration:   time.Duration(clampSeconds(doc.MinDurationS)) * time.Second,
		PauseTime:     time.Duration(clampSeconds(doc.PauseTimeS)) * time.Second,
	}
}

func toDocument(cfg logic.Config) document {
	return document{
		Enabled:       cfg.Enabled,
		OperatingMode: uint8(cfg.OperatingMode),
		DelayUpS:      clampSeconds(int(cfg.DelayUp / time.Second)),
		DelayDownS:    clampSeconds(int(cfg.DelayDown / time.Second)),
		MinDurationS:  clampSeconds(int(cfg.MinDuration / time.Second)),
		PauseTimeS:    clampSeconds(int(cfg.PauseTime / time.Second)),
	}
}
