// Package config loads and persists the mixbus runtime configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

type Config struct {
	Device DeviceConfig        `json:"device"`
	Engine EngineConfig        `json:"engine"`
	EQ     EQConfig            `json:"eq"`
	Alias  map[string][]string `json:"aliases,omitempty"`
}

type DeviceConfig struct {
	// SourceUID names the virtual multi-client endpoint. Required.
	SourceUID string `json:"source_uid"`
	// OutputUID names the physical output; empty uses the default.
	OutputUID string `json:"output_uid"`
}

type EngineConfig struct {
	RingBufferMillis int `json:"ring_buffer_millis"`
	FramesPerBuffer  int `json:"frames_per_buffer"`
}

type EQConfig struct {
	LowShelfHz  float64 `json:"low_shelf_hz"`
	MidPeakHz   float64 `json:"mid_peak_hz"`
	HighShelfHz float64 `json:"high_shelf_hz"`
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	// Default config
	cfg := &Config{
		Device: DeviceConfig{
			SourceUID: "",
			OutputUID: "",
		},
		Engine: EngineConfig{
			RingBufferMillis: 100,
			FramesPerBuffer:  512,
		},
		EQ: EQConfig{
			LowShelfHz:  200,
			MidPeakHz:   1000,
			HighShelfHz: 3500,
		},
	}

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// EQFrequencies returns the three band center/corner frequencies in
// low, mid, high order.
func (c *Config) EQFrequencies() [3]float64 {
	return [3]float64{c.EQ.LowShelfHz, c.EQ.MidPeakHz, c.EQ.HighShelfHz}
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "mixbus", "config.json")
}
