// Package config manages persistent audiod process settings. Settings are
// stored as JSON at os.UserConfigDir()/audiod/config.json, read once at
// startup and merged with any -flag overrides supplied by the caller.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds persistent server-level preferences: default output/input
// selection, the system volume/gain the device list restores on startup,
// and the admin HTTP surface address.
type Config struct {
	DefaultOutputName string `json:"default_output_name"`
	DefaultInputName  string `json:"default_input_name"`
	SystemVolume      int    `json:"system_volume"`
	SystemCaptureGain int    `json:"system_capture_gain"`
	HTTPAddr          string `json:"http_addr"`
	BluetoothEnabled  bool   `json:"bluetooth_enabled"`
	MetricsInterval   int    `json:"metrics_interval_seconds"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		SystemVolume:      100,
		SystemCaptureGain: 0,
		HTTPAddr:          ":8040",
		BluetoothEnabled:  true,
		MetricsInterval:   5,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audiod", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
