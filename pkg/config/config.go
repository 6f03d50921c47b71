// Package config provides configuration management functionality
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"serial-input-monitor/pkg/emulation"
	"serial-input-monitor/pkg/serial"
)

// Settings is the persisted application configuration
type Settings struct {
	Serial    SerialSettings     `yaml:"serial" json:"serial"`
	Emulation EmulationSettings  `yaml:"emulation" json:"emulation"`
	Hotkeys   HotkeySettings     `yaml:"hotkeys" json:"hotkeys"`
	Log       LogSettings        `yaml:"log" json:"log"`
	Profiles  map[string]Profile `yaml:"profiles,omitempty" json:"profiles,omitempty"`
}

// SerialSettings configures the port and baud negotiation
type SerialSettings struct {
	LastPort         string `yaml:"last_port" json:"last_port"`
	BaudRate         int    `yaml:"baud_rate" json:"baud_rate"`
	DetectedBaudRate int    `yaml:"detected_baud_rate" json:"detected_baud_rate"`
	AutoDetectBaud   bool   `yaml:"auto_detect_baud" json:"auto_detect_baud"`
	QuickProbe       bool   `yaml:"quick_probe" json:"quick_probe"`
	Timeout          string `yaml:"timeout" json:"timeout"`           // per-candidate I/O timeout
	TestTimeout      string `yaml:"test_timeout" json:"test_timeout"` // quick probe window
	DataBits         int    `yaml:"data_bits" json:"data_bits"`
	StopBits         int    `yaml:"stop_bits" json:"stop_bits"`
	Parity           string `yaml:"parity" json:"parity"`
}

// EmulationSettings selects the backend
type EmulationSettings struct {
	Backend      string `yaml:"backend" json:"backend"`
	StartEnabled bool   `yaml:"start_enabled" json:"start_enabled"`
}

// HotkeySettings holds the console shortcuts that toggle emulation
type HotkeySettings struct {
	Start string `yaml:"start" json:"start"`
	Stop  string `yaml:"stop" json:"stop"`
}

// LogSettings configures the user-facing log book and diagnostics
type LogSettings struct {
	Level      string `yaml:"level" json:"level"` // debug, info, warn, error
	Debug      bool   `yaml:"debug" json:"debug"`
	MaxLines   int    `yaml:"max_lines" json:"max_lines"`
	SaveToFile bool   `yaml:"save_to_file" json:"save_to_file"`
	Filename   string `yaml:"filename" json:"filename"`
}

// Profile is a named port setup
type Profile struct {
	Port        string    `yaml:"port" json:"port"`
	BaudRate    int       `yaml:"baud_rate" json:"baud_rate"`
	AutoDetect  bool      `yaml:"auto_detect" json:"auto_detect"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	LastUsedAt  time.Time `yaml:"last_used_at" json:"last_used_at"`
}

// Validate checks if the profile is valid
func (p Profile) Validate() error {
	if p.Port == "" {
		return fmt.Errorf("profile port cannot be empty")
	}
	if p.BaudRate <= 0 {
		return fmt.Errorf("profile baud rate must be positive, got %d", p.BaudRate)
	}
	return nil
}

const (
	defaultTimeout     = time.Second
	defaultTestTimeout = 500 * time.Millisecond
)

// DefaultSettings returns the settings used when no file exists
func DefaultSettings() *Settings {
	return &Settings{
		Serial: SerialSettings{
			BaudRate:         9600,
			DetectedBaudRate: 9600,
			AutoDetectBaud:   true,
			QuickProbe:       true,
			Timeout:          "1s",
			TestTimeout:      "500ms",
			DataBits:         8,
			StopBits:         1,
			Parity:           "none",
		},
		Emulation: EmulationSettings{
			Backend: emulation.NameLog,
		},
		Hotkeys: HotkeySettings{
			Start: "F9",
			Stop:  "F10",
		},
		Log: LogSettings{
			Level:      "info",
			MaxLines:   1000,
			SaveToFile: true,
			Filename:   "serial_control.log",
		},
	}
}

// DefaultPath returns the per-user settings file location
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".serial-input-monitor", "config.yaml")
	}
	return filepath.Join(dir, "serial-input-monitor", "config.yaml")
}

// Load loads settings from a YAML file. A missing file yields the defaults.
// Environment overrides are applied either way.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	s.applyEnvOverrides()
	return s, nil
}

// Save writes settings to path atomically
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to temporary file first, then rename for atomic operation
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (s *Settings) applyEnvOverrides() {
	if port := os.Getenv("SIM_PORT"); port != "" {
		s.Serial.LastPort = port
	}
	if v := os.Getenv("SIM_BAUD_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			s.Serial.BaudRate = rate
			s.Serial.DetectedBaudRate = rate
		}
	}
	if v := os.Getenv("SIM_AUTO_DETECT"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			s.Serial.AutoDetectBaud = on
		}
	}
	if backend := os.Getenv("SIM_BACKEND"); backend != "" {
		s.Emulation.Backend = backend
	}
	if file := os.Getenv("SIM_LOG_FILE"); file != "" {
		s.Log.Filename = file
		s.Log.SaveToFile = true
	}
}

// GetTimeout returns the per-candidate negotiation timeout.
func (s *Settings) GetTimeout() time.Duration {
	d, err := time.ParseDuration(s.Serial.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

// GetTestTimeout returns the quick probe window.
func (s *Settings) GetTestTimeout() time.Duration {
	d, err := time.ParseDuration(s.Serial.TestTimeout)
	if err != nil || d <= 0 {
		return defaultTestTimeout
	}
	return d
}

// PreferredBaudRate is the rate tried first: the last detected rate when
// known, otherwise the configured one.
func (s *Settings) PreferredBaudRate() int {
	if s.Serial.DetectedBaudRate > 0 {
		return s.Serial.DetectedBaudRate
	}
	return s.Serial.BaudRate
}

// SerialConfig builds the port configuration for port at the preferred rate
func (s *Settings) SerialConfig(port string) serial.SerialConfig {
	cfg := serial.DefaultConfig()
	cfg.Port = port
	cfg.BaudRate = s.PreferredBaudRate()
	cfg.DataBits = s.Serial.DataBits
	cfg.StopBits = s.Serial.StopBits
	cfg.Parity = s.Serial.Parity
	cfg.Timeout = s.GetTimeout()
	return cfg
}

// ValidLevels lists the accepted log levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (s *Settings) Validate() error {
	if s.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", s.Serial.BaudRate)
	}
	if s.Serial.DetectedBaudRate < 0 {
		return fmt.Errorf("serial.detected_baud_rate cannot be negative, got %d", s.Serial.DetectedBaudRate)
	}
	if _, err := time.ParseDuration(s.Serial.Timeout); err != nil {
		return fmt.Errorf("serial.timeout: %w", err)
	}
	if _, err := time.ParseDuration(s.Serial.TestTimeout); err != nil {
		return fmt.Errorf("serial.test_timeout: %w", err)
	}

	probe := s.SerialConfig("validate")
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("invalid serial settings: %w", err)
	}

	if !contains(emulation.Names(), strings.ToLower(s.Emulation.Backend)) {
		return fmt.Errorf("invalid emulation backend: %s (valid: %v)", s.Emulation.Backend, emulation.Names())
	}

	if strings.TrimSpace(s.Hotkeys.Start) == "" || strings.TrimSpace(s.Hotkeys.Stop) == "" {
		return fmt.Errorf("hotkeys.start and hotkeys.stop cannot be empty")
	}
	if strings.EqualFold(s.Hotkeys.Start, s.Hotkeys.Stop) {
		return fmt.Errorf("hotkeys.start and hotkeys.stop must differ, both are %s", s.Hotkeys.Start)
	}

	if !contains(ValidLevels, strings.ToLower(s.Log.Level)) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", s.Log.Level, ValidLevels)
	}
	if s.Log.MaxLines <= 0 {
		return fmt.Errorf("log.max_lines must be positive, got %d", s.Log.MaxLines)
	}
	if s.Log.SaveToFile && s.Log.Filename == "" {
		return fmt.Errorf("log.filename is required when log.save_to_file is set")
	}

	for name, p := range s.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}

	return nil
}

// SaveProfile stores p under name, keeping the creation time of an
// existing profile
func (s *Settings) SaveProfile(name string, p Profile) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	now := time.Now()
	p.CreatedAt, p.LastUsedAt = now, now
	if existing, ok := s.Profiles[name]; ok {
		p.CreatedAt = existing.CreatedAt
		if p.Description == "" {
			p.Description = existing.Description
		}
	}

	if s.Profiles == nil {
		s.Profiles = make(map[string]Profile)
	}
	s.Profiles[name] = p
	return nil
}

// Profile returns the profile stored under name
func (s *Settings) Profile(name string) (Profile, error) {
	p, ok := s.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile '%s' not found", name)
	}
	return p, nil
}

// TouchProfile records that the profile was just used
func (s *Settings) TouchProfile(name string) {
	if p, ok := s.Profiles[name]; ok {
		p.LastUsedAt = time.Now()
		s.Profiles[name] = p
	}
}

// DeleteProfile removes the profile stored under name
func (s *Settings) DeleteProfile(name string) error {
	if _, ok := s.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}
	delete(s.Profiles, name)
	return nil
}

// ProfileNames returns the profile names in sorted order
func (s *Settings) ProfileNames() []string {
	names := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
