package config

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

type field struct {
	get func(*Settings) string
	set func(*Settings, string) error
}

func intField(ptr func(*Settings) *int) field {
	return field{
		get: func(s *Settings) string { return strconv.Itoa(*ptr(s)) },
		set: func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("expected an integer, got %q", v)
			}
			*ptr(s) = n
			return nil
		},
	}
}

func boolField(ptr func(*Settings) *bool) field {
	return field{
		get: func(s *Settings) string { return strconv.FormatBool(*ptr(s)) },
		set: func(s *Settings, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", v)
			}
			*ptr(s) = b
			return nil
		},
	}
}

func stringField(ptr func(*Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *ptr(s) },
		set: func(s *Settings, v string) error {
			*ptr(s) = v
			return nil
		},
	}
}

func durationField(ptr func(*Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *ptr(s) },
		set: func(s *Settings, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("expected a duration such as 500ms, got %q", v)
			}
			*ptr(s) = v
			return nil
		},
	}
}

var fields = map[string]field{
	"serial.last_port":          stringField(func(s *Settings) *string { return &s.Serial.LastPort }),
	"serial.baud_rate":          intField(func(s *Settings) *int { return &s.Serial.BaudRate }),
	"serial.detected_baud_rate": intField(func(s *Settings) *int { return &s.Serial.DetectedBaudRate }),
	"serial.auto_detect_baud":   boolField(func(s *Settings) *bool { return &s.Serial.AutoDetectBaud }),
	"serial.quick_probe":        boolField(func(s *Settings) *bool { return &s.Serial.QuickProbe }),
	"serial.timeout":            durationField(func(s *Settings) *string { return &s.Serial.Timeout }),
	"serial.test_timeout":       durationField(func(s *Settings) *string { return &s.Serial.TestTimeout }),
	"serial.data_bits":          intField(func(s *Settings) *int { return &s.Serial.DataBits }),
	"serial.stop_bits":          intField(func(s *Settings) *int { return &s.Serial.StopBits }),
	"serial.parity":             stringField(func(s *Settings) *string { return &s.Serial.Parity }),
	"emulation.backend":         stringField(func(s *Settings) *string { return &s.Emulation.Backend }),
	"emulation.start_enabled":   boolField(func(s *Settings) *bool { return &s.Emulation.StartEnabled }),
	"hotkeys.start":             stringField(func(s *Settings) *string { return &s.Hotkeys.Start }),
	"hotkeys.stop":              stringField(func(s *Settings) *string { return &s.Hotkeys.Stop }),
	"log.level":                 stringField(func(s *Settings) *string { return &s.Log.Level }),
	"log.debug":                 boolField(func(s *Settings) *bool { return &s.Log.Debug }),
	"log.max_lines":             intField(func(s *Settings) *int { return &s.Log.MaxLines }),
	"log.save_to_file":          boolField(func(s *Settings) *bool { return &s.Log.SaveToFile }),
	"log.filename":              stringField(func(s *Settings) *string { return &s.Log.Filename }),
}

// Keys returns every settable key in sorted order
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value stored under a dotted key such as "serial.baud_rate"
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown key %q", key)
	}
	return f.get(s), nil
}

// Set parses value and stores it under key. The result is validated and
// the previous value restored on failure.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown key %q", key)
	}

	old := f.get(s)
	if err := f.set(s, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := s.Validate(); err != nil {
		_ = f.set(s, old)
		return err
	}
	return nil
}
