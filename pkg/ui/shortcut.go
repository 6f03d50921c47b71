package ui

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
)

// Action identifies what a shortcut does
type Action int

const (
	ActionQuit Action = iota
	ActionStartEmulation
	ActionStopEmulation
	ActionConnect
	ActionDisconnect
	ActionClear
	ActionSave
	ActionHelp
	ActionCustom
)

// String returns the string representation of Action
func (a Action) String() string {
	switch a {
	case ActionQuit:
		return "quit"
	case ActionStartEmulation:
		return "start"
	case ActionStopEmulation:
		return "stop"
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	case ActionClear:
		return "clear"
	case ActionSave:
		return "save"
	case ActionHelp:
		return "help"
	case ActionCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Shortcut represents a keyboard shortcut
type Shortcut struct {
	Name        string
	Key         tcell.Key
	Char        rune
	Mods        tcell.ModMask
	Action      Action
	Handler     func() error
	Description string
	Enabled     bool
}

func isCtrlKey(k tcell.Key) bool {
	return k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ
}

// Matches checks if the given key event matches this shortcut. Shift is
// ignored for printable characters since it is already part of the rune,
// and control keys match whatever modifiers the terminal reports.
func (s *Shortcut) Matches(key tcell.Key, char rune, mods tcell.ModMask) bool {
	if !s.Enabled {
		return false
	}

	if s.Key != tcell.KeyRune {
		if s.Key != key {
			return false
		}
		return isCtrlKey(key) || s.Mods == mods
	}

	return key == tcell.KeyRune && s.Char == char && s.Mods&^tcell.ModShift == mods&^tcell.ModShift
}

// Execute executes the shortcut action
func (s *Shortcut) Execute() error {
	if !s.Enabled {
		return fmt.Errorf("shortcut %s is disabled", s.Name)
	}
	if s.Handler != nil {
		return s.Handler()
	}
	return fmt.Errorf("no handler defined for shortcut %s", s.Name)
}

// Describe formats the key combination, e.g. "F9", "Ctrl+S", "q"
func (s *Shortcut) Describe() string {
	return FormatKey(s.Key, s.Char, s.Mods)
}

var keysByName = func() map[string]tcell.Key {
	m := make(map[string]tcell.Key, len(tcell.KeyNames))
	for k, name := range tcell.KeyNames {
		m[strings.ToLower(name)] = k
	}
	return m
}()

// ParseKey parses a key description such as "F9", "Ctrl+S", "Alt+x",
// "Shift+F10", "PgUp" or "q". Names are those tcell uses, case-insensitive.
func ParseKey(desc string) (tcell.Key, rune, tcell.ModMask, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return 0, 0, 0, fmt.Errorf("empty key")
	}
	if utf8.RuneCountInString(desc) == 1 {
		r, _ := utf8.DecodeRuneInString(desc)
		return tcell.KeyRune, r, tcell.ModNone, nil
	}

	parts := strings.FieldsFunc(desc, func(r rune) bool { return r == '+' })
	if strings.HasSuffix(desc, "++") {
		parts = append(parts, "+")
	}
	if len(parts) == 0 {
		return 0, 0, 0, fmt.Errorf("invalid key %q", desc)
	}

	var mods tcell.ModMask
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "ctrl", "control":
			mods |= tcell.ModCtrl
		case "alt", "meta":
			mods |= tcell.ModAlt
		case "shift":
			mods |= tcell.ModShift
		default:
			return 0, 0, 0, fmt.Errorf("unknown modifier %q in %q", p, desc)
		}
	}

	name := strings.TrimSpace(parts[len(parts)-1])
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		if mods&tcell.ModCtrl != 0 {
			if k, ok := keysByName["ctrl-"+strings.ToLower(name)]; ok {
				return k, 0, mods, nil
			}
		}
		return tcell.KeyRune, r, mods, nil
	}

	if k, ok := keysByName[strings.ToLower(name)]; ok {
		return k, 0, mods, nil
	}
	return 0, 0, 0, fmt.Errorf("unknown key %q", desc)
}

// FormatKey formats a key combination for display
func FormatKey(key tcell.Key, char rune, mods tcell.ModMask) string {
	var keyName string
	switch name, ok := tcell.KeyNames[key]; {
	case key == tcell.KeyRune:
		keyName = string(char)
	case ok && strings.HasPrefix(name, "Ctrl-"):
		return "Ctrl+" + strings.TrimPrefix(name, "Ctrl-")
	case ok:
		keyName = name
	default:
		keyName = fmt.Sprintf("Key(%d)", key)
	}

	var parts []string
	if mods&tcell.ModCtrl != 0 {
		parts = append(parts, "Ctrl")
	}
	if mods&tcell.ModAlt != 0 {
		parts = append(parts, "Alt")
	}
	if mods&tcell.ModShift != 0 {
		parts = append(parts, "Shift")
	}

	return strings.Join(append(parts, keyName), "+")
}

// ShortcutManager manages keyboard shortcuts
type ShortcutManager struct {
	shortcuts map[string]*Shortcut
	enabled   bool
}

// NewShortcutManager creates an empty shortcut manager
func NewShortcutManager() *ShortcutManager {
	return &ShortcutManager{
		shortcuts: make(map[string]*Shortcut),
		enabled:   true,
	}
}

// Bind parses desc and registers a shortcut under name
func (sm *ShortcutManager) Bind(name, desc, description string, action Action, handler func() error) error {
	key, char, mods, err := ParseKey(desc)
	if err != nil {
		return fmt.Errorf("shortcut %s: %w", name, err)
	}
	for _, other := range sm.shortcuts {
		if other.Name != name && other.Key == key && other.Char == char && other.Mods == mods {
			return fmt.Errorf("shortcut %s: %s is already bound to %s", name, desc, other.Name)
		}
	}

	sm.AddShortcut(&Shortcut{
		Name:        name,
		Key:         key,
		Char:        char,
		Mods:        mods,
		Action:      action,
		Handler:     handler,
		Description: description,
		Enabled:     true,
	})
	return nil
}

// AddShortcut adds a new shortcut
func (sm *ShortcutManager) AddShortcut(shortcut *Shortcut) {
	sm.shortcuts[shortcut.Name] = shortcut
}

// RemoveShortcut removes a shortcut by name
func (sm *ShortcutManager) RemoveShortcut(name string) {
	delete(sm.shortcuts, name)
}

// GetShortcut returns a shortcut by name
func (sm *ShortcutManager) GetShortcut(name string) *Shortcut {
	return sm.shortcuts[name]
}

// ListShortcuts returns all shortcuts ordered by name
func (sm *ShortcutManager) ListShortcuts() []*Shortcut {
	shortcuts := make([]*Shortcut, 0, len(sm.shortcuts))
	for _, shortcut := range sm.shortcuts {
		shortcuts = append(shortcuts, shortcut)
	}
	sort.Slice(shortcuts, func(i, j int) bool { return shortcuts[i].Name < shortcuts[j].Name })
	return shortcuts
}

// SetEnabled enables or disables the entire shortcut system
func (sm *ShortcutManager) SetEnabled(enabled bool) {
	sm.enabled = enabled
}

// ProcessKeyEvent executes the shortcut matching the event, if any
func (sm *ShortcutManager) ProcessKeyEvent(key tcell.Key, char rune, mods tcell.ModMask) (bool, error) {
	if !sm.enabled {
		return false, nil
	}

	for _, shortcut := range sm.ListShortcuts() {
		if shortcut.Matches(key, char, mods) {
			return true, shortcut.Execute()
		}
	}
	return false, nil
}

// Help returns one line per enabled shortcut
func (sm *ShortcutManager) Help() []string {
	var lines []string
	for _, s := range sm.ListShortcuts() {
		if !s.Enabled {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-10s %s", s.Describe(), s.Description))
	}
	return lines
}
