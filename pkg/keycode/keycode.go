// Package keycode maps the numeric key codes sent by the input board to the
// three name spaces used by the monitor: technical names, friendly names for
// the log and the key identifiers understood by emulation backends.
package keycode

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyCode identifies a physical key. Codes 0x00-0xFF follow the Windows
// virtual key layout; 0x160-0x16F is the board's extended range.
type KeyCode uint16

// ExtendedEnter is the only extended code with a named mapping.
const ExtendedEnter KeyCode = 0x160

// technicalNames holds the named keys; digits and letters are derived.
var technicalNames = map[KeyCode]string{
	0x08: "BACKSPACE",
	0x09: "TAB",
	0x0D: "ENTER",
	0x10: "SHIFT",
	0x11: "CTRL",
	0x12: "ALT",
	0x13: "PAUSE",
	0x14: "CAPS_LOCK",
	0x1B: "ESC",
	0x20: "SPACE",
	0x21: "PAGE_UP",
	0x22: "PAGE_DOWN",
	0x23: "END",
	0x24: "HOME",
	0x25: "LEFT_ARROW",
	0x26: "UP_ARROW",
	0x27: "RIGHT_ARROW",
	0x28: "DOWN_ARROW",
	0x2C: "PRINT_SCREEN",
	0x2D: "INSERT",
	0x2E: "DELETE",
	0x70: "F1",
	0x71: "F2",
	0x72: "F3",
	0x73: "F4",
	0x74: "F5",
	0x75: "F6",
	0x76: "F7",
	0x77: "F8",
	0x78: "F9",
	0x79: "F10",
	0x7A: "F11",
	0x7B: "F12",
}

var friendlyNames = map[KeyCode]string{
	// control characters
	0x00: "NULL",
	0x01: "SOH",
	0x02: "STX",
	0x03: "ETX",
	0x04: "EOT",
	0x05: "ENQ",
	0x06: "ACK",
	0x07: "BELL",
	0x0A: "LINE FEED",
	0x0B: "VERTICAL TAB",
	0x0C: "FORM FEED",
	0x0E: "SHIFT OUT",
	0x0F: "SHIFT IN",
	0x15: "NAK",
	0x16: "SYN",
	0x17: "ETB",
	0x18: "CANCEL",
	0x19: "EM",
	0x1A: "SUB",
	0x1C: "FILE SEPARATOR",
	0x1D: "GROUP SEPARATOR",
	0x1E: "RECORD SEPARATOR",
	0x1F: "UNIT SEPARATOR",

	0x08: "BACKSPACE",
	0x09: "TAB",
	0x0D: "ENTER",
	0x10: "SHIFT",
	0x11: "CTRL",
	0x12: "ALT",
	0x13: "PAUSE",
	0x14: "CAPS LOCK",
	0x1B: "ESCAPE",
	0x20: "SPACE",
	0x21: "PAGE UP",
	0x22: "PAGE DOWN",
	0x23: "END",
	0x24: "HOME",
	0x25: "LEFT ARROW",
	0x26: "UP ARROW",
	0x27: "RIGHT ARROW",
	0x28: "DOWN ARROW",
	0x2C: "PRINT SCREEN",
	0x2D: "INSERT",
	0x2E: "DELETE",
	0x5B: "LEFT WINDOWS",
	0x5C: "RIGHT WINDOWS",
	0x5D: "MENU",
	0x6A: "NUMPAD MULTIPLY",
	0x6B: "NUMPAD PLUS",
	0x6D: "NUMPAD MINUS",
	0x6E: "NUMPAD PERIOD",
	0x6F: "NUMPAD DIVIDE",
	0x70: "F1",
	0x71: "F2",
	0x72: "F3",
	0x73: "F4",
	0x74: "F5",
	0x75: "F6",
	0x76: "F7",
	0x77: "F8",
	0x78: "F9",
	0x79: "F10",
	0x7A: "F11",
	0x7B: "F12",
	0x90: "NUM LOCK",
	0x91: "SCROLL LOCK",
	0xA0: "LEFT SHIFT",
	0xA1: "RIGHT SHIFT",
	0xA2: "LEFT CTRL",
	0xA3: "RIGHT CTRL",
	0xA4: "LEFT ALT",
	0xA5: "RIGHT ALT",
	0xBA: "SEMICOLON",
	0xBB: "EQUALS",
	0xBC: "COMMA",
	0xBD: "MINUS",
	0xBE: "PERIOD",
	0xBF: "SLASH",
	0xC0: "BACKTICK",
	0xDB: "LEFT BRACKET",
	0xDC: "BACKSLASH",
	0xDD: "RIGHT BRACKET",
	0xDE: "QUOTE",

	// OEM and system keys
	0x92: "OEM_102",
	0x93: "ICO_HELP",
	0x94: "ICO_00",
	0x96: "ICO_CLEAR",
	0xE1: "OEM_SPECIFIC",
	0xE3: "ICO_HELP",
	0xE4: "ICO_00",
	0xE6: "ICO_CLEAR",
	0xE9: "OEM_RESET",
	0xEA: "OEM_JUMP",
	0xEB: "OEM_PA1",
	0xEC: "OEM_PA2",
	0xED: "OEM_PA3",
	0xEE: "OEM_WSCTRL",
	0xEF: "OEM_CUSEL",
	0xF0: "OEM_ATTN",
	0xF1: "OEM_FINISH",
	0xF2: "OEM_COPY",
	0xF3: "OEM_AUTO",
	0xF4: "OEM_ENLW",
	0xF5: "OEM_BACKTAB",
	0xF6: "ATTN",
	0xF7: "CRSEL",
	0xF8: "EXSEL",
	0xF9: "EREOF",
	0xFA: "PLAY",
	0xFB: "ZOOM",
	0xFC: "NONAME",
	0xFD: "PA1",
	0xFE: "OEM_CLEAR",
	0xFF: "NONE",
}

// backendNames uses the key identifiers of the robotgo key table.
var backendNames = map[KeyCode]string{
	0x08: "backspace",
	0x09: "tab",
	0x0D: "enter",
	0x10: "shift",
	0x11: "ctrl",
	0x12: "alt",
	0x14: "capslock",
	0x1B: "esc",
	0x20: "space",
	0x21: "pageup",
	0x22: "pagedown",
	0x23: "end",
	0x24: "home",
	0x25: "left",
	0x26: "up",
	0x27: "right",
	0x28: "down",
	0x2D: "insert",
	0x2E: "delete",
	0x70: "f1",
	0x71: "f2",
	0x72: "f3",
	0x73: "f4",
	0x74: "f5",
	0x75: "f6",
	0x76: "f7",
	0x77: "f8",
	0x78: "f9",
	0x79: "f10",
	0x7A: "f11",
	0x7B: "f12",
}

// Parse reads a hexadecimal key code token. A leading "0x" is optional and
// digits are case-insensitive.
func Parse(s string) (KeyCode, error) {
	token := strings.TrimSpace(s)
	if len(token) > 2 && (token[:2] == "0x" || token[:2] == "0X") {
		token = token[2:]
	}
	if token == "" {
		return 0, fmt.Errorf("empty key code")
	}

	v, err := strconv.ParseUint(token, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid key code %q: %w", s, err)
	}
	return KeyCode(v), nil
}

// String returns the code as uppercase hex with at least two digits
func (c KeyCode) String() string {
	return fmt.Sprintf("%02X", uint16(c))
}

// IsExtended reports whether c is a three-digit code starting with "16".
func (c KeyCode) IsExtended() bool {
	return c >= 0x160 && c <= 0x16F
}

func (c KeyCode) digit() (byte, bool) {
	if c >= '0' && c <= '9' {
		return byte(c), true
	}
	return 0, false
}

func (c KeyCode) letter() (byte, bool) {
	if c >= 'A' && c <= 'Z' {
		return byte(c), true
	}
	return 0, false
}

// TechnicalName returns the technical identifier for c, or "KEY_<code>"
func TechnicalName(c KeyCode) string {
	if d, ok := c.digit(); ok {
		return string(d)
	}
	if l, ok := c.letter(); ok {
		return string(l)
	}
	if c == ExtendedEnter {
		return "ENTER"
	}
	if name, ok := technicalNames[c]; ok {
		return name
	}
	return "KEY_" + c.String()
}

// FriendlyName returns the label shown in the log. It is never empty.
func FriendlyName(c KeyCode) string {
	switch {
	case c == ExtendedEnter:
		return "ENTER"
	case c.IsExtended():
		return fmt.Sprintf("EXTENDED KEY (0x%s)", c)
	case c >= '0' && c <= '9':
		return fmt.Sprintf("NUMBER %c", byte(c))
	case c >= 0x60 && c <= 0x69:
		return fmt.Sprintf("NUMPAD %d", int(c-0x60))
	case c >= 'A' && c <= 'Z':
		return fmt.Sprintf("LETTER %c", byte(c))
	}
	if name, ok := friendlyNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN KEY (0x%s)", c)
}

// BackendName returns the emulation key identifier for c, or "" when the key
// cannot be emulated.
func BackendName(c KeyCode) string {
	if d, ok := c.digit(); ok {
		return string(d)
	}
	if l, ok := c.letter(); ok {
		return string(l + ('a' - 'A'))
	}
	if c == ExtendedEnter {
		return "enter"
	}
	return backendNames[c]
}
