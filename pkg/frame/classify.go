package frame

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"serial-input-monitor/pkg/keycode"
)

const (
	deviceMouse    = 0
	deviceKeyboard = 1
)

// Classify parses one line into an Event. The boolean is false only when the
// line is blank, in which case no event is produced at all.
func Classify(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}

	if strings.HasPrefix(line, "#") {
		return Comment{Text: strings.TrimSpace(line[1:])}, true
	}

	parts := strings.Fields(line)
	if len(parts) >= 2 {
		device, errDevice := strconv.Atoi(parts[0])
		event, errEvent := strconv.Atoi(parts[1])
		if errDevice == nil && errEvent == nil {
			if ev, ok := classifyDevice(device, event, parts); ok {
				return ev, true
			}
		}
	}

	return UnknownFrame{Raw: line, Description: describeUnknown(parts)}, true
}

// ClassifyBytes classifies a raw line as read from the port. Bytes that are
// not valid UTF-8 yield an UnknownFrame instead of an error.
func ClassifyBytes(raw []byte) (Event, bool) {
	if utf8.Valid(raw) {
		return Classify(string(raw))
	}

	return UnknownFrame{
		Raw:         Text(raw),
		Description: fmt.Sprintf("Undecodable data (%d bytes) received", len(raw)),
	}, true
}

// Oversized describes a line that exceeded the frame limit. raw is the
// retained prefix and size the full length of the line. It is always a
// single UnknownFrame, whatever the prefix looks like.
func Oversized(raw []byte, size int) Event {
	return UnknownFrame{
		Raw:         Text(raw),
		Description: fmt.Sprintf("Oversized frame (%d bytes) received", size),
	}
}

// Text returns raw as trimmed printable text, replacing bytes that are not
// valid UTF-8 with U+FFFD.
func Text(raw []byte) string {
	if utf8.Valid(raw) {
		return strings.TrimSpace(string(raw))
	}
	clean, _, err := transform.String(runes.ReplaceIllFormed(), string(raw))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(clean)
}

// classifyDevice handles frames whose first two tokens are integers. It
// returns false when the frame should be described by arity instead.
func classifyDevice(device, event int, parts []string) (Event, bool) {
	switch device {
	case deviceKeyboard:
		if len(parts) < 3 {
			return nil, false
		}
		if event != 0 && event != 1 {
			return UnknownFrame{
				Raw:         strings.Join(parts, " "),
				Description: fmt.Sprintf("Invalid keyboard event (event=%d, key=%s)", event, parts[2]),
			}, true
		}
		code, err := keycode.Parse(parts[2])
		if err != nil {
			return nil, false
		}
		if event == 1 {
			return KeyPressed{Code: code}, true
		}
		return KeyReleased{Code: code}, true

	case deviceMouse:
		return classifyMouse(parts[1], parts[2:])
	}

	return nil, false
}

// classifyMouse matches the mouse event token against the fixed event table.
// The token is compared as text, so "02" is not event 2.
func classifyMouse(event string, params []string) (Event, bool) {
	switch event {
	case "0":
		return MouseButton{Button: ButtonRight, Action: ActionPressed}, true
	case "1":
		return MouseButton{Button: ButtonRight, Action: ActionReleased}, true
	case "2":
		return MouseButton{Button: ButtonLeft, Action: ActionPressed}, true
	case "3":
		return MouseButton{Button: ButtonLeft, Action: ActionReleased}, true
	case "4":
		return MouseButton{Button: ButtonMiddle, Action: ActionPressed}, true
	case "5":
		return MouseButton{Button: ButtonMiddle, Action: ActionReleased}, true
	case "6":
		if len(params) < 1 {
			return nil, false
		}
		delta, err := strconv.Atoi(params[0])
		if err != nil {
			return nil, false
		}
		return MouseScroll{Delta: delta}, true
	case "7", "8":
		if len(params) < 2 {
			return nil, false
		}
		x, errX := strconv.Atoi(params[0])
		y, errY := strconv.Atoi(params[1])
		if errX != nil || errY != nil {
			return nil, false
		}
		if event == "7" {
			return MousePosition{X: x, Y: y}, true
		}
		return MouseMove{DX: x, DY: y}, true
	}
	return nil, false
}

// describeUnknown picks a human-readable guess for a frame by token count.
func describeUnknown(parts []string) string {
	switch len(parts) {
	case 0:
		return "Empty data packet received"

	case 1:
		token := parts[0]
		if n, ok := new(big.Int).SetString(token, 10); ok {
			switch {
			case n.Sign() >= 0 && n.Cmp(big.NewInt(255)) <= 0:
				return fmt.Sprintf("Sensor reading (value=%s) detected", n.String())
			case n.Cmp(big.NewInt(1000)) > 0:
				return fmt.Sprintf("Large sensor value (value=%s) detected", n.String())
			default:
				return fmt.Sprintf("Numeric data (value=%s) received", n.String())
			}
		}
		if isAlnum(token) {
			return fmt.Sprintf("Alphanumeric code (%s) received", token)
		}
		return fmt.Sprintf("Text data (%s) received", token)

	case 2:
		device, errDevice := strconv.Atoi(parts[0])
		event, errEvent := strconv.Atoi(parts[1])
		if errDevice != nil || errEvent != nil {
			return fmt.Sprintf("Non-numeric device data (%s, %s) received", parts[0], parts[1])
		}
		switch device {
		case deviceMouse:
			return fmt.Sprintf("Mouse event incomplete (event=%d) - missing parameters", event)
		case deviceKeyboard:
			return fmt.Sprintf("Keyboard event incomplete (key %s) - missing key code", keyAction(event))
		default:
			return fmt.Sprintf("Unknown device %d event %d - incomplete data", device, event)
		}

	case 3:
		device, errDevice := strconv.Atoi(parts[0])
		event, errEvent := strconv.Atoi(parts[1])
		if errDevice != nil || errEvent != nil {
			return fmt.Sprintf("Malformed device data (%s, %s, %s) received", parts[0], parts[1], parts[2])
		}
		switch device {
		case deviceKeyboard:
			return fmt.Sprintf("Unknown keyboard key (code=%s) %s", parts[2], keyAction(event))
		case deviceMouse:
			return fmt.Sprintf("Unknown mouse event (type=%d, param=%s) detected", event, parts[2])
		default:
			return fmt.Sprintf("Unknown device %d input (event=%d, code=%s) received", device, event, parts[2])
		}
	}

	if parts[0] == "0" {
		return fmt.Sprintf("Complex mouse data (%s) received", strings.Join(parts[1:], " "))
	}
	return fmt.Sprintf("Multi-parameter data (%s) received", strings.Join(parts, " "))
}

func keyAction(event int) string {
	switch event {
	case 1:
		return "pressed"
	case 0:
		return "released"
	default:
		return fmt.Sprintf("action_%d", event)
	}
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// Plausible reports whether line looks like board output: a device token of
// 0 or 1 followed by an event in 0-20, or a single integer in 0-65535. It is
// used during baud negotiation to tell real data from line noise.
func Plausible(line string) bool {
	parts := strings.Fields(line)

	if len(parts) >= 2 {
		device, errDevice := strconv.Atoi(parts[0])
		event, errEvent := strconv.Atoi(parts[1])
		if errDevice == nil && errEvent == nil &&
			(device == deviceMouse || device == deviceKeyboard) &&
			event >= 0 && event <= 20 {
			return true
		}
	}

	if len(parts) == 1 {
		if v, err := strconv.Atoi(parts[0]); err == nil && v >= 0 && v <= 65535 {
			return true
		}
	}

	return false
}
