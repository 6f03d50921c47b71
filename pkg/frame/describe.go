package frame

import (
	"fmt"

	"serial-input-monitor/pkg/keycode"
)

// Describe renders ev as the log line shown to the user.
func Describe(ev Event) string {
	switch e := ev.(type) {
	case KeyPressed:
		return describeKey(e.Code, "pressed")
	case KeyReleased:
		return describeKey(e.Code, "released")
	case MouseButton:
		return fmt.Sprintf("Mouse %s button %s", e.Button, e.Action)
	case MouseScroll:
		return fmt.Sprintf("Mouse scroll wheel (delta=%d) scrolled %s", e.Delta, scrollDirection(e.Delta))
	case MousePosition:
		return fmt.Sprintf("Mouse cursor position (X=%d, Y=%d) positioned", e.X, e.Y)
	case MouseMove:
		return fmt.Sprintf("Mouse cursor movement (X=%d, Y=%d) moved", e.DX, e.DY)
	case UnknownFrame:
		return e.Description
	case Comment:
		return "Comment: " + e.Text
	case nil:
		return ""
	}
	return fmt.Sprintf("Unhandled event %T", ev)
}

func describeKey(code keycode.KeyCode, action string) string {
	return fmt.Sprintf("%s (0x%s %s) %s",
		keycode.FriendlyName(code), code, keycode.TechnicalName(code), action)
}

func scrollDirection(delta int) string {
	switch {
	case delta > 0:
		return "up"
	case delta < 0:
		return "down"
	default:
		return "neutral"
	}
}
