// Package frame turns lines of the input board's wire protocol into typed
// events.
//
// Each frame is one newline-terminated line of whitespace-separated tokens:
//
//	<device> <event> [<param> ...]
//
// where device 1 is the keyboard and device 0 the mouse. Lines beginning
// with '#' are comments. Anything that does not fit a structured shape is
// reported as an UnknownFrame carrying a best-effort description.
package frame

import "serial-input-monitor/pkg/keycode"

// Kind identifies the variant of an Event
type Kind int

const (
	KindKeyPressed Kind = iota
	KindKeyReleased
	KindMouseButton
	KindMouseScroll
	KindMousePosition
	KindMouseMove
	KindUnknown
	KindComment
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindKeyPressed:
		return "key_pressed"
	case KindKeyReleased:
		return "key_released"
	case KindMouseButton:
		return "mouse_button"
	case KindMouseScroll:
		return "mouse_scroll"
	case KindMousePosition:
		return "mouse_position"
	case KindMouseMove:
		return "mouse_move"
	case KindUnknown:
		return "unknown"
	case KindComment:
		return "comment"
	default:
		return "invalid"
	}
}

// Event is one classified frame. The set of implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// Button is a mouse button
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
)

// String returns the string representation of Button
func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	default:
		return "unknown"
	}
}

// Action is the transition reported for a mouse button
type Action int

const (
	ActionPressed Action = iota
	ActionReleased
)

// String returns the string representation of Action
func (a Action) String() string {
	switch a {
	case ActionPressed:
		return "pressed"
	case ActionReleased:
		return "released"
	default:
		return "unknown"
	}
}

// KeyPressed reports a key going down
type KeyPressed struct {
	Code keycode.KeyCode
}

// KeyReleased reports a key going up
type KeyReleased struct {
	Code keycode.KeyCode
}

// MouseButton reports a button transition
type MouseButton struct {
	Button Button
	Action Action
}

// MouseScroll carries a signed wheel delta; positive scrolls up
type MouseScroll struct {
	Delta int
}

// MousePosition is an absolute cursor position
type MousePosition struct {
	X, Y int
}

// MouseMove is a relative cursor movement
type MouseMove struct {
	DX, DY int
}

// UnknownFrame is a line that did not match any structured shape. It is
// informational only and never reaches a backend.
type UnknownFrame struct {
	Raw         string
	Description string
}

// Comment is a line that began with '#'
type Comment struct {
	Text string
}

func (KeyPressed) Kind() Kind    { return KindKeyPressed }
func (KeyReleased) Kind() Kind   { return KindKeyReleased }
func (MouseButton) Kind() Kind   { return KindMouseButton }
func (MouseScroll) Kind() Kind   { return KindMouseScroll }
func (MousePosition) Kind() Kind { return KindMousePosition }
func (MouseMove) Kind() Kind     { return KindMouseMove }
func (UnknownFrame) Kind() Kind  { return KindUnknown }
func (Comment) Kind() Kind       { return KindComment }

func (KeyPressed) isEvent()    {}
func (KeyReleased) isEvent()   {}
func (MouseButton) isEvent()   {}
func (MouseScroll) isEvent()   {}
func (MousePosition) isEvent() {}
func (MouseMove) isEvent()     {}
func (UnknownFrame) isEvent()  {}
func (Comment) isEvent()       {}
