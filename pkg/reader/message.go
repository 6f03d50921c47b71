package reader

import (
	"time"

	"serial-input-monitor/pkg/baud"
)

// Message is one notification from the reader goroutine to the control
// context. The set of implementations is closed.
type Message interface {
	At() time.Time
	isMessage()
}

// LogLine is a user-facing log line
type LogLine struct {
	Time time.Time
	Text string
}

// StateChanged reports a state machine transition
type StateChanged struct {
	Time  time.Time
	State State
}

// BaudDetected reports a rate confirmed by data on the wire. Fallback
// results are not reported.
type BaudDetected struct {
	Time   time.Time
	Result baud.Result
}

// Opened reports that the session is streaming
type Opened struct {
	Time      time.Time
	Port      string
	BaudRate  int
	SessionID string
}

// Closed reports that the session ended. Err is nil for a requested close.
type Closed struct {
	Time time.Time
	Port string
	Err  error
}

// ErrorOccurred reports a fatal error for the open attempt or session
type ErrorOccurred struct {
	Time time.Time
	Err  error
}

func (m LogLine) At() time.Time       { return m.Time }
func (m StateChanged) At() time.Time  { return m.Time }
func (m BaudDetected) At() time.Time  { return m.Time }
func (m Opened) At() time.Time        { return m.Time }
func (m Closed) At() time.Time        { return m.Time }
func (m ErrorOccurred) At() time.Time { return m.Time }

func (LogLine) isMessage()       {}
func (StateChanged) isMessage()  {}
func (BaudDetected) isMessage()  {}
func (Opened) isMessage()        {}
func (Closed) isMessage()        {}
func (ErrorOccurred) isMessage() {}
