package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"serial-input-monitor/pkg/config"
	"serial-input-monitor/pkg/emulation"
	"serial-input-monitor/pkg/history"
	"serial-input-monitor/pkg/reader"
	"serial-input-monitor/pkg/serial/serialtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPort = "/dev/ttyTEST0"

type harness struct {
	app      *Application
	rec      *emulation.Recorder
	dev      *serialtest.Device
	cfgPath  string
	msgs     chan reader.Message
	stop     context.CancelFunc
	finished chan error
}

func newHarness(t *testing.T, dev *serialtest.Device, mutate func(*config.Settings)) *harness {
	t.Helper()

	settings := config.DefaultSettings()
	settings.Serial.AutoDetectBaud = false
	settings.Log.SaveToFile = false
	if mutate != nil {
		mutate(settings)
	}

	h := &harness{
		rec:      emulation.NewRecorder(),
		dev:      dev,
		cfgPath:  filepath.Join(t.TempDir(), "config.yaml"),
		msgs:     make(chan reader.Message, 1024),
		finished: make(chan error, 1),
	}

	app, err := New(settings,
		WithFactory(dev.Factory()),
		WithBackend(h.rec),
		WithConfigPath(h.cfgPath),
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	h.app = app

	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	go func() {
		h.finished <- app.Run(ctx, SinkFunc(func(m reader.Message) { h.msgs <- m }))
	}()

	t.Cleanup(func() {
		cancel()
		<-h.finished
		_ = app.Close()
	})
	return h
}

// waitFor reads messages until match returns true
func (h *harness) waitFor(t *testing.T, match func(reader.Message) bool) []reader.Message {
	t.Helper()
	var got []reader.Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-h.msgs:
			got = append(got, m)
			if match(m) {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out; got %v", lines(got))
			return nil
		}
	}
}

func lines(msgs []reader.Message) []string {
	var out []string
	for _, m := range msgs {
		if l, ok := m.(reader.LogLine); ok {
			out = append(out, l.Text)
		}
	}
	return out
}

func line(text string) func(reader.Message) bool {
	return func(m reader.Message) bool {
		l, ok := m.(reader.LogLine)
		return ok && l.Text == text
	}
}

func opened(m reader.Message) bool {
	_, ok := m.(reader.Opened)
	return ok
}

func closed(m reader.Message) bool {
	_, ok := m.(reader.Closed)
	return ok
}

func callStrings(rec *emulation.Recorder) []string {
	var out []string
	for _, c := range rec.Calls() {
		out = append(out, c.String())
	}
	return out
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Log.MaxLines = 0

	_, err := New(settings)
	assert.Error(t, err)
}

func TestConnect_DeliversLinesToSinkAndBook(t *testing.T) {
	h := newHarness(t, serialtest.NewDevice().Script(9600, "1 1 41"), nil)

	require.NoError(t, h.app.Connect(testPort))
	got := h.waitFor(t, line("LETTER A (0x41 A) pressed"))

	assert.Equal(t, []string{
		"Opening port /dev/ttyTEST0...",
		"Using configured baud rate: 9600",
		"Port /dev/ttyTEST0 opened successfully at 9600 baud",
		"LETTER A (0x41 A) pressed",
	}, lines(got))

	tail := h.app.Book().Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, "LETTER A (0x41 A) pressed", tail[0].Text)

	// emulation is off until started
	assert.Empty(t, h.rec.Calls())

	saved, err := config.Load(h.cfgPath)
	require.NoError(t, err)
	assert.Equal(t, testPort, saved.Serial.LastPort)

	st := h.app.Status()
	assert.Equal(t, reader.StateOpen, st.State)
	assert.Equal(t, testPort, st.Port)
	assert.Equal(t, 9600, st.BaudRate)
	assert.NotEmpty(t, st.SessionID)
}

func TestConnect_UsesLastPort(t *testing.T) {
	h := newHarness(t, serialtest.NewDevice(), func(s *config.Settings) {
		s.Serial.LastPort = testPort
	})

	require.NoError(t, h.app.Connect(""))
	h.waitFor(t, opened)
	assert.Equal(t, testPort, h.app.Status().Port)
}

func TestConnect_NoPort(t *testing.T) {
	h := newHarness(t, serialtest.NewDevice(), nil)
	assert.ErrorIs(t, h.app.Connect(""), reader.ErrNoPort)
}

func TestConnectProfile(t *testing.T) {
	dev := serialtest.NewDevice().Script(19200, "# bench ready")
	h := newHarness(t, dev, func(s *config.Settings) {
		require.NoError(t, s.SaveProfile("bench", config.Profile{Port: testPort, BaudRate: 19200}))
	})

	require.NoError(t, h.app.ConnectProfile("bench"))
	h.waitFor(t, line("Comment: bench ready"))
	assert.Equal(t, []int{19200}, dev.Opens())

	assert.Error(t, h.app.ConnectProfile("missing"))
}

func TestStartEmulation_RequiresOpenPort(t *testing.T) {
	h := newHarness(t, serialtest.NewDevice(), nil)

	assert.ErrorIs(t, h.app.StartEmulation(), ErrPortNotOpen)
	assert.False(t, h.app.Emulating())
}

func TestEmulation_Lifecycle(t *testing.T) {
	dev := serialtest.NewDevice()
	h := newHarness(t, dev, nil)

	require.NoError(t, h.app.Connect(testPort))
	h.waitFor(t, opened)

	require.NoError(t, h.app.StartEmulation())
	h.waitFor(t, line("Keyboard and mouse emulation STARTED"))
	assert.True(t, h.app.Emulating())

	dev.Feed("1 1 41", "1 0 41")
	h.waitFor(t, line("LETTER A (0x41 A) released"))
	assert.Equal(t, []string{"press a", "release a"}, callStrings(h.rec))

	h.app.StopEmulation()
	h.waitFor(t, line("Keyboard and mouse emulation STOPPED"))

	dev.Feed("1 1 42")
	h.waitFor(t, line("LETTER B (0x42 B) pressed"))
	assert.Len(t, h.rec.Calls(), 2)
}

func TestEmulation_ForcedOffWhenPortCloses(t *testing.T) {
	dev := serialtest.NewDevice()
	h := newHarness(t, dev, nil)

	require.NoError(t, h.app.Connect(testPort))
	h.waitFor(t, opened)
	require.NoError(t, h.app.StartEmulation())

	dev.Break(errors.New("device unplugged"))
	h.waitFor(t, closed)

	assert.Eventually(t, func() bool { return !h.app.Emulating() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.app.StartEmulation(), ErrPortNotOpen)
}

func TestEmulation_StartEnabled(t *testing.T) {
	dev := serialtest.NewDevice()
	h := newHarness(t, dev, func(s *config.Settings) {
		s.Emulation.StartEnabled = true
	})

	require.NoError(t, h.app.Connect(testPort))
	h.waitFor(t, line("Keyboard and mouse emulation STARTED"))

	dev.Feed("1 1 41")
	h.waitFor(t, line("LETTER A (0x41 A) pressed"))
	assert.Equal(t, []string{"press a"}, callStrings(h.rec))
}

func TestEmulation_BackendFailureIsLoggedAsError(t *testing.T) {
	dev := serialtest.NewDevice()
	h := newHarness(t, dev, nil)
	h.rec.FailOn("click_left", errors.New("no display"))

	require.NoError(t, h.app.Connect(testPort))
	h.waitFor(t, opened)
	require.NoError(t, h.app.StartEmulation())

	dev.Feed("0 2")
	h.waitFor(t, line("Mouse emulation error: no display"))

	assert.Equal(t, 1, h.app.Book().Stats().ErrorEntries)
}

func TestBaudDetected_IsPersisted(t *testing.T) {
	dev := serialtest.NewDevice().Script(115200, "1 1 41")
	h := newHarness(t, dev, func(s *config.Settings) {
		s.Serial.AutoDetectBaud = true
		s.Serial.QuickProbe = false
		s.Serial.Timeout = "40ms"
	})

	require.NoError(t, h.app.Connect(testPort))
	h.waitFor(t, line("Baud rate automatically detected: 115200"))

	assert.Eventually(t, func() bool {
		saved, err := config.Load(h.cfgPath)
		return err == nil && saved.Serial.DetectedBaudRate == 115200
	}, 2*time.Second, 10*time.Millisecond)
	s := h.app.Settings()
	assert.Equal(t, 115200, s.PreferredBaudRate())
}

func TestRun_ClosesSessionOnCancel(t *testing.T) {
	dev := serialtest.NewDevice()
	h := newHarness(t, dev, nil)

	require.NoError(t, h.app.Connect(testPort))
	h.waitFor(t, opened)

	h.stop()
	select {
	case err := <-h.finished:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	h.finished <- nil

	assert.Equal(t, 0, dev.OpenPorts())
	assert.Equal(t, reader.StateClosed, h.app.Status().State)

	// the closing lines reached the book even though they were produced
	// during shutdown
	tail := h.app.Book().Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, "Port /dev/ttyTEST0 closed", tail[0].Text)
}

func TestLogFileMirrorsBook(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "serial_control.log")
	h := newHarness(t, serialtest.NewDevice().Script(9600, "0 0"), func(s *config.Settings) {
		s.Log.SaveToFile = true
		s.Log.Filename = logPath
	})

	require.NoError(t, h.app.Connect(testPort))
	h.waitFor(t, line("Mouse right button pressed"))
	require.NoError(t, h.app.Disconnect())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "] Mouse right button pressed\n")
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		text string
		want history.Level
	}{
		{"Error opening port COM3: access denied", history.LevelError},
		{"Serial reading error: device removed", history.LevelError},
		{"Keyboard emulation error: denied", history.LevelError},
		{"Baud rate 9600 - no data, trying next...", history.LevelInfo},
		{"Alphanumeric code (error) received", history.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, levelOf(tt.text))
		})
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	ts := time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local)
	sink.Handle(reader.LogLine{Time: ts, Text: "Port COM3 closed"})
	sink.Handle(reader.Opened{Time: ts, Port: "COM3", BaudRate: 9600})

	assert.Equal(t, "[14:05:09] Port COM3 closed\n", buf.String())
}

func TestRunner_ExitsWhenOpenFails(t *testing.T) {
	dev := serialtest.NewDevice().FailOpen(0, errors.New("device busy"))

	settings := config.DefaultSettings()
	settings.Serial.AutoDetectBaud = false
	settings.Log.SaveToFile = false

	a, err := New(settings, WithFactory(dev.Factory()), WithBackend(emulation.NewRecorder()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	var out bytes.Buffer
	r := NewRunner(a, testPort, &out)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not exit")
	}

	assert.Contains(t, out.String(), "Error opening port /dev/ttyTEST0")
	assert.Contains(t, out.String(), "=== Session Summary ===")
}
