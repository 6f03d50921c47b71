package reader

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"serial-input-monitor/pkg/baud"
	"serial-input-monitor/pkg/dispatch"
	"serial-input-monitor/pkg/emulation"
	"serial-input-monitor/pkg/serial"
	"serial-input-monitor/pkg/serial/serialtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPort = "/dev/ttyTEST0"

func newTestLoop(t *testing.T, dev *serialtest.Device, d Dispatcher) *Loop {
	t.Helper()
	l := New(dev.Factory(), d, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// collect reads messages until stop returns true for one of them
func collect(t *testing.T, l *Loop, stop func(Message) bool) []Message {
	t.Helper()
	var got []Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-l.Messages():
			got = append(got, m)
			if stop(m) {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for message; got %v", texts(got))
			return nil
		}
	}
}

func texts(msgs []Message) []string {
	var out []string
	for _, m := range msgs {
		if line, ok := m.(LogLine); ok {
			out = append(out, line.Text)
		}
	}
	return out
}

func isLine(text string) func(Message) bool {
	return func(m Message) bool {
		line, ok := m.(LogLine)
		return ok && line.Text == text
	}
}

func isClosed(m Message) bool {
	_, ok := m.(Closed)
	return ok
}

func isOpened(m Message) bool {
	_, ok := m.(Opened)
	return ok
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "negotiating", StateNegotiating.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestLoop_StreamsFrames(t *testing.T) {
	dev := serialtest.NewDevice().Script(9600, "1 1 41", "# boot", "", "0 6 -3", "garbage")
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{Port: testPort, BaudRate: 9600}))
	msgs := collect(t, l, isLine("Alphanumeric code (garbage) received"))

	assert.Equal(t, []string{
		"Opening port /dev/ttyTEST0...",
		"Using configured baud rate: 9600",
		"Port /dev/ttyTEST0 opened successfully at 9600 baud",
		"LETTER A (0x41 A) pressed",
		"Comment: boot",
		"Mouse scroll wheel (delta=-3) scrolled down",
		"Alphanumeric code (garbage) received",
	}, texts(msgs))

	assert.Equal(t, StateOpen, l.State())
	s, ok := l.Session()
	require.True(t, ok)
	assert.Equal(t, testPort, s.Port)
	assert.Equal(t, 9600, s.BaudRate)
	assert.NotEmpty(t, s.ID)

	var opened Opened
	for _, m := range msgs {
		if o, ok := m.(Opened); ok {
			opened = o
		}
	}
	assert.Equal(t, s.ID, opened.SessionID)

	// frames fed after open arrive in order
	dev.Feed("0 7 100 200", "0 8 -5 10")
	msgs = collect(t, l, isLine("Mouse cursor movement (X=-5, Y=10) moved"))
	assert.Equal(t, []string{
		"Mouse cursor position (X=100, Y=200) positioned",
		"Mouse cursor movement (X=-5, Y=10) moved",
	}, texts(msgs))
}

func TestLoop_CloseIsIdempotent(t *testing.T) {
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Close(), "closing a loop that never opened")

	require.NoError(t, l.Open(Options{Port: testPort}))
	collect(t, l, isOpened)

	require.NoError(t, l.Close())
	msgs := collect(t, l, isClosed)
	closed := msgs[len(msgs)-1].(Closed)
	assert.NoError(t, closed.Err)
	assert.Contains(t, texts(msgs), "Port /dev/ttyTEST0 closed")

	require.NoError(t, l.Close())
	assert.Equal(t, StateClosed, l.State())
	_, ok := l.Session()
	assert.False(t, ok)
	assert.Zero(t, dev.OpenPorts())

	select {
	case m := <-l.Messages():
		t.Fatalf("second close produced %#v", m)
	default:
	}
}

func TestLoop_IOErrorEndsSession(t *testing.T) {
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{Port: testPort}))
	collect(t, l, isOpened)

	boom := errors.New("device unplugged")
	dev.Break(boom)
	msgs := collect(t, l, isClosed)

	<-l.Done()
	assert.Equal(t, StateClosed, l.State())
	assert.Zero(t, dev.OpenPorts())
	assert.Equal(t, []int{9600}, dev.Opens(), "no reconnect attempt")

	var sawError bool
	for _, m := range msgs {
		if e, ok := m.(ErrorOccurred); ok {
			sawError = true
			assert.ErrorIs(t, e.Err, boom)
			assert.ErrorIs(t, e.Err, serial.ErrPortIO)
		}
	}
	assert.True(t, sawError)
	assert.ErrorIs(t, msgs[len(msgs)-1].(Closed).Err, boom)
	assert.Contains(t, texts(msgs), "Serial reading error: serial read operation failed on port /dev/ttyTEST0: device unplugged")

	require.NoError(t, l.Close())
}

func TestLoop_OpenFailure(t *testing.T) {
	dev := serialtest.NewDevice().FailOpen(0, errors.New("permission denied"))
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{Port: testPort, BaudRate: 19200}))
	msgs := collect(t, l, isClosed)

	closed := msgs[len(msgs)-1].(Closed)
	assert.ErrorIs(t, closed.Err, serial.ErrPortOpen)
	assert.Contains(t, texts(msgs), "Error opening port /dev/ttyTEST0: serial open operation failed on port /dev/ttyTEST0: permission denied")
	for _, m := range msgs {
		assert.False(t, isOpened(m))
	}

	<-l.Done()
	assert.Equal(t, StateClosed, l.State())

	// the loop can be reused after a failed open
	require.NoError(t, l.Open(Options{Port: testPort}))
	collect(t, l, isClosed)
}

func TestLoop_OpenRejectsActiveSession(t *testing.T) {
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, nil)

	assert.ErrorIs(t, l.Open(Options{}), ErrNoPort)

	require.NoError(t, l.Open(Options{Port: testPort}))
	assert.ErrorIs(t, l.Open(Options{Port: testPort}), ErrBusy)
	collect(t, l, isOpened)
	assert.ErrorIs(t, l.Open(Options{Port: testPort}), ErrBusy)

	require.NoError(t, l.Close())
	collect(t, l, isClosed)
	require.NoError(t, l.Open(Options{Port: testPort}))
	collect(t, l, isOpened)
	assert.Equal(t, 1, dev.PeakOpenPorts())
}

func TestLoop_AutoDetect(t *testing.T) {
	dev := serialtest.NewDevice().Script(115200, "1 1 41")
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{
		Port:       testPort,
		BaudRate:   9600,
		AutoDetect: true,
		Timeout:    40 * time.Millisecond,
	}))
	msgs := collect(t, l, isLine("LETTER A (0x41 A) pressed"))

	var detected *BaudDetected
	var opened *Opened
	for _, m := range msgs {
		switch v := m.(type) {
		case BaudDetected:
			detected = &v
		case Opened:
			opened = &v
		}
	}
	require.NotNil(t, detected)
	assert.Equal(t, 115200, detected.Result.BaudRate)
	assert.Equal(t, baud.ValidData, detected.Result.Confidence)
	require.NotNil(t, opened)
	assert.Equal(t, 115200, opened.BaudRate)

	lines := texts(msgs)
	assert.Contains(t, lines, "Starting baud rate detection...")
	assert.Contains(t, lines, "Testing baud rate 9600... (1/9)")
	assert.Contains(t, lines, "Baud rate 115200 detected (valid data received)")
	assert.Equal(t, 1, dev.PeakOpenPorts())
}

func TestLoop_AutoDetectFallbackIsNotReported(t *testing.T) {
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{
		Port:       testPort,
		BaudRate:   57600,
		AutoDetect: true,
		Timeout:    10 * time.Millisecond,
	}))
	msgs := collect(t, l, isOpened)

	for _, m := range msgs {
		_, ok := m.(BaudDetected)
		assert.False(t, ok, "fallback rates are not reported as detected")
	}
	assert.Equal(t, 57600, msgs[len(msgs)-1].(Opened).BaudRate)
	assert.Contains(t, texts(msgs), "Auto-detection completed, using rate 57600")
}

func TestLoop_QuickProbeSkipsNegotiationOnSilence(t *testing.T) {
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{
		Port:         testPort,
		BaudRate:     38400,
		AutoDetect:   true,
		QuickProbe:   true,
		ProbeTimeout: 25 * time.Millisecond,
	}))
	msgs := collect(t, l, isOpened)

	lines := texts(msgs)
	assert.Contains(t, lines, "No data detected during quick test. Skipping auto-detection.")
	assert.Contains(t, lines, "Using last known baud rate: 38400")
	assert.NotContains(t, lines, "Starting baud rate detection...")
	assert.Equal(t, []int{38400, 38400}, dev.Opens(), "one probe, then the session")
}

func TestLoop_CloseDuringNegotiation(t *testing.T) {
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{
		Port:       testPort,
		AutoDetect: true,
		Timeout:    time.Second,
	}))
	require.True(t, dev.WaitOpen(time.Second))
	assert.Equal(t, StateNegotiating, l.State())

	start := time.Now()
	require.NoError(t, l.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	msgs := collect(t, l, isClosed)
	assert.NoError(t, msgs[len(msgs)-1].(Closed).Err)
	for _, m := range msgs {
		assert.False(t, isOpened(m))
	}
	assert.Zero(t, dev.OpenPorts())
}

func TestLoop_DispatchesToBackend(t *testing.T) {
	rec := emulation.NewRecorder().FailOn("click_right", errors.New("no display"))
	d := dispatch.New(rec, zaptest.NewLogger(t))
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, d)

	require.NoError(t, l.Open(Options{Port: testPort}))
	collect(t, l, isOpened)

	dev.Feed("1 1 41")
	collect(t, l, isLine("LETTER A (0x41 A) pressed"))
	assert.Empty(t, rec.Calls(), "gate starts closed")

	d.SetEnabled(true)
	dev.Feed("1 0 41", "0 0", "0 2")
	msgs := collect(t, l, isLine("Mouse left button pressed"))
	assert.Equal(t, []string{
		"LETTER A (0x41 A) released",
		"Mouse right button pressed",
		"Mouse emulation error: no display",
		"Mouse left button pressed",
	}, texts(msgs))

	var calls []string
	for _, c := range rec.Calls() {
		calls = append(calls, c.String())
	}
	assert.Equal(t, []string{"release a", "click_right", "click_left"}, calls)
}

func TestLoop_UndecodableBytes(t *testing.T) {
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, nil)

	require.NoError(t, l.Open(Options{Port: testPort}))
	collect(t, l, isOpened)

	dev.FeedRaw([]byte{0xff, 0xfe, 'x', '\n'})
	collect(t, l, isLine("Undecodable data (3 bytes) received"))
}

func TestLoop_OversizedLineIsOneFrame(t *testing.T) {
	rec := emulation.NewRecorder()
	d := dispatch.New(rec, zaptest.NewLogger(t))
	d.SetEnabled(true)
	dev := serialtest.NewDevice()
	l := newTestLoop(t, dev, d)

	require.NoError(t, l.Open(Options{Port: testPort, MaxLineLength: 16}))
	collect(t, l, isOpened)

	dev.Feed(strings.Repeat("x", 30)+" 1 1 41", "0 6 1")
	msgs := collect(t, l, isLine("Mouse scroll wheel (delta=1) scrolled up"))
	assert.Equal(t, []string{
		"Oversized frame (37 bytes) received",
		"Mouse scroll wheel (delta=1) scrolled up",
	}, texts(msgs))

	var calls []string
	for _, c := range rec.Calls() {
		calls = append(calls, c.String())
	}
	assert.Equal(t, []string{"scroll 1"}, calls, "no key is pressed for the tail of an oversized line")
}

func TestLoop_FullChannelDropsLogLines(t *testing.T) {
	dev := serialtest.NewDevice()
	l := New(dev.Factory(), nil, zaptest.NewLogger(t), WithBuffer(4), WithHandoffTimeout(10*time.Millisecond))
	t.Cleanup(func() { _ = l.Close() })

	require.NoError(t, l.Open(Options{Port: testPort}))
	require.True(t, dev.WaitOpen(time.Second))

	for i := 0; i < 20; i++ {
		dev.Feed("0 6 1")
	}
	require.Eventually(t, func() bool { return l.Dropped() > 0 }, 2*time.Second, 5*time.Millisecond)

	// the reader never blocks on a full channel, so close still completes
	require.NoError(t, l.Close())
	assert.Equal(t, StateClosed, l.State())
}
