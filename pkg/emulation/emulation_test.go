package emulation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		want    interface{}
		wantErr bool
	}{
		{name: "", want: &LogBackend{}},
		{name: "log", want: &LogBackend{}},
		{name: " LOG ", want: &LogBackend{}},
		{name: "none", want: Nop{}},
		{name: "xdotool", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.name, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"log", "none", "robotgo"}, Names())
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Press("a"))
	require.NoError(t, r.Release("a"))
	require.NoError(t, r.ClickLeft())
	require.NoError(t, r.ClickRight())
	require.NoError(t, r.Scroll(-3))
	require.NoError(t, r.SetPosition(100, 200))
	require.NoError(t, r.MoveRelative(-5, 10))

	var got []string
	for _, c := range r.Calls() {
		got = append(got, c.String())
	}
	assert.Equal(t, []string{
		"press a",
		"release a",
		"click_left",
		"click_right",
		"scroll -3",
		"set_position 100,200",
		"move_relative -5,10",
	}, got)

	r.Reset()
	assert.Empty(t, r.Calls())
}

func TestRecorder_FailOn(t *testing.T) {
	boom := errors.New("display unavailable")
	r := NewRecorder().FailOn("click_left", boom)

	assert.ErrorIs(t, r.ClickLeft(), boom)
	assert.NoError(t, r.ClickRight())
	assert.Len(t, r.Calls(), 2, "failed calls are still recorded")
}

func TestLogBackend(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	b := NewLogBackend(zap.New(core))

	require.NoError(t, b.Press("enter"))
	require.NoError(t, b.MoveRelative(3, -4))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "emulation", entries[0].LoggerName)
	assert.Equal(t, "press enter", entries[0].ContextMap()["call"])
	assert.Equal(t, "move_relative 3,-4", entries[1].ContextMap()["call"])
}
