package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelInfo, "info"},
		{LevelError, "error"},
		{Level(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFileFormat_String(t *testing.T) {
	tests := []struct {
		format   FileFormat
		expected string
	}{
		{FormatPlainText, "plain_text"},
		{FormatTimestamped, "timestamped"},
		{FormatJSON, "json"},
		{FileFormat(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.format.String(); got != tt.expected {
				t.Errorf("FileFormat.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    FileFormat
		wantErr bool
	}{
		{"plain", FormatPlainText, false},
		{"TXT", FormatPlainText, false},
		{"timestamped", FormatTimestamped, false},
		{"log", FormatTimestamped, false},
		{"json", FormatJSON, false},
		{"xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntry_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"valid info", Entry{Timestamp: now, Level: LevelInfo, Text: "x"}, false},
		{"valid error", Entry{Timestamp: now, Level: LevelError, Text: "x"}, false},
		{"empty text is allowed", Entry{Timestamp: now, Level: LevelInfo}, false},
		{"zero timestamp", Entry{Level: LevelInfo, Text: "x"}, true},
		{"bad level", Entry{Timestamp: now, Level: Level(7), Text: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Entry.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEntry_String(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 5, 9, 0, time.Local)
	e := Entry{Timestamp: ts, Text: "Port COM3 closed"}
	assert.Equal(t, "[14:05:09] Port COM3 closed", e.String())
}

func TestNewBook_DefaultSize(t *testing.T) {
	b := NewBook(0, nil)
	assert.Equal(t, DefaultMaxLines, b.MaxLines())
	assert.Equal(t, 0, b.Len())
}

func TestBook_AppendAndEntries(t *testing.T) {
	b := NewBook(10, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		b.Add(LevelInfo, fmt.Sprintf("line %d", i))
	}

	got, err := b.Entries(1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "line 1", got[0].Text)
	assert.Equal(t, "line 3", got[2].Text)

	got, err = b.Entries(3, 100)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = b.Entries(50, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBook_EntriesInvalidParams(t *testing.T) {
	b := NewBook(10, nil)

	_, err := b.Entries(-1, 1)
	assert.EqualError(t, err, "start cannot be negative")

	_, err = b.Entries(0, -1)
	assert.EqualError(t, err, "count cannot be negative")
}

func TestBook_AppendRejectsInvalid(t *testing.T) {
	b := NewBook(10, nil)
	_, err := b.Append(Entry{Text: "no time"})
	assert.Error(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestBook_EntriesAreCopies(t *testing.T) {
	b := NewBook(10, nil)
	b.Add(LevelInfo, "original")

	got, err := b.Entries(0, 1)
	require.NoError(t, err)
	got[0].Text = "changed"

	again, _ := b.Entries(0, 1)
	assert.Equal(t, "original", again[0].Text)
}

func TestBook_TrimDropsOldestHalf(t *testing.T) {
	b := NewBook(10, nil)
	for i := 0; i < 10; i++ {
		b.Add(LevelInfo, fmt.Sprintf("line %d", i))
	}
	require.Equal(t, 10, b.Len())

	dropped, err := b.Append(NewEntry("line 10"))
	require.NoError(t, err)
	assert.Equal(t, 5, dropped)
	assert.Equal(t, 6, b.Len())

	first, _ := b.Entries(0, 1)
	assert.Equal(t, "line 5", first[0].Text)
	last := b.Tail(1)
	assert.Equal(t, "line 10", last[0].Text)

	assert.Equal(t, 5, b.Stats().Trimmed)
}

func TestBook_TrimNeverExceedsLimit(t *testing.T) {
	for _, max := range []int{1, 2, 3, 7} {
		t.Run(fmt.Sprint(max), func(t *testing.T) {
			b := NewBook(max, nil)
			for i := 0; i < 50; i++ {
				b.Add(LevelInfo, fmt.Sprint(i))
				assert.LessOrEqual(t, b.Len(), max)
			}
			assert.Equal(t, "49", b.Tail(1)[0].Text)
		})
	}
}

func TestBook_SetMaxLines(t *testing.T) {
	b := NewBook(100, nil)
	for i := 0; i < 20; i++ {
		b.Add(LevelInfo, fmt.Sprint(i))
	}

	require.NoError(t, b.SetMaxLines(10))
	assert.LessOrEqual(t, b.Len(), 10)
	assert.Equal(t, "19", b.Tail(1)[0].Text)

	assert.Error(t, b.SetMaxLines(0))
}

func TestBook_Tail(t *testing.T) {
	b := NewBook(10, nil)
	assert.Empty(t, b.Tail(3))

	b.Add(LevelInfo, "a")
	b.Add(LevelInfo, "b")
	got := b.Tail(5)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Empty(t, b.Tail(0))
}

func TestBook_Clear(t *testing.T) {
	b := NewBook(10, nil)
	b.Add(LevelInfo, "a")
	b.Add(LevelError, "b")
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Stats().OldestEntry)
}

func TestBook_Stats(t *testing.T) {
	b := NewBook(10, nil)
	b.Add(LevelInfo, "a")
	b.Add(LevelError, "Keyboard emulation error: denied")
	b.Add(LevelInfo, "c")

	stats := b.Stats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 1, stats.ErrorEntries)
	assert.Equal(t, 10, stats.MaxLines)
	require.NotNil(t, stats.OldestEntry)
	require.NotNil(t, stats.NewestEntry)
	assert.False(t, stats.NewestEntry.Before(*stats.OldestEntry))
}

func TestBook_LogFileMirrorsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "serial_control.log")
	b := NewBook(10, zaptest.NewLogger(t))

	b.Add(LevelInfo, "before open")
	require.NoError(t, b.OpenFile(path))
	assert.Equal(t, path, b.FilePath())

	b.Add(LevelInfo, "Port COM3 opened successfully at 9600 baud")
	b.Add(LevelError, "Serial reading error: device removed")
	require.NoError(t, b.CloseFile())
	b.Add(LevelInfo, "after close")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] Port COM3 opened successfully at 9600 baud$`, lines[0])
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] Serial reading error: device removed$`, lines[1])
	assert.Empty(t, b.FilePath())
}

func TestBook_LogFileAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")

	for i := 0; i < 2; i++ {
		b := NewBook(10, nil)
		require.NoError(t, b.OpenFile(path))
		b.Add(LevelInfo, fmt.Sprintf("run %d", i))
		require.NoError(t, b.CloseFile())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestBook_OpenFileErrors(t *testing.T) {
	b := NewBook(10, nil)
	assert.Error(t, b.OpenFile(""))
	assert.NoError(t, b.CloseFile())
}

func TestBook_SaveToFile(t *testing.T) {
	b := NewBook(10, nil)
	b.Add(LevelInfo, "LETTER A (0x41 A) pressed")
	b.Add(LevelError, "Mouse emulation error: no display")

	dir := t.TempDir()

	t.Run("plain", func(t *testing.T) {
		path := filepath.Join(dir, "out.txt")
		require.NoError(t, b.SaveToFile(path, FormatPlainText))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "LETTER A (0x41 A) pressed\nMouse emulation error: no display\n", string(data))
	})

	t.Run("timestamped", func(t *testing.T) {
		path := filepath.Join(dir, "out.log")
		require.NoError(t, b.SaveToFile(path, FormatTimestamped))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		require.Len(t, lines, 2)
		assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\]    LETTER A`, lines[0])
		assert.Contains(t, lines[1], "!! Mouse emulation error")
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "out.json")
		require.NoError(t, b.SaveToFile(path, FormatJSON))
		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var doc struct {
			Entries []Entry `json:"entries"`
			Count   int     `json:"count"`
		}
		require.NoError(t, json.Unmarshal(data, &doc))
		assert.Equal(t, 2, doc.Count)
		assert.Equal(t, LevelError, doc.Entries[1].Level)
	})

	t.Run("empty filename", func(t *testing.T) {
		assert.Error(t, b.SaveToFile("", FormatJSON))
	})

	t.Run("unsupported format", func(t *testing.T) {
		assert.Error(t, b.SaveToFile(filepath.Join(dir, "x"), FileFormat(42)))
	})
}
