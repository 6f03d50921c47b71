// Package history provides the log book: the ordered, bounded record of
// everything the monitor reports to the user, with optional mirroring to a
// log file.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level separates informational lines from error notifications
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// String returns the string representation of Level
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// FileFormat represents different file export formats
type FileFormat int

const (
	FormatPlainText FileFormat = iota
	FormatTimestamped
	FormatJSON
)

// String returns the string representation of FileFormat
func (f FileFormat) String() string {
	switch f {
	case FormatPlainText:
		return "plain_text"
	case FormatTimestamped:
		return "timestamped"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name as accepted on the command line
func ParseFormat(s string) (FileFormat, error) {
	switch strings.ToLower(s) {
	case "plain", "plain_text", "text", "txt":
		return FormatPlainText, nil
	case "timestamped", "log":
		return FormatTimestamped, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unsupported format: %s", s)
	}
}

// Entry is one line of the log book
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
}

// Validate checks if the entry is valid
func (e Entry) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}
	if e.Level != LevelInfo && e.Level != LevelError {
		return fmt.Errorf("invalid level: %d", e.Level)
	}
	return nil
}

// String renders the entry the way the console and log file show it
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05"), e.Text)
}

// NewEntry creates an info entry stamped with the current time
func NewEntry(text string) Entry {
	return Entry{Timestamp: time.Now(), Level: LevelInfo, Text: text}
}

// Stats provides statistics about the log book
type Stats struct {
	TotalEntries int        `json:"total_entries"`
	ErrorEntries int        `json:"error_entries"`
	Trimmed      int        `json:"trimmed"`
	MaxLines     int        `json:"max_lines"`
	OldestEntry  *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry  *time.Time `json:"newest_entry,omitempty"`
}

// DefaultMaxLines is used when a non-positive limit is given
const DefaultMaxLines = 1000

// Book holds at most MaxLines entries. When an append overflows it, the
// oldest half is dropped at once rather than one line at a time.
type Book struct {
	mu       sync.Mutex
	entries  []Entry
	maxLines int
	trimmed  int

	file     *os.File
	filePath string
	logger   *zap.Logger
}

// NewBook creates an empty log book
func NewBook(maxLines int, logger *zap.Logger) *Book {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{
		entries:  make([]Entry, 0, maxLines),
		maxLines: maxLines,
		logger:   logger,
	}
}

// Append adds an entry, mirrors it to the log file when one is open and
// returns the number of entries dropped to make room.
func (b *Book) Append(e Entry) (int, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	dropped := b.trimLocked()
	b.writeFileLocked(e)
	return dropped, nil
}

// Add appends text at the current time
func (b *Book) Add(level Level, text string) {
	_, _ = b.Append(Entry{Timestamp: time.Now(), Level: level, Text: text})
}

// Len returns the number of entries
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns a copy of count entries starting at start
func (b *Book) Entries(start, count int) ([]Entry, error) {
	if start < 0 {
		return nil, fmt.Errorf("start cannot be negative")
	}
	if count < 0 {
		return nil, fmt.Errorf("count cannot be negative")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if start >= len(b.entries) {
		return []Entry{}, nil
	}
	end := start + count
	if end > len(b.entries) {
		end = len(b.entries)
	}

	result := make([]Entry, end-start)
	copy(result, b.entries[start:end])
	return result, nil
}

// Tail returns a copy of the newest n entries
func (b *Book) Tail(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return []Entry{}
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	result := make([]Entry, n)
	copy(result, b.entries[len(b.entries)-n:])
	return result
}

// Clear drops every entry. The log file is left untouched.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}

// SetMaxLines changes the limit, trimming immediately if needed
func (b *Book) SetMaxLines(n int) error {
	if n <= 0 {
		return fmt.Errorf("max lines must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxLines = n
	b.trimLocked()
	return nil
}

// MaxLines returns the limit
func (b *Book) MaxLines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxLines
}

// Stats returns counters describing the book
func (b *Book) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		TotalEntries: len(b.entries),
		Trimmed:      b.trimmed,
		MaxLines:     b.maxLines,
	}
	for _, e := range b.entries {
		if e.Level == LevelError {
			stats.ErrorEntries++
		}
	}
	if len(b.entries) > 0 {
		oldest := b.entries[0].Timestamp
		newest := b.entries[len(b.entries)-1].Timestamp
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}
	return stats
}

// trimLocked applies the drop-half policy and returns the number removed
func (b *Book) trimLocked() int {
	if len(b.entries) <= b.maxLines {
		return 0
	}

	drop := b.maxLines / 2
	if excess := len(b.entries) - b.maxLines; drop < excess {
		drop = excess
	}
	b.entries = b.entries[:copy(b.entries, b.entries[drop:])]
	b.trimmed += drop
	return drop
}

// OpenFile starts appending every new entry to path
func (b *Book) OpenFile(path string) error {
	if path == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		b.file.Close()
	}
	b.file = f
	b.filePath = path
	return nil
}

// FilePath returns the path of the open log file, or ""
func (b *Book) FilePath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filePath
}

// CloseFile stops mirroring to the log file
func (b *Book) CloseFile() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	b.filePath = ""
	return err
}

// writeFileLocked never fails the append; a broken log file is reported
// through the diagnostic logger only
func (b *Book) writeFileLocked(e Entry) {
	if b.file == nil {
		return
	}
	if _, err := b.file.WriteString(e.String() + "\n"); err != nil {
		b.logger.Warn("error writing to log file", zap.String("path", b.filePath), zap.Error(err))
	}
}

// SaveToFile saves the current entries to a file
func (b *Book) SaveToFile(filename string, format FileFormat) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	b.mu.Lock()
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	b.mu.Unlock()

	return saveEntriesToFile(entries, filename, format)
}

// saveEntriesToFile saves entries to a file in the specified format
func saveEntriesToFile(entries []Entry, filename string, format FileFormat) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch format {
	case FormatPlainText:
		return saveAsPlainText(file, entries)
	case FormatTimestamped:
		return saveAsTimestamped(file, entries)
	case FormatJSON:
		return saveAsJSON(file, entries)
	default:
		return fmt.Errorf("unsupported format: %v", format)
	}
}

// saveAsPlainText saves one text per line
func saveAsPlainText(file *os.File, entries []Entry) error {
	for _, entry := range entries {
		if _, err := file.WriteString(entry.Text + "\n"); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
	}
	return nil
}

// saveAsTimestamped saves entries with full timestamps
func saveAsTimestamped(file *os.File, entries []Entry) error {
	for _, entry := range entries {
		marker := "  "
		if entry.Level == LevelError {
			marker = "!!"
		}

		line := fmt.Sprintf("[%s] %s %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05.000"),
			marker,
			strings.ReplaceAll(entry.Text, "\n", "\\n"))

		if _, err := file.WriteString(line); err != nil {
			return fmt.Errorf("failed to write timestamped data: %w", err)
		}
	}
	return nil
}

// saveAsJSON saves entries as JSON
func saveAsJSON(file *os.File, entries []Entry) error {
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	data := struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}{
		Entries: entries,
		Count:   len(entries),
	}

	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
