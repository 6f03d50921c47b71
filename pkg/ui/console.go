// Package ui provides the interactive console: a scrolling log pane, a
// status bar and keyboard shortcuts that drive the application controller.
package ui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"serial-input-monitor/pkg/app"
	"serial-input-monitor/pkg/history"
	"serial-input-monitor/pkg/reader"
)

// Controller is the part of the application the console drives
type Controller interface {
	Run(ctx context.Context, sink app.Sink) error
	Connect(port string) error
	Disconnect() error
	StartEmulation() error
	StopEmulation()
	Status() app.Status
	Book() *history.Book
}

// Hotkeys names the keys bound to starting and stopping emulation
type Hotkeys struct {
	Start string
	Stop  string
}

// DefaultHotkeys are used when none are configured
var DefaultHotkeys = Hotkeys{Start: "F9", Stop: "F10"}

const statusTimeout = 3 * time.Second

// stopEvent unblocks the event loop on shutdown
type stopEvent struct{}

var (
	styleDefault = tcell.StyleDefault.Background(tcell.ColorReset).Foreground(tcell.ColorReset)
	styleTitle   = tcell.StyleDefault.Background(tcell.ColorDarkBlue).Foreground(tcell.ColorWhite).Bold(true)
	styleStatus  = tcell.StyleDefault.Background(tcell.ColorSilver).Foreground(tcell.ColorBlack)
	styleError   = styleDefault.Foreground(tcell.ColorRed)
	styleBox     = tcell.StyleDefault.Background(tcell.ColorDarkBlue).Foreground(tcell.ColorWhite)
)

// Console renders the log book and routes key presses to the controller
type Console struct {
	screen    tcell.Screen
	ctl       Controller
	shortcuts *ShortcutManager
	logger    *zap.Logger
	saveDir   string
	port      string

	mu          sync.Mutex
	scroll      int // lines above the newest; 0 follows the tail
	showHelp    bool
	status      string
	statusUntil time.Time
	quit        context.CancelFunc
}

// NewConsole creates a console. port is used by the connect shortcut and may
// be empty to reuse the last port.
func NewConsole(screen tcell.Screen, ctl Controller, keys Hotkeys, port string, logger *zap.Logger) (*Console, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keys.Start == "" {
		keys.Start = DefaultHotkeys.Start
	}
	if keys.Stop == "" {
		keys.Stop = DefaultHotkeys.Stop
	}

	c := &Console{
		screen:    screen,
		ctl:       ctl,
		shortcuts: NewShortcutManager(),
		logger:    logger.Named("ui"),
		saveDir:   ".",
		port:      port,
	}
	if err := c.setupShortcuts(keys); err != nil {
		return nil, err
	}
	return c, nil
}

// SetSaveDir sets where the save shortcut writes log files
func (c *Console) SetSaveDir(dir string) {
	c.saveDir = dir
}

// Shortcuts returns the shortcut manager
func (c *Console) Shortcuts() *ShortcutManager {
	return c.shortcuts
}

func (c *Console) setupShortcuts(keys Hotkeys) error {
	binds := []struct {
		name, key, description string
		action                 Action
		handler                func() error
	}{
		{"start", keys.Start, "Start keyboard and mouse emulation", ActionStartEmulation, c.startEmulation},
		{"stop", keys.Stop, "Stop keyboard and mouse emulation", ActionStopEmulation, c.stopEmulation},
		{"connect", "o", "Open the serial port", ActionConnect, c.connect},
		{"disconnect", "d", "Close the serial port", ActionDisconnect, c.ctl.Disconnect},
		{"clear", "c", "Clear the log", ActionClear, c.clear},
		{"save", "s", "Save the log to a file", ActionSave, c.save},
		{"help", "F1", "Show or hide this help", ActionHelp, c.toggleHelp},
		{"quit", "q", "Quit", ActionQuit, c.requestQuit},
		{"quit_ctrl", "Ctrl+C", "Quit", ActionQuit, c.requestQuit},
	}

	for _, b := range binds {
		if err := c.shortcuts.Bind(b.name, b.key, b.description, b.action, b.handler); err != nil {
			return err
		}
	}
	return nil
}

// Run initializes the screen and processes events until ctx is cancelled or
// the user quits. The session is closed before Run returns.
func (c *Console) Run(ctx context.Context) error {
	if err := c.screen.Init(); err != nil {
		return fmt.Errorf("failed to initialize screen: %w", err)
	}
	defer c.screen.Fini()

	c.screen.SetStyle(styleDefault)
	c.screen.Clear()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.quit = cancel
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.ctl.Run(gctx, c)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = c.screen.PostEvent(tcell.NewEventInterrupt(stopEvent{}))
		return nil
	})
	g.Go(func() error {
		c.loop()
		cancel()
		return nil
	})

	return g.Wait()
}

// Handle implements app.Sink. It only wakes the event loop; the log
// lines themselves are read back from the book when drawing.
func (c *Console) Handle(m reader.Message) {
	if err := c.screen.PostEvent(tcell.NewEventInterrupt(m)); err != nil {
		c.logger.Debug("redraw event dropped", zap.Error(err))
	}
}

func (c *Console) loop() {
	c.draw()
	for {
		switch ev := c.screen.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventKey:
			c.handleKey(ev)
		case *tcell.EventResize:
			c.screen.Sync()
		case *tcell.EventInterrupt:
			if _, ok := ev.Data().(stopEvent); ok {
				return
			}
			if m, ok := ev.Data().(reader.Message); ok {
				c.handleMessage(m)
			}
		}
		c.draw()
	}
}

func (c *Console) handleKey(ev *tcell.EventKey) {
	handled, err := c.shortcuts.ProcessKeyEvent(ev.Key(), ev.Rune(), ev.Modifiers())
	if err != nil {
		c.setStatus(err.Error())
		return
	}
	if handled {
		return
	}

	_, h := c.screen.Size()
	page := h - 2

	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Key() {
	case tcell.KeyUp:
		c.scroll++
	case tcell.KeyDown:
		c.scroll--
	case tcell.KeyPgUp:
		c.scroll += page
	case tcell.KeyPgDn:
		c.scroll -= page
	case tcell.KeyEnd:
		c.scroll = 0
	case tcell.KeyEscape:
		c.showHelp = false
	}
	if c.scroll < 0 {
		c.scroll = 0
	}
}

// handleMessage shows lifecycle changes on the status bar
func (c *Console) handleMessage(m reader.Message) {
	switch m := m.(type) {
	case reader.Opened:
		c.setStatus("Port opened")
	case reader.Closed:
		c.setStatus("Port closed")
	case reader.ErrorOccurred:
		c.setStatus(m.Err.Error())
	}
}

func (c *Console) startEmulation() error {
	if err := c.ctl.StartEmulation(); err != nil {
		if errors.Is(err, app.ErrPortNotOpen) {
			c.setStatus("Open a serial port first")
			return nil
		}
		return err
	}
	c.setStatus("Emulation active")
	return nil
}

func (c *Console) stopEmulation() error {
	c.ctl.StopEmulation()
	c.setStatus("Emulation inactive")
	return nil
}

func (c *Console) connect() error {
	if err := c.ctl.Connect(c.port); err != nil {
		if errors.Is(err, reader.ErrBusy) {
			c.setStatus("Port is already open")
			return nil
		}
		return err
	}
	return nil
}

func (c *Console) clear() error {
	c.ctl.Book().Clear()
	c.mu.Lock()
	c.scroll = 0
	c.mu.Unlock()
	return nil
}

func (c *Console) save() error {
	name := filepath.Join(c.saveDir, fmt.Sprintf("serial_log_%s.log", time.Now().Format("20060102_150405")))
	if err := c.ctl.Book().SaveToFile(name, history.FormatTimestamped); err != nil {
		return err
	}
	c.setStatus("Log saved to " + name)
	return nil
}

func (c *Console) toggleHelp() error {
	c.mu.Lock()
	c.showHelp = !c.showHelp
	c.mu.Unlock()
	return nil
}

func (c *Console) requestQuit() error {
	c.mu.Lock()
	quit := c.quit
	c.mu.Unlock()
	if quit != nil {
		quit()
	}
	return nil
}

func (c *Console) setStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = text
	c.statusUntil = time.Now().Add(statusTimeout)
}

func (c *Console) draw() {
	c.screen.Clear()
	w, h := c.screen.Size()
	if w <= 0 || h <= 0 {
		return
	}

	st := c.ctl.Status()

	fillRow(c.screen, 0, w, styleTitle)
	drawText(c.screen, 0, 0, w, " Serial Input Monitor", styleTitle)
	if st.Port != "" {
		right := fmt.Sprintf("%s %s ", st.Port, st.State)
		drawText(c.screen, w-runewidth.StringWidth(right), 0, w, right, styleTitle)
	}

	c.drawLog(1, h-2, w)

	fillRow(c.screen, h-1, w, styleStatus)
	drawText(c.screen, 0, h-1, w, " "+c.statusLine(st), styleStatus)

	c.mu.Lock()
	help := c.showHelp
	c.mu.Unlock()
	if help {
		c.drawHelp(w, h)
	}

	c.screen.Show()
}

// drawLog renders the book between rows top and bottom inclusive
func (c *Console) drawLog(top, bottom, w int) {
	rows := bottom - top + 1
	if rows <= 0 {
		return
	}

	book := c.ctl.Book()
	total := book.Len()

	c.mu.Lock()
	if limit := total - rows; c.scroll > limit {
		c.scroll = limit
	}
	if c.scroll < 0 {
		c.scroll = 0
	}
	scroll := c.scroll
	c.mu.Unlock()

	start := total - rows - scroll
	if start < 0 {
		start = 0
	}
	entries, err := book.Entries(start, rows)
	if err != nil {
		return
	}

	for i, e := range entries {
		style := styleDefault
		if e.Level == history.LevelError {
			style = styleError
		}
		drawText(c.screen, 0, top+i, w, runewidth.Truncate(e.String(), w, "…"), style)
	}
}

func (c *Console) statusLine(st app.Status) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != "" && time.Now().Before(c.statusUntil) {
		return c.status
	}

	port := "No port"
	if st.State == reader.StateOpen {
		port = fmt.Sprintf("%s @ %d baud", st.Port, st.BaudRate)
	} else if st.State == reader.StateNegotiating {
		port = fmt.Sprintf("%s (connecting)", st.Port)
	}

	emulation := "OFF"
	if st.Emulating {
		emulation = "ON"
	}

	start := c.shortcuts.GetShortcut("start").Describe()
	stop := c.shortcuts.GetShortcut("stop").Describe()
	line := fmt.Sprintf("%s | Emulation: %s | %s start  %s stop  F1 help  q quit", port, emulation, start, stop)
	if c.scroll > 0 {
		line += fmt.Sprintf(" | scrolled %d", c.scroll)
	}
	return line
}

func (c *Console) drawHelp(w, h int) {
	lines := c.shortcuts.Help()

	boxW := 0
	for _, l := range lines {
		if lw := runewidth.StringWidth(l); lw > boxW {
			boxW = lw
		}
	}
	boxW += 4
	boxH := len(lines) + 2
	if boxW > w {
		boxW = w
	}
	if boxH > h {
		boxH = h
	}

	x := (w - boxW) / 2
	y := (h - boxH) / 2
	drawBorder(c.screen, x, y, boxW, boxH, styleBox)
	drawText(c.screen, x+2, y, x+boxW-1, " Shortcuts ", styleBox)
	for i, l := range lines {
		if i+1 >= boxH-1 {
			break
		}
		drawText(c.screen, x+2, y+1+i, x+boxW-1, l, styleBox)
	}
}

// drawText draws text from column x, stopping before column limit
func drawText(s tcell.Screen, x, y, limit int, text string, style tcell.Style) {
	for _, ch := range text {
		cw := runewidth.RuneWidth(ch)
		if cw == 0 {
			continue
		}
		if x+cw > limit {
			return
		}
		s.SetContent(x, y, ch, nil, style)
		x += cw
	}
}

func fillRow(s tcell.Screen, y, w int, style tcell.Style) {
	for x := 0; x < w; x++ {
		s.SetContent(x, y, ' ', nil, style)
	}
}

// drawBorder draws a filled box
func drawBorder(s tcell.Screen, x, y, w, h int, style tcell.Style) {
	if w < 2 || h < 2 {
		return
	}

	s.SetContent(x, y, '┌', nil, style)
	s.SetContent(x+w-1, y, '┐', nil, style)
	for i := x + 1; i < x+w-1; i++ {
		s.SetContent(i, y, '─', nil, style)
	}

	for j := y + 1; j < y+h-1; j++ {
		s.SetContent(x, j, '│', nil, style)
		s.SetContent(x+w-1, j, '│', nil, style)
		for i := x + 1; i < x+w-1; i++ {
			s.SetContent(i, j, ' ', nil, style)
		}
	}

	s.SetContent(x, y+h-1, '└', nil, style)
	s.SetContent(x+w-1, y+h-1, '┘', nil, style)
	for i := x + 1; i < x+w-1; i++ {
		s.SetContent(i, y+h-1, '─', nil, style)
	}
}
