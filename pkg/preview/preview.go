// Package preview shows the documentation of the highlighted completion item
// in a floating window next to the popup menu.
package preview

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bastiangx/popcomplete/internal/logger"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

// Bounding is the popup menu geometry reported by the host, plus the screen
// size it was measured against.
type Bounding struct {
	Row       int  `msgpack:"row"`
	Col       int  `msgpack:"col"`
	Width     int  `msgpack:"width"`
	Height    int  `msgpack:"height"`
	Scrollbar bool `msgpack:"scrollbar"`
	Columns   int  `msgpack:"columns"`
	Lines     int  `msgpack:"lines"`
}

// FloatConfig places a floating window. Winid 0 opens a new window.
type FloatConfig struct {
	Winid  int `msgpack:"winid"`
	Row    int `msgpack:"row"`
	Col    int `msgpack:"col"`
	Width  int `msgpack:"width"`
	Height int `msgpack:"height"`
}

// Host is what the coordinator needs from the editor.
type Host interface {
	CreateBuffer(ctx context.Context) (int, error)
	SetBufferLines(bufnr int, lines []string)
	SetBufferOption(bufnr int, name string, value any)
	// OpenFloat opens or moves the float and returns its window id.
	OpenFloat(ctx context.Context, bufnr int, cfg FloatConfig) (int, error)
	CloseFloat(winid int)
}

// Coordinator owns the preview buffer and window.
type Coordinator struct {
	host Host
	log  *log.Logger

	// showMu serializes Show and guards bufnr. Host calls happen under
	// showMu only, so Close never waits on the editor.
	showMu sync.Mutex
	bufnr  int

	mu       sync.Mutex
	winid    int
	gen      int
	maxWidth int
	settle   time.Duration
}

func New(host Host, maxWidth int, settle time.Duration) *Coordinator {
	return &Coordinator{
		host:     host,
		log:      logger.New("preview"),
		maxWidth: maxWidth,
		settle:   settle,
	}
}

// Configure updates the width limit and the settle delay.
func (c *Coordinator) Configure(maxWidth int, settle time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxWidth = maxWidth
	c.settle = settle
}

// Shown reports whether the float is open.
func (c *Coordinator) Shown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.winid != 0
}

// Show renders docs next to the popup described by b. Empty docs close the
// preview. A canceled ctx leaves nothing open.
func (c *Coordinator) Show(ctx context.Context, docs []complete.Documentation, b Bounding) error {
	docs = nonEmpty(docs)
	if len(docs) == 0 {
		c.Close()
		return nil
	}

	c.showMu.Lock()
	defer c.showMu.Unlock()

	c.mu.Lock()
	settle, maxWidth := c.settle, c.maxWidth
	c.mu.Unlock()
	if settle > 0 {
		timer := time.NewTimer(settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}

	r, ok := place(b, maxWidth)
	if !ok {
		c.Close()
		return nil
	}
	lines, filetype := render(docs, r.width)
	cfg := r.float(b, lines)

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	cfg.Winid = c.winid
	c.mu.Unlock()

	if c.bufnr == 0 {
		bufnr, err := c.host.CreateBuffer(ctx)
		if err != nil {
			return errors.Wrap(err, "create preview buffer")
		}
		c.bufnr = bufnr
		c.host.SetBufferOption(bufnr, "buftype", "nofile")
		c.host.SetBufferOption(bufnr, "bufhidden", "hide")
	}
	c.host.SetBufferOption(c.bufnr, "filetype", filetype)
	c.host.SetBufferLines(c.bufnr, lines)

	// Wait for the id even if ctx ends so the window can be closed.
	winid, err := c.host.OpenFloat(context.WithoutCancel(ctx), c.bufnr, cfg)
	if err != nil {
		return errors.Wrap(err, "open preview float")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || ctx.Err() != nil {
		// Closed while the host was opening it.
		if winid != cfg.Winid || c.winid == winid {
			c.host.CloseFloat(winid)
		}
		if c.winid == winid {
			c.winid = 0
		}
		return nil
	}
	c.winid = winid
	return nil
}

// Close hides the preview. It is safe to call when nothing is shown and
// does not wait for a Show in progress; that Show discards its window.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.closeLocked()
}

func (c *Coordinator) closeLocked() {
	if c.winid == 0 {
		return
	}
	c.host.CloseFloat(c.winid)
	c.log.Debug("closed", "winid", c.winid)
	c.winid = 0
}

func nonEmpty(docs []complete.Documentation) []complete.Documentation {
	var out []complete.Documentation
	for _, d := range docs {
		if strings.TrimSpace(d.Content) != "" {
			out = append(out, d)
		}
	}
	return out
}

func scrollbarWidth(b Bounding) int {
	if b.Scrollbar {
		return 1
	}
	return 0
}

type room struct {
	width  int
	height int
	left   bool
}

// place picks the side of the popup with more room and the usable size.
func place(b Bounding, maxWidth int) (room, bool) {
	pumWidth := b.Width + scrollbarWidth(b)
	right := b.Columns - b.Col - pumWidth
	r := room{left: b.Col > right, height: b.Lines - b.Row - 2}
	if r.left {
		r.width = min(b.Col-1, maxWidth)
	} else {
		r.width = min(right, maxWidth)
	}
	return r, r.width > 0 && r.height > 0
}

// float sizes the window to the rendered lines.
func (r room) float(b Bounding, lines []string) FloatConfig {
	cfg := FloatConfig{Row: b.Row, Height: min(r.height, len(lines))}
	for _, l := range lines {
		cfg.Width = max(cfg.Width, runewidth.StringWidth(l))
	}
	if r.left {
		cfg.Col = b.Col - cfg.Width - 1
	} else {
		cfg.Col = b.Col + b.Width + scrollbarWidth(b)
	}
	return cfg
}

// render wraps docs to width and joins them with a rule.
func render(docs []complete.Documentation, width int) ([]string, string) {
	filetype := "txt"
	var lines []string
	for i, d := range docs {
		if d.Kind == complete.DocMarkdown {
			filetype = "markdown"
		}
		if i > 0 {
			lines = append(lines, strings.Repeat("─", width))
		}
		text := wrap.String(wordwrap.String(strings.TrimSpace(d.Content), width), width)
		lines = append(lines, strings.Split(text, "\n")...)
	}
	return lines, filetype
}
