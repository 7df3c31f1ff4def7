package server

import (
	"context"
	"slices"
	"sync"

	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

// BufferSyncer fetches the current text of a buffer from the host.
type BufferSyncer interface {
	BufferState(ctx context.Context, bufnr int) (BufferEvent, error)
}

// Document mirrors one host buffer.
type Document struct {
	syncer BufferSyncer

	mu       sync.RWMutex
	bufnr    int
	filetype string
	lines    []string
	tick     int
	version  int
	paused   bool
	chars    utils.WordChars
}

func (d *Document) Bufnr() int {
	return d.bufnr
}

func (d *Document) FileType() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filetype
}

func (d *Document) Version() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Lines returns a copy of the buffer lines.
func (d *Document) Lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.lines)
}

func (d *Document) Line(idx int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if idx < 0 || idx >= len(d.lines) {
		return ""
	}
	return d.lines[idx]
}

func (d *Document) IsWord(r rune) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chars.IsWord(r)
}

func (d *Document) SetPaused(paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = paused
}

// Paused reports whether a completion session owns the buffer.
func (d *Document) Paused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.paused
}

// ForceSync replaces the mirror with the text the host has now.
func (d *Document) ForceSync(ctx context.Context) error {
	if d.syncer == nil {
		return nil
	}
	ev, err := d.syncer.BufferState(ctx, d.bufnr)
	if err != nil {
		return errors.Wrapf(err, "sync buffer %d", d.bufnr)
	}
	ev.Start, ev.End = 0, -1
	_, err = d.apply(ev)
	return err
}

// apply replaces a line range. Events older than the mirror are ignored; it
// reports whether the text changed.
func (d *Document) apply(ev BufferEvent) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev.Tick != 0 && ev.Tick <= d.tick {
		return false, nil
	}
	end := ev.End
	if end < 0 || end > len(d.lines) {
		end = len(d.lines)
	}
	if ev.Start < 0 || ev.Start > end {
		return false, errors.Newf("buffer %d: invalid range [%d, %d) of %d lines", d.bufnr, ev.Start, ev.End, len(d.lines))
	}
	d.lines = slices.Concat(d.lines[:ev.Start], ev.Lines, d.lines[end:])
	if ev.Tick != 0 {
		d.tick = ev.Tick
	}
	if ev.FileType != "" {
		d.filetype = ev.FileType
	}
	d.version++
	return true, nil
}

// Workspace holds the mirrored buffers.
type Workspace struct {
	syncer BufferSyncer

	mu        sync.RWMutex
	docs      map[int]*Document
	wordChars map[string]string
}

func NewWorkspace(syncer BufferSyncer, wordChars map[string]string) *Workspace {
	return &Workspace{
		syncer:    syncer,
		docs:      make(map[int]*Document),
		wordChars: wordChars,
	}
}

// Document returns the mirror of bufnr, or nil when the buffer is unknown.
func (w *Workspace) Document(bufnr int) complete.Document {
	if d := w.Get(bufnr); d != nil {
		return d
	}
	return nil
}

func (w *Workspace) Get(bufnr int) *Document {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.docs[bufnr]
}

// Attach starts mirroring a buffer, replacing any previous mirror.
func (w *Workspace) Attach(ev BufferEvent) *Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := &Document{
		syncer:   w.syncer,
		bufnr:    ev.Bufnr,
		filetype: ev.FileType,
		lines:    slices.Clone(ev.Lines),
		tick:     ev.Tick,
		version:  1,
		chars:    utils.NewWordChars(w.wordChars[ev.FileType]),
	}
	if prev, ok := w.docs[ev.Bufnr]; ok {
		d.version = prev.Version() + 1
	}
	w.docs[ev.Bufnr] = d
	log.Debugf("attached buffer %d (%s, %d lines)", ev.Bufnr, ev.FileType, len(ev.Lines))
	return d
}

// Apply updates a mirrored buffer. An unknown buffer is attached when the
// event carries all of its lines.
func (w *Workspace) Apply(ev BufferEvent) error {
	d := w.Get(ev.Bufnr)
	if d == nil {
		if ev.Start == 0 && ev.End < 0 {
			w.Attach(ev)
			return nil
		}
		return errors.Newf("change for unknown buffer %d", ev.Bufnr)
	}
	if _, err := d.apply(ev); err != nil {
		return err
	}
	if ev.FileType != "" {
		d.mu.Lock()
		d.chars = utils.NewWordChars(w.extraChars(ev.FileType))
		d.mu.Unlock()
	}
	return nil
}

func (w *Workspace) extraChars(filetype string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wordChars[filetype]
}

func (w *Workspace) Remove(bufnr int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.docs, bufnr)
}

// SetWordChars applies new per-filetype keyword characters to every buffer.
func (w *Workspace) SetWordChars(wordChars map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wordChars = wordChars
	for _, d := range w.docs {
		d.mu.Lock()
		d.chars = utils.NewWordChars(wordChars[d.filetype])
		d.mu.Unlock()
	}
}

func (w *Workspace) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.docs)
}
