package controller

import (
	"context"

	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/preview"
)

// CursorState is the host's view of the cursor at the time of the query.
type CursorState struct {
	Mode  string `msgpack:"mode"`
	Bufnr int    `msgpack:"bufnr"`
	Lnum  int    `msgpack:"lnum"`
	// Col is the 1-based byte column of the cursor.
	Col        int    `msgpack:"col"`
	Line       string `msgpack:"line"`
	PumVisible bool   `msgpack:"pumvisible"`
}

// Pre returns the text of the line before the cursor.
func (s CursorState) Pre() string {
	return s.Line[:min(max(s.Col-1, 0), len(s.Line))]
}

// Insert reports whether the host is in insert mode.
func (s CursorState) Insert() bool {
	return s.Mode != "" && s.Mode[0] == 'i'
}

// Host is the set of editor commands the controller issues.
type Host interface {
	// ShowPopup opens the native menu at the 1-based byte column col.
	// preselect is a 0-based index or -1.
	ShowPopup(col int, items []*complete.Item, preselect int)
	HidePopup()
	MapDigits()
	UnmapDigits()
	SetLine(lnum int, line string)
	MoveCursor(lnum, col int)
	SetCompleteOpt(value string)
	ShowMessage(msg, level string)

	CompleteOpt(ctx context.Context) (string, error)
	CursorState(ctx context.Context) (CursorState, error)
}

// Workspace resolves buffers to documents.
type Workspace interface {
	Document(bufnr int) complete.Document
}

// Sources is the provider registry as seen by the controller.
type Sources interface {
	CompleteSources(opt complete.Option) []complete.Source
	TriggerCharacter(pre, filetype string) string
	ShouldCommit(item *complete.Item, ch string) bool
	Resolve(ctx context.Context, item *complete.Item) error
	OnAccept(ctx context.Context, item *complete.Item, opt complete.Option) error
	Forget(bufnr int)
}

// Previewer shows documentation for the selected item.
type Previewer interface {
	Show(ctx context.Context, docs []complete.Documentation, b preview.Bounding) error
	Close()
}
