// Package complete holds the completion value types, the provider capability
// interface, and the per-trigger session aggregator that fans a trigger out to
// providers, merges their pages, and filters them as the input narrows.
package complete

import (
	"context"
	"strings"
)

// Documentation kinds understood by the preview.
const (
	DocPlainText = "plaintext"
	DocMarkdown  = "markdown"
)

// Option is the trigger context captured when a session opens.
type Option struct {
	Bufnr            int    `msgpack:"bufnr"`
	Linenr           int    `msgpack:"linenr"`
	Col              int    `msgpack:"col"`
	Colnr            int    `msgpack:"colnr"`
	Line             string `msgpack:"line"`
	Input            string `msgpack:"input"`
	FileType         string `msgpack:"filetype"`
	TriggerCharacter string `msgpack:"trigger,omitempty"`
	Source           string `msgpack:"source,omitempty"`

	TriggerForIncomplete bool `msgpack:"-"`
}

// Documentation is one block of rich text attached to an item.
type Documentation struct {
	Kind    string `msgpack:"kind"`
	Content string `msgpack:"content"`
}

// Item is a single candidate. Providers fill the descriptive fields; the
// aggregator fills the scoring fields and the identity token.
type Item struct {
	Word       string `msgpack:"word"`
	Abbr       string `msgpack:"abbr,omitempty"`
	Menu       string `msgpack:"menu,omitempty"`
	Kind       string `msgpack:"kind,omitempty"`
	Info       string `msgpack:"info,omitempty"`
	FilterText string `msgpack:"-"`
	SortText   string `msgpack:"-"`
	UserData   string `msgpack:"user_data,omitempty"`

	Documentation []Documentation `msgpack:"-"`
	HasDetail     bool            `msgpack:"-"`
	IsSnippet     bool            `msgpack:"-"`
	Preselect     bool            `msgpack:"-"`
	Dup           bool            `msgpack:"dup,omitempty"`

	// Data is provider private state carried from Provide to Resolve/OnAccept.
	Data any `msgpack:"-"`

	Source      string  `msgpack:"-"`
	Priority    int     `msgpack:"-"`
	Score       float64 `msgpack:"-"`
	LocalBonus  float64 `msgpack:"-"`
	RecentScore int64   `msgpack:"-"`

	// set by the last filter pass
	exactSnippet bool
}

// Preselected reports whether the popup should start on this item: the
// provider asked for it, or it is a snippet whose word equals the input of
// the last filter pass.
func (it *Item) Preselected() bool {
	return it.Preselect || it.exactSnippet
}

// Docs returns the item documentation, falling back to Info when a provider
// only gave plain info text.
func (it *Item) Docs() []Documentation {
	if len(it.Documentation) > 0 {
		return it.Documentation
	}
	if strings.TrimSpace(it.Info) == "" {
		return nil
	}
	kind := DocPlainText
	if strings.Contains(it.Info, "```") {
		kind = DocMarkdown
	}
	return []Documentation{{Kind: kind, Content: it.Info}}
}

// Result is one provider page.
type Result struct {
	Items        []*Item
	IsIncomplete bool
	// StartCol, when set, moves the session start column to this byte column.
	StartCol *int

	source   string
	priority int
}

// Document is the collaborator view of a host buffer.
type Document interface {
	Bufnr() int
	FileType() string
	// Version increases on every applied change.
	Version() int
	Lines() []string
	Line(idx int) string
	IsWord(r rune) bool
	// ForceSync flushes edits the host has not reported yet.
	ForceSync(ctx context.Context) error
	SetPaused(paused bool)
}

// Source is the fixed capability set every completion provider implements.
type Source interface {
	Name() string
	Priority() int
	// FileTypes limits the source to these filetypes; empty means all.
	FileTypes() []string
	TriggerCharacters() []string
	Provide(ctx context.Context, opt Option) (*Result, error)
	// Resolve fills Documentation and other lazy fields in place.
	Resolve(ctx context.Context, item *Item) error
	ShouldCommit(item *Item, ch string) bool
	OnAccept(ctx context.Context, item *Item, opt Option) error
}
