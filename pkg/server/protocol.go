/*
Package server implements the msgpack IPC between popcomplete and the host editor.

Frames are msgpack maps written back to back on stdin/stdout. Every frame has a
kind, a name and an optional payload:

	{"k": "event", "n": "TextChangedI", "d": {"bufnr": 1}}
	{"k": "request", "i": 7, "n": "cursor_state"}
	{"k": "response", "i": 7, "d": {"mode": "i", "bufnr": 1, "lnum": 3, "col": 5, "line": "foo"}}
	{"k": "command", "n": "show_popup", "d": {"col": 3, "items": [{"word": "foo"}], "preselect": -1}}

# Events

The host reports editor autocommands as events: InsertCharPre, InsertEnter,
InsertLeave, TextChangedI, TextChangedP, CompleteDone, MenuPopupChanged and
BufUnload drive the completion controller. BufEnter and BufChange keep the
document mirror current. RegisterSource and UnregisterSource attach language
server completion endpoints that the host proxies.

# Requests

Requests carry an id and are answered by a response frame with the same id.
The host may ask for health, status and complete (a manual trigger). The helper
asks the host for cursor_state, buffer_state, get_option, create_buffer,
float_open and, for language sources, lsp_completion, lsp_resolve and
lsp_execute. Language server payloads travel as JSON bytes so the protocol
types keep their own decoding rules.

# Commands

Commands are one-way: show_popup, hide_popup, map_digits, unmap_digits,
set_line, cursor, set_option, buf_set_lines, buf_set_option, float_close and
message.
*/
package server

import (
	"bufio"
	"io"
	"sync"

	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/preview"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame kinds.
const (
	KindEvent    = "event"
	KindRequest  = "request"
	KindResponse = "response"
	KindCommand  = "command"
)

// Frame is one protocol message.
type Frame struct {
	Kind  string             `msgpack:"k"`
	ID    uint32             `msgpack:"i,omitempty"`
	Name  string             `msgpack:"n,omitempty"`
	Data  msgpack.RawMessage `msgpack:"d,omitempty"`
	Error string             `msgpack:"e,omitempty"`
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (f *Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(f.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s %s", f.Kind, f.Name)
	}
	return nil
}

func newFrame(kind, name string, id uint32, payload any) (*Frame, error) {
	f := &Frame{Kind: kind, Name: name, ID: id}
	if payload == nil {
		return f, nil
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s %s", kind, name)
	}
	f.Data = data
	return f, nil
}

// Codec reads and writes frames. Write is safe for concurrent use; Read must
// only be called from one goroutine.
type Codec struct {
	dec *msgpack.Decoder

	mu  sync.Mutex
	w   *bufio.Writer
	enc *msgpack.Encoder
}

func NewCodec(r io.Reader, w io.Writer) *Codec {
	bw := bufio.NewWriter(w)
	return &Codec{
		dec: msgpack.NewDecoder(bufio.NewReader(r)),
		w:   bw,
		enc: msgpack.NewEncoder(bw),
	}
}

// Read returns the next frame. io.EOF means the host closed the stream.
func (c *Codec) Read() (*Frame, error) {
	var f Frame
	if err := c.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read frame")
	}
	return &f, nil
}

func (c *Codec) Write(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(f); err != nil {
		return errors.Wrapf(err, "write %s %s", f.Kind, f.Name)
	}
	return errors.Wrap(c.w.Flush(), "flush")
}

// BufferEvent replaces lines [Start, End) of a buffer. End -1 means the end of
// the buffer. BufEnter sends the whole buffer with Start 0 and End -1.
type BufferEvent struct {
	Bufnr    int      `msgpack:"bufnr"`
	FileType string   `msgpack:"filetype,omitempty"`
	Start    int      `msgpack:"start"`
	End      int      `msgpack:"end"`
	Lines    []string `msgpack:"lines"`
	Tick     int      `msgpack:"tick"`
}

type BufnrEvent struct {
	Bufnr int `msgpack:"bufnr"`
}

type CharEvent struct {
	Char string `msgpack:"char"`
}

type CompleteDoneEvent struct {
	Item complete.Item `msgpack:"item"`
}

type PopupChangedEvent struct {
	Item     *complete.Item   `msgpack:"item"`
	Bounding preview.Bounding `msgpack:"bounding"`
}

// RegisterSourceEvent attaches a language server source proxied by the host.
type RegisterSourceEvent struct {
	Name              string   `msgpack:"name"`
	Shortcut          string   `msgpack:"shortcut,omitempty"`
	FileTypes         []string `msgpack:"filetypes"`
	TriggerCharacters []string `msgpack:"trigger_characters"`
	Priority          int      `msgpack:"priority"`
}

type CompleteRequest struct {
	Source string `msgpack:"source,omitempty"`
}

type HealthResponse struct {
	Status    string   `msgpack:"status"`
	Version   string   `msgpack:"version"`
	Sources   []string `msgpack:"sources"`
	Documents int      `msgpack:"documents"`
	UptimeMs  int64    `msgpack:"uptime_ms"`
}

type ShowPopupCommand struct {
	Col       int              `msgpack:"col"`
	Items     []*complete.Item `msgpack:"items"`
	Preselect int              `msgpack:"preselect"`
}

type SetLineCommand struct {
	Lnum int    `msgpack:"lnum"`
	Line string `msgpack:"line"`
}

type CursorCommand struct {
	Lnum int `msgpack:"lnum"`
	Col  int `msgpack:"col"`
}

// OptionCommand sets a global option, or a buffer option when Bufnr is set.
type OptionCommand struct {
	Bufnr int    `msgpack:"bufnr,omitempty"`
	Name  string `msgpack:"name"`
	Value any    `msgpack:"value"`
}

type BufferLinesCommand struct {
	Bufnr int      `msgpack:"bufnr"`
	Lines []string `msgpack:"lines"`
}

type FloatCommand struct {
	Bufnr               int `msgpack:"bufnr"`
	preview.FloatConfig `msgpack:",inline"`
}

type MessageCommand struct {
	Msg   string `msgpack:"msg"`
	Level string `msgpack:"level"`
}

type BufferStateRequest struct {
	Bufnr int `msgpack:"bufnr"`
}

type OptionRequest struct {
	Name string `msgpack:"name"`
}

type OptionResponse struct {
	Value string `msgpack:"value"`
}

type BufnrResponse struct {
	Bufnr int `msgpack:"bufnr"`
}

type WinidResponse struct {
	Winid int `msgpack:"winid"`
}

// LSPRequest asks the host to forward a JSON request to the language server
// behind Source.
type LSPRequest struct {
	Source string `msgpack:"source"`
	Params []byte `msgpack:"params"`
}
