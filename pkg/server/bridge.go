package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bastiangx/popcomplete/internal/logger"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/controller"
	"github.com/bastiangx/popcomplete/pkg/preview"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var (
	// ErrClosed is returned for requests made after the host stream ended.
	ErrClosed = errors.New("host connection closed")
	// ErrTimeout is returned when the host does not answer a request in time.
	ErrTimeout = errors.New("host request timed out")
)

const defaultCallTimeout = 2 * time.Second

// Bridge is the helper side of the host connection. It issues commands and
// requests, and routes responses back to the waiting callers.
type Bridge struct {
	codec   *Codec
	log     *log.Logger
	timeout time.Duration
	nextID  atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan *Frame
	closed  bool
	done    chan struct{}
}

func NewBridge(codec *Codec) *Bridge {
	return &Bridge{
		codec:   codec,
		log:     logger.New("bridge"),
		timeout: defaultCallTimeout,
		pending: make(map[uint32]chan *Frame),
		done:    make(chan struct{}),
	}
}

// SetTimeout changes how long Call waits for an answer.
func (b *Bridge) SetTimeout(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

// Serve reads frames until the stream ends. Responses are delivered to their
// callers; everything else goes to handle, in arrival order.
func (b *Bridge) Serve(ctx context.Context, handle func(*Frame)) error {
	defer b.close()
	for {
		f, err := b.codec.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.Kind == KindResponse {
			b.deliver(f)
			continue
		}
		handle(f)
	}
}

func (b *Bridge) deliver(f *Frame) {
	b.mu.Lock()
	ch, ok := b.pending[f.ID]
	delete(b.pending, f.ID)
	b.mu.Unlock()
	if !ok {
		b.log.Debug("response without caller", "id", f.ID)
		return
	}
	ch <- f
}

func (b *Bridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Call sends a request and decodes the answer into out.
func (b *Bridge) Call(ctx context.Context, name string, params, out any) error {
	id := b.nextID.Add(1)
	ch := make(chan *Frame, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending[id] = ch
	timeout := b.timeout
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	f, err := newFrame(KindRequest, name, id, params)
	if err != nil {
		return err
	}
	if err := b.codec.Write(f); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return errors.Newf("%s: %s", name, resp.Error)
		}
		if out == nil {
			return nil
		}
		return resp.Decode(out)
	case <-timer.C:
		return errors.Wrapf(ErrTimeout, "%s after %s", name, timeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// Notify sends a command. Failures are logged; commands have no answer to
// report them to.
func (b *Bridge) Notify(name string, payload any) {
	f, err := newFrame(KindCommand, name, 0, payload)
	if err == nil {
		err = b.codec.Write(f)
	}
	if err != nil {
		b.log.Error("command failed", "name", name, "err", err)
	}
}

// Respond answers a host request.
func (b *Bridge) Respond(req *Frame, payload any, failure error) {
	f, err := newFrame(KindResponse, req.Name, req.ID, payload)
	if err != nil {
		f, failure = &Frame{Kind: KindResponse, Name: req.Name, ID: req.ID}, err
	}
	if failure != nil {
		f.Error = failure.Error()
	}
	if err := b.codec.Write(f); err != nil {
		b.log.Error("response failed", "name", req.Name, "err", err)
	}
}

func (b *Bridge) ShowPopup(col int, items []*complete.Item, preselect int) {
	b.Notify("show_popup", ShowPopupCommand{Col: col, Items: items, Preselect: preselect})
}

func (b *Bridge) HidePopup()                    { b.Notify("hide_popup", nil) }
func (b *Bridge) MapDigits()                    { b.Notify("map_digits", nil) }
func (b *Bridge) UnmapDigits()                  { b.Notify("unmap_digits", nil) }
func (b *Bridge) SetLine(lnum int, line string) { b.Notify("set_line", SetLineCommand{Lnum: lnum, Line: line}) }
func (b *Bridge) MoveCursor(lnum, col int)      { b.Notify("cursor", CursorCommand{Lnum: lnum, Col: col}) }
func (b *Bridge) SetCompleteOpt(value string) {
	b.Notify("set_option", OptionCommand{Name: "completeopt", Value: value})
}

func (b *Bridge) ShowMessage(msg, level string) {
	b.Notify("message", MessageCommand{Msg: msg, Level: level})
}

func (b *Bridge) CompleteOpt(ctx context.Context) (string, error) {
	var resp OptionResponse
	err := b.Call(ctx, "get_option", OptionRequest{Name: "completeopt"}, &resp)
	return resp.Value, err
}

func (b *Bridge) CursorState(ctx context.Context) (controller.CursorState, error) {
	var st controller.CursorState
	err := b.Call(ctx, "cursor_state", nil, &st)
	return st, err
}

// BufferState fetches the full text of a buffer.
func (b *Bridge) BufferState(ctx context.Context, bufnr int) (BufferEvent, error) {
	ev := BufferEvent{Bufnr: bufnr, End: -1}
	err := b.Call(ctx, "buffer_state", BufferStateRequest{Bufnr: bufnr}, &ev)
	return ev, err
}

func (b *Bridge) CreateBuffer(ctx context.Context) (int, error) {
	var resp BufnrResponse
	err := b.Call(ctx, "create_buffer", nil, &resp)
	return resp.Bufnr, err
}

func (b *Bridge) SetBufferLines(bufnr int, lines []string) {
	b.Notify("buf_set_lines", BufferLinesCommand{Bufnr: bufnr, Lines: lines})
}

func (b *Bridge) SetBufferOption(bufnr int, name string, value any) {
	b.Notify("buf_set_option", OptionCommand{Bufnr: bufnr, Name: name, Value: value})
}

func (b *Bridge) OpenFloat(ctx context.Context, bufnr int, cfg preview.FloatConfig) (int, error) {
	var resp WinidResponse
	err := b.Call(ctx, "float_open", FloatCommand{Bufnr: bufnr, FloatConfig: cfg}, &resp)
	return resp.Winid, err
}

func (b *Bridge) CloseFloat(winid int) {
	b.Notify("float_close", WinidResponse{Winid: winid})
}

// LanguageClient returns a client for the language server the host proxies
// under source.
func (b *Bridge) LanguageClient(source string) *LanguageClient {
	return &LanguageClient{bridge: b, source: source}
}

// LanguageClient forwards completion requests to a host side language server.
type LanguageClient struct {
	bridge *Bridge
	source string
}

func (c *LanguageClient) call(ctx context.Context, name string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	var raw []byte
	if err := c.bridge.Call(ctx, name, LSPRequest{Source: c.source, Params: body}, &raw); err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if out == nil || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decode %s", name)
}

func (c *LanguageClient) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "lsp_completion", params, &raw); err != nil {
		return nil, err
	}
	return decodeCompletion(raw)
}

// decodeCompletion accepts both result shapes of textDocument/completion.
func decodeCompletion(raw json.RawMessage) (*protocol.CompletionList, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []protocol.CompletionItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, errors.Wrap(err, "decode completion items")
		}
		return &protocol.CompletionList{Items: items}, nil
	}
	var list protocol.CompletionList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(err, "decode completion list")
	}
	return &list, nil
}

func (c *LanguageClient) ResolveCompletionItem(ctx context.Context, item *protocol.CompletionItem) (*protocol.CompletionItem, error) {
	var resolved protocol.CompletionItem
	var raw json.RawMessage
	if err := c.call(ctx, "lsp_resolve", item, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &resolved); err != nil {
		return nil, errors.Wrap(err, "decode resolved item")
	}
	return &resolved, nil
}

func (c *LanguageClient) ExecuteCommand(ctx context.Context, params *protocol.ExecuteCommandParams) error {
	return c.call(ctx, "lsp_execute", params, nil)
}
