package controller

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/config"
	"github.com/bastiangx/popcomplete/pkg/preview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type popup struct {
	col       int
	items     []*complete.Item
	preselect int
}

type fakeHost struct {
	mu          sync.Mutex
	popups      []popup
	hides       int
	lines       map[int]string
	cursorMoves [][2]int
	opts        []string
	messages    []string
	mapped      int
	unmapped    int
	cursor      CursorState
	completeOpt string
}

func newFakeHost() *fakeHost {
	return &fakeHost{lines: map[int]string{}, completeOpt: "menu,preview"}
}

func (h *fakeHost) ShowPopup(col int, items []*complete.Item, preselect int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.popups = append(h.popups, popup{col: col, items: items, preselect: preselect})
}

func (h *fakeHost) HidePopup()                    { h.mu.Lock(); h.hides++; h.mu.Unlock() }
func (h *fakeHost) MapDigits()                    { h.mu.Lock(); h.mapped++; h.mu.Unlock() }
func (h *fakeHost) UnmapDigits()                  { h.mu.Lock(); h.unmapped++; h.mu.Unlock() }
func (h *fakeHost) SetLine(lnum int, line string) { h.mu.Lock(); h.lines[lnum] = line; h.mu.Unlock() }
func (h *fakeHost) MoveCursor(lnum, col int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursorMoves = append(h.cursorMoves, [2]int{lnum, col})
}

func (h *fakeHost) SetCompleteOpt(value string) { h.mu.Lock(); h.opts = append(h.opts, value); h.mu.Unlock() }
func (h *fakeHost) ShowMessage(msg, level string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, level+": "+msg)
}

func (h *fakeHost) CompleteOpt(context.Context) (string, error) { return h.completeOpt, nil }
func (h *fakeHost) CursorState(context.Context) (CursorState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor, nil
}

func (h *fakeHost) setCursor(st CursorState) { h.mu.Lock(); h.cursor = st; h.mu.Unlock() }
func (h *fakeHost) popupCount() int          { h.mu.Lock(); defer h.mu.Unlock(); return len(h.popups) }

func (h *fakeHost) lastPopup(t *testing.T) popup {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.popups, "no popup shown")
	return h.popups[len(h.popups)-1]
}

type fakeDoc struct {
	mu      sync.Mutex
	lines   []string
	version int
	paused  bool
	syncs   int
}

func (d *fakeDoc) Bufnr() int         { return 1 }
func (d *fakeDoc) FileType() string   { return "text" }
func (d *fakeDoc) IsWord(r rune) bool { return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' }
func (d *fakeDoc) Version() int       { d.mu.Lock(); defer d.mu.Unlock(); return d.version }
func (d *fakeDoc) Lines() []string    { d.mu.Lock(); defer d.mu.Unlock(); return d.lines }
func (d *fakeDoc) SetPaused(p bool)   { d.mu.Lock(); d.paused = p; d.mu.Unlock() }
func (d *fakeDoc) Line(idx int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.lines) {
		return ""
	}
	return d.lines[idx]
}

func (d *fakeDoc) ForceSync(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncs++
	return nil
}

func (d *fakeDoc) setLine(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = []string{line}
	d.version++
}

type workspace map[int]complete.Document

func (w workspace) Document(bufnr int) complete.Document { return w[bufnr] }

type fakeSource struct {
	name       string
	incomplete bool
	words      func(input string) []string
	calls      atomic.Int32
	lastCtx    atomic.Value

	// With hold set, every call after the first signals holding and waits
	// for hold to close.
	hold    chan struct{}
	holding chan struct{}
}

func (s *fakeSource) Name() string                { return s.name }
func (s *fakeSource) Priority() int               { return 50 }
func (s *fakeSource) FileTypes() []string         { return nil }
func (s *fakeSource) TriggerCharacters() []string { return []string{"."} }
func (s *fakeSource) Resolve(context.Context, *complete.Item) error {
	return nil
}
func (s *fakeSource) ShouldCommit(*complete.Item, string) bool { return false }
func (s *fakeSource) OnAccept(context.Context, *complete.Item, complete.Option) error {
	return nil
}

func (s *fakeSource) Provide(ctx context.Context, opt complete.Option) (*complete.Result, error) {
	n := s.calls.Add(1)
	s.lastCtx.Store(ctx)
	if s.hold != nil && n > 1 {
		s.holding <- struct{}{}
		select {
		case <-s.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	res := &complete.Result{IsIncomplete: s.incomplete}
	for _, w := range s.words(opt.Input) {
		res.Items = append(res.Items, &complete.Item{Word: w})
	}
	return res, nil
}

func fixedWords(words ...string) func(string) []string {
	return func(string) []string { return words }
}

type fakeSources struct {
	srcs         []complete.Source
	commit       map[string]string
	docs         map[string]string
	resolveDelay time.Duration
	accepts      atomic.Int32
	forgotten    []int
}

func (f *fakeSources) CompleteSources(complete.Option) []complete.Source { return f.srcs }
func (f *fakeSources) TriggerCharacter(pre, _ string) string {
	if strings.HasSuffix(pre, ".") {
		return "."
	}
	return ""
}

func (f *fakeSources) ShouldCommit(item *complete.Item, ch string) bool {
	return strings.Contains(f.commit[item.Word], ch)
}

func (f *fakeSources) Resolve(ctx context.Context, item *complete.Item) error {
	if f.resolveDelay > 0 {
		select {
		case <-time.After(f.resolveDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if doc, ok := f.docs[item.Word]; ok {
		item.Documentation = []complete.Documentation{{Kind: complete.DocPlainText, Content: doc}}
	}
	return nil
}

func (f *fakeSources) OnAccept(context.Context, *complete.Item, complete.Option) error {
	f.accepts.Add(1)
	return nil
}

func (f *fakeSources) Forget(bufnr int) { f.forgotten = append(f.forgotten, bufnr) }

type fakePreview struct {
	mu     sync.Mutex
	shown  [][]complete.Documentation
	closes int
	delay  time.Duration
}

func (p *fakePreview) Show(ctx context.Context, docs []complete.Documentation, _ preview.Bounding) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, docs)
	return nil
}

func (p *fakePreview) Close() { p.mu.Lock(); p.closes++; p.mu.Unlock() }

type fixture struct {
	ctl  *Controller
	host *fakeHost
	doc  *fakeDoc
	src  *fakeSource
	reg  *fakeSources
	prev *fakePreview
}

func testConfig() config.CompleteConfig {
	cfg := config.DefaultConfig().Complete
	cfg.LocalityBonus = false
	cfg.IncompleteSettleMs = 1
	cfg.AcceptSettleMs = 5
	return cfg
}

func newFixture(t *testing.T, cfg config.CompleteConfig, line string, src *fakeSource) *fixture {
	t.Helper()
	f := &fixture{
		host: newFakeHost(),
		doc:  &fakeDoc{lines: []string{line}, version: 1},
		src:  src,
		prev: &fakePreview{},
	}
	f.reg = &fakeSources{srcs: []complete.Source{src}}
	f.ctl = New(cfg, f.host, workspace{1: f.doc}, f.reg, f.prev, nil)
	return f
}

func (f *fixture) start(t *testing.T, line string, col int) {
	t.Helper()
	f.ctl.StartCompletion(context.Background(), complete.Option{
		Bufnr:  1,
		Linenr: 1,
		Col:    col,
		Colnr:  len(line) + 1,
		Line:   line,
		Input:  line[col:],
	})
}

func shownWords(p popup) []string {
	out := make([]string, len(p.items))
	for i, it := range p.items {
		out[i] = it.Word
	}
	return out
}

func TestStart_ShowsAndFiltersLocally(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo", "food", "fox")})
	f.start(t, "fo", 0)

	p := f.host.lastPopup(t)
	assert.Equal(t, 1, p.col)
	assert.ElementsMatch(t, []string{"foo", "food", "fox"}, shownWords(p))
	assert.Equal(t, -1, p.preselect)
	assert.True(t, f.ctl.Status().Activated)
	assert.True(t, f.doc.paused)
	assert.Equal(t, []string{"menuone,noinsert,noselect"}, f.host.opts)

	f.ctl.ResumeCompletion(context.Background(), "foo", true)
	assert.Equal(t, []string{"foo", "food"}, shownWords(f.host.lastPopup(t)))
	assert.EqualValues(t, 1, f.src.calls.Load(), "narrowing must not query providers")
}

func TestResume_StopsOnAbandonedSearch(t *testing.T) {
	cases := []struct {
		name   string
		search string
		ok     bool
	}{
		{"space", "f ", true},
		{"shorter than trigger", "f", true},
		{"missing", "", false},
		{"different prefix", "ba", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo", "food", "fox")})
			f.start(t, "fo", 0)
			shown := len(f.host.popups)

			f.ctl.ResumeCompletion(context.Background(), tc.search, tc.ok)
			assert.False(t, f.ctl.Status().Activated)
			assert.Equal(t, 1, f.host.hides)
			assert.Len(t, f.host.popups, shown, "no items after stop")
			assert.False(t, f.doc.paused)
			assert.Equal(t, "menu,preview", f.host.opts[len(f.host.opts)-1], "completeopt restored")
		})
	}
}

func TestResume_EmptyFilterStops(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.start(t, "fo", 0)
	f.ctl.ResumeCompletion(context.Background(), "fox", true)
	assert.False(t, f.ctl.Status().Activated)
}

func TestResume_RefetchesIncompleteSource(t *testing.T) {
	src := &fakeSource{name: "lsp", incomplete: true, words: func(input string) []string {
		return []string{input + "1", input + "2"}
	}}
	f := newFixture(t, testConfig(), "a", src)
	f.start(t, "a", 0)
	assert.Equal(t, []string{"a1", "a2"}, shownWords(f.host.lastPopup(t)))

	f.doc.setLine("ab")
	f.ctl.ResumeCompletion(context.Background(), "ab", true)

	assert.Equal(t, []string{"ab1", "ab2"}, shownWords(f.host.lastPopup(t)))
	assert.EqualValues(t, 2, src.calls.Load())
	assert.Equal(t, 1, f.doc.syncs, "document flushed before refetch")
}

func holdingSource() *fakeSource {
	return &fakeSource{
		name:       "lsp",
		incomplete: true,
		words:      func(input string) []string { return []string{input + "1", input + "2"} },
		hold:       make(chan struct{}),
		holding:    make(chan struct{}, 4),
	}
}

func TestResume_TypingDuringRefetch(t *testing.T) {
	src := holdingSource()
	f := newFixture(t, testConfig(), "a", src)
	f.start(t, "a", 0)
	ctx := context.Background()

	f.doc.setLine("ab")
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctl.ResumeCompletion(ctx, "ab", true)
	}()
	<-src.holding

	f.doc.setLine("abc")
	f.ctl.ResumeCompletion(ctx, "abc", true)
	close(src.hold)
	<-done

	assert.True(t, f.ctl.Status().Activated)
	assert.Equal(t, []string{"abc1", "abc2"}, shownWords(f.host.lastPopup(t)))
	assert.Equal(t, "abc", f.ctl.Status().Input)
	assert.EqualValues(t, 3, src.calls.Load(), "refetched for the latest input")
}

func TestResume_DocumentMovedDropsRefetch(t *testing.T) {
	src := holdingSource()
	f := newFixture(t, testConfig(), "a", src)
	f.start(t, "a", 0)
	ctx := context.Background()

	f.doc.setLine("ab")
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctl.ResumeCompletion(ctx, "ab", true)
	}()
	<-src.holding
	f.doc.setLine("ab")
	close(src.hold)
	<-done

	assert.Equal(t, []string{"a1", "a2"}, shownWords(f.host.lastPopup(t)), "stale page dropped")
	assert.True(t, f.ctl.Status().Activated)

	f.ctl.ResumeCompletion(ctx, "ab", true)
	assert.Equal(t, []string{"ab1", "ab2"}, shownWords(f.host.lastPopup(t)))
	assert.EqualValues(t, 3, src.calls.Load())
}

func TestStart_NoDocumentOrSourcesIsNoop(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.ctl.StartCompletion(context.Background(), complete.Option{Bufnr: 7, Linenr: 1, Line: "fo", Colnr: 3, Input: "fo"})
	assert.False(t, f.ctl.Status().Activated)

	f.reg.srcs = nil
	f.start(t, "fo", 0)
	assert.False(t, f.ctl.Status().Activated)
	assert.Empty(t, f.host.popups)
	assert.Empty(t, f.host.messages)
}

func TestStart_FetchErrorIsSurfaced(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.ctl.StartCompletion(context.Background(), complete.Option{Bufnr: 1, Linenr: 1, Col: 5, Colnr: 3, Line: "fo"})

	assert.False(t, f.ctl.Status().Activated)
	require.Len(t, f.host.messages, 1)
	assert.Contains(t, f.host.messages[0], "completion failed")
	assert.Equal(t, 1, f.host.hides)
}

func TestStop_CancelsTokensAndClosesPreview(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.start(t, "fo", 0)
	sctx := f.src.lastCtx.Load().(context.Context)
	require.NoError(t, sctx.Err())

	f.ctl.Stop()
	assert.Error(t, sctx.Err())
	assert.Equal(t, 1, f.prev.closes)
	assert.Equal(t, 1, f.host.hides)
	assert.False(t, f.doc.paused)

	f.ctl.Stop()
	assert.Equal(t, 1, f.host.hides, "stop is idempotent")
}

func TestStart_KeepCompleteOpt(t *testing.T) {
	cfg := testConfig()
	cfg.KeepCompleteOpt = true
	cfg.NoSelectFirst = false
	f := newFixture(t, cfg, "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.start(t, "fo", 0)
	f.ctl.Stop()
	assert.Empty(t, f.host.opts)
}

func TestPopupChanged_SelectionStaysInRange(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.start(t, "fo", 0)
	items := f.host.lastPopup(t).items
	ctx := context.Background()

	f.ctl.OnPopupChanged(ctx, items[1], preview.Bounding{})
	assert.Equal(t, 2, f.ctl.Selection().Index)

	f.ctl.OnPopupChanged(ctx, &complete.Item{Word: "zzz", UserData: "unknown"}, preview.Bounding{})
	assert.Equal(t, 0, f.ctl.Selection().Index)

	f.ctl.OnPopupChanged(ctx, nil, preview.Bounding{})
	assert.Equal(t, Selection{}, f.ctl.Selection())
}

func TestPopupChanged_ResolvesDocsIntoPreview(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePreview = true
	f := newFixture(t, cfg, "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.reg.docs = map[string]string{"foo": "a foo"}
	f.start(t, "fo", 0)
	items := f.host.lastPopup(t).items

	f.ctl.OnPopupChanged(context.Background(), items[0], preview.Bounding{Row: 1, Col: 1, Width: 10, Height: 2})
	require.Len(t, f.prev.shown, 1)
	assert.Equal(t, "a foo", f.prev.shown[0][0].Content)

	f.ctl.OnPopupChanged(context.Background(), items[1], preview.Bounding{})
	assert.Len(t, f.prev.shown, 1)
	assert.Equal(t, 1, f.prev.closes, "no docs closes the preview")
}

func TestPopupChanged_CancelsPreviousResolve(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePreview = true
	f := newFixture(t, cfg, "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.reg.docs = map[string]string{"foo": "a foo", "food": "a food"}
	f.reg.resolveDelay = 50 * time.Millisecond
	f.start(t, "fo", 0)
	items := f.host.lastPopup(t).items
	require.Equal(t, "foo", items[0].Word)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctl.OnPopupChanged(ctx, items[0], preview.Bounding{})
	}()
	time.Sleep(20 * time.Millisecond)
	f.ctl.OnPopupChanged(ctx, items[1], preview.Bounding{})
	<-done

	f.prev.mu.Lock()
	defer f.prev.mu.Unlock()
	require.Len(t, f.prev.shown, 1)
	assert.Equal(t, "a food", f.prev.shown[0][0].Content)
}

func TestPopupChanged_NewSelectionCancelsPendingPreview(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePreview = true
	f := newFixture(t, cfg, "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.reg.docs = map[string]string{"foo": "a foo"}
	f.prev.delay = 50 * time.Millisecond
	f.start(t, "fo", 0)
	items := f.host.lastPopup(t).items
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctl.OnPopupChanged(ctx, items[0], preview.Bounding{})
	}()
	time.Sleep(20 * time.Millisecond)
	f.ctl.OnPopupChanged(ctx, items[1], preview.Bounding{})
	<-done

	f.prev.mu.Lock()
	defer f.prev.mu.Unlock()
	assert.Empty(t, f.prev.shown, "superseded preview never shown")
	assert.GreaterOrEqual(t, f.prev.closes, 1)
}

func TestAdmit_HandlersRunInArrivalOrder(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.start(t, "fo", 0)
	item := f.host.lastPopup(t).items[0]
	shown := f.host.popupCount()

	first := f.ctl.Admit(context.Background())
	second := f.ctl.Admit(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctl.ResumeCompletion(second, "foo", true)
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, shown, f.host.popupCount(), "later event waits its turn")

	f.ctl.OnCompleteDone(first, item.UserData)
	<-done

	assert.False(t, f.ctl.Status().Activated)
	assert.Equal(t, shown, f.host.popupCount(), "stale resume after accept is ignored")
}

func TestCompleteDone_RunsAcceptHook(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.start(t, "fo", 0)
	item := f.host.lastPopup(t).items[0]
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 4, Line: "foo"})

	f.ctl.OnCompleteDone(context.Background(), item.UserData)

	assert.False(t, f.ctl.Status().Activated)
	assert.EqualValues(t, 1, f.reg.accepts.Load())
	assert.Equal(t, 1, f.doc.syncs)
	assert.Positive(t, f.ctl.recent.Score(1, "foo", time.Now()))
}

func TestCompleteDone_SkippedAfterInsertLeave(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.reg.resolveDelay = 80 * time.Millisecond
	f.start(t, "fo", 0)
	item := f.host.lastPopup(t).items[0]
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 4, Line: "foo"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctl.OnCompleteDone(context.Background(), item.UserData)
	}()
	time.Sleep(20 * time.Millisecond)
	f.ctl.OnInsertLeave(1)
	<-done

	assert.Zero(t, f.reg.accepts.Load())
	assert.Zero(t, f.doc.syncs)
}

func TestCompleteDone_SkippedWhenWordMissing(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.start(t, "fo", 0)
	item := f.host.lastPopup(t).items[0]
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 3, Line: "fo"})

	f.ctl.OnCompleteDone(context.Background(), item.UserData)
	assert.Zero(t, f.reg.accepts.Load())
}

func TestTextChanged_CommitCharacter(t *testing.T) {
	cfg := testConfig()
	cfg.AcceptOnCommitCharacter = true
	f := newFixture(t, cfg, "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.reg.commit = map[string]string{"foo": ".("}
	f.start(t, "fo", 0)
	items := f.host.lastPopup(t).items
	ctx := context.Background()
	f.ctl.OnPopupChanged(ctx, items[0], preview.Bounding{})
	require.Equal(t, "foo", items[0].Word)

	f.ctl.OnInsertCharPre(".")
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 4, Line: "fo."})
	f.ctl.OnTextChangedInsert(ctx, 1)

	assert.Equal(t, "foo.", f.host.lines[1])
	assert.Equal(t, [][2]int{{1, 5}}, f.host.cursorMoves)
	assert.False(t, f.ctl.Status().Activated)
	assert.Zero(t, f.reg.accepts.Load())
}

func TestTextChanged_StartsWhenIdle(t *testing.T) {
	f := newFixture(t, testConfig(), "x fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	ctx := context.Background()

	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 5, Line: "x fo"})
	f.ctl.OnTextChangedInsert(ctx, 1)
	assert.False(t, f.ctl.Status().Activated, "no typed character")

	f.ctl.OnInsertCharPre("o")
	f.ctl.OnTextChangedInsert(ctx, 1)
	require.True(t, f.ctl.Status().Activated)
	assert.Equal(t, 3, f.host.lastPopup(t).col)

	f.ctl.OnInsertCharPre("o")
	f.doc.setLine("x foo")
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 6, Line: "x foo"})
	f.ctl.OnTextChangedInsert(ctx, 1)
	assert.Equal(t, []string{"foo", "food"}, shownWords(f.host.lastPopup(t)))
	assert.EqualValues(t, 1, f.src.calls.Load())

	f.ctl.OnInsertCharPre(" ")
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 7, Line: "x foo "})
	f.ctl.OnTextChangedInsert(ctx, 1)
	assert.False(t, f.ctl.Status().Activated)
}

func TestTextChangedPopup_NavigationIsResolving(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.start(t, "fo", 0)

	f.ctl.OnTextChangedPopup(context.Background())
	st := f.ctl.Status()
	assert.True(t, st.Activated)
	assert.True(t, st.Resolving)
}

func TestTextChangedPopup_PatchesIndent(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.start(t, "fo", 0)

	f.ctl.OnInsertCharPre("o")
	f.doc.setLine("  foo")
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 6, Line: "  foo", PumVisible: true})
	f.ctl.OnTextChangedPopup(context.Background())

	p := f.host.lastPopup(t)
	assert.Equal(t, 3, p.col)
	assert.Equal(t, []string{"foo", "food"}, shownWords(p))
}

func TestShow_NumberSelect(t *testing.T) {
	cfg := testConfig()
	cfg.NumberSelect = true
	f := newFixture(t, cfg, "fo", &fakeSource{name: "words", words: fixedWords("foo", "food")})
	f.start(t, "fo", 0)

	p := f.host.lastPopup(t)
	assert.True(t, strings.HasPrefix(p.items[0].Abbr, "1 "))
	assert.True(t, strings.HasPrefix(p.items[1].Abbr, "2 "))
	assert.Equal(t, 1, f.host.mapped)

	f.ctl.ResumeCompletion(context.Background(), "foo", true)
	assert.Equal(t, 1, f.host.mapped, "digits mapped once per session")

	f.ctl.Stop()
	assert.Equal(t, 1, f.host.unmapped)
}

func TestShouldTrigger(t *testing.T) {
	doc := &fakeDoc{}
	cases := []struct {
		mode   string
		minLen int
		pre    string
		want   bool
	}{
		{config.AutoTriggerAlways, 1, "f", true},
		{config.AutoTriggerAlways, 3, "fo", false},
		{config.AutoTriggerAlways, 3, "x foo", true},
		{config.AutoTriggerAlways, 1, "foo ", false},
		{config.AutoTriggerAlways, 1, "", false},
		{config.AutoTriggerTrigger, 1, "foo", false},
		{config.AutoTriggerTrigger, 1, "foo.", true},
		{config.AutoTriggerNone, 1, "foo.", false},
	}
	for _, tc := range cases {
		cfg := testConfig()
		cfg.AutoTrigger = tc.mode
		cfg.MinTriggerInputLength = tc.minLen
		c := New(cfg, newFakeHost(), workspace{}, &fakeSources{}, &fakePreview{}, nil)
		assert.Equal(t, tc.want, c.ShouldTrigger(doc, tc.pre), "%s %q", tc.mode, tc.pre)
	}
}

func TestBufUnload(t *testing.T) {
	f := newFixture(t, testConfig(), "fo", &fakeSource{name: "words", words: fixedWords("foo")})
	f.start(t, "fo", 0)
	f.ctl.OnBufUnload(2)
	assert.True(t, f.ctl.Status().Activated)

	f.ctl.OnBufUnload(1)
	assert.False(t, f.ctl.Status().Activated)
	assert.Equal(t, []int{2, 1}, f.reg.forgotten)
}

func TestTrigger_ManualStart(t *testing.T) {
	cfg := testConfig()
	cfg.AutoTrigger = config.AutoTriggerNone
	f := newFixture(t, cfg, "x f", &fakeSource{name: "words", words: fixedWords("foo", "bar")})
	f.host.setCursor(CursorState{Mode: "i", Bufnr: 1, Lnum: 1, Col: 4, Line: "x f"})

	f.ctl.Trigger(context.Background(), "words")
	require.True(t, f.ctl.Status().Activated)
	p := f.host.lastPopup(t)
	assert.Equal(t, 3, p.col)
	assert.Equal(t, []string{"foo"}, shownWords(p))
}
