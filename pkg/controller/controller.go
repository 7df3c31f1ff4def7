// Package controller drives completion sessions from host editor events.
//
// A Controller is either idle or owns exactly one session. Handlers hold the
// controller lock except while waiting on providers, resolves, settle delays
// and host round trips; after each wait they re-check that the session they
// started with is still the current one before acting.
package controller

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bastiangx/popcomplete/internal/logger"
	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/config"
	"github.com/charmbracelet/log"
)

// insertMarkTTL is how long a typed character counts as a fresh keystroke.
const insertMarkTTL = 100 * time.Millisecond

type insertMark struct {
	ch string
	ts time.Time
}

// Selection is the highlighted entry of the last shown list. Index is
// 1-based; 0 means nothing is highlighted.
type Selection struct {
	Index    int
	UserData string
}

// Status is a snapshot for diagnostics.
type Status struct {
	Activated bool   `msgpack:"activated"`
	Session   string `msgpack:"session,omitempty"`
	Input     string `msgpack:"input"`
	Items     int    `msgpack:"items"`
	Selection int    `msgpack:"selection"`
	Resolving bool   `msgpack:"resolving"`
}

type Controller struct {
	host    Host
	docs    Workspace
	sources Sources
	preview Previewer
	recent  *complete.RecencyTable
	log     *log.Logger
	now     func() time.Time
	turns   *admission

	mu  sync.Mutex
	cfg config.CompleteConfig

	activated   bool
	session     *complete.Complete
	doc         complete.Document
	input       string
	fetching    bool
	items       []*complete.Item
	changedTick int
	selection   Selection
	isResolving bool
	pretext     string

	mark          insertMark
	insertCharTs  time.Time
	insertLeaveTs time.Time

	resolveCancel context.CancelFunc
	resolveGen    int

	savedCompleteOpt *string
	digitsMapped     bool
}

func New(cfg config.CompleteConfig, host Host, docs Workspace, srcs Sources, prev Previewer, recent *complete.RecencyTable) *Controller {
	if recent == nil {
		recent = complete.NewRecencyTable()
	}
	return &Controller{
		host:    host,
		docs:    docs,
		sources: srcs,
		preview: prev,
		recent:  recent,
		cfg:     cfg,
		log:     logger.New("controller"),
		now:     time.Now,
		turns:   newAdmission(),
	}
}

// SetConfig applies a reloaded config. A running session keeps going.
func (c *Controller) SetConfig(cfg config.CompleteConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Activated: c.activated,
		Input:     c.input,
		Items:     len(c.items),
		Selection: c.selection.Index,
		Resolving: c.isResolving,
	}
	if c.session != nil {
		st.Session = c.session.ID
	}
	return st
}

// Selection returns the current selection.
func (c *Controller) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection
}

// unlocked runs fn with the controller lock released.
func (c *Controller) unlocked(fn func()) {
	c.mu.Unlock()
	defer c.mu.Lock()
	fn()
}

// current reports whether s is still the live session.
func (c *Controller) current(s *complete.Complete) bool {
	return c.activated && c.session == s && !s.Canceled()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ShouldTrigger applies the auto trigger policy to the text before the cursor.
func (c *Controller) ShouldTrigger(doc complete.Document, pre string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldTriggerLocked(doc, pre)
}

func (c *Controller) shouldTriggerLocked(doc complete.Document, pre string) bool {
	if c.cfg.AutoTrigger == config.AutoTriggerNone || pre == "" || utils.EndsWithSpace(pre) {
		return false
	}
	if c.sources.TriggerCharacter(pre, doc.FileType()) != "" {
		return true
	}
	if c.cfg.AutoTrigger != config.AutoTriggerAlways {
		return false
	}
	word := utils.WordBefore(pre, doc.IsWord)
	return word != "" && utf8.RuneCountInString(word) >= c.cfg.MinTriggerInputLength
}

// optionAt builds the trigger context for the cursor in st.
func optionAt(doc complete.Document, st CursorState) complete.Option {
	pre := st.Pre()
	word := utils.WordBefore(pre, doc.IsWord)
	return complete.Option{
		Bufnr:    doc.Bufnr(),
		Linenr:   st.Lnum,
		Col:      len(pre) - len(word),
		Colnr:    len(pre) + 1,
		Line:     st.Line,
		Input:    word,
		FileType: doc.FileType(),
	}
}

// StartCompletion opens a session for opt, replacing any running one.
func (c *Controller) StartCompletion(ctx context.Context, opt complete.Option) {
	c.lock(ctx)
	defer c.mu.Unlock()
	c.startLocked(ctx, opt)
}

func (c *Controller) startLocked(ctx context.Context, opt complete.Option) {
	doc := c.docs.Document(opt.Bufnr)
	if doc == nil {
		c.log.Debug("no document", "bufnr", opt.Bufnr)
		return
	}
	opt.FileType = doc.FileType()
	if opt.Source == "" && opt.Input == "" && opt.TriggerCharacter == "" && opt.Col <= len(opt.Line) {
		opt.TriggerCharacter = c.sources.TriggerCharacter(opt.Line[:opt.Col], opt.FileType)
	}
	srcs := c.sources.CompleteSources(opt)
	if len(srcs) == 0 {
		c.log.Debug("no sources", "filetype", opt.FileType, "source", opt.Source)
		return
	}
	if c.session != nil {
		c.session.Cancel()
		c.preview.Close()
	}
	if c.doc != nil && c.doc != doc {
		c.doc.SetPaused(false)
	}

	cfg := c.cfg
	session := complete.New(opt, doc, c.recent, srcs, complete.Config{
		MaxItems:         cfg.MaxItems,
		Timeout:          cfg.Timeout(),
		SnippetIndicator: cfg.SnippetIndicator,
		LocalityBonus:    cfg.LocalityBonus,
	})
	c.cancelResolveLocked()
	c.session = session
	c.activated = true
	c.isResolving = false
	c.doc = doc
	c.input = opt.Input
	c.items = nil
	c.selection = Selection{}
	c.fetching = true
	doc.SetPaused(true)
	c.log.Debug("start", "session", session.ID, "input", opt.Input, "trigger", opt.TriggerCharacter, "sources", session.SourceNames())

	if !cfg.KeepCompleteOpt {
		c.setCompleteOptLocked(ctx, session, cfg.NoSelectFirst)
		if !c.current(session) {
			return
		}
	}

	var items []*complete.Item
	var err error
	c.unlocked(func() { items, err = session.Fetch(ctx) })
	if !c.current(session) {
		return
	}
	c.fetching = false
	if err != nil {
		c.stopLocked()
		c.host.ShowMessage("completion failed: "+err.Error(), "error")
		c.log.Errorf("fetch failed: %+v", err)
		return
	}
	if len(items) == 0 {
		c.stopLocked()
		return
	}

	// A page may have moved the start column; searches typed while fetching
	// were computed against the old one.
	fetched := session.Option()
	if fetched.Col != opt.Col && fetched.Col <= opt.Col {
		c.input = fetched.Line[fetched.Col:opt.Col] + c.input
	}
	if c.input == fetched.Input {
		c.showLocked(fetched.Col, items)
		return
	}
	search := c.input
	c.input = fetched.Input
	c.resumeLocked(ctx, search, true, true)
}

func (c *Controller) setCompleteOptLocked(ctx context.Context, session *complete.Complete, noSelect bool) {
	if c.savedCompleteOpt == nil {
		var orig string
		var err error
		c.unlocked(func() { orig, err = c.host.CompleteOpt(ctx) })
		if err != nil {
			c.log.Warn("read completeopt", "err", err)
		} else if c.savedCompleteOpt == nil {
			c.savedCompleteOpt = &orig
		}
		if !c.current(session) {
			return
		}
	}
	value := "menuone,noinsert"
	if noSelect {
		value += ",noselect"
	}
	c.host.SetCompleteOpt(value)
}

// ResumeCompletion narrows the running session to search. ok=false stands
// for a missing search and stops the session.
func (c *Controller) ResumeCompletion(ctx context.Context, search string, ok bool) {
	c.lock(ctx)
	defer c.mu.Unlock()
	c.resumeLocked(ctx, search, ok, false)
}

func (c *Controller) resumeLocked(ctx context.Context, search string, ok, force bool) {
	session := c.session
	if session == nil || !c.current(session) {
		return
	}
	trigger := session.TriggerInput()
	if !ok || utils.HasWhitespace(search) || len(search) < len(trigger) || !strings.HasPrefix(search, trigger) {
		c.log.Debug("search abandoned", "search", search, "trigger", trigger)
		c.stopLocked()
		return
	}
	if search == c.input && !force {
		return
	}
	prev := c.input
	c.input = search
	if c.fetching {
		// applied when the running fetch returns
		return
	}

	var items []*complete.Item
	if session.IsIncomplete() {
		doc := c.doc
		settle := c.cfg.IncompleteSettle()
		c.fetching = true
		var err error
		c.unlocked(func() {
			if err = doc.ForceSync(ctx); err == nil {
				sleep(ctx, settle)
			}
		})
		if !c.current(session) {
			return
		}
		if ctx.Err() != nil {
			c.fetching = false
			return
		}
		if err != nil {
			c.log.Warn("sync before refetch", "err", err)
		}
		// keys typed while settling narrow the refetch
		search = c.input
		version := doc.Version()
		c.unlocked(func() { items = session.RefetchIncomplete(ctx, search) })
		if !c.current(session) {
			return
		}
		c.fetching = false
		if doc.Version() != version && c.input == search {
			// the page is stale; the next search for the same text fetches again
			c.log.Debug("document moved during refetch", "session", session.ID)
			c.input = prev
			return
		}
		if c.input != search {
			latest := c.input
			c.input = search
			c.resumeLocked(ctx, latest, true, true)
			return
		}
	} else {
		items = session.Filter(search)
	}

	if len(items) == 0 {
		c.stopLocked()
		return
	}
	c.showLocked(session.Option().Col, items)
}

// showLocked hands items to the host menu and resets the selection.
func (c *Controller) showLocked(col int, items []*complete.Item) {
	c.items = items
	c.selection = Selection{}
	if c.doc != nil {
		c.changedTick = c.doc.Version()
	}

	numbered := c.cfg.NumberSelect && !utils.IsNumeric(c.input)
	preselect := -1
	shown := make([]*complete.Item, len(items))
	for i, it := range items {
		cp := *it
		if cp.Abbr == "" {
			cp.Abbr = cp.Word
		}
		cp.Abbr = utils.TruncateWidth(cp.Abbr, c.cfg.LabelMaxLength)
		if numbered && i < 9 {
			cp.Abbr = strconv.Itoa(i+1) + " " + cp.Abbr
		}
		if preselect < 0 && it.Preselected() {
			preselect = i
		}
		shown[i] = &cp
	}
	if numbered && !c.digitsMapped {
		c.host.MapDigits()
		c.digitsMapped = true
	}
	c.host.ShowPopup(col+1, shown, preselect)
}

// Stop ends the session. It is safe to call when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if !c.activated && c.session == nil {
		return
	}
	c.activated = false
	c.cancelResolveLocked()
	c.preview.Close()
	c.items = nil
	c.selection = Selection{}
	c.input = ""
	c.fetching = false
	c.isResolving = false
	if c.session != nil {
		c.log.Debug("stop", "session", c.session.ID)
		c.session.Cancel()
		c.session = nil
	}
	if c.doc != nil {
		c.doc.SetPaused(false)
		c.doc = nil
	}
	if c.digitsMapped {
		c.host.UnmapDigits()
		c.digitsMapped = false
	}
	if c.savedCompleteOpt != nil {
		if !c.cfg.KeepCompleteOpt {
			c.host.SetCompleteOpt(*c.savedCompleteOpt)
		}
		c.savedCompleteOpt = nil
	}
	c.host.HidePopup()
}

func (c *Controller) cancelResolveLocked() {
	if c.resolveCancel != nil {
		c.resolveCancel()
		c.resolveCancel = nil
	}
}

// takeMark returns the pending typed character when it is fresh and
// clears it.
func (c *Controller) takeMark() string {
	m := c.mark
	c.mark = insertMark{}
	if m.ch == "" || c.now().Sub(m.ts) > insertMarkTTL {
		return ""
	}
	return m.ch
}

func (c *Controller) lookupLocked(userData string) (int, *complete.Item) {
	if userData == "" {
		return 0, nil
	}
	for i, it := range c.items {
		if it.UserData == userData {
			return i + 1, it
		}
	}
	return 0, nil
}
