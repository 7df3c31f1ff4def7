package controller

import (
	"context"
	"unicode/utf8"

	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/config"
	"github.com/bastiangx/popcomplete/pkg/preview"
)

// OnInsertCharPre records the character about to be inserted.
func (c *Controller) OnInsertCharPre(ch string) {
	c.lock(context.Background())
	defer c.mu.Unlock()
	now := c.now()
	c.mark = insertMark{ch: ch, ts: now}
	c.insertCharTs = now
}

// OnInsertEnter triggers on entering insert mode when configured to.
func (c *Controller) OnInsertEnter(ctx context.Context) {
	c.lock(ctx)
	defer c.mu.Unlock()
	if !c.cfg.TriggerAfterInsertEnter || c.activated {
		return
	}
	st, ok := c.cursorLocked(ctx)
	if !ok {
		return
	}
	doc := c.docs.Document(st.Bufnr)
	if doc == nil || !c.shouldTriggerLocked(doc, st.Pre()) {
		return
	}
	c.startLocked(ctx, optionAt(doc, st))
}

func (c *Controller) OnInsertLeave(bufnr int) {
	c.lock(context.Background())
	defer c.mu.Unlock()
	c.insertLeaveTs = c.now()
	c.mark = insertMark{}
	c.stopLocked()
}

// OnTextChangedInsert handles an edit made with the popup hidden.
func (c *Controller) OnTextChangedInsert(ctx context.Context, bufnr int) {
	c.lock(ctx)
	defer c.mu.Unlock()
	ch := c.takeMark()
	if !c.activated && ch == "" {
		return
	}
	st, ok := c.cursorLocked(ctx)
	if !ok || st.Bufnr != bufnr {
		return
	}
	if c.activated {
		c.textChangedLocked(ctx, st, ch)
		return
	}
	if utils.EndsWithSpace(st.Pre()) {
		return
	}
	doc := c.docs.Document(bufnr)
	if doc == nil || !c.shouldTriggerLocked(doc, st.Pre()) {
		return
	}
	c.startLocked(ctx, optionAt(doc, st))
}

// OnTextChangedPopup handles an edit made while the popup is visible. Popup
// navigation changes the buffer without a typed character; that is tracked
// as resolving and leaves the session alone.
func (c *Controller) OnTextChangedPopup(ctx context.Context) {
	c.lock(ctx)
	defer c.mu.Unlock()
	ch := c.takeMark()
	if !c.activated || c.session == nil {
		return
	}
	if ch == "" && c.doc != nil && c.doc.Version() == c.changedTick {
		c.isResolving = true
		return
	}
	c.isResolving = false
	session := c.session
	st, ok := c.cursorLocked(ctx)
	if !ok || !c.current(session) {
		return
	}
	opt := session.Option()
	if st.Bufnr != opt.Bufnr || st.Lnum != opt.Linenr {
		c.stopLocked()
		return
	}
	if delta := indentDelta(opt.Line, st.Line); delta != 0 {
		if !session.PatchIndent(delta, st.Line) {
			c.log.Debug("indent patch rejected", "delta", delta)
			c.stopLocked()
			return
		}
		c.log.Debug("indent patched", "delta", delta)
	}
	c.textChangedLocked(ctx, st, ch)
}

// textChangedLocked maps an edit onto the active session: commit, retrigger
// or narrow.
func (c *Controller) textChangedLocked(ctx context.Context, st CursorState, ch string) {
	opt := c.session.Option()
	if st.Bufnr != opt.Bufnr || st.Lnum != opt.Linenr {
		c.stopLocked()
		return
	}
	pre := st.Pre()
	if len(pre) < opt.Col || pre[:opt.Col] != opt.Line[:min(opt.Col, len(opt.Line))] {
		c.stopLocked()
		return
	}
	if ch == "" && pre == c.pretext {
		return
	}
	c.pretext = pre
	if ch != "" {
		if c.tryCommitLocked(st, ch) {
			return
		}
		if r, _ := utf8.DecodeRuneInString(ch); !c.doc.IsWord(r) && c.cfg.AutoTrigger != config.AutoTriggerNone {
			if tc := c.sources.TriggerCharacter(pre, c.doc.FileType()); tc != "" {
				next := optionAt(c.doc, st)
				next.TriggerCharacter = tc
				c.startLocked(ctx, next)
				return
			}
		}
	}
	c.resumeLocked(ctx, pre[opt.Col:], true, false)
}

// indentDelta returns the change of leading whitespace between two versions
// of a line.
func indentDelta(before, after string) int {
	return leadingSpace(after) - leadingSpace(before)
}

func leadingSpace(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return i
		}
	}
	return len(s)
}

// OnCompleteDone handles the host accepting an item. The session stops at
// once; the accept hook runs only when the editor still shows the word in
// insert mode after the settle delay.
func (c *Controller) OnCompleteDone(ctx context.Context, userData string) {
	c.lock(ctx)
	defer c.mu.Unlock()
	if userData == "" || c.session == nil {
		return
	}
	_, item := c.lookupLocked(userData)
	if item == nil {
		item = c.session.ResolveItem(userData)
	}
	if item == nil {
		c.log.Debug("accepted item not found", "user_data", userData)
		return
	}
	opt := c.session.Option()
	doc := c.doc
	settle := c.cfg.AcceptSettle()
	c.stopLocked()

	charTs, leaveTs := c.insertCharTs, c.insertLeaveTs
	c.recent.Add(opt.Bufnr, item.Word, c.now())

	var err error
	c.unlocked(func() {
		if err = c.sources.Resolve(ctx, item); err == nil {
			sleep(ctx, settle)
		}
	})
	if err != nil {
		c.log.Warn("resolve accepted item", "word", item.Word, "err", err)
		if ctx.Err() != nil {
			return
		}
	}
	if !c.insertCharTs.Equal(charTs) || !c.insertLeaveTs.Equal(leaveTs) {
		c.log.Debug("accept abandoned", "word", item.Word)
		return
	}
	st, ok := c.cursorLocked(ctx)
	if !ok || st.PumVisible || c.activated || !st.Insert() || st.Lnum != opt.Linenr || st.Bufnr != opt.Bufnr {
		return
	}
	if !hasSuffix(st.Pre(), item.Word) {
		return
	}
	c.unlocked(func() {
		if doc != nil {
			if err := doc.ForceSync(ctx); err != nil {
				c.log.Warn("sync after accept", "err", err)
			}
		}
		if err := c.sources.OnAccept(ctx, item, opt); err != nil {
			c.log.Warn("accept hook failed", "source", item.Source, "err", err)
		}
	})
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// OnPopupChanged updates the selection and the documentation preview. A nil
// item clears the selection.
func (c *Controller) OnPopupChanged(ctx context.Context, item *complete.Item, b preview.Bounding) {
	c.lock(ctx)
	defer c.mu.Unlock()
	if !c.activated {
		return
	}
	c.cancelResolveLocked()
	if item == nil || item.Word == "" {
		c.selection = Selection{}
		c.preview.Close()
		return
	}
	idx, orig := c.lookupLocked(item.UserData)
	c.selection = Selection{Index: min(max(idx, 0), len(c.items)), UserData: item.UserData}
	if orig == nil || !c.cfg.EnablePreview || c.freshMark() {
		return
	}

	docs := orig.Docs()
	session := c.session
	rctx, cancel := context.WithCancel(ctx)
	c.resolveCancel = cancel
	c.resolveGen++
	gen := c.resolveGen
	defer func() {
		if gen == c.resolveGen {
			c.resolveCancel = nil
		}
		cancel()
	}()
	if len(docs) == 0 {
		var err error
		c.unlocked(func() { err = c.sources.Resolve(rctx, orig) })
		if rctx.Err() != nil || gen != c.resolveGen || !c.current(session) {
			return
		}
		if err != nil {
			c.log.Warn("resolve selected item", "word", orig.Word, "err", err)
		}
		docs = orig.Docs()
	}
	if len(docs) == 0 {
		c.preview.Close()
		return
	}

	var err error
	c.unlocked(func() { err = c.preview.Show(rctx, docs, b) })
	if err != nil && rctx.Err() == nil {
		c.log.Warn("preview", "err", err)
	}
	if !c.current(session) {
		c.preview.Close()
	}
}

// freshMark reports whether a typed character is pending, in which case the
// selection is about to be replaced.
func (c *Controller) freshMark() bool {
	return c.mark.ch != "" && c.now().Sub(c.mark.ts) <= insertMarkTTL
}

// OnBufUnload ends the session owning bufnr and drops per-buffer provider state.
func (c *Controller) OnBufUnload(bufnr int) {
	c.lock(context.Background())
	if c.session != nil && c.session.Option().Bufnr == bufnr {
		c.stopLocked()
	}
	c.mu.Unlock()
	c.sources.Forget(bufnr)
}

func (c *Controller) cursorLocked(ctx context.Context) (CursorState, bool) {
	var st CursorState
	var err error
	c.unlocked(func() { st, err = c.host.CursorState(ctx) })
	if err != nil {
		c.log.Warn("cursor state", "err", err)
		return st, false
	}
	return st, true
}

// Trigger starts a session at the cursor on request, optionally limited to
// one source. Trigger policy is not consulted.
func (c *Controller) Trigger(ctx context.Context, source string) {
	c.lock(ctx)
	defer c.mu.Unlock()
	st, ok := c.cursorLocked(ctx)
	if !ok {
		return
	}
	doc := c.docs.Document(st.Bufnr)
	if doc == nil {
		return
	}
	opt := optionAt(doc, st)
	opt.Source = source
	c.startLocked(ctx, opt)
}
