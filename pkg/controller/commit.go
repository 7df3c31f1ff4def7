package controller

import (
	"unicode/utf8"
)

// tryCommitLocked finalizes the highlighted item when ch is one of its
// commit characters. The line is rewritten directly so the host never sees
// an accept.
func (c *Controller) tryCommitLocked(st CursorState, ch string) bool {
	if !c.cfg.AcceptOnCommitCharacter || len(c.items) == 0 {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(ch); c.doc == nil || c.doc.IsWord(r) {
		return false
	}
	item := c.items[0]
	if _, sel := c.lookupLocked(c.selection.UserData); sel != nil {
		item = sel
	}
	if !c.sources.ShouldCommit(item, ch) {
		return false
	}

	opt := c.session.Option()
	cursor := min(max(st.Col-1, 0), len(st.Line))
	if opt.Col > cursor {
		return false
	}
	line := st.Line[:opt.Col] + item.Word + ch + st.Line[cursor:]
	c.log.Debug("commit", "word", item.Word, "char", ch)
	c.stopLocked()
	c.host.SetLine(st.Lnum, line)
	c.host.MoveCursor(st.Lnum, opt.Col+len(item.Word)+len(ch)+1)
	return true
}
