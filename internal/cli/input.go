// Package cli runs completion sessions from the terminal for debugging sources
// without an editor attached.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

// InputHandler reads one line per request from in and prints the items a
// session would show for the text before the end of the line. A line
// starting with "+" records its word as accepted.
type InputHandler struct {
	sources         []complete.Source
	cfg             complete.Config
	recent          *complete.RecencyTable
	chars           utils.WordChars
	minPrefixLength int
	requestCount    int

	in  io.Reader
	out io.Writer

	wordStyle lipgloss.Style
	metaStyle lipgloss.Style
}

func NewInputHandler(sources []complete.Source, cfg complete.Config, minLength int, in io.Reader, out io.Writer) *InputHandler {
	return &InputHandler{
		sources:         sources,
		cfg:             cfg,
		recent:          complete.NewRecencyTable(),
		chars:           utils.NewWordChars(""),
		minPrefixLength: minLength,
		in:              in,
		out:             out,
		wordStyle:       lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#286983", Dark: "#9ccfd8"}),
		metaStyle:       lipgloss.NewStyle().Faint(true),
	}
}

// Start runs until in is exhausted or ctx is done.
func (h *InputHandler) Start(ctx context.Context) error {
	reader := bufio.NewReader(h.in)
	fmt.Fprintln(h.out, "type something and press Enter to see the items (Ctrl+C to exit):")
	for ctx.Err() == nil {
		fmt.Fprint(h.out, "> ")
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			h.handleInput(ctx, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read input")
		}
	}
	return ctx.Err()
}

func (h *InputHandler) handleInput(ctx context.Context, line string) {
	h.requestCount++
	if word, ok := strings.CutPrefix(line, "+"); ok {
		h.recent.Add(0, strings.TrimSpace(word), time.Now())
		fmt.Fprintf(h.out, "accepted %q\n", strings.TrimSpace(word))
		return
	}

	input := h.chars.WordBefore(line)
	if len([]rune(input)) < h.minPrefixLength {
		log.Warnf("Input too short: '%s'", input)
		return
	}
	opt := complete.Option{
		Linenr: 1,
		Col:    len(line) - len(input),
		Colnr:  len(line) + 1,
		Line:   line,
		Input:  input,
	}

	start := time.Now()
	session := complete.New(opt, &scratch{line: line, chars: h.chars}, h.recent, h.sources, h.cfg)
	defer session.Cancel()
	items, err := session.Fetch(ctx)
	elapsed := time.Since(start)
	if err != nil {
		log.Errorf("Fetch failed: %v", err)
		return
	}
	log.Debugf("Took [ %v ] for input '%s' (request %d)", elapsed, input, h.requestCount)

	if len(items) == 0 {
		log.Warnf("No items found for input: '%s'", input)
		return
	}
	incomplete := ""
	if session.IsIncomplete() {
		incomplete = " (incomplete)"
	}
	fmt.Fprintf(h.out, "Found %d items for '%s'%s:\n", len(items), input, incomplete)
	for i, it := range items {
		label := it.Abbr
		if label == "" {
			label = it.Word
		}
		word := h.wordStyle.Render(utils.TruncateWidth(label, 40))
		meta := h.metaStyle.Render(fmt.Sprintf("%s %s score=%.2f", it.Menu, it.Source, it.Score))
		fmt.Fprintf(h.out, "%2d. %s  %s\n", i+1, word, meta)
	}
}

// scratch is a one line document holding the typed text.
type scratch struct {
	line  string
	chars utils.WordChars
}

func (s *scratch) Bufnr() int                      { return 0 }
func (s *scratch) FileType() string                { return "text" }
func (s *scratch) Version() int                    { return 1 }
func (s *scratch) Lines() []string                 { return []string{s.line} }
func (s *scratch) IsWord(r rune) bool              { return s.chars.IsWord(r) }
func (s *scratch) ForceSync(context.Context) error { return nil }
func (s *scratch) SetPaused(bool)                  {}
func (s *scratch) Line(idx int) string {
	if idx != 0 {
		return ""
	}
	return s.line
}
