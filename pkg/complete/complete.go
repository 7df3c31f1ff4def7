package complete

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bastiangx/popcomplete/internal/logger"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/panics"
)

// ErrInvalidOption is returned when the trigger context does not fit its line.
var ErrInvalidOption = errors.New("invalid complete option")

const (
	minTimeout = 100 * time.Millisecond
	maxTimeout = 5 * time.Second

	highPriority = 90
	lowPriority  = 10
)

// Config holds the aggregator knobs taken from the [complete] section.
type Config struct {
	MaxItems         int
	Timeout          time.Duration
	SnippetIndicator string
	LocalityBonus    bool
}

func (c Config) timeout() time.Duration {
	return max(minTimeout, min(c.Timeout, maxTimeout))
}

// Complete is the session aggregator for one trigger. It owns the provider
// fan-out and the merged page table.
type Complete struct {
	ID string

	mu           sync.Mutex
	option       Option
	triggerInput string
	doc          Document
	sources      []Source
	recent       *RecencyTable
	cfg          Config
	results      []*Result
	localBonus   map[string]float64
	tokens       map[string]context.CancelFunc
	canceled     bool

	ctx    context.Context
	cancel context.CancelFunc
	log    *log.Logger
	now    func() time.Time
}

// New creates an aggregator for opt over the given sources.
func New(opt Option, doc Document, recent *RecencyTable, sources []Source, cfg Config) *Complete {
	ctx, cancel := context.WithCancel(context.Background())
	if recent == nil {
		recent = NewRecencyTable()
	}
	return &Complete{
		ID:           ulid.Make().String(),
		option:       opt,
		triggerInput: opt.Input,
		doc:          doc,
		sources:      sources,
		recent:       recent,
		cfg:          cfg,
		tokens:       make(map[string]context.CancelFunc),
		localBonus:   make(map[string]float64),
		ctx:          ctx,
		cancel:       cancel,
		log:          logger.New("complete"),
		now:          time.Now,
	}
}

// Option returns a copy of the current trigger context.
func (c *Complete) Option() Option {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.option
}

// TriggerInput is the input the session was opened with, or the input of the
// page that moved the start column. Searches must extend it.
func (c *Complete) TriggerInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerInput
}

func (c *Complete) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// IsIncomplete reports whether any provider page is partial.
func (c *Complete) IsIncomplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, res := range c.results {
		if res.IsIncomplete {
			return true
		}
	}
	return false
}

// SourceNames lists the providers this session queries.
func (c *Complete) SourceNames() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// ResolveItem finds a fetched item by its identity token.
func (c *Complete) ResolveItem(userData string) *Item {
	if userData == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, res := range c.results {
		for _, it := range res.Items {
			if it.UserData == userData {
				return it
			}
		}
	}
	return nil
}

// PatchIndent shifts the start and cursor columns by delta after the host
// re-indented the line. It reports false when the shifted option no longer
// fits the line.
func (c *Complete) PatchIndent(delta int, line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	col := c.option.Col + delta
	colnr := c.option.Colnr + delta
	if col < 0 || col > len(line) || colnr < col+1 {
		return false
	}
	c.option.Col = col
	c.option.Colnr = colnr
	c.option.Line = line
	return true
}

// Fetch queries every provider and returns the merged, filtered items.
func (c *Complete) Fetch(ctx context.Context) ([]*Item, error) {
	c.mu.Lock()
	opt := c.option
	if opt.Col < 0 || opt.Col > len(opt.Line) || opt.Colnr-1 < opt.Col {
		c.mu.Unlock()
		return nil, errors.Wrapf(ErrInvalidOption, "col %d colnr %d on line of length %d", opt.Col, opt.Colnr, len(opt.Line))
	}
	if c.cfg.LocalityBonus && c.doc != nil {
		c.localBonus = LocalityBonus(c.doc.Lines(), opt.Linenr, opt.Col, opt.Colnr-1, c.doc.IsWord)
	}
	sources := c.sources
	c.mu.Unlock()

	c.run(ctx, sources, opt)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled || len(c.results) == 0 {
		return nil, nil
	}
	c.engrossLocked()
	c.log.Debug("results", "session", c.ID, "sources", resultSources(c.results))
	return c.filterLocked(c.option.Input), nil
}

// Filter re-scores the fetched pool against search without querying providers.
func (c *Complete) Filter(search string) []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return nil
	}
	return c.filterLocked(search)
}

// RefetchIncomplete re-queries the providers whose page was partial with the
// narrowed search. Their stale pages are dropped first; pages of complete
// providers are kept and merged.
func (c *Complete) RefetchIncomplete(ctx context.Context, search string) []*Item {
	c.mu.Lock()
	if c.canceled {
		c.mu.Unlock()
		return nil
	}
	stale := make(map[string]bool)
	kept := c.results[:0:0]
	for _, res := range c.results {
		if res.IsIncomplete {
			stale[res.source] = true
			continue
		}
		kept = append(kept, res)
	}
	c.results = kept

	delta := len(search) - len(c.option.Input)
	c.option.Colnr += delta
	c.option.Input = search
	if c.doc != nil {
		c.option.Line = c.doc.Line(c.option.Linenr - 1)
	}
	c.option.TriggerCharacter = ""
	c.option.TriggerForIncomplete = true
	opt := c.option

	var sources []Source
	for _, s := range c.sources {
		if stale[s.Name()] {
			sources = append(sources, s)
		}
	}
	c.mu.Unlock()

	c.run(ctx, sources, opt)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return nil
	}
	return c.filterLocked(search)
}

// Cancel marks the session canceled and cancels every provider context.
func (c *Complete) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return
	}
	c.canceled = true
	c.cancel()
	c.tokens = make(map[string]context.CancelFunc)
	c.results = nil
}

type answer struct {
	source Source
	ctx    context.Context
	res    *Result
	err    error
}

// run issues sources concurrently and applies the answers that arrive within
// the timeout. Late answers land in the buffered channel and are dropped.
func (c *Complete) run(ctx context.Context, sources []Source, opt Option) {
	if len(sources) == 0 {
		return
	}
	ch := make(chan answer, len(sources))
	pending := make(map[string]bool, len(sources))
	for _, s := range sources {
		sctx := c.sourceContext(s.Name())
		pending[s.Name()] = true
		go func(s Source, sctx context.Context) {
			var res *Result
			var err error
			if r := panics.Try(func() { res, err = s.Provide(sctx, opt) }); r != nil {
				err = r.AsError()
			}
			ch <- answer{source: s, ctx: sctx, res: res, err: err}
		}(s, sctx)
	}

	timer := time.NewTimer(c.cfg.timeout())
	defer timer.Stop()
	for len(pending) > 0 {
		select {
		case a := <-ch:
			delete(pending, a.source.Name())
			c.apply(a)
		case <-timer.C:
			c.log.Warn("source timeout", "session", c.ID, "after", c.cfg.timeout(), "pending", keys(pending))
			return
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Complete) sourceContext(name string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.tokens[name]; ok {
		cancel()
	}
	sctx, cancel := context.WithCancel(c.ctx)
	c.tokens[name] = cancel
	return sctx
}

func (c *Complete) apply(a answer) {
	name := a.source.Name()
	if a.err != nil {
		c.log.Error("source failed", "session", c.ID, "source", name, "err", a.err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled || a.ctx.Err() != nil {
		c.log.Debug("dropped canceled result", "source", name)
		return
	}
	if a.res == nil || len(a.res.Items) == 0 {
		return
	}
	a.res.source = name
	a.res.priority = a.source.Priority()
	for i, res := range c.results {
		if res.source == name {
			c.results[i] = a.res
			return
		}
	}
	c.results = append(c.results, a.res)
}

// engrossLocked lets a page that claims its own start column take over the
// session.
func (c *Complete) engrossLocked() {
	opt := &c.option
	for _, res := range c.results {
		if res.StartCol == nil || *res.StartCol == opt.Col {
			continue
		}
		start := *res.StartCol
		if start < 0 || start > opt.Colnr-1 || opt.Colnr-1 > len(opt.Line) {
			continue
		}
		opt.Col = start
		opt.Input = opt.Line[start : opt.Colnr-1]
		c.triggerInput = opt.Input
		c.results = []*Result{res}
		return
	}
}

func (c *Complete) filterLocked(input string) []*Item {
	results := make([]*Result, len(c.results))
	copy(results, c.results)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].priority > results[j].priority
	})

	now := c.now()
	bufnr := c.option.Bufnr
	words := make(map[string]bool)
	var maxScore float64
	var arr []*Item
	for _, res := range results {
		for idx, item := range res.Items {
			word := item.Word
			if words[word] && !item.Dup {
				continue
			}
			filterText := itemFilterText(item)
			if len(filterText) < len(input) {
				continue
			}
			var score float64
			if input != "" {
				score = MatchScore(filterText, input)
				if score == 0 {
					continue
				}
			}
			if res.priority > highPriority {
				maxScore = max(maxScore, score)
			}
			if maxScore > 5 && res.priority <= lowPriority && score < maxScore {
				continue
			}
			if item.UserData == "" {
				item.UserData = fmt.Sprintf("%s:%s:%d", c.ID, res.source, idx)
				if item.IsSnippet {
					abbr := item.Abbr
					if abbr == "" {
						abbr = word
					}
					if !strings.HasSuffix(abbr, c.cfg.SnippetIndicator) {
						item.Abbr = abbr + c.cfg.SnippetIndicator
					}
				}
			}
			if item.Abbr == "" {
				item.Abbr = word
			}
			item.Source = res.source
			item.Priority = res.priority
			item.Score = score
			item.LocalBonus = c.localBonus[filterText]
			item.RecentScore = c.recent.Score(bufnr, word, now)
			item.exactSnippet = input != "" && item.IsSnippet && word == input
			words[word] = true
			arr = append(arr, item)
		}
	}
	sort.SliceStable(arr, func(i, j int) bool {
		return lessItem(arr[i], arr[j])
	})
	if c.cfg.MaxItems > 0 && len(arr) > c.cfg.MaxItems {
		arr = arr[:c.cfg.MaxItems]
	}
	return arr
}

func lessItem(a, b *Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.SortText != "" && b.SortText != "" && a.SortText != b.SortText {
		return a.SortText < b.SortText
	}
	if a.RecentScore != b.RecentScore {
		return a.RecentScore > b.RecentScore
	}
	fa, fb := itemFilterText(a), itemFilterText(b)
	if a.LocalBonus != b.LocalBonus {
		if a.LocalBonus > 0 && b.LocalBonus > 0 && fa != fb {
			if strings.HasPrefix(fa, fb) {
				return false
			}
			if strings.HasPrefix(fb, fa) {
				return true
			}
		}
		return a.LocalBonus > b.LocalBonus
	}
	return len(fa) < len(fb)
}

func itemFilterText(it *Item) string {
	if it.FilterText != "" {
		return it.FilterText
	}
	return it.Word
}

func resultSources(results []*Result) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.source
	}
	return names
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
