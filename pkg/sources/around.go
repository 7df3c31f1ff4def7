package sources

import (
	"context"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// Documents resolves a buffer number to its document.
type Documents interface {
	Document(bufnr int) complete.Document
}

type wordIndex struct {
	version int
	trie    *patricia.Trie
}

// Around offers the words of the current buffer.
type Around struct {
	docs     Documents
	priority int

	mu      sync.Mutex
	indexes map[int]*wordIndex
}

func NewAround(docs Documents, priority int) *Around {
	return &Around{
		docs:     docs,
		priority: priority,
		indexes:  make(map[int]*wordIndex),
	}
}

func (a *Around) Name() string                { return "around" }
func (a *Around) Priority() int               { return a.priority }
func (a *Around) FileTypes() []string         { return nil }
func (a *Around) TriggerCharacters() []string { return nil }

func (a *Around) Provide(ctx context.Context, opt complete.Option) (*complete.Result, error) {
	if opt.Input == "" || a.docs == nil {
		return nil, nil
	}
	doc := a.docs.Document(opt.Bufnr)
	if doc == nil {
		return nil, nil
	}
	trie := a.index(doc)

	current := opt.Input
	if rest := opt.Colnr - 1; rest >= 0 && rest <= len(opt.Line) {
		current += leadingWord(opt.Line[rest:], doc.IsWord)
	}

	first, _ := utf8.DecodeRuneInString(opt.Input)
	prefixes := []string{string(unicode.ToLower(first))}
	if up := string(unicode.ToUpper(first)); up != prefixes[0] {
		prefixes = append(prefixes, up)
	}

	res := &complete.Result{}
	for _, p := range prefixes {
		err := trie.VisitSubtree(patricia.Prefix(p), func(key patricia.Prefix, item patricia.Item) error {
			word := string(key)
			if word == current && item.(int) <= 1 {
				return nil
			}
			res.Items = append(res.Items, &complete.Item{Word: word, Menu: "[A]"})
			return ctx.Err()
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// index returns the word trie for doc, rebuilding it when the version moved.
func (a *Around) index(doc complete.Document) *patricia.Trie {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx, ok := a.indexes[doc.Bufnr()]; ok && idx.version == doc.Version() {
		return idx.trie
	}

	counts := make(map[string]int)
	for _, line := range doc.Lines() {
		complete.EachWord(line, doc.IsWord, func(w string, _, _ int) {
			if utf8.RuneCountInString(w) > 1 {
				counts[w]++
			}
		})
	}
	trie := patricia.NewTrie()
	for w, n := range counts {
		trie.Insert(patricia.Prefix(w), n)
	}
	a.indexes[doc.Bufnr()] = &wordIndex{version: doc.Version(), trie: trie}
	log.Debugf("Indexed %d words of buffer %d", len(counts), doc.Bufnr())
	return trie
}

func (a *Around) Forget(bufnr int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.indexes, bufnr)
}

func (a *Around) Resolve(context.Context, *complete.Item) error { return nil }

func (a *Around) ShouldCommit(*complete.Item, string) bool { return false }

func (a *Around) OnAccept(context.Context, *complete.Item, complete.Option) error { return nil }

func leadingWord(s string, isWord func(rune) bool) string {
	for i, r := range s {
		if !isWord(r) {
			return s[:i]
		}
	}
	return s
}
