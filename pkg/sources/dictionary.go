package sources

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bastiangx/popcomplete/internal/utils"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/dictionary"
)

const defaultPageSize = 200

// Dictionary offers ranked words from loaded word lists. Pages are capped, so
// a short input yields an incomplete page that is re-queried as it narrows.
type Dictionary struct {
	dict     *dictionary.Dictionary
	priority int

	mu       sync.RWMutex
	pageSize int
}

func NewDictionary(dict *dictionary.Dictionary, priority, pageSize int) *Dictionary {
	d := &Dictionary{dict: dict, priority: priority}
	d.SetPageSize(pageSize)
	return d
}

func (d *Dictionary) SetPageSize(n int) {
	if n <= 0 {
		n = defaultPageSize
	}
	d.mu.Lock()
	d.pageSize = n
	d.mu.Unlock()
}

func (d *Dictionary) Name() string                { return "dictionary" }
func (d *Dictionary) Priority() int               { return d.priority }
func (d *Dictionary) FileTypes() []string         { return nil }
func (d *Dictionary) TriggerCharacters() []string { return nil }

func (d *Dictionary) Provide(ctx context.Context, opt complete.Option) (*complete.Result, error) {
	if opt.Input == "" || d.dict == nil {
		return nil, nil
	}
	d.mu.RLock()
	pageSize := d.pageSize
	d.mu.RUnlock()

	var entries []dictionary.Entry
	var err error
	d.dict.Visit(opt.Input, func(e dictionary.Entry) bool {
		if len(entries)%256 == 0 {
			if err = ctx.Err(); err != nil {
				return false
			}
		}
		if e.Word != opt.Input {
			entries = append(entries, e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank < entries[j].Rank
		}
		return entries[i].Word < entries[j].Word
	})
	res := &complete.Result{IsIncomplete: len(entries) > pageSize}
	if res.IsIncomplete {
		entries = entries[:pageSize]
	}
	for _, e := range entries {
		res.Items = append(res.Items, &complete.Item{
			Word:     utils.ApplyCapitals(e.Word, opt.Input),
			Menu:     "[D]",
			SortText: fmt.Sprintf("%05d", e.Rank),
		})
	}
	return res, nil
}

func (d *Dictionary) Resolve(context.Context, *complete.Item) error { return nil }

func (d *Dictionary) ShouldCommit(*complete.Item, string) bool { return false }

func (d *Dictionary) OnAccept(context.Context, *complete.Item, complete.Option) error { return nil }
