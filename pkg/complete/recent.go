package complete

import (
	"strconv"
	"sync"
	"time"
)

// RecentWindow is how long an accepted word keeps its recency bonus.
const RecentWindow = time.Minute

// RecencyTable remembers when a word was last accepted in a buffer.
type RecencyTable struct {
	mu     sync.RWMutex
	scores map[string]time.Time
}

func NewRecencyTable() *RecencyTable {
	return &RecencyTable{scores: make(map[string]time.Time)}
}

func recentKey(bufnr int, word string) string {
	return strconv.Itoa(bufnr) + "|" + word
}

// Add records an acceptance of word in bufnr at ts.
func (r *RecencyTable) Add(bufnr int, word string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[recentKey(bufnr, word)] = ts
}

// Score returns the acceptance timestamp in milliseconds when it is still
// within RecentWindow of now, 0 otherwise.
func (r *RecencyTable) Score(bufnr int, word string, now time.Time) int64 {
	r.mu.RLock()
	ts, ok := r.scores[recentKey(bufnr, word)]
	r.mu.RUnlock()
	if !ok || now.Sub(ts) >= RecentWindow {
		return 0
	}
	return ts.UnixMilli()
}

func (r *RecencyTable) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scores)
}
