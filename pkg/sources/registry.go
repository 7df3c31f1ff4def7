// Package sources holds the provider registry and the built-in completion
// providers.
package sources

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/bastiangx/popcomplete/internal/logger"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

// ErrUnknownSource is returned for lookups of a name nobody registered.
var ErrUnknownSource = errors.New("unknown source")

// Forgetter is implemented by sources that keep per-buffer caches.
type Forgetter interface {
	Forget(bufnr int)
}

// Registry keeps the registered sources in registration order.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]complete.Source
	order    []string
	disabled map[string]bool
	log      *log.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		sources:  make(map[string]complete.Source),
		disabled: make(map[string]bool),
		log:      logger.New("sources"),
	}
}

// Register adds s, replacing a source of the same name.
func (r *Registry) Register(s complete.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
	r.log.Debug("registered", "source", name, "priority", s.Priority())
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; !ok {
		return
	}
	delete(r.sources, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
}

func (r *Registry) Get(name string) (complete.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSource, "%q", name)
	}
	return s, nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, name)
	} else {
		r.disabled[name] = true
	}
}

func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.disabled[name]
}

// SetDisabled replaces the disabled set.
func (r *Registry) SetDisabled(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = make(map[string]bool, len(names))
	for _, n := range names {
		r.disabled[n] = true
	}
}

func matchesFileType(s complete.Source, filetype string) bool {
	fts := s.FileTypes()
	return len(fts) == 0 || slices.Contains(fts, filetype)
}

// enabledLocked lists enabled sources for filetype in registration order.
func (r *Registry) enabledLocked(filetype string) []complete.Source {
	var out []complete.Source
	for _, name := range r.order {
		s := r.sources[name]
		if r.disabled[name] || !matchesFileType(s, filetype) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CompleteSources picks the sources a session should query. A trigger
// character with empty input only reaches the sources that declare it.
func (r *Registry) CompleteSources(opt complete.Option) []complete.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if opt.Source != "" {
		if s, ok := r.sources[opt.Source]; ok {
			return []complete.Source{s}
		}
		return nil
	}
	all := r.enabledLocked(opt.FileType)
	if opt.TriggerCharacter == "" || opt.Input != "" {
		return all
	}
	var out []complete.Source
	for _, s := range all {
		if slices.Contains(s.TriggerCharacters(), opt.TriggerCharacter) {
			out = append(out, s)
		}
	}
	return out
}

// TriggerCharacter returns the trigger character of an enabled source that
// pre ends with, or "".
func (r *Registry) TriggerCharacter(pre, filetype string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.enabledLocked(filetype) {
		for _, ch := range s.TriggerCharacters() {
			if ch != "" && strings.HasSuffix(pre, ch) {
				return ch
			}
		}
	}
	return ""
}

// ShouldTrigger reports whether a source's trigger character matches the
// end of pre.
func (r *Registry) ShouldTrigger(pre, filetype string) bool {
	return r.TriggerCharacter(pre, filetype) != ""
}

// ShouldCommit asks the item's source whether ch commits it.
func (r *Registry) ShouldCommit(item *complete.Item, ch string) bool {
	if item == nil {
		return false
	}
	s, err := r.Get(item.Source)
	if err != nil {
		return false
	}
	return s.ShouldCommit(item, ch)
}

func (r *Registry) Resolve(ctx context.Context, item *complete.Item) error {
	s, err := r.Get(item.Source)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.Resolve(ctx, item), "resolve %s", item.Source)
}

func (r *Registry) OnAccept(ctx context.Context, item *complete.Item, opt complete.Option) error {
	s, err := r.Get(item.Source)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.OnAccept(ctx, item, opt), "accept %s", item.Source)
}

// Forget drops the per-buffer caches of every source.
func (r *Registry) Forget(bufnr int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if f, ok := s.(Forgetter); ok {
			f.Forget(bufnr)
		}
	}
}
