package controller

import (
	"context"
	"sync"
)

// admission hands the controller lock to event handlers in the order the
// events arrived. A handler holds its place until it first takes the lock;
// after that later handlers may run while it is suspended.
type admission struct {
	mu      sync.Mutex
	cond    *sync.Cond
	issued  uint64
	serving uint64
}

func newAdmission() *admission {
	a := &admission{}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *admission) issue() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.issued
	a.issued++
	return t
}

func (a *admission) wait(ticket uint64) {
	a.mu.Lock()
	for a.serving != ticket {
		a.cond.Wait()
	}
	a.mu.Unlock()
}

func (a *admission) advance() {
	a.mu.Lock()
	a.serving++
	a.mu.Unlock()
	a.cond.Broadcast()
}

type ticketKey struct{}

// Admit reserves a place in the handler order for an event that will be
// handled on another goroutine. Pass the returned context to the handler.
func (c *Controller) Admit(ctx context.Context) context.Context {
	return context.WithValue(ctx, ticketKey{}, c.turns.issue())
}

// lock takes the controller lock in turn. Calls without an admitted context
// queue up at the time of the call.
func (c *Controller) lock(ctx context.Context) {
	ticket, ok := ctx.Value(ticketKey{}).(uint64)
	if !ok {
		ticket = c.turns.issue()
	}
	c.turns.wait(ticket)
	c.mu.Lock()
	c.turns.advance()
}
