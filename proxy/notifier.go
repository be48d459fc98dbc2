package proxy

import "sync"

// Notifier lets an owner (typically the app) tear down its dependents
// before it releases its own native resources. Dependents subscribe a
// cleanup function; CleanupAll runs them in subscription order.
type Notifier struct {
	mu    sync.Mutex
	subs  []*sub
	fired bool
}

type sub struct {
	fn      func()
	removed bool
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn to run at owner teardown and returns an
// idempotent unsubscribe. If teardown already happened, fn runs
// immediately — late dependents must not outlive a gone owner.
func (n *Notifier) Subscribe(fn func()) (unsubscribe func()) {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		fn()
		return func() {}
	}
	s := &sub{fn: fn}
	n.subs = append(n.subs, s)
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		s.removed = true
		n.mu.Unlock()
	}
}

// Len returns the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.subs {
		if !s.removed {
			count++
		}
	}
	return count
}

// CleanupAll runs all live cleanup functions in subscription order, once.
// Subscriptions made during a cleanup call (a dependent creating another
// dependent while disposing) run immediately via Subscribe's fired path.
func (n *Notifier) CleanupAll() {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return
	}
	n.fired = true
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, s := range subs {
		if !s.removed {
			s.fn()
		}
	}
}
