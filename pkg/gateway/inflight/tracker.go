// Package inflight tracks requests that are still being served so shutdown
// can drain them instead of cutting persistence writes mid-turn.
package inflight

import (
	"context"
	"sync"
)

type Tracker struct {
	mu       sync.Mutex
	draining bool
	requests map[string]*trackedRequest
	wg       sync.WaitGroup
}

type trackedRequest struct {
	cancel func()
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		requests: make(map[string]*trackedRequest),
	}
}

// Register records an in-flight request. It returns false when the tracker
// is draining and the request should be rejected; otherwise the caller must
// invoke the returned done func exactly when the request finishes.
func (t *Tracker) Register(requestID string, cancel func()) (done func(), ok bool) {
	if t == nil {
		return func() {}, true
	}

	entry := &trackedRequest{cancel: cancel}

	t.mu.Lock()
	if t.draining {
		t.mu.Unlock()
		return nil, false
	}
	if t.requests == nil {
		t.requests = make(map[string]*trackedRequest)
	}
	old := t.requests[requestID]
	t.requests[requestID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.finish(requestID, old)
	}

	return func() { t.finish(requestID, entry) }, true
}

func (t *Tracker) finish(requestID string, entry *trackedRequest) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.requests != nil && t.requests[requestID] == entry {
			delete(t.requests, requestID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// SetDraining stops new registrations. Requests already registered keep
// running until they call done or CancelAll fires.
func (t *Tracker) SetDraining() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.requests {
		if entry == nil || entry.cancel == nil {
			continue
		}
		cancels = append(cancels, entry.cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered request has finished or ctx expires.
// It reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
