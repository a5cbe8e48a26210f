package live

import (
	"sync"
	"time"
)

// AudioClock is the monotonic clock of the output device. The scheduler
// reads it to seed the cursor so that the first buffer after an idle period
// starts immediately instead of in the past.
type AudioClock interface {
	Now() time.Duration
}

// PlaybackSource is one scheduled buffer in flight on the output device.
type PlaybackSource interface {
	// Stop halts the source before its natural end. OnEnded must still fire.
	Stop()
}

// PlaybackSink abstracts the output device. StartAt begins playing pcm at
// the given device-clock time and invokes onEnded exactly once when the
// buffer finishes or is stopped.
type PlaybackSink interface {
	StartAt(pcm []byte, at time.Duration, onEnded func()) PlaybackSource
}

// Scheduler queues synthesized speech buffers back to back on the output
// device. Buffers never overlap and leave no gap: each one starts at
// max(cursor, now) and advances the cursor by its own duration.
type Scheduler struct {
	clock AudioClock
	sink  PlaybackSink

	mu      sync.Mutex
	cursor  time.Duration
	active  map[PlaybackSource]struct{}
	gen     uint64
	drained func()
}

// NewScheduler creates a scheduler over the given device clock and sink.
func NewScheduler(clock AudioClock, sink PlaybackSink) *Scheduler {
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		active: make(map[PlaybackSource]struct{}),
	}
}

// SetOnDrained registers the callback fired when the last active source
// finishes naturally. It is the signal that the interviewer has stopped
// speaking and the candidate's turn begins.
func (s *Scheduler) SetOnDrained(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = fn
}

// Pending returns the number of sources still playing or scheduled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// sourceHandle links a sink callback to its source. Both fields are guarded
// by the scheduler mutex: the sink may fire onEnded before StartAt returns,
// so the callback can never read the source directly.
type sourceHandle struct {
	src   PlaybackSource
	ended bool
}

// Schedule enqueues one buffer directly after whatever is already queued.
// Returns the device-clock start time chosen for the buffer.
func (s *Scheduler) Schedule(buf PlayableBuffer) time.Duration {
	s.mu.Lock()
	now := s.clock.Now()
	start := s.cursor
	if now > start {
		start = now
	}
	s.cursor = start + buf.Duration
	gen := s.gen
	s.mu.Unlock()

	h := &sourceHandle{}
	src := s.sink.StartAt(buf.PCM, start, func() {
		s.sourceEnded(h, gen)
	})

	s.mu.Lock()
	// An interrupt may have raced the StartAt call. A source registered under
	// a stale generation is stopped instead of tracked.
	if gen != s.gen {
		s.mu.Unlock()
		src.Stop()
		return start
	}
	if h.ended {
		// Finished before registration; count it as a natural end.
		var fn func()
		if len(s.active) == 0 {
			fn = s.drained
		}
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
		return start
	}
	h.src = src
	s.active[src] = struct{}{}
	s.mu.Unlock()
	return start
}

func (s *Scheduler) sourceEnded(h *sourceHandle, gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		// Ended after an interrupt; the set was already cleared.
		s.mu.Unlock()
		return
	}
	if h.src == nil {
		// Ended before Schedule registered the source.
		h.ended = true
		s.mu.Unlock()
		return
	}
	delete(s.active, h.src)
	var fn func()
	if len(s.active) == 0 {
		fn = s.drained
	}
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Interrupt stops every active source, clears the tracking set, and resets
// the cursor to zero. Sources ended by an interrupt do not fire the drained
// callback, and buffers scheduled before the interrupt but registered after
// it are dropped.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	stopped := make([]PlaybackSource, 0, len(s.active))
	for src := range s.active {
		stopped = append(stopped, src)
	}
	s.active = make(map[PlaybackSource]struct{})
	s.cursor = 0
	s.gen++
	s.mu.Unlock()

	for _, src := range stopped {
		src.Stop()
	}
}
