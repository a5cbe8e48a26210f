package inflight

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterDone_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	d1, ok := tr.Register("req_1", nil)
	if !ok {
		t.Fatal("register rejected before draining")
	}
	d2, _ := tr.Register("req_2", nil)
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	d1()
	d1() // done is idempotent
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	d2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatal("expected Wait to return true")
	}
}

func TestTracker_DrainingRejectsNewRequests(t *testing.T) {
	tr := NewTracker()
	done, _ := tr.Register("req_1", nil)

	tr.SetDraining()
	if _, ok := tr.Register("req_2", nil); ok {
		t.Fatal("register accepted while draining")
	}
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	done()
}

func TestTracker_CancelAll(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("req_1", func() { c1.Add(1) })
	tr.Register("req_2", func() { c2.Add(1) })

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := NewTracker()
	done, _ := tr.Register("req_1", nil)
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatal("Wait returned true with a request still in flight")
	}
}

func TestTracker_ReregisterReplacesEntry(t *testing.T) {
	tr := NewTracker()
	tr.Register("req_1", nil)
	done, _ := tr.Register("req_1", nil)
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	done()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatal("drain did not complete after replacement")
	}
}
