package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewPoolDefaultConcurrency(t *testing.T) {
	p := NewPool[string, string](0)
	if p.Concurrency() != runtime.NumCPU() {
		t.Errorf("expected concurrency %d, got %d", runtime.NumCPU(), p.Concurrency())
	}

	p2 := NewPool[string, string](-1)
	if p2.Concurrency() != runtime.NumCPU() {
		t.Errorf("expected concurrency %d for -1, got %d", runtime.NumCPU(), p2.Concurrency())
	}
}

func TestProcessEmpty(t *testing.T) {
	p := NewPool[string, string](2)
	results := p.Process(context.Background(), nil, func(_ context.Context, s string) (string, error) {
		return s, nil
	})
	if results != nil {
		t.Errorf("expected nil results for empty input, got %v", results)
	}
}

func TestProcessPreservesOrder(t *testing.T) {
	p := NewPool[Claim, string](4)
	items := []Claim{{ID: "US-001"}, {ID: "US-002"}, {ID: "US-003"}, {ID: "US-004"}, {ID: "US-005"}}

	results := p.Process(context.Background(), items, func(_ context.Context, c Claim) (string, error) {
		return "ran-" + c.ID, nil
	})

	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result[%d] unexpected error: %v", i, r.Err)
		}
		if want := "ran-" + items[i].ID; r.Value != want {
			t.Errorf("result[%d] = %q, expected %q", i, r.Value, want)
		}
		if r.Index != i {
			t.Errorf("result[%d].Index = %d, expected %d", i, r.Index, i)
		}
	}
}

func TestProcessCapturesErrors(t *testing.T) {
	p := NewPool[string, int](2)
	items := []string{"ok", "fail", "ok", "fail"}

	results := p.Process(context.Background(), items, func(_ context.Context, s string) (int, error) {
		if s == "fail" {
			return 0, fmt.Errorf("failed on %s", s)
		}
		return 1, nil
	})

	if results[0].Err != nil || results[0].Value != 1 {
		t.Errorf("result[0] should succeed, got err=%v val=%d", results[0].Err, results[0].Value)
	}
	if results[1].Err == nil || results[3].Err == nil {
		t.Error("failed items should carry their error")
	}
}

func TestProcessRespectsConcurrencyLimit(t *testing.T) {
	p := NewPool[int, int](3)

	var peak, current int64
	items := make([]int, 12)
	results := p.Process(context.Background(), items, func(_ context.Context, _ int) (int, error) {
		c := atomic.AddInt64(&current, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if c <= old || atomic.CompareAndSwapInt64(&peak, old, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return 1, nil
	})

	if len(results) != 12 {
		t.Fatalf("expected 12 results, got %d", len(results))
	}
	if got := atomic.LoadInt64(&peak); got < 2 || got > 3 {
		t.Errorf("peak concurrency = %d, want 2..3", got)
	}
}

func TestProcessCancelledContextSkipsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	p := NewPool[string, string](2)
	results := p.Process(ctx, []string{"a", "b", "c"}, func(_ context.Context, s string) (string, error) {
		atomic.AddInt64(&ran, 1)
		return s, nil
	})

	if atomic.LoadInt64(&ran) != 0 {
		t.Errorf("expected no work after cancellation, ran %d", ran)
	}
	for i, r := range results {
		if r.Err != context.Canceled {
			t.Errorf("result[%d].Err = %v, want context.Canceled", i, r.Err)
		}
	}
}
