package runner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zenoh-flow/zenohd/runner"
)

type fakeNode struct {
	iters      atomic.Int64
	iterErr    error
	resumeErr  error
	aborted    atomic.Bool
	destroyed  atomic.Bool
	resumed    atomic.Int64
	iterDelay  time.Duration
}

func (n *fakeNode) OnResume(context.Context) error {
	n.resumed.Add(1)
	return n.resumeErr
}
func (n *fakeNode) OnAbort(context.Context) { n.aborted.Store(true) }
func (n *fakeNode) Iteration(ctx context.Context) error {
	n.iters.Add(1)
	if n.iterDelay > 0 {
		select {
		case <-time.After(n.iterDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return n.iterErr
}
func (n *fakeNode) Destroy(context.Context) { n.destroyed.Store(true) }

var _ runner.Node = (*fakeNode)(nil)

func TestStartRunsIterationsAndAbortStops(t *testing.T) {
	n := &fakeNode{}
	r := runner.New("n", n)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if r.State() != runner.Running {
		t.Fatalf("expected Running, got %v", r.State())
	}
	time.Sleep(20 * time.Millisecond)
	if n.iters.Load() == 0 {
		t.Fatal("expected at least one iteration before abort")
	}
	if err := r.Abort(ctx); err != nil {
		t.Fatal(err)
	}
	if r.State() != runner.Idle {
		t.Fatalf("expected Idle after abort, got %v", r.State())
	}
	if !n.aborted.Load() {
		t.Fatal("OnAbort was not called")
	}
}

func TestAbortIdleIsNoop(t *testing.T) {
	n := &fakeNode{}
	r := runner.New("n", n)
	if err := r.Abort(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n.aborted.Load() {
		t.Fatal("OnAbort should not run for an already-Idle runner")
	}
}

func TestIterationErrorIsLoggedAndRetried(t *testing.T) {
	n := &fakeNode{iterErr: errors.New("boom")}
	r := runner.New("n", n)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	_ = r.Abort(ctx)
	if n.iters.Load() < 2 {
		t.Fatal("runner should keep iterating across a failing iteration, not stop")
	}
	snap := r.Snap()
	if snap.ErrCount == 0 || snap.LastErr == "" {
		t.Fatalf("expected recorded iteration error, got %+v", snap)
	}
}

func TestResumeErrorMarksFailed(t *testing.T) {
	n := &fakeNode{resumeErr: errors.New("resume failed")}
	r := runner.New("n", n)
	err := r.Resume(context.Background())
	if err == nil {
		t.Fatal("expected Resume to propagate on_resume error")
	}
	if r.State() != runner.Failed {
		t.Fatalf("expected Failed, got %v", r.State())
	}
	if err2 := r.Start(context.Background()); err2 == nil {
		t.Fatal("a Failed runner must refuse Start (terminal until instance deletion)")
	}
}

func TestResumeThenStart(t *testing.T) {
	n := &fakeNode{}
	r := runner.New("n", n)
	if err := r.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.State() != runner.Running {
		t.Fatalf("expected Running after Resume, got %v", r.State())
	}
	if n.resumed.Load() != 1 {
		t.Fatal("OnResume should run exactly once")
	}
}

// Abort is cooperative: with the node mid-iteration (a 300ms wait) when the
// signal arrives, Abort returns once that iteration ends, well inside 400ms.
func TestAbortMidIterationBoundedWait(t *testing.T) {
	n := &fakeNode{iterDelay: 300 * time.Millisecond}
	r := runner.New("n", n)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	abortCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := r.Abort(abortCtx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("abort took too long: %v", elapsed)
	}
}

func TestDestroyDelegates(t *testing.T) {
	n := &fakeNode{}
	r := runner.New("n", n)
	r.Destroy(context.Background())
	if !n.destroyed.Load() {
		t.Fatal("Destroy should delegate to node.Destroy")
	}
}
