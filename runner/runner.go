// Package runner implements §4.3's node runner: the scheduled execution
// wrapper around one node. Grounded on the teacher's xaction lifecycle
// idiom (Idle/Running/Failed states, a Snap() introspection struct) and its
// two-channel cooperative-cancellation pattern, preserved verbatim per §9's
// instruction to keep this contract rather than fold it into a plain
// context.Context cancellation.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zenoh-flow/zenohd/cmn/mono"
	"github.com/zenoh-flow/zenohd/cmn/nlog"
	"github.com/zenoh-flow/zenohd/xerr"
)

// Node is the lifecycle contract a built-in bridge (package bridge) or an
// externally loaded node implements (§6: "{on_resume, on_abort, iteration,
// destroy}").
type Node interface {
	OnResume(ctx context.Context) error
	OnAbort(ctx context.Context)
	Iteration(ctx context.Context) error
	Destroy(ctx context.Context)
}

type State int32

const (
	Idle State = iota
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	default:
		return "unknown"
	}
}

// Snap is a point-in-time introspection of one runner, in the style of the
// teacher's core.Xact.Snap().
type Snap struct {
	State     State
	Iters     int64
	ErrCount  int64
	LastErr   string
	StartedAt time.Time
}

// Metrics is the optional stats collaborator a Runner reports to; package
// stats' Tracker satisfies it. Left unset, a Runner simply doesn't export
// anything.
type Metrics interface {
	IterationOK(node string)
	IterationErr(node string)
	ObserveIterationLatency(node string, seconds float64)
	SetState(node string, state int)
}

// Runner drives one Node on its own goroutine. The zero value is not
// usable; use New.
type Runner struct {
	node Node
	name string

	state atomic.Int32

	mu        sync.Mutex // guards start/abort/resume sequencing
	abortCh   chan struct{}
	abortAck  chan struct{}
	done      chan struct{}
	iters     atomic.Int64
	errCount  atomic.Int64
	lastErr   atomic.Value // string
	startedAt atomic.Value // time.Time

	metrics Metrics
}

func New(name string, node Node) *Runner {
	r := &Runner{node: node, name: name}
	r.state.Store(int32(Idle))
	r.lastErr.Store("")
	r.startedAt.Store(time.Time{})
	return r
}

// SetMetrics attaches an optional metrics collaborator; nil is valid and
// disables reporting.
func (r *Runner) SetMetrics(m Metrics) { r.metrics = m }

func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) Snap() Snap {
	return Snap{
		State:     r.State(),
		Iters:     r.iters.Load(),
		ErrCount:  r.errCount.Load(),
		LastErr:   r.lastErr.Load().(string),
		StartedAt: r.startedAt.Load().(time.Time),
	}
}

// Start transitions Idle -> Running and spawns the iteration loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() == Running {
		return nil
	}
	if r.State() == Failed {
		return xerr.New(xerr.InvalidTransition, "runner %s: cannot start a failed runner", r.name)
	}
	r.abortCh = make(chan struct{})
	r.abortAck = make(chan struct{})
	r.done = make(chan struct{})
	r.startedAt.Store(time.Now())
	r.state.Store(int32(Running))
	if r.metrics != nil {
		r.metrics.SetState(r.name, int(Running))
	}
	go r.loop(ctx, r.abortCh, r.abortAck, r.done)
	return nil
}

// loop is the task body: call node.Iteration until abort is signalled. A
// failing Iteration is logged and the loop retries — per §4.3 the runner
// applies no rate limiting of its own; the node is expected to yield at a
// suspension point every iteration.
func (r *Runner) loop(ctx context.Context, abort, abortAck, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-abort:
			close(abortAck)
			return
		default:
		}
		start := mono.NanoTime()
		err := r.node.Iteration(ctx)
		if r.metrics != nil {
			r.metrics.ObserveIterationLatency(r.name, mono.Since(start).Seconds())
		}
		if err != nil {
			r.errCount.Add(1)
			r.lastErr.Store(err.Error())
			nlog.Warningf("runner %s: iteration error: %v", r.name, err)
			if r.metrics != nil {
				r.metrics.IterationErr(r.name)
			}
		} else if r.metrics != nil {
			r.metrics.IterationOK(r.name)
		}
		r.iters.Add(1)
		select {
		case <-abort:
			close(abortAck)
			return
		default:
		}
	}
}

// Abort cooperatively cancels the running task, awaits acknowledgment, runs
// the node's on_abort hook, and transitions back to Idle. Idempotent:
// aborting an Idle runner is a no-op (§4.4).
func (r *Runner) Abort(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != Running {
		return nil
	}
	close(r.abortCh)
	select {
	case <-r.abortAck:
	case <-r.done:
		// loop exited on its own between the abort check and signalling ack;
		// still a clean abort observation.
	case <-ctx.Done():
		return ctx.Err()
	}
	r.node.OnAbort(ctx)
	r.state.Store(int32(Idle))
	if r.metrics != nil {
		r.metrics.SetState(r.name, int(Idle))
	}
	return nil
}

// Kill is the forceful variant of Abort used on teardown: it does not wait
// indefinitely for the loop to observe the signal, bounding the wait so a
// wedged node cannot block instance deletion forever.
func (r *Runner) Kill(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != Running {
		return nil
	}
	close(r.abortCh)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.abortAck:
	case <-r.done:
	case <-t.C:
		nlog.Warningf("runner %s: kill timed out waiting for abort ack", r.name)
	}
	r.node.OnAbort(ctx)
	r.state.Store(int32(Idle))
	return nil
}

// Resume calls the node's on_resume hook then starts the loop again. A
// failing on_resume propagates and marks the runner Failed (§4.3).
func (r *Runner) Resume(ctx context.Context) error {
	if err := r.node.OnResume(ctx); err != nil {
		r.mu.Lock()
		r.state.Store(int32(Failed))
		r.lastErr.Store(err.Error())
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.SetState(r.name, int(Failed))
		}
		return xerr.Wrap(xerr.NodeLoad, err, "runner %s: on_resume failed", r.name)
	}
	return r.Start(ctx)
}

func (r *Runner) Destroy(ctx context.Context) {
	r.node.Destroy(ctx)
}

func (r *Runner) Name() string { return r.name }
