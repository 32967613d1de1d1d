// Package runtime implements §4.5: the daemon's per-process registry of
// instances, its node loader, and its ownership of the transport session.
// Grounded directly on xact/xreg's registry, reduced to a single map of
// instances (aborted ones stay in it for inspection until deleted or pruned)
// guarded by one sync.RWMutex, with a lazy housekeeping sweep (adapted from
// xreg.hkPruneActive/hkDelOld) pruning long-aborted instances instead of
// finished xactions.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/zenoh-flow/zenohd/cmn/nlog"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/instance"
	"github.com/zenoh-flow/zenohd/runner"
	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/stats"
	"github.com/zenoh-flow/zenohd/xerr"
)

const (
	pruneInterval = 5 * time.Minute
	keepOldFor    = 30 * time.Minute
)

// ExternalLoader resolves a non-builtin NodeDesc to a live node, keyed by
// the file extension of its URI (§6: "the runtime refuses to load unknown
// suffixes").
type ExternalLoader interface {
	Load(ctx context.Context, n *flow.NodeDesc) (runner.Node, error)
}

// Extensions is the recognised file-extension -> loader-module mapping.
type Extensions map[string]ExternalLoader

type entry struct {
	inst      *instance.Instance
	abortedAt time.Time // zero until a TryAbort succeeds; a Failed instance keeps it zero
}

// Runtime is the per-process registry (§4.5). The zero value is not usable;
// use New.
type Runtime struct {
	ID   flow.RuntimeID
	Sess session.Session

	extensions Extensions

	mu        sync.RWMutex
	instances map[flow.InstanceID]*entry

	lastPrune time.Time

	// Metrics is optional; nil disables the instances-by-phase gauge.
	Metrics *stats.Tracker
}

func New(id flow.RuntimeID, sess session.Session, ext Extensions) *Runtime {
	if ext == nil {
		ext = make(Extensions)
	}
	return &Runtime{
		ID:         id,
		Sess:       sess,
		extensions: ext,
		instances:  make(map[flow.InstanceID]*entry),
	}
}

// recordPhase moves the instances-by-phase gauge from one phase to another.
// Pass hadFrom=false to only increment to (new instance; from is then
// ignored); removal goes through clearPhase.
func (rt *Runtime) recordPhase(from, to instance.Phase, hadFrom bool) {
	if rt.Metrics == nil {
		return
	}
	if hadFrom {
		rt.Metrics.DecPhase(from.String())
	}
	rt.Metrics.IncPhase(to.String())
}

func (rt *Runtime) clearPhase(p instance.Phase) {
	if rt.Metrics == nil {
		return
	}
	rt.Metrics.DecPhase(p.String())
}

// loaderAdapter implements instance.Loader by delegating non-builtin nodes
// to the extension registered for the node's URI suffix.
type loaderAdapter struct {
	rt *Runtime
}

var _ instance.Loader = (*loaderAdapter)(nil)

func (l *loaderAdapter) Load(ctx context.Context, n *flow.NodeDesc) (runner.Node, error) {
	ext := suffixOf(n.URI)
	loader, ok := l.rt.extensions[ext]
	if !ok {
		return nil, xerr.New(xerr.NodeLoad, "node %s: no loader registered for extension %q (uri %s)", n.ID, ext, n.URI)
	}
	node, err := loader.Load(ctx, n)
	if err != nil {
		return nil, xerr.Wrap(xerr.NodeLoad, err, "node %s", n.ID)
	}
	return node, nil
}

func suffixOf(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '.' {
			return uri[i:]
		}
		if uri[i] == '/' {
			break
		}
	}
	return ""
}

// TryLoad is idempotent on the same InstanceID iff the record is
// byte-identical (via its content hash); otherwise fails with
// AlreadyExists (§4.5).
func (rt *Runtime) TryLoad(ctx context.Context, record *flow.Record) error {
	rt.mu.Lock()
	if e, ok := rt.instances[record.ID]; ok {
		rt.mu.Unlock()
		if e.inst.Record().Hash() == record.Hash() {
			return nil
		}
		return xerr.New(xerr.AlreadyExists, "instance %s: divergent record", record.ID)
	}
	rt.mu.Unlock()

	inst, err := instance.New(ctx, record, rt.ID, rt.Sess, &loaderAdapter{rt: rt})
	if err != nil {
		return err
	}
	if rt.Metrics != nil {
		inst.SetMetrics(rt.Metrics)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if e, ok := rt.instances[record.ID]; ok {
		// lost a race with a concurrent identical Create.
		if e.inst.Record().Hash() == record.Hash() {
			return nil
		}
		return xerr.New(xerr.AlreadyExists, "instance %s: divergent record", record.ID)
	}
	rt.instances[record.ID] = &entry{inst: inst}
	rt.recordPhase(0, instance.Created, false)
	rt.maybePruneLocked()
	return nil
}

func (rt *Runtime) get(id flow.InstanceID) (*entry, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	e, ok := rt.instances[id]
	if !ok {
		return nil, xerr.New(xerr.NotFound, "instance %s", id)
	}
	return e, nil
}

func (rt *Runtime) TryStart(ctx context.Context, id flow.InstanceID) error {
	e, err := rt.get(id)
	if err != nil {
		return err
	}
	before := e.inst.Status().Phase
	err = e.inst.StartAll(ctx)
	rt.recordPhase(before, e.inst.Status().Phase, true)
	return err
}

func (rt *Runtime) TryAbort(ctx context.Context, id flow.InstanceID) error {
	e, err := rt.get(id)
	if err != nil {
		return err
	}
	before := e.inst.Status().Phase
	err = e.inst.AbortAll(ctx)
	rt.recordPhase(before, e.inst.Status().Phase, true)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	e.abortedAt = time.Now()
	rt.mu.Unlock()
	return nil
}

func (rt *Runtime) TryDelete(ctx context.Context, id flow.InstanceID) error {
	e, err := rt.get(id)
	if err != nil {
		return err
	}
	status := e.inst.Status()
	if status.Phase != instance.Aborted && status.Phase != instance.Created && status.Phase != instance.Failed {
		return xerr.New(xerr.InvalidTransition, "instance %s: cannot delete from %s", id, status.Phase)
	}
	if err := e.inst.Clean(ctx); err != nil {
		return err
	}
	rt.mu.Lock()
	delete(rt.instances, id)
	rt.mu.Unlock()
	rt.clearPhase(status.Phase)
	return nil
}

func (rt *Runtime) TryGetRecord(id flow.InstanceID) (*flow.Record, error) {
	e, err := rt.get(id)
	if err != nil {
		return nil, err
	}
	return e.inst.Record(), nil
}

func (rt *Runtime) TryGetStatus(id flow.InstanceID) (instance.Status, error) {
	e, err := rt.get(id)
	if err != nil {
		return instance.Status{}, err
	}
	return e.inst.Status(), nil
}

// TryGetNodeSnaps returns the per-node runner introspection for every node
// (including synthesized bridges) of the named instance.
func (rt *Runtime) TryGetNodeSnaps(id flow.InstanceID) (map[flow.NodeID]runner.Snap, error) {
	e, err := rt.get(id)
	if err != nil {
		return nil, err
	}
	return e.inst.Snaps(), nil
}

// List enumerates the ids of every instance currently registered.
func (rt *Runtime) List() []flow.InstanceID {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]flow.InstanceID, 0, len(rt.instances))
	for id := range rt.instances {
		out = append(out, id)
	}
	return out
}

// maybePruneLocked runs the lazy housekeeping sweep at most once per
// pruneInterval, called opportunistically from TryLoad — the teacher runs
// this off a dedicated hk ticker; a single-daemon-process registry this
// size doesn't warrant a background goroutine of its own.
func (rt *Runtime) maybePruneLocked() {
	now := time.Now()
	if now.Sub(rt.lastPrune) < pruneInterval {
		return
	}
	rt.lastPrune = now
	for id, e := range rt.instances {
		if e.abortedAt.IsZero() {
			continue
		}
		if now.Sub(e.abortedAt) >= keepOldFor {
			nlog.Infof("runtime %s: pruning long-aborted instance %s", rt.ID, id)
			delete(rt.instances, id)
		}
	}
}
