package control_test

import (
	"context"
	"testing"

	"github.com/zenoh-flow/zenohd/api"
	"github.com/zenoh-flow/zenohd/control"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/instance"
	"github.com/zenoh-flow/zenohd/runtime"
	"github.com/zenoh-flow/zenohd/session/local"
	"github.com/zenoh-flow/zenohd/xerr"
)

type daemon struct {
	rt  *runtime.Runtime
	srv *control.Server
}

func newDaemon(t *testing.T, bus *local.Bus, id flow.RuntimeID) *daemon {
	t.Helper()
	sess := local.NewSession(bus, string(id))
	rt := runtime.New(id, sess, nil)
	srv, err := control.New(rt, sess, string(id), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &daemon{rt: rt, srv: srv}
}

func twoRuntimeRecord() *flow.Record {
	return &flow.Record{
		ID: "fan-1",
		Nodes: []flow.NodeDesc{
			{
				ID: "src", Runtime: "rt1", Kind: flow.KindSource, Builtin: true,
				Outputs:  []flow.PortDesc{{ID: "out", TypeHint: "bytes"}},
				KeyExprs: map[flow.PortID]string{"out": "x/topic"},
			},
			{
				ID: "sink", Runtime: "rt2", Kind: flow.KindSink, Builtin: true,
				Inputs:   []flow.PortDesc{{ID: "in", TypeHint: "bytes"}},
				KeyExprs: map[flow.PortID]string{"in": "y/topic"},
			},
		},
		Links: []flow.Link{
			{From: flow.PortRef{Node: "src", Port: "out"}, To: flow.PortRef{Node: "sink", Port: "in"}},
		},
	}
}

// §8 scenario 2: a client-initiated Create against rt1 fans out to rt2,
// which independently loads its half of the mapping.
func TestCreateFansOutToPeerRuntime(t *testing.T) {
	bus := local.NewBus()
	d1 := newDaemon(t, bus, "rt1")
	d2 := newDaemon(t, bus, "rt2")
	defer d1.srv.Close()
	defer d2.srv.Close()

	clientSess := local.NewSession(bus, "client")
	p := api.Params{Sess: clientSess, Runtime: "rt1"}

	record := twoRuntimeRecord()
	if err := api.CreateInstance(context.Background(), p, record); err != nil {
		t.Fatal(err)
	}

	if _, err := d1.rt.TryGetRecord("fan-1"); err != nil {
		t.Fatalf("rt1 never loaded its half: %v", err)
	}
	if _, err := d2.rt.TryGetRecord("fan-1"); err != nil {
		t.Fatalf("rt2 never loaded its half via fan-out: %v", err)
	}
}

// Duplicate create: a second identical Create against the already-loaded
// instance id is a no-op, not an error (§8 boundary).
func TestDuplicateCreateIsIdempotent(t *testing.T) {
	bus := local.NewBus()
	d1 := newDaemon(t, bus, "rt1")
	d2 := newDaemon(t, bus, "rt2")
	defer d1.srv.Close()
	defer d2.srv.Close()

	clientSess := local.NewSession(bus, "client")
	p := api.Params{Sess: clientSess, Runtime: "rt1"}
	record := twoRuntimeRecord()

	if err := api.CreateInstance(context.Background(), p, record); err != nil {
		t.Fatal(err)
	}
	if err := api.CreateInstance(context.Background(), p, record); err != nil {
		t.Fatalf("re-creating an identical record should be idempotent, got %v", err)
	}
}

func TestStartAbortDeleteFanOutAcrossRuntimes(t *testing.T) {
	bus := local.NewBus()
	d1 := newDaemon(t, bus, "rt1")
	d2 := newDaemon(t, bus, "rt2")
	defer d1.srv.Close()
	defer d2.srv.Close()

	clientSess := local.NewSession(bus, "client")
	p := api.Params{Sess: clientSess, Runtime: "rt1"}
	record := twoRuntimeRecord()
	ctx := context.Background()

	if err := api.CreateInstance(ctx, p, record); err != nil {
		t.Fatal(err)
	}
	if err := api.StartInstance(ctx, p, "fan-1"); err != nil {
		t.Fatal(err)
	}

	st1, err := d1.rt.TryGetStatus("fan-1")
	if err != nil || st1.Phase != instance.Running {
		t.Fatalf("rt1 not Running: %+v / %v", st1, err)
	}
	st2, err := d2.rt.TryGetStatus("fan-1")
	if err != nil || st2.Phase != instance.Running {
		t.Fatalf("rt2 never started via fan-out: %+v / %v", st2, err)
	}

	if err := api.AbortInstance(ctx, p, "fan-1"); err != nil {
		t.Fatal(err)
	}
	st2, err = d2.rt.TryGetStatus("fan-1")
	if err != nil || st2.Phase != instance.Aborted {
		t.Fatalf("rt2 never aborted via fan-out: %+v / %v", st2, err)
	}

	if err := api.DeleteInstance(ctx, p, "fan-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := d1.rt.TryGetRecord("fan-1"); xerr.KindOf(err) != xerr.NotFound {
		t.Fatalf("rt1 should have deleted the instance, got %v", err)
	}
	if _, err := d2.rt.TryGetRecord("fan-1"); xerr.KindOf(err) != xerr.NotFound {
		t.Fatalf("rt2 should have deleted the instance via fan-out, got %v", err)
	}
}

// Status{id} surfaces per-node runner introspection alongside the coarse
// instance phase, per SPEC_FULL.md's supplemented Status features.
func TestGetInstanceStatusIncludesNodeSnaps(t *testing.T) {
	bus := local.NewBus()
	d1 := newDaemon(t, bus, "rt1")
	defer d1.srv.Close()

	clientSess := local.NewSession(bus, "client")
	p := api.Params{Sess: clientSess, Runtime: "rt1"}
	record := &flow.Record{
		ID: "status-1",
		Nodes: []flow.NodeDesc{
			{ID: "src", Runtime: "rt1", Kind: flow.KindSource, Builtin: true,
				Outputs: []flow.PortDesc{{ID: "out", TypeHint: "bytes"}}, KeyExprs: map[flow.PortID]string{"out": "s/1"}},
		},
	}
	ctx := context.Background()
	if err := api.CreateInstance(ctx, p, record); err != nil {
		t.Fatal(err)
	}
	if err := api.StartInstance(ctx, p, "status-1"); err != nil {
		t.Fatal(err)
	}

	st, err := api.GetInstanceStatus(ctx, p, "status-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != instance.Running.String() {
		t.Fatalf("expected phase Running, got %q", st.Phase)
	}
	snap, ok := st.Nodes["src"]
	if !ok {
		t.Fatalf("expected a node snap for %q, got %+v", "src", st.Nodes)
	}
	if snap.State == "" {
		t.Fatalf("expected a non-empty runner state, got %+v", snap)
	}
}

// Abort is only legal from Running or Aborted (§3); a Created instance has
// no runners to stop.
func TestAbortRefusesCreatedInstance(t *testing.T) {
	bus := local.NewBus()
	d1 := newDaemon(t, bus, "rt1")
	defer d1.srv.Close()

	clientSess := local.NewSession(bus, "client")
	p := api.Params{Sess: clientSess, Runtime: "rt1"}
	record := &flow.Record{
		ID: "status-2",
		Nodes: []flow.NodeDesc{
			{ID: "src", Runtime: "rt1", Kind: flow.KindSource, Builtin: true,
				Outputs: []flow.PortDesc{{ID: "out", TypeHint: "bytes"}}, KeyExprs: map[flow.PortID]string{"out": "s/2"}},
		},
	}
	ctx := context.Background()
	if err := api.CreateInstance(ctx, p, record); err != nil {
		t.Fatal(err)
	}

	err := api.AbortInstance(ctx, p, "status-2")
	if xerr.KindOf(err) != xerr.InvalidTransition {
		t.Fatalf("expected InvalidTransition aborting a Created instance, got %v", err)
	}
}

// §8 scenario 5: a record naming a runtime with no daemon listening produces
// a per-peer error outcome rather than failing the whole Create.
func TestCreateReportsUnreachablePeerWithoutFailingLocal(t *testing.T) {
	bus := local.NewBus()
	d1 := newDaemon(t, bus, "rt1")
	defer d1.srv.Close()

	record := &flow.Record{
		ID: "fan-2",
		Nodes: []flow.NodeDesc{
			{ID: "src", Runtime: "rt1", Kind: flow.KindSource, Builtin: true,
				Outputs: []flow.PortDesc{{ID: "out", TypeHint: "bytes"}}, KeyExprs: map[flow.PortID]string{"out": "z/a"}},
			{ID: "ghost", Runtime: "rt-unreachable", Kind: flow.KindSink, Builtin: true,
				Inputs: []flow.PortDesc{{ID: "in", TypeHint: "bytes"}}, KeyExprs: map[flow.PortID]string{"in": "z/b"}},
		},
	}

	clientSess := local.NewSession(bus, "client")
	p := api.Params{Sess: clientSess, Runtime: "rt1"}
	if err := api.CreateInstance(context.Background(), p, record); err != nil {
		t.Fatalf("local create must succeed even though a peer is unreachable: %v", err)
	}
	if _, err := d1.rt.TryGetRecord("fan-2"); err != nil {
		t.Fatalf("rt1 should have the instance regardless of the peer outcome: %v", err)
	}
}
