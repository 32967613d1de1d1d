package instance_test

import (
	"context"
	"testing"

	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/instance"
	"github.com/zenoh-flow/zenohd/runner"
	"github.com/zenoh-flow/zenohd/session/local"
	"github.com/zenoh-flow/zenohd/xerr"
)

type noopLoader struct{}

func (noopLoader) Load(context.Context, *flow.NodeDesc) (runner.Node, error) {
	return nil, xerr.New(xerr.NodeLoad, "no external nodes in this test")
}

func pipelineRecord() *flow.Record {
	return &flow.Record{
		ID: "pipe-1",
		Nodes: []flow.NodeDesc{
			{
				ID: "src", Runtime: "rt1", Kind: flow.KindSource, Builtin: true,
				Outputs: []flow.PortDesc{{ID: "out", TypeHint: "bytes"}},
				KeyExprs: map[flow.PortID]string{"out": "ingress/topic"},
			},
			{
				ID: "sink", Runtime: "rt1", Kind: flow.KindSink, Builtin: true,
				Inputs: []flow.PortDesc{{ID: "in", TypeHint: "bytes"}},
				KeyExprs: map[flow.PortID]string{"in": "egress/topic"},
			},
		},
		Links: []flow.Link{
			{From: flow.PortRef{Node: "src", Port: "out"}, To: flow.PortRef{Node: "sink", Port: "in"}},
		},
	}
}

func TestStartAllRefusesFromRunning(t *testing.T) {
	bus := local.NewBus()
	sess := local.NewSession(bus, "rt1")
	inst, err := instance.New(context.Background(), pipelineRecord(), "rt1", sess, noopLoader{})
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	err = inst.StartAll(context.Background())
	if xerr.KindOf(err) != xerr.InvalidTransition {
		t.Fatalf("expected InvalidTransition restarting a Running instance, got %v", err)
	}
}

func TestCleanRefusesFromRunning(t *testing.T) {
	bus := local.NewBus()
	sess := local.NewSession(bus, "rt1")
	inst, err := instance.New(context.Background(), pipelineRecord(), "rt1", sess, noopLoader{})
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	err = inst.Clean(context.Background())
	if xerr.KindOf(err) != xerr.InvalidTransition {
		t.Fatalf("expected InvalidTransition cleaning a Running instance, got %v", err)
	}
}

func TestCleanFromCreatedKeepsPhase(t *testing.T) {
	bus := local.NewBus()
	sess := local.NewSession(bus, "rt1")
	inst, err := instance.New(context.Background(), pipelineRecord(), "rt1", sess, noopLoader{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := inst.NodeSnap("src"); !ok {
		t.Fatal("expected a snap for node src before clean")
	}
	if err := inst.Clean(context.Background()); err != nil {
		t.Fatal(err)
	}
	if inst.Status().Phase != instance.Created {
		t.Fatalf("Clean should not change phase by itself, got %v", inst.Status().Phase)
	}
}
