package flow_test

import (
	"encoding/json"
	"testing"

	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/xerr"
)

func twoNodeRecord() *flow.Record {
	return &flow.Record{
		ID: "inst-1",
		Nodes: []flow.NodeDesc{
			{ID: "a", Runtime: "rt1", Kind: flow.KindOperator, Outputs: []flow.PortDesc{{ID: "out", TypeHint: "bytes"}}},
			{ID: "b", Runtime: "rt1", Kind: flow.KindOperator, Inputs: []flow.PortDesc{{ID: "in", TypeHint: "bytes"}}},
		},
		Links: []flow.Link{
			{From: flow.PortRef{Node: "a", Port: "out"}, To: flow.PortRef{Node: "b", Port: "in"}},
		},
	}
}

func TestValidateOK(t *testing.T) {
	r := twoNodeRecord()
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}
}

func TestValidateUnknownNode(t *testing.T) {
	r := twoNodeRecord()
	r.Links[0].From.Node = "nope"
	err := r.Validate()
	if xerr.KindOf(err) != xerr.InvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	r := twoNodeRecord()
	r.Nodes[1].Inputs[0].TypeHint = "other"
	err := r.Validate()
	if xerr.KindOf(err) != xerr.InvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestValidateDuplicateIncomingLink(t *testing.T) {
	r := twoNodeRecord()
	r.Nodes = append(r.Nodes, flow.NodeDesc{
		ID: "c", Runtime: "rt1", Kind: flow.KindOperator,
		Outputs: []flow.PortDesc{{ID: "out", TypeHint: "bytes"}},
	})
	r.Links = append(r.Links, flow.Link{
		From: flow.PortRef{Node: "c", Port: "out"},
		To:   flow.PortRef{Node: "b", Port: "in"},
	})
	err := r.Validate()
	if xerr.KindOf(err) != xerr.InvalidRequest {
		t.Fatalf("expected InvalidRequest for double-fed input port, got %v", err)
	}
}

// Mapping().keys() must exactly partition the node set (§8 invariant).
func TestMappingPartitionsNodeSet(t *testing.T) {
	r := &flow.Record{
		Nodes: []flow.NodeDesc{
			{ID: "a", Runtime: "rt1"},
			{ID: "b", Runtime: "rt2"},
			{ID: "c", Runtime: "rt1"},
		},
	}
	m := r.Mapping()
	seen := map[flow.NodeID]bool{}
	for _, ids := range m {
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("node %s assigned to more than one runtime", id)
			}
			seen[id] = true
		}
	}
	for _, n := range r.Nodes {
		if !seen[n.ID] {
			t.Fatalf("node %s missing from mapping", n.ID)
		}
	}
}

func TestCrossesRuntime(t *testing.T) {
	r := &flow.Record{
		Nodes: []flow.NodeDesc{
			{ID: "a", Runtime: "rt1", Outputs: []flow.PortDesc{{ID: "out", TypeHint: "bytes"}}},
			{ID: "b", Runtime: "rt2", Inputs: []flow.PortDesc{{ID: "in", TypeHint: "bytes"}}},
		},
	}
	l := flow.Link{From: flow.PortRef{Node: "a", Port: "out"}, To: flow.PortRef{Node: "b", Port: "in"}}
	if !r.CrossesRuntime(l) {
		t.Fatal("expected link across rt1/rt2 to cross runtimes")
	}
}

func TestDerivedKeyExprStableAndExplicitHonored(t *testing.T) {
	r := twoNodeRecord()
	l := r.Links[0]
	ke1 := r.DerivedKeyExpr(l)
	ke2 := r.DerivedKeyExpr(l)
	if ke1 != ke2 {
		t.Fatalf("derived key expr not stable: %q vs %q", ke1, ke2)
	}
	l.KeyExpr = "explicit/ke"
	if r.DerivedKeyExpr(l) != "explicit/ke" {
		t.Fatal("explicit KeyExpr should be honored unchanged")
	}
}

// Hash is order-independent and detects divergence, the basis for
// Runtime.TryLoad's idempotent-create check (§4.5, §8 boundary).
func TestHashOrderIndependentAndSensitive(t *testing.T) {
	r1 := twoNodeRecord()
	r2 := &flow.Record{ID: r1.ID, Nodes: []flow.NodeDesc{r1.Nodes[1], r1.Nodes[0]}, Links: r1.Links}
	if r1.Hash() != r2.Hash() {
		t.Fatal("hash should be independent of node slice order")
	}
	r3 := twoNodeRecord()
	r3.Links[0].To.Port = "different"
	if r1.Hash() == r3.Hash() {
		t.Fatal("hash should differ when links diverge")
	}
}

// Round-trip: encode any control-relevant value to JSON and decode it back.
func TestRecordJSONRoundTrip(t *testing.T) {
	r := twoNodeRecord()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var got flow.Record
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != r.ID || len(got.Nodes) != len(r.Nodes) || len(got.Links) != len(r.Links) {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestEmptyNodeSetValidates(t *testing.T) {
	r := &flow.Record{ID: "empty"}
	if err := r.Validate(); err != nil {
		t.Fatalf("empty node set should validate (§8 boundary), got %v", err)
	}
}
