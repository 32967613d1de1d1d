package proto_test

import (
	"encoding/json"
	"testing"

	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/proto"
)

func TestInstanceRequestRoundTrip(t *testing.T) {
	body, err := json.Marshal(proto.CreateBody{Record: flow.Record{ID: "i1"}})
	if err != nil {
		t.Fatal(err)
	}
	req := proto.InstanceRequest{Type: proto.InstanceCreate, Origin: proto.OriginClient, Body: body}

	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var got proto.InstanceRequest
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != req.Type || got.Origin != req.Origin {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	var cb proto.CreateBody
	if err := json.Unmarshal(got.Body, &cb); err != nil {
		t.Fatal(err)
	}
	if cb.Record.ID != "i1" {
		t.Fatalf("nested body lost: %+v", cb)
	}
}

func TestReplyRoundTripSuccessAndError(t *testing.T) {
	ok := proto.Reply{OK: true, Body: json.RawMessage(`{"x":1}`)}
	b, err := json.Marshal(ok)
	if err != nil {
		t.Fatal(err)
	}
	var got proto.Reply
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if !got.OK || got.Error != nil {
		t.Fatalf("expected a clean success reply, got %+v", got)
	}

	bad := proto.Reply{OK: false, Error: &proto.ReplyError{Kind: "NotFound", Detail: "instance x1"}}
	b2, err := json.Marshal(bad)
	if err != nil {
		t.Fatal(err)
	}
	var got2 proto.Reply
	if err := json.Unmarshal(b2, &got2); err != nil {
		t.Fatal(err)
	}
	if got2.OK || got2.Error == nil || got2.Error.Kind != "NotFound" {
		t.Fatalf("error reply round trip mismatch: %+v", got2)
	}
}

func TestSelectorFormat(t *testing.T) {
	got := proto.Selector("rt1", "instances")
	want := "zenoh-flow/rt1/instances"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
