// Package orch implements §4.7's orchestration routines: the multi-daemon
// create/start/abort/delete workflows that replicate a client's mutation to
// every other runtime named by a record's mapping. Grounded on
// ais/prxtxn.go's txnClientCtx broadcast helper (begin/commit/bcast),
// adapted from its two-phase begin/commit protocol down to the single-phase
// fan-out this spec calls for: issue one `get` per peer, collect outcomes,
// never roll back the already-committed local mutation.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package orch

import (
	"context"
	"encoding/json"

	"github.com/zenoh-flow/zenohd/cmn/cos"
	"github.com/zenoh-flow/zenohd/cmn/nlog"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/proto"
	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/stats"
	"github.com/zenoh-flow/zenohd/xerr"
)

// Outcome is the fan-out reply shape §9's Design Notes commits to.
type Outcome struct {
	Local xerr.Outcome                    `json:"local"`
	Peers map[flow.RuntimeID]xerr.Outcome `json:"peers"`
}

// FanOutCreate replicates Create(record) with origin=Daemon to every
// runtime in the record's mapping other than self. Peers not named in the
// mapping are not contacted (§4.7: "Peer daemons that do not appear in the
// record's mapping ignore the request"). A peer error is recorded and does
// not stop the others (§4.7).
func FanOutCreate(ctx context.Context, sess session.Session, self flow.RuntimeID, record *flow.Record, m *stats.Tracker) map[flow.RuntimeID]xerr.Outcome {
	body := cos.MustMarshal(proto.CreateBody{Record: *record})
	return fanOut(ctx, sess, self, record.RuntimeIDs(), proto.InstanceCreate, body, m)
}

// FanOutMutate replicates Start/Abort/Delete with origin=Daemon to every
// runtime in the record's mapping other than self.
func FanOutMutate(ctx context.Context, sess session.Session, self flow.RuntimeID, record *flow.Record, typ proto.InstanceReqType, m *stats.Tracker) map[flow.RuntimeID]xerr.Outcome {
	body := cos.MustMarshal(proto.IDBody{ID: record.ID})
	return fanOut(ctx, sess, self, record.RuntimeIDs(), typ, body, m)
}

func fanOut(ctx context.Context, sess session.Session, self flow.RuntimeID, peers []flow.RuntimeID, typ proto.InstanceReqType, body json.RawMessage, m *stats.Tracker) map[flow.RuntimeID]xerr.Outcome {
	out := make(map[flow.RuntimeID]xerr.Outcome, len(peers))
	req := proto.InstanceRequest{Type: typ, Origin: proto.OriginDaemon, Body: body}
	payload := cos.MustMarshal(req)

	for _, rt := range peers {
		if rt == self {
			continue
		}
		if m != nil {
			m.IncFanOutRequest(string(typ))
		}
		selector := proto.Selector(rt, "instances")
		replies, err := sess.Get(ctx, selector, payload)
		if err != nil {
			oc := xerr.OutcomeOf(xerr.Wrap(xerr.Transport, err, "fan-out %s to %s", typ, rt))
			out[rt] = oc
			if m != nil {
				m.IncFanOutPeerErr(string(oc.Kind))
			}
			continue
		}
		oc := outcomeFromReplies(rt, typ, replies)
		out[rt] = oc
		if m != nil && !oc.OK {
			m.IncFanOutPeerErr(string(oc.Kind))
		}
	}
	return out
}

func outcomeFromReplies(rt flow.RuntimeID, typ proto.InstanceReqType, replies []session.Reply) xerr.Outcome {
	if len(replies) == 0 {
		return xerr.OutcomeOf(xerr.New(xerr.PeerTimeout, "fan-out %s to %s: no reply", typ, rt))
	}
	rep := replies[0]
	if rep.Err != nil {
		nlog.Warningf("orch: fan-out %s to %s: %v", typ, rt, rep.Err)
		return xerr.OutcomeOf(rep.Err)
	}
	var reply proto.Reply
	if err := cos.UnmarshalJSON(rep.Payload, &reply); err != nil {
		return xerr.OutcomeOf(xerr.Wrap(xerr.Transport, err, "fan-out %s to %s: decode reply", typ, rt))
	}
	if !reply.OK && reply.Error != nil {
		return xerr.Outcome{OK: false, Kind: xerr.Kind(reply.Error.Kind), Detail: reply.Error.Detail}
	}
	return xerr.Outcome{OK: reply.OK}
}
