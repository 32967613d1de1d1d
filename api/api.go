// Package api is a thin Go client over the control plane's two queryables,
// mirroring the shape of the teacher's own api package: one function per
// request variant, a small params struct threaded through every call, and
// jsoniter marshal/unmarshal (via cmn/cos) instead of hand-rolled encoding.
// Unlike the teacher's HTTP-based BaseParams, a call here goes out over a
// session.Session Get rather than an *http.Client, since the control plane
// this repo implements runs over pub/sub queries, not REST.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package api

import (
	"context"

	"github.com/zenoh-flow/zenohd/cmn/cos"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/proto"
	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/xerr"
)

// Params bundles the transport and target runtime every call needs, in the
// style of the teacher's BaseParams.
type Params struct {
	Sess    session.Session
	Runtime flow.RuntimeID
}

func do(ctx context.Context, p Params, kind string, payload []byte) (proto.Reply, error) {
	selector := proto.Selector(p.Runtime, kind)
	replies, err := p.Sess.Get(ctx, selector, payload)
	if err != nil {
		return proto.Reply{}, xerr.Wrap(xerr.Transport, err, "api: %s", selector)
	}
	if len(replies) == 0 {
		return proto.Reply{}, xerr.New(xerr.PeerTimeout, "api: %s: no reply", selector)
	}
	rep := replies[0]
	if rep.Err != nil {
		return proto.Reply{}, rep.Err
	}
	var reply proto.Reply
	if err := cos.UnmarshalJSON(rep.Payload, &reply); err != nil {
		return proto.Reply{}, xerr.Wrap(xerr.Transport, err, "api: %s: decode reply", selector)
	}
	if !reply.OK && reply.Error != nil {
		return proto.Reply{}, xerr.New(xerr.Kind(reply.Error.Kind), "%s", reply.Error.Detail)
	}
	return reply, nil
}

func doRuntime(ctx context.Context, p Params, typ proto.RuntimeReqType, body any) (proto.Reply, error) {
	req := proto.RuntimeRequest{Type: typ, Origin: proto.OriginClient}
	if body != nil {
		req.Body = cos.MustMarshal(body)
	}
	return do(ctx, p, "runtimes", cos.MustMarshal(req))
}

func doInstance(ctx context.Context, p Params, typ proto.InstanceReqType, body any) (proto.Reply, error) {
	req := proto.InstanceRequest{Type: typ, Origin: proto.OriginClient}
	if body != nil {
		req.Body = cos.MustMarshal(body)
	}
	return do(ctx, p, "instances", cos.MustMarshal(req))
}

// GetRuntimeInfo returns the target daemon's identity and loaded extensions.
func GetRuntimeInfo(ctx context.Context, p Params) (proto.RuntimeInfo, error) {
	reply, err := doRuntime(ctx, p, proto.RuntimeReqInfo, nil)
	if err != nil {
		return proto.RuntimeInfo{}, err
	}
	var info proto.RuntimeInfo
	err = cos.UnmarshalJSON(reply.Body, &info)
	return info, err
}

// GetRuntimeStatus returns every instance the target daemon knows about and
// its coarse phase.
func GetRuntimeStatus(ctx context.Context, p Params) (proto.StatusResponse, error) {
	reply, err := doRuntime(ctx, p, proto.RuntimeStatus, nil)
	if err != nil {
		return proto.StatusResponse{}, err
	}
	var resp proto.StatusResponse
	err = cos.UnmarshalJSON(reply.Body, &resp)
	return resp, err
}

// ListRuntimeInstances returns the ids the target daemon has registered.
func ListRuntimeInstances(ctx context.Context, p Params) ([]flow.InstanceID, error) {
	reply, err := doRuntime(ctx, p, proto.RuntimeList, nil)
	if err != nil {
		return nil, err
	}
	var ids []flow.InstanceID
	err = cos.UnmarshalJSON(reply.Body, &ids)
	return ids, err
}

// CreateInstance loads record on the target daemon and fans out to every
// peer the record's mapping names (§4.7).
func CreateInstance(ctx context.Context, p Params, record *flow.Record) error {
	_, err := doInstance(ctx, p, proto.InstanceCreate, proto.CreateBody{Record: *record})
	return err
}

// StartInstance resumes every runner of id, local and fanned out.
func StartInstance(ctx context.Context, p Params, id flow.InstanceID) error {
	_, err := doInstance(ctx, p, proto.InstanceStart, proto.IDBody{ID: id})
	return err
}

// AbortInstance cooperatively stops every runner of id, local and fanned out.
func AbortInstance(ctx context.Context, p Params, id flow.InstanceID) error {
	_, err := doInstance(ctx, p, proto.InstanceAbort, proto.IDBody{ID: id})
	return err
}

// DeleteInstance aborts (if running) then tears down id, local and fanned
// out.
func DeleteInstance(ctx context.Context, p Params, id flow.InstanceID) error {
	_, err := doInstance(ctx, p, proto.InstanceDelete, proto.IDBody{ID: id})
	return err
}

// ListInstances returns the ids the target daemon has registered.
func ListInstances(ctx context.Context, p Params) ([]flow.InstanceID, error) {
	reply, err := doInstance(ctx, p, proto.InstanceList, nil)
	if err != nil {
		return nil, err
	}
	var ids []flow.InstanceID
	err = cos.UnmarshalJSON(reply.Body, &ids)
	return ids, err
}

// GetInstanceStatus returns id's phase, plus per-node runner introspection,
// on the target daemon.
func GetInstanceStatus(ctx context.Context, p Params, id flow.InstanceID) (proto.InstanceStatusResponse, error) {
	reply, err := doInstance(ctx, p, proto.InstanceStatus, proto.IDBody{ID: id})
	if err != nil {
		return proto.InstanceStatusResponse{}, err
	}
	var st proto.InstanceStatusResponse
	err = cos.UnmarshalJSON(reply.Body, &st)
	return st, err
}

// GetInstanceRecord returns the record id was created from.
func GetInstanceRecord(ctx context.Context, p Params, id flow.InstanceID) (*flow.Record, error) {
	reply, err := doInstance(ctx, p, proto.InstanceRecord, proto.IDBody{ID: id})
	if err != nil {
		return nil, err
	}
	var rec flow.Record
	if err := cos.UnmarshalJSON(reply.Body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
