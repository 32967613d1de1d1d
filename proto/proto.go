// Package proto is the control plane's wire schema (§4.6, §6): the tagged
// request/response shapes exchanged with the `runtimes` and `instances`
// queryables. Kept separate from package control so that both the daemon
// side (control) and the orchestration/client side (orch, api) can depend
// on the schema without depending on each other.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package proto

import (
	"encoding/json"

	"github.com/zenoh-flow/zenohd/flow"
)

// Origin distinguishes a request an external controller sent from one a
// peer daemon fanned out, preventing re-fanout loops (§4.6).
type Origin string

const (
	OriginClient Origin = "Client"
	OriginDaemon Origin = "Daemon"
)

type RuntimeReqType string

const (
	RuntimeReqInfo   RuntimeReqType = "Info"
	RuntimeStatus    RuntimeReqType = "Status"
	RuntimeList      RuntimeReqType = "List"
)

type InstanceReqType string

const (
	InstanceCreate InstanceReqType = "Create"
	InstanceStart  InstanceReqType = "Start"
	InstanceAbort  InstanceReqType = "Abort"
	InstanceDelete InstanceReqType = "Delete"
	InstanceList   InstanceReqType = "List"
	InstanceStatus InstanceReqType = "Status"
	InstanceRecord InstanceReqType = "Record"
)

// RuntimeRequest is the payload decoded at the `runtimes` queryable.
type RuntimeRequest struct {
	Type   RuntimeReqType  `json:"type"`
	Origin Origin          `json:"origin"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// InstanceRequest is the payload decoded at the `instances` queryable.
type InstanceRequest struct {
	Type   InstanceReqType `json:"type"`
	Origin Origin          `json:"origin"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type (
	CreateBody struct {
		Record flow.Record `json:"record"`
	}
	IDBody struct {
		ID flow.InstanceID `json:"id"`
	}
)

// Reply is the uniform response envelope: either a successful Body or a
// structured Error, never both.
type Reply struct {
	OK    bool            `json:"ok"`
	Body  json.RawMessage `json:"body,omitempty"`
	Error *ReplyError     `json:"error,omitempty"`
}

type ReplyError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// RuntimeInfo is the supplemented Info response shape (original_source/'s
// RuntimeInfo: name, version, extensions), per SPEC_FULL's SUPPLEMENTED
// FEATURES section.
type RuntimeInfo struct {
	RuntimeID  flow.RuntimeID `json:"runtime_id"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Extensions []string       `json:"extensions"`
}

// StatusResponse is the runtime-scoped Status reply: every instance id and
// its coarse phase.
type StatusResponse struct {
	Instances map[flow.InstanceID]string `json:"instances"`
}

// NodeSnap mirrors runner.Snap for the wire: package proto stays independent
// of package runner, so the control handler translates field-by-field.
type NodeSnap struct {
	State     string `json:"state"`
	Iters     int64  `json:"iters"`
	ErrCount  int64  `json:"err_count"`
	LastErr   string `json:"last_err,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
}

// InstanceStatusResponse is the instance-scoped Status{id} reply: the
// coarse instance status plus, per SPEC_FULL.md's supplemented features,
// every node's runner introspection.
type InstanceStatusResponse struct {
	Phase  string                   `json:"phase"`
	Kind   string                   `json:"kind,omitempty"`
	Detail string                   `json:"detail,omitempty"`
	Nodes  map[flow.NodeID]NodeSnap `json:"nodes,omitempty"`
}

// Selector returns the well-known selector string for one of the two
// queryables a daemon declares (§6: "zenoh-flow/<runtime_id>/{runtimes|instances}").
func Selector(runtimeID flow.RuntimeID, kind string) string {
	return "zenoh-flow/" + string(runtimeID) + "/" + kind
}
