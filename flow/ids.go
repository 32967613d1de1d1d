// Package flow implements the data model of §3: flattened records, nodes,
// ports, links, and the identifier types that name them.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package flow

import "github.com/zenoh-flow/zenohd/cmn/cos"

type (
	RuntimeID  string
	InstanceID string
	NodeID     string
	PortID     string
)

func NewRuntimeID() RuntimeID   { return RuntimeID(cos.GenUUID()) }
func NewInstanceID() InstanceID { return InstanceID(cos.GenUUID()) }

func (id RuntimeID) Valid() bool  { return cos.IsAlphaNice(string(id)) }
func (id InstanceID) Valid() bool { return cos.IsAlphaNice(string(id)) }
func (id NodeID) Valid() bool     { return string(id) != "" }
func (id PortID) Valid() bool     { return string(id) != "" }

// PortRef names one port on one node, the unit both links and the
// instance's channel/bridge table key off of.
type PortRef struct {
	Node NodeID `json:"node"`
	Port PortID `json:"port"`
}

func (r PortRef) String() string { return string(r.Node) + "." + string(r.Port) }
