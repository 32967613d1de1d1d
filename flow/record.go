package flow

import (
	"encoding/json"
	"sort"

	"github.com/OneOfOne/xxhash"
	"github.com/zenoh-flow/zenohd/cmn/debug"
	"github.com/zenoh-flow/zenohd/xerr"
)

type NodeKind string

const (
	KindSource   NodeKind = "source"
	KindOperator NodeKind = "operator"
	KindSink     NodeKind = "sink"
)

// PortDesc declares one input or output port of a node. TypeHint is matched
// literally between the two ends of a link — the runtime never inspects
// payload bytes, per §4.1's "opaque byte payloads".
type PortDesc struct {
	ID       PortID `json:"id"`
	TypeHint string `json:"type_hint"`
}

// NodeDesc is one node's placement, kind, configuration, and ports, as
// emitted by the (out-of-scope) graph compiler.
type NodeDesc struct {
	ID      NodeID          `json:"id"`
	Runtime RuntimeID       `json:"runtime"`
	Kind    NodeKind        `json:"kind"`
	Builtin bool            `json:"builtin"`
	URI     string          `json:"uri,omitempty"` // external-loader node: path/URI to load
	Config  json.RawMessage `json:"config,omitempty"`
	Inputs  []PortDesc      `json:"inputs,omitempty"`
	Outputs []PortDesc      `json:"outputs,omitempty"`

	// KeyExprs maps a port id to the pub/sub key expression a built-in
	// bridge node (§4.2) should declare a subscriber/publisher on. Only
	// meaningful when Builtin && (Kind == source || Kind == sink).
	KeyExprs map[PortID]string `json:"key_exprs,omitempty"`
}

// Link connects one upstream output port to one downstream input port.
// KeyExpr is the compiler-assigned pub/sub key expression used when the two
// endpoints sit on different runtimes (§4.2); it is ignored for same-runtime
// links. When empty, Instance derives a canonical one from the link's
// endpoints so that both daemons compute the same expression independently.
type Link struct {
	From    PortRef `json:"from"`
	To      PortRef `json:"to"`
	KeyExpr string  `json:"key_expr,omitempty"`
}

// CrossesRuntime reports whether this link's two endpoints are assigned to
// different runtimes, i.e. whether it needs a pub/sub bridge rather than a
// local channel (§4.4).
func (r *Record) CrossesRuntime(l Link) bool {
	from, _ := r.Node(l.From.Node)
	to, _ := r.Node(l.To.Node)
	if from == nil || to == nil {
		return false
	}
	return from.Runtime != to.Runtime
}

// DerivedKeyExpr returns l.KeyExpr if set, else a canonical expression
// derived from the instance id and the link's endpoints.
func (r *Record) DerivedKeyExpr(l Link) string {
	if l.KeyExpr != "" {
		return l.KeyExpr
	}
	return "zenoh-flow/" + string(r.ID) + "/link/" + l.From.String() + "-" + l.To.String()
}

// Record is the flattened, validated graph ready for instantiation (§3).
type Record struct {
	ID    InstanceID `json:"id"`
	Nodes []NodeDesc `json:"nodes"`
	Links []Link     `json:"links"`

	mapping   map[RuntimeID][]NodeID
	nodeIndex map[NodeID]*NodeDesc
}

// Mapping returns the RuntimeID -> assigned-nodes partition of the node set,
// computed once and cached (§3: "A record exposes a mapping()").
func (r *Record) Mapping() map[RuntimeID][]NodeID {
	if r.mapping == nil {
		r.index()
	}
	return r.mapping
}

func (r *Record) index() {
	r.mapping = make(map[RuntimeID][]NodeID, len(r.Nodes))
	r.nodeIndex = make(map[NodeID]*NodeDesc, len(r.Nodes))
	for i := range r.Nodes {
		n := &r.Nodes[i]
		r.nodeIndex[n.ID] = n
		r.mapping[n.Runtime] = append(r.mapping[n.Runtime], n.ID)
	}
	for rt := range r.mapping {
		sort.Slice(r.mapping[rt], func(i, j int) bool { return r.mapping[rt][i] < r.mapping[rt][j] })
	}
}

func (r *Record) Node(id NodeID) (*NodeDesc, bool) {
	if r.nodeIndex == nil {
		r.index()
	}
	n, ok := r.nodeIndex[id]
	return n, ok
}

// RuntimeIDs enumerates all daemon ids named anywhere in the mapping.
func (r *Record) RuntimeIDs() []RuntimeID {
	m := r.Mapping()
	out := make([]RuntimeID, 0, len(m))
	for rt := range m {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func portOf(n *NodeDesc, id PortID, in bool) (PortDesc, bool) {
	ports := n.Outputs
	if in {
		ports = n.Inputs
	}
	for _, p := range ports {
		if p.ID == id {
			return p, true
		}
	}
	return PortDesc{}, false
}

// Validate enforces §3's invariant: every link's endpoints refer to
// declared ports; port types on the two sides match; each input port has
// exactly one incoming link.
func (r *Record) Validate() error {
	r.index()
	seenInput := make(map[PortRef]bool, len(r.Links))
	for _, l := range r.Links {
		fromNode, ok := r.Node(l.From.Node)
		if !ok {
			return xerr.New(xerr.InvalidRequest, "link references unknown node %q", l.From.Node)
		}
		toNode, ok := r.Node(l.To.Node)
		if !ok {
			return xerr.New(xerr.InvalidRequest, "link references unknown node %q", l.To.Node)
		}
		fromPort, ok := portOf(fromNode, l.From.Port, false)
		if !ok {
			return xerr.New(xerr.InvalidRequest, "link references unknown output port %s", l.From)
		}
		toPort, ok := portOf(toNode, l.To.Port, true)
		if !ok {
			return xerr.New(xerr.InvalidRequest, "link references unknown input port %s", l.To)
		}
		if fromPort.TypeHint != toPort.TypeHint {
			return xerr.New(xerr.InvalidRequest, "link %s -> %s: type mismatch %q != %q",
				l.From, l.To, fromPort.TypeHint, toPort.TypeHint)
		}
		if seenInput[l.To] {
			return xerr.New(xerr.InvalidRequest, "input port %s has more than one incoming link", l.To)
		}
		seenInput[l.To] = true
	}
	debug.Assert(len(r.nodeIndex) == len(r.Nodes), "record ", r.ID, ": duplicate node id in Nodes")
	return nil
}

// Hash returns a content hash of the canonicalized record, used by the
// runtime to decide whether a re-Create with the same InstanceID is
// byte-identical (§4.5) or a divergent AlreadyExists.
func (r *Record) Hash() uint64 {
	b, err := json.Marshal(canonical(r))
	if err != nil {
		panic(err)
	}
	return xxhash.Checksum64(b)
}

// canonical produces a stable (field-order-independent, as far as Go's
// encoding/json's struct-field ordering already guarantees) representation
// for hashing: nodes and links sorted by their natural keys.
func canonical(r *Record) *Record {
	cp := &Record{ID: r.ID, Nodes: append([]NodeDesc(nil), r.Nodes...), Links: append([]Link(nil), r.Links...)}
	sort.Slice(cp.Nodes, func(i, j int) bool { return cp.Nodes[i].ID < cp.Nodes[j].ID })
	sort.Slice(cp.Links, func(i, j int) bool {
		if cp.Links[i].From != cp.Links[j].From {
			return cp.Links[i].From.String() < cp.Links[j].From.String()
		}
		return cp.Links[i].To.String() < cp.Links[j].To.String()
	})
	return cp
}
