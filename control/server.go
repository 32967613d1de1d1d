package control

import (
	"context"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/zenoh-flow/zenohd/cmn/cos"
	"github.com/zenoh-flow/zenohd/cmn/nlog"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/instance"
	"github.com/zenoh-flow/zenohd/orch"
	"github.com/zenoh-flow/zenohd/proto"
	"github.com/zenoh-flow/zenohd/runtime"
	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/stats"
	"github.com/zenoh-flow/zenohd/xerr"
)

const dedupCapacity = 4096

// Server declares the two queryables of §4.6 against a session and wires
// them into a runtime. The zero value is not usable; use New.
type Server struct {
	rt   *runtime.Runtime
	sess session.Session

	name       string
	extensions []string

	// seen guards against duplicate fan-out delivery under transport-level
	// retries, supplementary to the origin tag alone — grounded on the
	// teacher's own probabilistic-membership-filter style of defensive
	// deduplication.
	seen *cuckoo.Filter

	// metrics is optional; nil disables the control-requests counter and
	// fan-out counters passed down to package orch.
	metrics *stats.Tracker

	runtimesQ  session.Queryable
	instancesQ session.Queryable
}

func New(rt *runtime.Runtime, sess session.Session, name string, extensions []string, metrics *stats.Tracker) (*Server, error) {
	s := &Server{
		rt:         rt,
		sess:       sess,
		name:       name,
		extensions: extensions,
		seen:       cuckoo.NewFilter(dedupCapacity),
		metrics:    metrics,
	}
	var err error
	s.runtimesQ, err = sess.DeclareQueryable(proto.Selector(rt.ID, "runtimes"), s.handleRuntimeQuery)
	if err != nil {
		return nil, xerr.Wrap(xerr.Transport, err, "control: declare runtimes queryable")
	}
	s.instancesQ, err = sess.DeclareQueryable(proto.Selector(rt.ID, "instances"), s.handleInstanceQuery)
	if err != nil {
		return nil, xerr.Wrap(xerr.Transport, err, "control: declare instances queryable")
	}
	return s, nil
}

func (s *Server) Close() error {
	s.runtimesQ.Close()
	s.instancesQ.Close()
	return nil
}

func okReply(body any) []byte {
	return cos.MustMarshal(proto.Reply{OK: true, Body: cos.MustMarshal(body)})
}

func errReply(err error) []byte {
	e := xerr.KindOf(err)
	return cos.MustMarshal(proto.Reply{OK: false, Error: &proto.ReplyError{Kind: string(e), Detail: err.Error()}})
}

func (s *Server) handleRuntimeQuery(_ context.Context, payload []byte) ([]byte, error) {
	var req proto.RuntimeRequest
	if err := cos.UnmarshalJSON(payload, &req); err != nil {
		return errReply(xerr.Wrap(xerr.InvalidRequest, err, "decode runtime request")), nil
	}
	if s.metrics != nil {
		s.metrics.IncControlRequest("runtimes", string(req.Type))
	}
	switch req.Type {
	case proto.RuntimeReqInfo:
		return okReply(proto.RuntimeInfo{
			RuntimeID:  s.rt.ID,
			Name:       s.name,
			Version:    "0.1.0",
			Extensions: s.extensions,
		}), nil
	case proto.RuntimeStatus:
		resp := proto.StatusResponse{Instances: make(map[flow.InstanceID]string)}
		for _, id := range s.rt.List() {
			st, err := s.rt.TryGetStatus(id)
			if err != nil {
				continue
			}
			resp.Instances[id] = st.Phase.String()
		}
		return okReply(resp), nil
	case proto.RuntimeList:
		return okReply(s.rt.List()), nil
	default:
		return errReply(xerr.New(xerr.InvalidRequest, "unknown runtime request type %q", req.Type)), nil
	}
}

func (s *Server) dedupKey(typ proto.InstanceReqType, origin proto.Origin, body []byte) []byte {
	return append([]byte(string(typ)+"|"+string(origin)+"|"), body...)
}

func (s *Server) handleInstanceQuery(ctx context.Context, payload []byte) ([]byte, error) {
	var req proto.InstanceRequest
	if err := cos.UnmarshalJSON(payload, &req); err != nil {
		return errReply(xerr.Wrap(xerr.InvalidRequest, err, "decode instance request")), nil
	}

	if req.Origin == proto.OriginDaemon {
		key := s.dedupKey(req.Type, req.Origin, req.Body)
		if s.seen.Lookup(key) {
			nlog.Infof("control: dropping duplicate fanned-out %s request", req.Type)
			return okReply(struct{}{}), nil
		}
		s.seen.Insert(key)
	}

	if s.metrics != nil {
		s.metrics.IncControlRequest("instances", string(req.Type))
	}

	switch req.Type {
	case proto.InstanceCreate:
		return s.handleCreate(ctx, req)
	case proto.InstanceStart:
		return s.handleMutate(ctx, req, proto.InstanceStart)
	case proto.InstanceAbort:
		return s.handleMutate(ctx, req, proto.InstanceAbort)
	case proto.InstanceDelete:
		return s.handleMutate(ctx, req, proto.InstanceDelete)
	case proto.InstanceList:
		return okReply(s.rt.List()), nil
	case proto.InstanceStatus:
		var body proto.IDBody
		if err := cos.UnmarshalJSON(req.Body, &body); err != nil {
			return errReply(xerr.Wrap(xerr.InvalidRequest, err, "decode Status body")), nil
		}
		st, err := s.rt.TryGetStatus(body.ID)
		if err != nil {
			return errReply(err), nil
		}
		resp := proto.InstanceStatusResponse{
			Phase:  st.Phase.String(),
			Kind:   string(st.Kind),
			Detail: st.Detail,
		}
		if snaps, err := s.rt.TryGetNodeSnaps(body.ID); err == nil {
			resp.Nodes = make(map[flow.NodeID]proto.NodeSnap, len(snaps))
			for id, snap := range snaps {
				ns := proto.NodeSnap{
					State:    snap.State.String(),
					Iters:    snap.Iters,
					ErrCount: snap.ErrCount,
					LastErr:  snap.LastErr,
				}
				if !snap.StartedAt.IsZero() {
					ns.StartedAt = snap.StartedAt.Format(time.RFC3339Nano)
				}
				resp.Nodes[id] = ns
			}
		}
		return okReply(resp), nil
	case proto.InstanceRecord:
		var body proto.IDBody
		if err := cos.UnmarshalJSON(req.Body, &body); err != nil {
			return errReply(xerr.Wrap(xerr.InvalidRequest, err, "decode Record body")), nil
		}
		rec, err := s.rt.TryGetRecord(body.ID)
		if err != nil {
			return errReply(err), nil
		}
		return okReply(rec), nil
	default:
		return errReply(xerr.New(xerr.InvalidRequest, "unknown instance request type %q", req.Type)), nil
	}
}

func (s *Server) handleCreate(ctx context.Context, req proto.InstanceRequest) ([]byte, error) {
	var body proto.CreateBody
	if err := cos.UnmarshalJSON(req.Body, &body); err != nil {
		return errReply(xerr.Wrap(xerr.InvalidRequest, err, "decode Create body")), nil
	}
	record := &body.Record
	localErr := s.rt.TryLoad(ctx, record)

	if req.Origin != proto.OriginClient || localErr != nil {
		if localErr != nil {
			return errReply(localErr), nil
		}
		return okReply(struct{}{}), nil
	}

	peers := orch.FanOutCreate(ctx, s.sess, s.rt.ID, record, s.metrics)
	return okReply(orch.Outcome{Local: xerr.OutcomeOf(nil), Peers: peers}), nil
}

func (s *Server) handleMutate(ctx context.Context, req proto.InstanceRequest, typ proto.InstanceReqType) ([]byte, error) {
	var body proto.IDBody
	if err := cos.UnmarshalJSON(req.Body, &body); err != nil {
		return errReply(xerr.Wrap(xerr.InvalidRequest, err, "decode %s body", typ)), nil
	}

	// Fetch the record before mutating so a client-initiated Delete still
	// has a mapping to fan out against after the local instance is gone.
	record, recErr := s.rt.TryGetRecord(body.ID)

	var localErr error
	switch typ {
	case proto.InstanceStart:
		localErr = s.rt.TryStart(ctx, body.ID)
	case proto.InstanceAbort:
		localErr = s.rt.TryAbort(ctx, body.ID)
	case proto.InstanceDelete:
		if req.Origin == proto.OriginClient && recErr == nil {
			// a client-initiated delete implicitly aborts first (§4.7);
			// fanned-out deletes require peers to already be aborted.
			if st, err := s.rt.TryGetStatus(body.ID); err == nil && st.Phase == instance.Running {
				if err := s.rt.TryAbort(ctx, body.ID); err != nil {
					return errReply(err), nil
				}
			}
		}
		localErr = s.rt.TryDelete(ctx, body.ID)
	}

	if req.Origin != proto.OriginClient || localErr != nil {
		if localErr != nil {
			return errReply(localErr), nil
		}
		return okReply(struct{}{}), nil
	}

	if recErr != nil {
		return okReply(orch.Outcome{Local: xerr.OutcomeOf(nil)}), nil
	}
	peers := orch.FanOutMutate(ctx, s.sess, s.rt.ID, record, typ, s.metrics)
	return okReply(orch.Outcome{Local: xerr.OutcomeOf(nil), Peers: peers}), nil
}
