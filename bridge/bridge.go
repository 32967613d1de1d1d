// Package bridge implements §4.2's built-in pub/sub source and sink nodes:
// the multiplexers that shuttle bytes between a local port channel and a
// remote key expression when a link crosses a daemon boundary. Grounded on
// the teacher's ext/etl communicator pattern (a long-lived object exposing
// exactly the lifecycle hooks its driver needs) and on the narrow-mutex
// discipline of xact/xreg's entries table: the pending-receive bookkeeping
// is guarded only at the documented boundaries (§5), released before any
// await.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package bridge

import (
	"context"
	"sync"

	"github.com/zenoh-flow/zenohd/cmn/nlog"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/portio"
	"github.com/zenoh-flow/zenohd/runner"
	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/xerr"
)

type sourceResult struct {
	port flow.PortID
	smp  session.Sample
	err  error
}

// Source is a pub/sub source node (§4.2): one subscriber per configured
// port, forwarding whatever arrives first to that port's output channel.
type Source struct {
	name     string
	keyExprs map[flow.PortID]string
	outputs  map[flow.PortID]*portio.Chan
	sess     session.Session

	mu        sync.Mutex
	subs      map[flow.PortID]session.Subscriber
	armed     map[flow.PortID]bool
	resultCh  chan sourceResult
}

func NewSource(name string, keyExprs map[flow.PortID]string, outputs map[flow.PortID]*portio.Chan, sess session.Session) *Source {
	return &Source{
		name:     name,
		keyExprs: keyExprs,
		outputs:  outputs,
		sess:     sess,
		armed:    make(map[flow.PortID]bool, len(keyExprs)),
		resultCh: make(chan sourceResult, len(keyExprs)+1),
	}
}

func (s *Source) arm(port flow.PortID, sub session.Subscriber) {
	smp, err := sub.Recv(context.Background())
	s.resultCh <- sourceResult{port: port, smp: smp, err: err}
}

// OnResume unconditionally re-declares a subscriber per port (the resolved
// Open Question of §9) but only launches a pending receive for a port that
// doesn't already have one in flight — the edge case documented in §4.2.
func (s *Source) OnResume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSubs := make(map[flow.PortID]session.Subscriber, len(s.keyExprs))
	for port, ke := range s.keyExprs {
		sub, err := s.sess.DeclareSubscriber(ke)
		if err != nil {
			return xerr.Wrap(xerr.Transport, err, "source %s: declare_subscriber(%s) for port %s", s.name, ke, port)
		}
		newSubs[port] = sub
	}
	s.subs = newSubs

	for port, sub := range s.subs {
		if !s.armed[port] {
			s.armed[port] = true
			go s.arm(port, sub)
		}
	}
	return nil
}

// OnAbort drops every subscriber so the transport stops delivering while
// the node is inactive. The armed flags are left untouched: in-flight
// pending receives against the just-closed subscribers will surface as
// errors that Iteration discards without forwarding, per the edge case.
func (s *Source) OnAbort(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
}

// Iteration awaits the first pending receive to complete, forwards its
// payload downstream, and re-arms a fresh pending receive on the same port,
// leaving all others intact.
func (s *Source) Iteration(ctx context.Context) error {
	var res sourceResult
	select {
	case res = <-s.resultCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	sub, stillLive := s.subs[res.port]
	s.armed[res.port] = false
	if stillLive {
		s.armed[res.port] = true
		go s.arm(res.port, sub)
	}
	s.mu.Unlock()

	if res.err != nil {
		return xerr.Wrap(xerr.ChannelClosed, res.err, "source %s: port %s", s.name, res.port)
	}
	out, ok := s.outputs[res.port]
	if !ok {
		nlog.Warningf("source %s: no output channel for port %s, dropping frame", s.name, res.port)
		return nil
	}
	return out.Send(ctx, portio.Frame{Payload: res.smp.Payload})
}

func (s *Source) Destroy(context.Context) {}

var _ runner.Node = (*Source)(nil)

type sinkResult struct {
	port flow.PortID
	fr   portio.Frame
	err  error
}

// Sink is a pub/sub sink node (§4.2): reads from its input channels and
// publishes whatever arrives first under the corresponding key expression.
type Sink struct {
	name     string
	keyExprs map[flow.PortID]string
	inputs   map[flow.PortID]*portio.Chan
	sess     session.Session

	mu       sync.Mutex
	pubs     map[flow.PortID]session.Publisher
	armed    map[flow.PortID]bool
	resultCh chan sinkResult
}

func NewSink(name string, keyExprs map[flow.PortID]string, inputs map[flow.PortID]*portio.Chan, sess session.Session) *Sink {
	return &Sink{
		name:     name,
		keyExprs: keyExprs,
		inputs:   inputs,
		sess:     sess,
		armed:    make(map[flow.PortID]bool, len(keyExprs)),
		resultCh: make(chan sinkResult, len(keyExprs)+1),
	}
}

func (s *Sink) arm(port flow.PortID, in *portio.Chan) {
	fr, err := in.Recv(context.Background())
	s.resultCh <- sinkResult{port: port, fr: fr, err: err}
}

func (s *Sink) OnResume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newPubs := make(map[flow.PortID]session.Publisher, len(s.keyExprs))
	for port, ke := range s.keyExprs {
		pub, err := s.sess.DeclarePublisher(ke)
		if err != nil {
			return xerr.Wrap(xerr.Transport, err, "sink %s: declare_publisher(%s) for port %s", s.name, ke, port)
		}
		newPubs[port] = pub
	}
	s.pubs = newPubs

	for port, in := range s.inputs {
		if !s.armed[port] {
			s.armed[port] = true
			go s.arm(port, in)
		}
	}
	return nil
}

func (s *Sink) OnAbort(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pub := range s.pubs {
		pub.Close()
	}
	s.pubs = nil
}

// Iteration reads whichever input arrives first and publishes it; back
// pressure into the channel is the only rate limiter, per §4.2 ("no
// buffering beyond one message per port").
func (s *Sink) Iteration(ctx context.Context) error {
	var res sinkResult
	select {
	case res = <-s.resultCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	in, stillLive := s.inputs[res.port]
	pub, haveLivePub := s.pubs[res.port]
	s.armed[res.port] = false
	if stillLive {
		s.armed[res.port] = true
		go s.arm(res.port, in)
	}
	s.mu.Unlock()

	if res.err != nil {
		return xerr.Wrap(xerr.ChannelClosed, res.err, "sink %s: port %s", s.name, res.port)
	}
	if !haveLivePub {
		return nil
	}
	return pub.Put(ctx, res.fr.Payload)
}

func (s *Sink) Destroy(context.Context) {}

var _ runner.Node = (*Sink)(nil)
