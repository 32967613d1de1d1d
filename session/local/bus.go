// Package local implements session.Session as an in-process broker: a
// shared Bus that multiple Session handles (one per simulated daemon) can
// attach to. This is the transport scenarios 1, 3, 4, and 6 of spec.md §8
// run on, and it's also what a single-daemon deployment uses in production
// — there is nothing to bridge when every node is colocated.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package local

import (
	"context"
	"sync"

	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/xerr"
)

// Bus is the shared hub. The zero value is not usable; use NewBus.
type Bus struct {
	mu          sync.RWMutex
	queryables  map[string]session.QueryHandler
	subscribers map[string][]*sub
}

func NewBus() *Bus {
	return &Bus{
		queryables:  make(map[string]session.QueryHandler),
		subscribers: make(map[string][]*sub),
	}
}

type sub struct {
	ch     chan session.Sample
	closed chan struct{}
	once   sync.Once
}

func (s *sub) deliver(smp session.Sample) {
	select {
	case s.ch <- smp:
	case <-s.closed:
	}
}

func (s *sub) Recv(ctx context.Context) (session.Sample, error) {
	select {
	case smp := <-s.ch:
		return smp, nil
	case <-s.closed:
		return session.Sample{}, xerr.New(xerr.ChannelClosed, "subscriber closed")
	case <-ctx.Done():
		return session.Sample{}, ctx.Err()
	}
}

func (s *sub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Session is one daemon's handle onto a shared Bus.
type Session struct {
	bus  *Bus
	name string
}

func NewSession(bus *Bus, name string) *Session { return &Session{bus: bus, name: name} }

type queryableHandle struct {
	bus      *Bus
	selector string
}

func (q *queryableHandle) Close() error {
	q.bus.mu.Lock()
	delete(q.bus.queryables, q.selector)
	q.bus.mu.Unlock()
	return nil
}

func (s *Session) DeclareQueryable(selector string, handler session.QueryHandler) (session.Queryable, error) {
	s.bus.mu.Lock()
	s.bus.queryables[selector] = handler
	s.bus.mu.Unlock()
	return &queryableHandle{bus: s.bus, selector: selector}, nil
}

func (s *Session) Get(ctx context.Context, selector string, payload []byte) ([]session.Reply, error) {
	s.bus.mu.RLock()
	handler, ok := s.bus.queryables[selector]
	s.bus.mu.RUnlock()
	if !ok {
		return nil, xerr.New(xerr.Transport, "no queryable at selector %q", selector)
	}
	resp, err := handler(ctx, payload)
	return []session.Reply{{From: s.name, Payload: resp, Err: err}}, nil
}

type publisher struct {
	bus     *Bus
	keyExpr string
}

func (p *publisher) Put(_ context.Context, payload []byte) error {
	p.bus.mu.RLock()
	subs := append([]*sub(nil), p.bus.subscribers[p.keyExpr]...)
	p.bus.mu.RUnlock()
	for _, sb := range subs {
		sb.deliver(session.Sample{KeyExpr: p.keyExpr, Payload: payload})
	}
	return nil
}

func (*publisher) Close() error { return nil }

func (s *Session) DeclarePublisher(keyExpr string) (session.Publisher, error) {
	return &publisher{bus: s.bus, keyExpr: keyExpr}, nil
}

func (s *Session) DeclareSubscriber(keyExpr string) (session.Subscriber, error) {
	sb := &sub{ch: make(chan session.Sample, 16), closed: make(chan struct{})}
	s.bus.mu.Lock()
	s.bus.subscribers[keyExpr] = append(s.bus.subscribers[keyExpr], sb)
	s.bus.mu.Unlock()
	return sb, nil
}

func (s *Session) Close() error { return nil }

var _ session.Session = (*Session)(nil)
