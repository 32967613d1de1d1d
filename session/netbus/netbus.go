// Package netbus is the networked session.Session used when a record's
// mapping spans more than one daemon (§6): declare_queryable/get ride over
// github.com/valyala/fasthttp; declare_publisher/declare_subscriber ride
// over a long-lived github.com/fasthttp/websocket duplex stream per key
// expression, fanned out to every configured peer. It is a concrete stand-in
// for "the pub/sub transport itself" (explicitly out of scope per spec.md
// §1) sufficient to exercise scenarios 2 and 5 of §8 end to end — it does
// not implement Zenoh's wire protocol.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package netbus

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/zenoh-flow/zenohd/cmn/nlog"
	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/xerr"
)

const (
	queryPrefix = "/q/"
	wsPrefix    = "/ws/"
	getTimeout  = 3 * time.Second
)

type Config struct {
	Name     string   // this daemon's identity, used in log lines
	ListenOn string   // "host:port" to accept peer connections on
	Peers    []string // peer base URLs, e.g. "http://host:port"
}

type Session struct {
	cfg Config
	ln  net.Listener
	srv *fasthttp.Server

	mu         sync.RWMutex
	queryables map[string]session.QueryHandler
	localSubs  map[string][]*localSub

	wsMu   sync.Mutex
	wsConn map[string]map[string]*websocket.Conn // keyExpr -> peer base URL -> conn
}

func Listen(cfg Config) (*Session, error) {
	ln, err := net.Listen("tcp", cfg.ListenOn)
	if err != nil {
		return nil, xerr.Wrap(xerr.Transport, err, "netbus: listen %s", cfg.ListenOn)
	}
	s := &Session{
		cfg:        cfg,
		ln:         ln,
		queryables: make(map[string]session.QueryHandler),
		localSubs:  make(map[string][]*localSub),
		wsConn:     make(map[string]map[string]*websocket.Conn),
	}
	s.srv = &fasthttp.Server{Handler: s.handle}
	go func() {
		if err := s.srv.Serve(ln); err != nil {
			nlog.Errorf("netbus[%s]: serve: %v", cfg.Name, err)
		}
	}()
	return s, nil
}

func (s *Session) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case len(path) > len(queryPrefix) && path[:len(queryPrefix)] == queryPrefix:
		s.handleQuery(ctx, path[len(queryPrefix):])
	case len(path) > len(wsPrefix) && path[:len(wsPrefix)] == wsPrefix:
		s.handleWS(ctx, path[len(wsPrefix):])
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Session) handleQuery(ctx *fasthttp.RequestCtx, selector string) {
	s.mu.RLock()
	h, ok := s.queryables[selector]
	s.mu.RUnlock()
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), getTimeout)
	defer cancel()
	resp, err := h(reqCtx, append([]byte(nil), ctx.PostBody()...))
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(err.Error())
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(resp)
}

var upgrader = websocket.FastHTTPUpgrader{CheckOrigin: func(*fasthttp.RequestCtx) bool { return true }}

func (s *Session) handleWS(ctx *fasthttp.RequestCtx, keyExpr string) {
	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.RLock()
			subs := append([]*localSub(nil), s.localSubs[keyExpr]...)
			s.mu.RUnlock()
			for _, sb := range subs {
				sb.deliver(session.Sample{KeyExpr: keyExpr, Payload: data})
			}
		}
	})
	if err != nil {
		nlog.Errorf("netbus[%s]: ws upgrade %s: %v", s.cfg.Name, keyExpr, err)
	}
}

type queryableHandle struct {
	s        *Session
	selector string
}

func (q *queryableHandle) Close() error {
	q.s.mu.Lock()
	delete(q.s.queryables, q.selector)
	q.s.mu.Unlock()
	return nil
}

func (s *Session) DeclareQueryable(selector string, handler session.QueryHandler) (session.Queryable, error) {
	s.mu.Lock()
	s.queryables[selector] = handler
	s.mu.Unlock()
	return &queryableHandle{s: s, selector: selector}, nil
}

// Get fans the query out to every configured peer (including, conceptually,
// itself — callers dispatch locally first and only use Get for peers) and
// waits up to getTimeout per peer; a peer that doesn't answer in time
// surfaces as xerr.PeerTimeout in its Reply, per §5.
func (s *Session) Get(ctx context.Context, selector string, payload []byte) ([]session.Reply, error) {
	replies := make([]session.Reply, len(s.cfg.Peers))
	var wg sync.WaitGroup
	for i, peer := range s.cfg.Peers {
		wg.Add(1)
		go func(i int, peer string) {
			defer wg.Done()
			replies[i] = s.getOne(ctx, peer, selector, payload)
		}(i, peer)
	}
	wg.Wait()
	return replies, nil
}

func (s *Session) getOne(ctx context.Context, peer, selector string, payload []byte) session.Reply {
	url := peer + queryPrefix + selector
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetBody(payload)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(getTimeout)
	}
	var client fasthttp.Client
	err := client.DoDeadline(req, resp, deadline)
	if err != nil {
		if err == fasthttp.ErrTimeout {
			return session.Reply{From: peer, Err: xerr.New(xerr.PeerTimeout, "peer %s timed out on %s", peer, selector)}
		}
		return session.Reply{From: peer, Err: xerr.Wrap(xerr.Transport, err, "peer %s", peer)}
	}
	body := append([]byte(nil), resp.Body()...)
	if resp.StatusCode() != fasthttp.StatusOK {
		return session.Reply{From: peer, Err: xerr.New(xerr.Transport, "peer %s: status %d: %s", peer, resp.StatusCode(), body)}
	}
	return session.Reply{From: peer, Payload: body}
}

type localSub struct {
	ch     chan session.Sample
	closed chan struct{}
	once   sync.Once
}

func (sb *localSub) deliver(s session.Sample) {
	select {
	case sb.ch <- s:
	case <-sb.closed:
	}
}

func (sb *localSub) Recv(ctx context.Context) (session.Sample, error) {
	select {
	case s := <-sb.ch:
		return s, nil
	case <-sb.closed:
		return session.Sample{}, xerr.New(xerr.ChannelClosed, "subscriber closed")
	case <-ctx.Done():
		return session.Sample{}, ctx.Err()
	}
}

func (sb *localSub) Close() error {
	sb.once.Do(func() { close(sb.closed) })
	return nil
}

func (s *Session) DeclareSubscriber(keyExpr string) (session.Subscriber, error) {
	sb := &localSub{ch: make(chan session.Sample, 16), closed: make(chan struct{})}
	s.mu.Lock()
	s.localSubs[keyExpr] = append(s.localSubs[keyExpr], sb)
	s.mu.Unlock()
	return sb, nil
}

type publisher struct {
	s       *Session
	keyExpr string
}

func (s *Session) dialWS(peer, keyExpr string) (*websocket.Conn, error) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if m, ok := s.wsConn[keyExpr]; ok {
		if c, ok := m[peer]; ok {
			return c, nil
		}
	} else {
		s.wsConn[keyExpr] = make(map[string]*websocket.Conn)
	}
	url := "ws" + peer[len("http"):] + wsPrefix + keyExpr
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, xerr.Wrap(xerr.Transport, err, "netbus: dial %s", url)
	}
	s.wsConn[keyExpr][peer] = conn
	return conn, nil
}

func (p *publisher) Put(_ context.Context, payload []byte) error {
	var agg xerr.Aggregate
	for _, peer := range p.s.cfg.Peers {
		conn, err := p.s.dialWS(peer, p.keyExpr)
		if err != nil {
			agg.Add(err)
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			agg.Add(xerr.Wrap(xerr.Transport, err, "netbus: publish to %s", peer))
		}
	}
	// loopback: deliver to our own local subscribers too, matching a single
	// pub/sub fabric where publisher and subscriber may share a process.
	p.s.mu.RLock()
	subs := append([]*localSub(nil), p.s.localSubs[p.keyExpr]...)
	p.s.mu.RUnlock()
	for _, sb := range subs {
		sb.deliver(session.Sample{KeyExpr: p.keyExpr, Payload: payload})
	}
	if agg.Empty() {
		return nil
	}
	return agg.Err()
}

func (*publisher) Close() error { return nil }

func (s *Session) DeclarePublisher(keyExpr string) (session.Publisher, error) {
	return &publisher{s: s, keyExpr: keyExpr}, nil
}

func (s *Session) Close() error {
	s.wsMu.Lock()
	for _, byPeer := range s.wsConn {
		for _, c := range byPeer {
			c.Close()
		}
	}
	s.wsMu.Unlock()
	return s.ln.Close()
}

func (s *Session) Addr() string { return s.ln.Addr().String() }

var _ session.Session = (*Session)(nil)
