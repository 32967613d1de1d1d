// Package session declares the pub/sub transport collaborator of §6: the
// minimal surface the runtime, control plane, and built-in bridges need
// from "a session" — declare_queryable, get, declare_subscriber,
// declare_publisher. The transport itself is out of scope per spec.md §1;
// this package only fixes the contract two concrete implementations
// (session/local, session/netbus) satisfy identically.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package session

import "context"

// Sample is one message delivered to a subscriber.
type Sample struct {
	KeyExpr string
	Payload []byte
}

// Reply is one queryable's answer to a Get.
type Reply struct {
	From    string // transport-assigned: the querying session's name (local) or the peer base URL (netbus)
	Payload []byte
	Err     error
}

// QueryHandler processes one incoming query and returns the response
// payload (or an error, surfaced to the querier).
type QueryHandler func(ctx context.Context, payload []byte) ([]byte, error)

// Queryable is the live handle returned by DeclareQueryable; Close
// unregisters it.
type Queryable interface {
	Close() error
}

// Subscriber delivers Samples published on its key expression until Close.
type Subscriber interface {
	Recv(ctx context.Context) (Sample, error)
	Close() error
}

// Publisher sends payloads under its key expression.
type Publisher interface {
	Put(ctx context.Context, payload []byte) error
	Close() error
}

// Session is the collaborator interface §6 names explicitly.
type Session interface {
	DeclareQueryable(selector string, handler QueryHandler) (Queryable, error)
	Get(ctx context.Context, selector string, payload []byte) ([]Reply, error)
	DeclareSubscriber(keyExpr string) (Subscriber, error)
	DeclarePublisher(keyExpr string) (Publisher, error)
	Close() error
}
