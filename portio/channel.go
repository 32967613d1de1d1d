// Package portio implements §4.1's port channels: bounded, in-process,
// multi-producer/single-consumer byte-frame queues linking colocated nodes.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package portio

import (
	"context"
	"sync"
	"time"

	"github.com/zenoh-flow/zenohd/xerr"
)

// Frame is one opaque byte payload carried over a channel, with an optional
// producer-supplied timestamp (§3: "bounded FIFO carrying opaque byte
// payloads plus optional timestamps").
type Frame struct {
	Payload []byte
	TS      *time.Time
}

// Chan is a bounded FIFO. The zero value is not usable; use NewChan.
type Chan struct {
	buf    chan Frame
	mu     sync.Mutex
	closed bool
}

func NewChan(capacity int) *Chan {
	if capacity <= 0 {
		capacity = 1
	}
	return &Chan{buf: make(chan Frame, capacity)}
}

// Send suspends when full; succeeds iff the receiver is still attached.
func (c *Chan) Send(ctx context.Context, f Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return xerr.New(xerr.ChannelClosed, "send on closed channel")
	}
	// with room in the buffer the send does not suspend, so ctx is not consulted
	select {
	case c.buf <- f:
		return nil
	default:
	}
	select {
	case c.buf <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv suspends until a frame is available; fails with ChannelClosed once
// Close has been called and the buffer has drained. Individual senders are
// not tracked: only Close ends the channel.
func (c *Chan) Recv(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-c.buf:
		if !ok {
			return Frame{}, xerr.New(xerr.ChannelClosed, "recv on closed channel")
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close marks the channel as gone from the receiver's perspective: no
// further Send succeeds, and Recv drains whatever is already buffered
// before reporting ChannelClosed.
func (c *Chan) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.buf)
}

// Endpoint is either side of a materialised link. It always holds a local
// Chan: for a link that crosses a daemon boundary, the Chan connects the
// local node to a bridge runner (see package bridge) serving the remote end.
// The instance's channel table stores one Endpoint per PortRef; nodes
// receive borrowed handles to it rather than owning channels themselves
// (§9 Design Notes: "keep the channel table as the single owner").
type Endpoint struct {
	Ch *Chan
}
