package portio_test

import (
	"context"
	"testing"
	"time"

	"github.com/zenoh-flow/zenohd/portio"
	"github.com/zenoh-flow/zenohd/xerr"
)

func TestSendRecvFIFO(t *testing.T) {
	ch := portio.NewChan(4)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := ch.Send(ctx, portio.Frame{Payload: []byte{byte(i)}}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		f, err := ch.Recv(ctx)
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if f.Payload[0] != byte(i) {
			t.Fatalf("FIFO violated: want %d got %d", i, f.Payload[0])
		}
	}
}

func TestSendBlocksWhenFull(t *testing.T) {
	ch := portio.NewChan(1)
	ctx := context.Background()
	if err := ch.Send(ctx, portio.Frame{Payload: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		_ = ch.Send(ctx, portio.Frame{Payload: []byte("y")})
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("send on full channel should have blocked")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := ch.Recv(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked send never unblocked after a recv freed capacity")
	}
}

func TestRecvAfterCloseDrainsThenFails(t *testing.T) {
	ch := portio.NewChan(2)
	ctx := context.Background()
	if err := ch.Send(ctx, portio.Frame{Payload: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	ch.Close()
	if f, err := ch.Recv(ctx); err != nil || string(f.Payload) != "a" {
		t.Fatalf("expected buffered frame before ChannelClosed, got %v / %v", f, err)
	}
	if _, err := ch.Recv(ctx); xerr.KindOf(err) != xerr.ChannelClosed {
		t.Fatalf("expected ChannelClosed once drained, got %v", err)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	ch := portio.NewChan(1)
	ch.Close()
	if err := ch.Send(context.Background(), portio.Frame{Payload: []byte("x")}); xerr.KindOf(err) != xerr.ChannelClosed {
		t.Fatalf("expected ChannelClosed, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	ch := portio.NewChan(1)
	ch.Close()
	ch.Close() // must not panic on double-close
}
