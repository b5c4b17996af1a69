package channels

import (
	"fmt"
	"testing"
)

func TestRegistry_PublishReachesSubscribers(t *testing.T) {
	r := NewRegistry()

	ep1 := NewEndpoint(10)
	ep2 := NewEndpoint(10)
	r.Subscribe("room", ep1)
	r.Subscribe("room", ep2)

	delivered := r.Publish("room", []byte("hello"))
	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}

	for i, ep := range []Endpoint{ep1, ep2} {
		select {
		case got := <-ep:
			if string(got) != "hello" {
				t.Errorf("endpoint %d got %q", i, got)
			}
		default:
			t.Errorf("endpoint %d got nothing", i)
		}
	}
}

func TestRegistry_UnsubscribedEndpointNeverReceives(t *testing.T) {
	r := NewRegistry()

	ep := NewEndpoint(10)
	r.Subscribe("room", ep)
	r.Unsubscribe("room", ep)

	if delivered := r.Publish("room", []byte("x")); delivered != 0 {
		t.Errorf("expected 0 deliveries, got %d", delivered)
	}
	select {
	case got := <-ep:
		t.Errorf("unexpected delivery %q", got)
	default:
	}

	// Unsubscribing twice or from an unknown channel is a no-op.
	r.Unsubscribe("room", ep)
	r.Unsubscribe("nope", ep)
}

func TestRegistry_PerEndpointFIFO(t *testing.T) {
	r := NewRegistry()

	ep := NewEndpoint(100)
	r.Subscribe("room", ep)

	for i := 0; i < 50; i++ {
		r.Publish("room", []byte(fmt.Sprintf("msg %d", i)))
	}

	for i := 0; i < 50; i++ {
		got := string(<-ep)
		want := fmt.Sprintf("msg %d", i)
		if got != want {
			t.Fatalf("expected %q at position %d, got %q", want, i, got)
		}
	}
}

func TestRegistry_SlowEndpointDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry()

	slow := NewEndpoint(1)
	fast := NewEndpoint(10)
	r.Subscribe("room", slow)
	r.Subscribe("room", fast)

	// Fill the slow endpoint's buffer.
	r.Publish("room", []byte("first"))

	// Further publishes skip the full endpoint but still reach the rest.
	delivered := r.Publish("room", []byte("second"))
	if delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", delivered)
	}

	<-fast
	if got := string(<-fast); got != "second" {
		t.Errorf("fast endpoint got %q", got)
	}
	if got := string(<-slow); got != "first" {
		t.Errorf("slow endpoint got %q", got)
	}
	select {
	case got := <-slow:
		t.Errorf("slow endpoint unexpectedly got %q", got)
	default:
	}
}

func TestRegistry_NilPayloadDropped(t *testing.T) {
	r := NewRegistry()

	ep := NewEndpoint(10)
	r.Subscribe("room", ep)

	if delivered := r.Publish("room", nil); delivered != 0 {
		t.Errorf("expected 0 deliveries for nil payload, got %d", delivered)
	}
}

func TestRegistry_Subscribers(t *testing.T) {
	r := NewRegistry()

	if n := r.Subscribers("room"); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}

	ep := NewEndpoint(1)
	r.Subscribe("room", ep)
	if n := r.Subscribers("room"); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}

	r.Unsubscribe("room", ep)
	if n := r.Subscribers("room"); n != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", n)
	}
}
