// Package channels implements the named broadcast groups that route
// events between live connections: one channel per conversation plus a
// per-user notification channel.
package channels

import "sync"

// Endpoint is one subscriber's outbound queue. The session owning the
// endpoint drains it onto the socket, so per-endpoint FIFO order follows
// from publish call order.
type Endpoint chan []byte

// NewEndpoint returns a buffered endpoint. A full buffer means the
// client is not keeping up; further events to it are dropped rather
// than blocking other subscribers.
func NewEndpoint(buffer int) Endpoint {
	return make(Endpoint, buffer)
}

// Registry maps channel names to their currently subscribed endpoints.
// Delivery is best-effort, at-most-once per subscribed endpoint: an
// endpoint not subscribed at publish time never sees the event.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[Endpoint]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string]map[Endpoint]struct{}),
	}
}

func (r *Registry) Subscribe(name string, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[name]
	if !ok {
		set = make(map[Endpoint]struct{})
		r.subs[name] = set
	}
	set[ep] = struct{}{}
}

func (r *Registry) Unsubscribe(name string, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[name]
	if !ok {
		return
	}
	delete(set, ep)
	if len(set) == 0 {
		delete(r.subs, name)
	}
}

// Publish delivers payload to every endpoint subscribed to name and
// returns the number of endpoints it reached. Publishing under the
// write lock serializes event order per channel; a slow endpoint with a
// full buffer is skipped so it can never stall the rest.
func (r *Registry) Publish(name string, payload []byte) int {
	if payload == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for ep := range r.subs[name] {
		select {
		case ep <- payload:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of endpoints currently subscribed.
func (r *Registry) Subscribers(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[name])
}
