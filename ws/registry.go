package ws

import "sync"

// registry tracks, per channel, which ones the caller wants, which the server
// has acknowledged, and the handlers registered for each. A channel moves
// desired -> requested -> acknowledged; the states are connection scoped.
type registry struct {
	mu         sync.Mutex
	handlers   map[string][]ChannelHandler
	desired    []string
	desiredSet map[string]struct{}
	requested  map[string]struct{}
	acked      map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		handlers:   make(map[string][]ChannelHandler),
		desiredSet: make(map[string]struct{}),
		requested:  make(map[string]struct{}),
		acked:      make(map[string]struct{}),
	}
}

// addHandler appends the handler to the channel's list.
func (r *registry) addHandler(channel string, h ChannelHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[channel] = append(r.handlers[channel], h)
}

// handlersFor returns a snapshot of the channel's handlers in registration
// order, safe to iterate without the lock.
func (r *registry) handlersFor(channel string) []ChannelHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[channel]
	if len(hs) == 0 {
		return nil
	}
	out := make([]ChannelHandler, len(hs))
	copy(out, hs)
	return out
}

// markDesired records that the caller wants the channel. Reports whether the
// channel was newly added.
func (r *registry) markDesired(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.desiredSet[channel]; ok {
		return false
	}
	r.desiredSet[channel] = struct{}{}
	r.desired = append(r.desired, channel)
	return true
}

// desiredChannels returns the desired channels in the order they were added.
func (r *registry) desiredChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.desired))
	copy(out, r.desired)
	return out
}

// markRequested records that a subscribe request is in flight. Reports false
// when the channel was already requested or acknowledged, in which case the
// caller must not send another subscribe.
func (r *registry) markRequested(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requested[channel]; ok {
		return false
	}
	if _, ok := r.acked[channel]; ok {
		return false
	}
	r.requested[channel] = struct{}{}
	return true
}

// markAcked records the server's subscribe acknowledgement.
func (r *registry) markAcked(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acked[channel] = struct{}{}
}

// isAcked reports whether the channel subscription has been confirmed.
func (r *registry) isAcked(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.acked[channel]
	return ok
}
