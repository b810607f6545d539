package ws

import (
	"sync"

	"rabbitx/models"
)

// continuation runs when the response matching a request id arrives. It is
// invoked at most once, on the goroutine that decodes frames.
type continuation func(*models.Envelope)

// correlator assigns request ids and maps each outstanding request to its
// continuation. Ids are unique for the life of the connection and increase
// monotonically from 1. A request whose response never arrives stays pending
// until the session stops; there is no timeout.
type correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]continuation
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[uint64]continuation)}
}

// register records the continuation and returns the id to stamp the request
// with.
func (c *correlator) register(fn continuation) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.pending[c.nextID] = fn
	return c.nextID
}

// resolve removes and invokes the continuation matching the envelope's id.
// It reports false when the id is unknown: the envelope is not a correlation
// response and must be routed elsewhere.
func (c *correlator) resolve(env *models.Envelope) bool {
	if env.ID == 0 {
		return false
	}

	c.mu.Lock()
	fn, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	// Run outside the lock: continuations may issue follow-up requests.
	fn(env)
	return true
}

// unregister discards a pending continuation whose request never reached the
// wire. The id is not reused.
func (c *correlator) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// outstanding reports the number of requests still waiting for a response.
func (c *correlator) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
