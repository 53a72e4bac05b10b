package framegraph

import "sync"

type surfaceSubscriber struct {
	id int
	fn func(Surface)
}

// SurfaceCell holds the current presentation surface. Components read the surface only
// through a cell and learn about a replacement through Subscribe.
type SurfaceCell struct {
	mu          sync.Mutex
	current     Surface
	nextID      int
	subscribers []surfaceSubscriber
}

func NewSurfaceCell(s Surface) *SurfaceCell {
	return &SurfaceCell{current: s}
}

func (c *SurfaceCell) Get() Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set replaces the current surface and notifies every subscriber in subscription order.
// Callers must have drained the graph with Wait before replacing a surface in use.
func (c *SurfaceCell) Set(s Surface) {
	c.mu.Lock()
	c.current = s
	subs := append([]surfaceSubscriber(nil), c.subscribers...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s)
	}
}

// Subscribe calls fn with the current surface right away and again after every Set.
// The returned function removes the subscription.
func (c *SurfaceCell) Subscribe(fn func(Surface)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers = append(c.subscribers, surfaceSubscriber{id: id, fn: fn})
	current := c.current
	c.mu.Unlock()

	fn(current)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subscribers {
			if sub.id == id {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}
