package engine

import "sync"

// Counter hands out sequential output indices. Values are issued in the
// order callers complete their work, never twice.
type Counter struct {
	mu   sync.Mutex
	base int
	next int
}

func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return n
}

func (c *Counter) Reset(start int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = start
	c.next = start
}

// Issued counts values handed out since the last Reset
func (c *Counter) Issued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next - c.base
}
