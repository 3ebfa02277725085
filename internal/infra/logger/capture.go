package logger

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one line recorded by a Capture.
type Entry struct {
	Level   Level
	Message string
}

// Capture records every report in memory. Safe for concurrent use.
type Capture struct {
	mu      sync.Mutex
	entries []Entry
}

func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) record(lvl Level, f string, v ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Level: lvl, Message: fmt.Sprintf(f, v...)})
}

func (c *Capture) Debug(f string, v ...any) { c.record(LevelDebug, f, v...) }
func (c *Capture) Info(f string, v ...any)  { c.record(LevelInfo, f, v...) }
func (c *Capture) Warn(f string, v ...any)  { c.record(LevelWarn, f, v...) }
func (c *Capture) Error(f string, v ...any) { c.record(LevelError, f, v...) }

// Entries returns a copy of everything recorded so far.
func (c *Capture) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Count returns how many entries at lvl contain substr.
func (c *Capture) Count(lvl Level, substr string) int {
	n := 0
	for _, e := range c.Entries() {
		if e.Level == lvl && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}
