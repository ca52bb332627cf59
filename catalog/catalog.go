// Package catalog holds the set of subscribable logical streams discovered
// from the remote endpoint. The catalog is populated once per successful
// connection and replaced wholesale on reconnect; entries are immutable
// once discovered.
package catalog

import (
	"sort"
	"sync"

	"github.com/c360/streamkit/types"
)

// Catalog is a read-mostly registry of discovered channels keyed by ID.
type Catalog struct {
	mu       sync.RWMutex
	channels map[string]types.StreamChannel
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		channels: make(map[string]types.StreamChannel),
	}
}

// Replace swaps the full channel set, dropping entries from the previous
// session. Malformed channels are skipped; the count of accepted channels
// is returned.
func (c *Catalog) Replace(channels []types.StreamChannel) int {
	next := make(map[string]types.StreamChannel, len(channels))
	for _, ch := range channels {
		if ch.Validate() != nil {
			continue
		}
		next[ch.ID] = ch
	}

	c.mu.Lock()
	c.channels = next
	c.mu.Unlock()

	return len(next)
}

// Get returns the channel with the given ID.
func (c *Catalog) Get(id string) (types.StreamChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	return ch, ok
}

// List returns all channels sorted by ID.
func (c *Catalog) List() []types.StreamChannel {
	c.mu.RLock()
	out := make([]types.StreamChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of discovered channels.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

// Clear discards all channels, used on teardown.
func (c *Catalog) Clear() {
	c.mu.Lock()
	c.channels = make(map[string]types.StreamChannel)
	c.mu.Unlock()
}
