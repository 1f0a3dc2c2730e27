// Package agents covers the two agent-facing collaborators: the directory
// that resolves account keys to bidding-agent addresses, and the transport
// that delivers outcome messages to them.
package agents

import (
	"sync"
)

// Address locates a bidding agent's delivery endpoint.
type Address string

// Directory resolves the agent owning an account key. Implementations are
// externally owned; the router only reads through this contract.
type Directory interface {
	Resolve(account string) (Address, bool)
}

// StaticDirectory is a directory fed from configuration. The whole table is
// hot-swappable at runtime, mirroring how agent configuration is distributed
// outside this process.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[string]Address
}

// NewStaticDirectory constructs a directory from the given table.
func NewStaticDirectory(entries map[string]Address) *StaticDirectory {
	d := &StaticDirectory{}
	d.Swap(entries)
	return d
}

// Resolve implements Directory.
func (d *StaticDirectory) Resolve(account string) (Address, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.entries[account]
	return addr, ok
}

// Swap replaces the entire table atomically.
func (d *StaticDirectory) Swap(entries map[string]Address) {
	next := make(map[string]Address, len(entries))
	for account, addr := range entries {
		if account == "" || addr == "" {
			continue
		}
		next[account] = addr
	}
	d.mu.Lock()
	d.entries = next
	d.mu.Unlock()
}

// Set adds or replaces a single entry.
func (d *StaticDirectory) Set(account string, addr Address) {
	if account == "" || addr == "" {
		return
	}
	d.mu.Lock()
	if d.entries == nil {
		d.entries = make(map[string]Address, 1)
	}
	d.entries[account] = addr
	d.mu.Unlock()
}
