// Package presence tracks when remote stations were last heard.
package presence

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is how recently a station must have been heard to count.
const DefaultWindow = 30 * time.Minute

// Station is one entry of a presence snapshot.
type Station struct {
	Address   string    `json:"address"`
	LastHeard time.Time `json:"last_heard"`
}

// Table maps formatted station addresses to the time they were last heard.
type Table struct {
	mu        sync.RWMutex
	lastHeard map[string]time.Time
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{lastHeard: make(map[string]time.Time)}
}

// Heard records addr as heard at the given time.
func (t *Table) Heard(addr string, at time.Time) {
	t.mu.Lock()
	t.lastHeard[addr] = at
	t.mu.Unlock()
}

// LastHeard returns when addr was last heard.
func (t *Table) LastHeard(addr string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.lastHeard[addr]
	return at, ok
}

// OnlineCount counts stations heard strictly after now-window.
func (t *Table) OnlineCount(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, at := range t.lastHeard {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// Stations returns the stations inside the window, most recent first.
func (t *Table) Stations(now time.Time, window time.Duration) []Station {
	cutoff := now.Add(-window)
	t.mu.RLock()
	out := make([]Station, 0, len(t.lastHeard))
	for addr, at := range t.lastHeard {
		if at.After(cutoff) {
			out = append(out, Station{Address: addr, LastHeard: at})
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastHeard.Equal(out[j].LastHeard) {
			return out[i].Address < out[j].Address
		}
		return out[i].LastHeard.After(out[j].LastHeard)
	})
	return out
}

// Len returns the number of stations ever heard.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.lastHeard)
}

// Clear forgets every station.
func (t *Table) Clear() {
	t.mu.Lock()
	t.lastHeard = make(map[string]time.Time)
	t.mu.Unlock()
}

// StatusLine formats the aggregate TNC and station status.
func StatusLine(online []string, heard int) string {
	if len(online) == 0 {
		return fmt.Sprintf("No TNCs online, %d station(s) heard", heard)
	}
	return fmt.Sprintf("%d TNC(s) online (%s), %d station(s) heard",
		len(online), strings.Join(online, ", "), heard)
}
