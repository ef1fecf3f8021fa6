// Package importer rebuilds an exported content tree inside a target space.
// It reconciles foreign ids across three content kinds, resolves forward
// references over bounded passes, and recovers orphaned pages under
// synthetic placeholder parents so no exported item is ever dropped.
package importer

import (
	"fmt"
	"sync"

	"github.com/confmig/confmig/internal/logger"
)

// Status tracks one item's reconciliation state.
type Status int

const (
	// StatusPending means the item has not been attempted or is waiting
	// for its parent to resolve.
	StatusPending Status = iota
	// StatusResolved means the item has a target id in its identity map.
	StatusResolved
	// StatusSynthesized marks a foreign id that never resolved and is now
	// backed by a placeholder page.
	StatusSynthesized
	// StatusSkipped means the item was permanently given up on.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusSynthesized:
		return "synthesized"
	case StatusSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// IdentityMap maps foreign ids to target-instance ids for one content kind.
// Append-only: each foreign id is written at most once per run.
type IdentityMap struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewIdentityMap returns an empty map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[string]string)}
}

// Put records foreignID -> targetID. The first write wins.
func (m *IdentityMap) Put(foreignID, targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[foreignID]; !exists {
		m.entries[foreignID] = targetID
	}
}

// Get looks up the target id for a foreign id.
func (m *IdentityMap) Get(foreignID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.entries[foreignID]
	return id, ok
}

// Len returns the number of entries.
func (m *IdentityMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Snapshot copies the map for reporting.
func (m *IdentityMap) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Ledger collects per-item errors and warnings without aborting the run.
type Ledger struct {
	mu       sync.Mutex
	errors   []string
	warnings []string
}

// Errorf records and logs one item-level error.
func (l *Ledger) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("%s", msg)
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

// Warnf records and logs one non-fatal condition.
func (l *Ledger) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Warn("%s", msg)
	l.mu.Lock()
	l.warnings = append(l.warnings, msg)
	l.mu.Unlock()
}

// Errors returns the recorded errors.
func (l *Ledger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

// Warnings returns the recorded warnings.
func (l *Ledger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnings...)
}

// Context is the shared state of one import run: the three identity maps,
// the error ledger, and per-item statuses. It is created empty per run and
// passed explicitly into every phase.
type Context struct {
	Pages     *IdentityMap
	Folders   *IdentityMap
	Databases *IdentityMap
	Ledger    *Ledger

	mu     sync.Mutex
	status map[string]Status // "<kind>:<foreignID>"
}

// NewContext returns an empty reconciliation context.
func NewContext() *Context {
	return &Context{
		Pages:     NewIdentityMap(),
		Folders:   NewIdentityMap(),
		Databases: NewIdentityMap(),
		Ledger:    &Ledger{},
		status:    make(map[string]Status),
	}
}

// SetStatus records an item's reconciliation state.
func (c *Context) SetStatus(kind, foreignID string, s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[kind+":"+foreignID] = s
}

// StatusOf returns an item's state; unknown items are pending.
func (c *Context) StatusOf(kind, foreignID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status[kind+":"+foreignID]
}

// MapFor returns the identity map for a parent kind, or nil.
func (c *Context) MapFor(kind string) *IdentityMap {
	switch kind {
	case "page":
		return c.Pages
	case "folder":
		return c.Folders
	case "database":
		return c.Databases
	}
	return nil
}
