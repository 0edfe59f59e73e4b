// Package repository implements the namespace-scoped persistence layer for
// work items and memory entries over the embedded store adapter.
package repository

import (
	"sync"
)

// nsLocks serializes graph-shape mutations (dependency inserts, reorders,
// reparenting deletes) per namespace. Cycle detection and sibling
// renumbering need a consistent snapshot; plain reads and row upserts run
// without the lock.
type nsLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newNSLocks() *nsLocks {
	return &nsLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *nsLocks) lock(namespace string) func() {
	l.mu.Lock()
	m, ok := l.locks[namespace]
	if !ok {
		m = &sync.Mutex{}
		l.locks[namespace] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
