// Copyright 2025 The Passwordstate Operator Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package cache holds the controller's view of every managed PasswordList.
//
// Entries are only reachable through a Lock obtained for their identity. A
// Lock serializes all work for one identity: holders are expected to keep it
// for the whole logical operation, including the cluster and Passwordstate
// calls it makes, so two operations on the same PasswordList never
// interleave. Different identities never contend with each other.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
)

// Entry is the cached state of one PasswordList.
type Entry struct {
	// Resource is the last PasswordList seen for the identity.
	Resource *v1.PasswordList
	// Fingerprint identifies the Passwordstate payload of the last successful
	// sync. Empty when the resource was never synced.
	Fingerprint string
	// LastSync is the UTC time of the last successful sync with
	// Passwordstate. The zero value means never synced.
	LastSync time.Time
}

// NeverSynced reports whether the entry still waits for its first
// successful sync.
func (e Entry) NeverSynced() bool {
	return e.LastSync.IsZero()
}

// Cache maps PasswordList identities to their cached state.
type Cache struct {
	// guardsMu protects guards. Guards are created lazily and never removed.
	guardsMu sync.Mutex
	guards   map[string]*semaphore.Weighted

	// entriesMu protects entries. Individual entries are only touched by the
	// holder of the identity's guard.
	entriesMu sync.RWMutex
	entries   map[string]Entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		guards:  map[string]*semaphore.Weighted{},
		entries: map[string]Entry{},
	}
}

func (c *Cache) guard(id string) *semaphore.Weighted {
	c.guardsMu.Lock()
	defer c.guardsMu.Unlock()
	g, ok := c.guards[id]
	if !ok {
		g = semaphore.NewWeighted(1)
		c.guards[id] = g
	}
	return g
}

// Acquire blocks until the caller holds exclusive access to id, or ctx is
// done. Waiters for the same id are served in arrival order. The returned
// Lock must be released, typically with defer.
func (c *Cache) Acquire(ctx context.Context, id string) (*Lock, error) {
	g := c.guard(id)
	if err := g.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring lock for %s: %w", id, err)
	}
	return &Lock{id: id, guard: g, cache: c}, nil
}

// ListIdentities returns a sorted snapshot of the cached identities. It does
// not take any identity lock; entries added or removed after the call are not
// reflected in the returned slice.
func (c *Cache) ListIdentities() []string {
	c.entriesMu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.entriesMu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.entriesMu.RLock()
	defer c.entriesMu.RUnlock()
	return len(c.entries)
}

// Lock is exclusive access to the cache entry of one identity.
type Lock struct {
	id    string
	guard *semaphore.Weighted
	cache *Cache

	once     sync.Once
	released bool
}

// ID returns the identity the lock was acquired for.
func (l *Lock) ID() string {
	return l.id
}

// Release gives up the lock. Calling it more than once is a no-op.
func (l *Lock) Release() {
	l.once.Do(func() {
		l.released = true
		l.guard.Release(1)
	})
}

func (l *Lock) mustHold() {
	if l.released {
		panic(fmt.Sprintf("cache: lock for %s used after release", l.id))
	}
}

// Get returns the entry for the locked identity.
func (l *Lock) Get() (Entry, bool) {
	l.mustHold()
	l.cache.entriesMu.RLock()
	defer l.cache.entriesMu.RUnlock()
	e, ok := l.cache.entries[l.id]
	return e, ok
}

// Put stores the entry for the locked identity.
func (l *Lock) Put(e Entry) {
	l.mustHold()
	l.cache.entriesMu.Lock()
	defer l.cache.entriesMu.Unlock()
	l.cache.entries[l.id] = e
}

// Remove deletes the entry for the locked identity and reports whether one
// existed.
func (l *Lock) Remove() bool {
	l.mustHold()
	l.cache.entriesMu.Lock()
	defer l.cache.entriesMu.Unlock()
	_, ok := l.cache.entries[l.id]
	delete(l.cache.entries, l.id)
	return ok
}
