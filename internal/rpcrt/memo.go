package rpcrt

import (
	"context"
	"sync"
)

// memoKey is the Per-request Memo Cache key of spec.md 3: a call is
// memoised by the exact bytes sent on the wire, so a field requesting the
// same RPC with identical arguments as an already-completed call within one
// request reuses its result. Entries are inserted on completion: identical
// calls that are in flight at the same time are not deduplicated.
type memoKey struct {
	service string
	path    string
	request string // encoded request bytes, used as a map key
}

// MemoCache is the per-request memoisation cache. Scope: one top-level
// GraphQL request; created when the request arrives and discarded with it.
type MemoCache struct {
	mu      sync.Mutex
	entries map[memoKey]memoEntry
}

type memoEntry struct {
	value any
	err   error
}

// NewMemoCache creates an empty cache.
func NewMemoCache() *MemoCache {
	return &MemoCache{entries: map[memoKey]memoEntry{}}
}

func (c *MemoCache) get(k memoKey) (memoEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	return e, ok
}

func (c *MemoCache) put(k memoKey, e memoEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = e
}

type memoCacheContextKey struct{}

// WithMemoCache attaches a fresh MemoCache to ctx, for the Request Runtime to
// call once per incoming GraphQL request.
func WithMemoCache(ctx context.Context, cache *MemoCache) context.Context {
	return context.WithValue(ctx, memoCacheContextKey{}, cache)
}

// memoCacheFrom retrieves the MemoCache attached to ctx, if any.
func memoCacheFrom(ctx context.Context) *MemoCache {
	c, _ := ctx.Value(memoCacheContextKey{}).(*MemoCache)
	return c
}
