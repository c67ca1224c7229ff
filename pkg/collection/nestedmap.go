// Package collection implements the write-once nested-key map used to
// accumulate per-item results produced by workers running under
// pkg/dispatch, so the final gather back to root never silently drops a
// result two workers both tried to report under the same key.
package collection

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

// Entry is one write to a Map: the full tuple key it was written at and the
// value that was written there. It is exported so Gather can ship a slice
// of these across the wire with mpi.Gather.
type Entry[V any] struct {
	Key   []string
	Value V
}

// ErrOverwrite is returned by Write when the given key has already been
// written on this rank. This mapping is designed for MPI collection, where
// every write must land at a key no other write on this rank has used:
// overwrite (and therefore read-after-write) is never allowed.
type ErrOverwrite struct {
	Key []string
}

func (e *ErrOverwrite) Error() string {
	return fmt.Sprintf("collection: overwrite not allowed at key %q", strings.Join(e.Key, "/"))
}

// ErrDuplicateKey is returned by Gather when two or more ranks wrote to the
// same key. Because each rank's Map only catches overwrites it sees
// locally, two ranks writing the same key independently are both
// individually valid until the results meet at root.
type ErrDuplicateKey struct {
	// Ranks maps each colliding key (its components joined with "/") to the
	// list of ranks that wrote it.
	Ranks map[string][]int
}

func (e *ErrDuplicateKey) Error() string {
	keys := make([]string, 0, len(e.Ranks))
	for k := range e.Ranks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("collection: different ranks wrote to the same key:\n")
	for i, k := range keys {
		if i > 5 {
			b.WriteString("    ...\n")
			break
		}
		fmt.Fprintf(&b, "    ranks %v wrote key %q\n", e.Ranks[k], k)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Map is a per-rank write-only nested-key collection. Concurrent writes
// from goroutines within the same rank (e.g. multiple in-flight
// dispatch.MapUnordered callbacks) are safe.
type Map[V any] struct {
	mu      sync.Mutex
	entries []Entry[V]
	seen    map[string]bool
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{seen: map[string]bool{}}
}

// Write records value at the given tuple key. It returns *ErrOverwrite if
// this rank already wrote to that exact key.
func (m *Map[V]) Write(key []string, value V) error {
	joined := strings.Join(key, "\x00")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[joined] {
		return &ErrOverwrite{Key: append([]string(nil), key...)}
	}
	m.seen[joined] = true
	m.entries = append(m.entries, Entry[V]{Key: append([]string(nil), key...), Value: value})
	return nil
}

// Len returns the number of entries written on this rank so far.
func (m *Map[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Gather collects every rank's Map at root and merges them into a single
// nested tree keyed by the tuple components, un-flattening `["a","b"]` into
// `tree["a"]["b"]`. It returns *ErrDuplicateKey if two ranks wrote the same
// key. Non-root ranks get a nil tree and a nil error (their data already
// went to root).
func Gather[V any](c *mpi.Comm, m *Map[V]) (map[string]any, error) {
	m.mu.Lock()
	local := append([]Entry[V](nil), m.entries...)
	m.mu.Unlock()

	all, err := mpi.Gather(c, local)
	if err != nil {
		return nil, fmt.Errorf("collection: gather: %w", err)
	}
	if !c.IsRoot() {
		return nil, nil
	}

	ranksByKey := map[string][]int{}
	var merged []Entry[V]
	for rank, entries := range all {
		for _, e := range entries {
			joined := strings.Join(e.Key, "\x00")
			ranksByKey[joined] = append(ranksByKey[joined], rank)
			merged = append(merged, e)
		}
	}

	dups := map[string][]int{}
	for joined, ranks := range ranksByKey {
		if len(ranks) > 1 {
			dups[strings.ReplaceAll(joined, "\x00", "/")] = ranks
		}
	}
	if len(dups) > 0 {
		return nil, &ErrDuplicateKey{Ranks: dups}
	}

	return deflatten(merged), nil
}

// deflatten builds a nested map[string]any tree from a flat slice of tuple
// -keyed entries: entries with key ["a","b"] land at tree["a"]["b"].
func deflatten[V any](entries []Entry[V]) map[string]any {
	root := map[string]any{}
	for _, e := range entries {
		node := root
		for i, part := range e.Key {
			if i == len(e.Key)-1 {
				node[part] = e.Value
				continue
			}
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
	}
	return root
}
