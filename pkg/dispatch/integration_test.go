package dispatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

// runOnEveryRank calls fn concurrently on every rank's Comm and waits for
// all of them to return, collecting any error by rank.
func runOnEveryRank(comms []*mpi.Comm, fn func(c *mpi.Comm) error) []error {
	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for i, c := range comms {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(c)
		}()
	}
	wg.Wait()
	return errs
}

func TestManagedSplitAcrossRealRanks(t *testing.T) {
	comms, closeWorld, err := mpi.LoopbackWorld(3)
	if err != nil {
		t.Fatalf("LoopbackWorld: %v", err)
	}
	defer closeWorld()

	seq := []int{10, 11, 12, 13, 14, 15, 16}
	var mu sync.Mutex
	var seen []int

	errs := runOnEveryRank(comms, func(c *mpi.Comm) error {
		return ManagedSplit(c, seq, func(index int, item int) error {
			mu.Lock()
			seen = append(seen, item)
			mu.Unlock()
			return nil
		})
	})
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: ManagedSplit: %v", rank, err)
		}
	}

	if len(seen) != len(seq) {
		t.Fatalf("processed %d items, want %d", len(seen), len(seq))
	}
	counts := map[int]int{}
	for _, v := range seen {
		counts[v]++
	}
	for _, v := range seq {
		if counts[v] != 1 {
			t.Fatalf("item %d processed %d times, want exactly once", v, counts[v])
		}
	}
}

func TestManagedSplitWorkerFailureReportsAsNotConsumed(t *testing.T) {
	comms, closeWorld, err := mpi.LoopbackWorld(3)
	if err != nil {
		t.Fatalf("LoopbackWorld: %v", err)
	}
	defer closeWorld()

	seq := []int{0, 1, 2, 3, 4, 5}
	poison := 3
	wantErr := errors.New("poisoned item")

	errs := runOnEveryRank(comms, func(c *mpi.Comm) error {
		return ManagedSplit(c, seq, func(index int, item int) error {
			if item == poison {
				return wantErr
			}
			return nil
		})
	})

	var notConsumed *ErrIteratorNotConsumed
	var workerErrSeen bool
	for rank, err := range errs {
		if rank == 0 {
			if !errors.As(err, &notConsumed) {
				t.Fatalf("root error = %v, want *ErrIteratorNotConsumed", err)
			}
			continue
		}
		if err != nil {
			workerErrSeen = true
		}
	}
	if !workerErrSeen {
		t.Fatal("expected at least one non-root rank to report the poisoned item's error")
	}
	if notConsumed == nil || len(notConsumed.Failed) == 0 {
		t.Fatalf("root's ErrIteratorNotConsumed = %+v, want at least one failure recorded", notConsumed)
	}
}

func TestMapUnorderedAcrossRealRanks(t *testing.T) {
	comms, closeWorld, err := mpi.LoopbackWorld(3)
	if err != nil {
		t.Fatalf("LoopbackWorld: %v", err)
	}
	defer closeWorld()

	seq := []int{1, 2, 3, 4, 5}
	var results []Result[int]
	var mu sync.Mutex

	errs := runOnEveryRank(comms, func(c *mpi.Comm) error {
		stream, err := MapUnordered(c, seq, func(item int) (int, error) {
			return item * item, nil
		})
		if err != nil {
			return err
		}
		if c.IsRoot() {
			for r := range stream {
				if r.Err != nil {
					return r.Err
				}
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}
		return nil
	})
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: MapUnordered: %v", rank, err)
		}
	}

	if len(results) != len(seq) {
		t.Fatalf("got %d results, want %d", len(results), len(seq))
	}
	for _, r := range results {
		if r.Value != seq[r.Index]*seq[r.Index] {
			t.Fatalf("result %+v does not match seq[%d]^2", r, r.Index)
		}
	}
}

func TestMapUnorderedWorkerFailureYieldsTrailingError(t *testing.T) {
	comms, closeWorld, err := mpi.LoopbackWorld(3)
	if err != nil {
		t.Fatalf("LoopbackWorld: %v", err)
	}
	defer closeWorld()

	seq := []int{0, 1, 2, 3, 4}
	poison := 2

	var rootTrailingErr error
	errs := runOnEveryRank(comms, func(c *mpi.Comm) error {
		stream, err := MapUnordered(c, seq, func(item int) (int, error) {
			if item == poison {
				return 0, errors.New("poisoned")
			}
			return item, nil
		})
		if err != nil {
			return nil
		}
		if c.IsRoot() {
			for r := range stream {
				if r.Err != nil {
					rootTrailingErr = r.Err
				}
			}
		}
		return nil
	})
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: MapUnordered: %v", rank, err)
		}
	}

	var notConsumed *ErrIteratorNotConsumed
	if !errors.As(rootTrailingErr, &notConsumed) {
		t.Fatalf("root's trailing channel error = %v, want *ErrIteratorNotConsumed", rootTrailingErr)
	}
	if len(notConsumed.Failed) == 0 {
		t.Fatalf("ErrIteratorNotConsumed = %+v, want at least one failure recorded", notConsumed)
	}
}
