package dispatch

import (
	"fmt"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

// Tags used by the pull scheduler. These are unrelated to mpi's reserved
// collective tags and only ever travel between a worker and root within a
// single ManagedSplit/MapUnordered call.
const (
	tagStart int32 = iota + 1
	tagStop
	tagDefault
	tagFailed
)

// schedulerRoot runs root's half of the pull scheduler: it answers every
// "give me work" request with the next unissued index, until every worker
// has reported stop or failed. It returns the count of indices handed out
// plus any worker failures, leaving the caller (ManagedSplit) to decide what
// counts as success. onResult, when non-nil, is called with the source and
// payload of every tagDefault message before the next index is issued;
// ManagedSplit passes nil. MapUnordered runs its own root loop instead.
func schedulerRoot(c *mpi.Comm, onResult func(source, lastIndex int) error) (issued int, failed []FailedIndex, err error) {
	workers := c.Size() - 1
	for workers > 0 {
		lastIndex, status, recvErr := mpi.Recv[int](c, mpi.AnySource, mpi.AnyTag)
		if recvErr != nil {
			return issued, failed, fmt.Errorf("dispatch: scheduler recv: %w", recvErr)
		}

		if status.Tag == tagDefault && onResult != nil {
			if err := onResult(status.Source, lastIndex); err != nil {
				return issued, failed, err
			}
		}

		switch status.Tag {
		case tagDefault, tagStart:
			if err := mpi.Send(c, issued, status.Source, 0); err != nil {
				return issued, failed, fmt.Errorf("dispatch: scheduler send: %w", err)
			}
			issued++
		}

		switch status.Tag {
		case tagStop, tagFailed:
			workers--
		}

		if status.Tag == tagFailed {
			failed = append(failed, FailedIndex{Rank: status.Source, Index: lastIndex})
		}
	}
	return issued, failed, nil
}

// ManagedSplit runs process(index, seq[index]) for a dynamically assigned
// subset of seq's indices on every non-root rank, with root acting purely as
// a scheduler and never calling process itself. Work is handed out
// on-demand, so a rank that finishes early immediately receives the next
// index rather than sitting idle. If process returns an error, that rank
// reports the failing index to root and ManagedSplit returns that error on
// that rank; it does not retry the index on another rank.
//
// When the communicator's size is 1, ManagedSplit runs process over every
// index locally with no communication at all.
func ManagedSplit[T any](c *mpi.Comm, seq []T, process func(index int, item T) error) error {
	if c.Size() == 1 {
		for i, item := range seq {
			if err := process(i, item); err != nil {
				return err
			}
		}
		return nil
	}

	if c.IsRoot() {
		length := len(seq)
		issued, failed, err := schedulerRoot(c, nil)
		if err != nil {
			return err
		}
		if issued < length || len(failed) > 0 {
			return &ErrIteratorNotConsumed{Issued: issued, Length: length, Failed: failed}
		}
		return nil
	}

	next, err := requestIndex(c, tagStart, 0)
	if err != nil {
		return err
	}
	for next >= 0 && next < len(seq) {
		if err := process(next, seq[next]); err != nil {
			reportFailed(c, next)
			return err
		}
		next, err = requestIndex(c, tagDefault, next)
		if err != nil {
			return err
		}
	}
	return mpi.Send(c, next, 0, tagStop)
}

// requestIndex sends tag (carrying payload, which is only meaningful for
// tagDefault -- the last processed index) to root and returns the next index
// to process.
func requestIndex(c *mpi.Comm, tag int32, payload int) (int, error) {
	if err := mpi.Send(c, payload, 0, tag); err != nil {
		return 0, fmt.Errorf("dispatch: worker request: %w", err)
	}
	next, _, err := mpi.Recv[int](c, 0, mpi.AnyTag)
	if err != nil {
		return 0, fmt.Errorf("dispatch: worker await index: %w", err)
	}
	return next, nil
}

func reportFailed(c *mpi.Comm, lastIndex int) {
	_ = mpi.Send(c, lastIndex, 0, tagFailed)
}
