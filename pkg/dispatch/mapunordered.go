package dispatch

import (
	"fmt"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

// Result pairs a MapUnordered output with the sequence index it came from.
// Results arrive in completion order, not index order -- whichever worker
// finishes first reports first. A Result with Err set and Index -1 is the
// last value sent on the channel before it closes, reporting the same
// failure ManagedSplit would return as *ErrIteratorNotConsumed.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// mapEnvelope is the single message a worker sends back to root each round:
// the index it just finished (so root can account for it and, on failure,
// report it) paired with the computed value, if any. Using one combined
// message per round keeps the wire protocol symmetric across tagStart,
// tagDefault and tagFailed, all of which carry the same concrete type once R
// is fixed -- unlike a dynamically typed recv, a generic Go Recv[V] cannot
// decode two different payload shapes under the same tag.
type mapEnvelope[R any] struct {
	LastIndex int
	Value     R
}

// MapUnordered applies fn to every element of seq across all ranks of c,
// pulling work the same way ManagedSplit does, and streams results back to
// root over the returned channel as they complete, rather than waiting for
// every rank to finish -- a lazy generator yielding results to the caller.
// Only root receives a channel; every other rank's channel is nil. fn runs
// on whichever rank happens to pick up each index, so it must not depend on
// which rank it runs on.
//
// If fn returns an error on some rank, that rank reports the failing index
// to root and MapUnordered returns the error on that rank immediately,
// without a channel. Root never sees that error directly: once every worker
// has reported stop or failed, root's channel yields one final Result with
// Err set to *ErrIteratorNotConsumed (summarizing every failure reported
// across all workers) and then closes. A clean run closes the channel with
// no such trailing error value.
func MapUnordered[T, R any](c *mpi.Comm, seq []T, fn func(item T) (R, error)) (<-chan Result[R], error) {
	if c.Size() == 1 {
		out := make(chan Result[R], len(seq))
		defer close(out)
		for i, item := range seq {
			v, err := fn(item)
			if err != nil {
				return nil, err
			}
			out <- Result[R]{Index: i, Value: v}
		}
		return out, nil
	}

	if c.IsRoot() {
		return mapUnorderedRoot[R](c, len(seq)), nil
	}
	return nil, mapUnorderedWorker(c, seq, fn)
}

func mapUnorderedRoot[R any](c *mpi.Comm, length int) <-chan Result[R] {
	out := make(chan Result[R])
	go func() {
		defer close(out)

		workers := c.Size() - 1
		issued := 0
		var failed []FailedIndex

		for workers > 0 {
			env, status, err := mpi.Recv[mapEnvelope[R]](c, mpi.AnySource, mpi.AnyTag)
			if err != nil {
				out <- Result[R]{Index: -1, Err: fmt.Errorf("dispatch: map_unordered recv: %w", err)}
				return
			}

			if status.Tag == tagDefault {
				out <- Result[R]{Index: env.LastIndex, Value: env.Value}
			}

			switch status.Tag {
			case tagDefault, tagStart:
				if err := mpi.Send(c, issued, status.Source, 0); err != nil {
					out <- Result[R]{Index: -1, Err: fmt.Errorf("dispatch: map_unordered send index: %w", err)}
					return
				}
				issued++
			}

			switch status.Tag {
			case tagStop, tagFailed:
				workers--
			}

			if status.Tag == tagFailed {
				failed = append(failed, FailedIndex{Rank: status.Source, Index: env.LastIndex})
			}
		}

		if issued < length || len(failed) > 0 {
			out <- Result[R]{Index: -1, Err: &ErrIteratorNotConsumed{Issued: issued, Length: length, Failed: failed}}
		}
	}()
	return out
}

func mapUnorderedWorker[T, R any](c *mpi.Comm, seq []T, fn func(item T) (R, error)) error {
	if err := mpi.Send(c, mapEnvelope[R]{}, 0, tagStart); err != nil {
		return fmt.Errorf("dispatch: map_unordered request start: %w", err)
	}
	next, _, err := mpi.Recv[int](c, 0, mpi.AnyTag)
	if err != nil {
		return fmt.Errorf("dispatch: map_unordered await first index: %w", err)
	}
	for next >= 0 && next < len(seq) {
		value, fnErr := fn(seq[next])
		if fnErr != nil {
			_ = mpi.Send(c, mapEnvelope[R]{LastIndex: next}, 0, tagFailed)
			return fnErr
		}
		if err := mpi.Send(c, mapEnvelope[R]{LastIndex: next, Value: value}, 0, tagDefault); err != nil {
			return fmt.Errorf("dispatch: map_unordered send result: %w", err)
		}
		next, _, err = mpi.Recv[int](c, 0, mpi.AnyTag)
		if err != nil {
			return fmt.Errorf("dispatch: map_unordered await index: %w", err)
		}
	}
	return mpi.Send(c, mapEnvelope[R]{LastIndex: next}, 0, tagStop)
}
