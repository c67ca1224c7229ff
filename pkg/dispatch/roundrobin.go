package dispatch

import "github.com/dlpmpi/gompi/pkg/mpi"

// RoundRobin returns the elements of seq at the indices owned by this rank:
// rank, rank+size, rank+2*size, .... It requires no communication at all,
// unlike ManagedSplit and MapUnordered, at the cost of assuming every index
// takes roughly the same amount of work to process.
func RoundRobin[T any](c *mpi.Comm, seq []T) []T {
	rank, size := c.Rank(), c.Size()
	if rank >= len(seq) {
		return nil
	}
	out := make([]T, 0, (len(seq)-rank+size-1)/size)
	for i := rank; i < len(seq); i += size {
		out = append(out, seq[i])
	}
	return out
}

// RoundRobinIndices is RoundRobin but returns the indices instead of the
// elements, for callers that need to report which original position a
// result came from.
func RoundRobinIndices(c *mpi.Comm, length int) []int {
	rank, size := c.Rank(), c.Size()
	if rank >= length {
		return nil
	}
	out := make([]int, 0, (length-rank+size-1)/size)
	for i := rank; i < length; i += size {
		out = append(out, i)
	}
	return out
}
