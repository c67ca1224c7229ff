// Package mpi implements point-to-point and collective communication
// between cooperating processes over plain TCP sockets, without requiring a
// native MPI runtime. Rank 0 (the root) is the hub of the topology: every
// non-root rank holds exactly one channel, to root, and can send only to
// root; there is no channel between two non-root ranks.
package mpi

// Reserved tag sentinels. User tags passed to Send/Recv must be
// non-negative; these never appear on the wire, except BcastTag, GatherTag,
// and BarrierTag, which root and non-root exchange directly as part of the
// collectives.
const (
	AnySource = -2
	AnyTag    = -1

	BcastTag   int32 = -3
	GatherTag  int32 = -4
	BarrierTag int32 = -5
)

// AuthkeyLength is the size in bytes of the shared secret used by the
// mutual challenge-response handshake.
const AuthkeyLength = 64

// Authkey is the shared secret distributed to every rank at bootstrap.
type Authkey [AuthkeyLength]byte
