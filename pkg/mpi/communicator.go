package mpi

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dlpmpi/gompi/pkg/bootstrap"
	"github.com/rs/zerolog"
)

// debugUnit scales the DLP_MPI_DEBUG bounded-wait budget: a rank R out of
// size N gets (N-R)*debugUnit to complete any single blocking call before
// it's reported as stuck, the direct translation of the reference
// implementation's debug-mode timeout.
const debugUnit = 5 * time.Second

// debugBudgetFor returns the bounded-wait budget for a rank, or 0 (meaning
// unbounded) when DLP_MPI_DEBUG is unset.
func debugBudgetFor(size, rank int) time.Duration {
	if v := os.Getenv("DLP_MPI_DEBUG"); v == "" || v == "0" {
		return 0
	}
	n := size - rank
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * debugUnit
}

// Status describes the provenance of a received message, mirroring what a
// recv call on the reference implementation reports back to the caller.
type Status struct {
	Source int
	Tag    int32
}

// Comm is a communicator over the whole world of ranks: every process
// launched together by the bootstrap layer. Init returns the world
// communicator; Clone produces an independent one sharing no mutable state
// with its parent.
type Comm struct {
	rank  int
	size  int
	host  string
	port  int
	depth int

	codec Codec
	log   zerolog.Logger

	// debugBudget is non-zero when DLP_MPI_DEBUG requests a bounded wait on
	// every blocking send/recv/barrier, so a hung peer is reported instead
	// of waited on forever.
	debugBudget time.Duration

	// root-only
	fabric *rootFabric
	ln     net.Listener

	// non-root only
	conn net.Conn

	closed bool
}

// Rank returns this process's rank within the communicator, in [0, Size()).
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the communicator.
func (c *Comm) Size() int { return c.size }

// IsRoot reports whether this process is rank 0.
func (c *Comm) IsRoot() bool { return c.rank == 0 }

// Depth reports how many times Clone was called to reach this communicator:
// 0 for the world communicator returned by Init, 1 for its first clone, and
// so on.
func (c *Comm) Depth() int { return c.depth }

// Init resolves the bootstrap method from the environment, establishes the
// connection fabric, and returns the world communicator. It blocks until
// every rank has connected and authenticated. A size-1 world never touches
// the network: on the returned Comm, Send and Recv are no-ops (Recv yields
// the zero value), Bcast and Gather return the local value, and Barrier
// returns immediately.
func Init() (*Comm, error) {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	info, err := resolveBootstrap()
	if err != nil {
		return nil, fmt.Errorf("mpi: bootstrap: %w", err)
	}

	c := &Comm{
		rank:        info.Rank,
		size:        info.Size,
		host:        info.Host,
		port:        info.Port,
		codec:       GobCodec,
		log:         log.With().Int("rank", info.Rank).Logger(),
		debugBudget: debugBudgetFor(info.Size, info.Rank),
	}

	if info.Size == 1 {
		return c, nil
	}

	if info.Rank == 0 {
		fabric, ln, err := listenAndAccept(info.Host, info.Port, info.Size, info.Authkey, c.log)
		if err != nil {
			return nil, err
		}
		c.fabric = fabric
		c.ln = ln
		return c, nil
	}

	conn, err := dialRoot(info.Host, info.Port, info.Rank, info.Size, info.Authkey, c.log)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Close releases the communicator's sockets. It is idempotent.
func (c *Comm) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.fabric != nil {
		c.fabric.close()
	}
	if c.ln != nil {
		c.ln.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// cloneHandshake is what root broadcasts to every rank to stand up a clone's
// fabric: a fresh port on the same host and a fresh random authkey, so the
// clone's traffic can never be confused with its parent's even if both are
// in use concurrently.
type cloneHandshake struct {
	Port    int
	Authkey Authkey
}

// Clone returns an independent communicator over the same world, with its
// own connections, so unrelated collective operations (e.g. two modules each
// doing their own Bcast) never race on each other's frames. Root mints a new
// port and a fresh random authkey and broadcasts both over the parent
// communicator; every rank then runs a full fabric bootstrap at depth+1
// against that (host, port, authkey), and a barrier on the parent
// communicator confirms every rank made it through before Clone returns.
func (c *Comm) Clone() (*Comm, error) {
	if c.size == 1 {
		return &Comm{rank: c.rank, size: 1, depth: c.depth + 1, codec: c.codec, log: c.log}, nil
	}

	var hs cloneHandshake
	if c.IsRoot() {
		port, err := bootstrap.FreePort()
		if err != nil {
			return nil, fmt.Errorf("mpi: clone: pick port: %w", err)
		}
		authkey, err := bootstrap.RandomAuthkey()
		if err != nil {
			return nil, fmt.Errorf("mpi: clone: generate authkey: %w", err)
		}
		hs = cloneHandshake{Port: port, Authkey: authkey}
	}
	hs, err := Bcast(c, hs)
	if err != nil {
		return nil, fmt.Errorf("mpi: clone: broadcast fabric handshake: %w", err)
	}

	clone := &Comm{rank: c.rank, size: c.size, host: c.host, port: hs.Port, depth: c.depth + 1, codec: c.codec, log: c.log, debugBudget: c.debugBudget}
	if c.IsRoot() {
		fabric, ln, err := listenAndAccept(c.host, hs.Port, c.size, hs.Authkey, c.log)
		if err != nil {
			return nil, err
		}
		clone.fabric = fabric
		clone.ln = ln
	} else {
		conn, err := dialRoot(c.host, hs.Port, c.rank, c.size, hs.Authkey, c.log)
		if err != nil {
			return nil, err
		}
		clone.conn = conn
	}

	if err := c.Barrier(); err != nil {
		return nil, fmt.Errorf("mpi: clone: return barrier: %w", err)
	}
	return clone, nil
}

// withDebugBound runs fn directly when no bounded-wait budget is set;
// otherwise it races fn against the budget and reports a DebugTimeoutError
// if fn hasn't finished in time. fn is expected to be used only for
// blocking network or channel operations; it is never canceled, only raced,
// so a timed-out call's goroutine is left to finish (or hang) in the
// background -- acceptable for a development-only diagnostic.
func (c *Comm) withDebugBound(op string, fn func() error) error {
	if c.debugBudget <= 0 {
		return fn()
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.debugBudget)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &DebugTimeoutError{Op: op, Budget: c.debugBudget}
	}
}

// Send encodes v with the communicator's codec and sends it to dest tagged
// tag. Only root may Send to an arbitrary dest; non-root ranks can only Send
// to root (rank 0) -- attempting otherwise is a programming error in the
// reference model and returns an error here rather than panicking.
func Send[T any](c *Comm, v T, dest int, tag int32) error {
	if c.size == 1 {
		return nil
	}
	payload, err := packPayload(c.codec, v)
	if err != nil {
		return fmt.Errorf("mpi: send encode: %w", err)
	}
	if c.IsRoot() {
		return c.withDebugBound("send", func() error { return c.fabric.send(dest, tag, payload) })
	}
	if dest != 0 {
		return fmt.Errorf("mpi: rank %d cannot send directly to rank %d (only to root)", c.rank, dest)
	}
	return c.withDebugBound("send", func() error { return sendFrame(c.conn, tag, payload) })
}

// Recv blocks until a message tagged tag arrives from source (AnySource to
// accept any rank) and decodes it into a new T. The returned Status reports
// which rank it actually arrived from and which tag was received.
func Recv[T any](c *Comm, source int, tag int32) (T, Status, error) {
	var zero T
	if c.size == 1 {
		return zero, Status{Source: 0, Tag: tag}, nil
	}
	if c.IsRoot() {
		return recvAtRootBounded[T](c, source, tag)
	}
	var f frame
	if err := c.withDebugBound("recv", func() (err error) { f, err = recvFrame(c.conn); return }); err != nil {
		if dte, ok := err.(*DebugTimeoutError); ok {
			return zero, Status{}, dte
		}
		return zero, Status{}, wrapSocketClosed("recv", 0, err)
	}
	if tag != AnyTag && f.Tag != tag {
		return zero, Status{}, &TagError{Got: f.Tag, Want: tag}
	}
	var v T
	if err := unpackPayload(c.codec, f.Payload, &v); err != nil {
		return zero, Status{}, fmt.Errorf("mpi: recv decode: %w", err)
	}
	return v, Status{Source: 0, Tag: f.Tag}, nil
}

// recvAtRootBounded wraps recvAtRoot with the DLP_MPI_DEBUG bounded wait.
// withDebugBound can't be reused directly here since it isn't generic, so
// the race against the budget is inlined.
func recvAtRootBounded[T any](c *Comm, source int, tag int32) (T, Status, error) {
	if c.debugBudget <= 0 {
		return recvAtRoot[T](c, source, tag)
	}
	type result struct {
		v   T
		s   Status
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, s, err := recvAtRoot[T](c, source, tag)
		done <- result{v, s, err}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), c.debugBudget)
	defer cancel()
	select {
	case r := <-done:
		return r.v, r.s, r.err
	case <-ctx.Done():
		var zero T
		return zero, Status{}, &DebugTimeoutError{Op: "recv", Budget: c.debugBudget}
	}
}

// recvAtRoot drains the shared inbound channel until a frame matching
// (source, tag) arrives. Frames from other ranks that don't match are
// requeued onto a small pending buffer scanned on the next call, preserving
// out-of-order delivery between distinct (source, tag) pairs the way a
// select-based multiplexer naturally would.
func recvAtRoot[T any](c *Comm, source int, tag int32) (T, Status, error) {
	var zero T
	for {
		if i, ok := c.fabric.takePending(source, tag); ok {
			return decodeInbound[T](c, i)
		}
		in := <-c.fabric.inbound
		if in.err != nil {
			c.fabric.dropPeer(in.rank)
			if source != AnySource && in.rank == source {
				return zero, Status{}, wrapSocketClosed("recv", in.rank, in.err)
			}
			continue
		}
		if (source == AnySource || in.rank == source) && (tag == AnyTag || in.frame.Tag == tag) {
			return decodeInbound[T](c, in)
		}
		c.fabric.stashPending(in)
	}
}

func decodeInbound[T any](c *Comm, in inboundFrame) (T, Status, error) {
	var v T
	if err := unpackPayload(c.codec, in.frame.Payload, &v); err != nil {
		var zero T
		return zero, Status{}, fmt.Errorf("mpi: recv decode: %w", err)
	}
	return v, Status{Source: in.rank, Tag: in.frame.Tag}, nil
}

// Bcast broadcasts v from root to every rank. Root passes the value to send;
// non-root callers' v argument is ignored and the broadcast value is
// returned instead, matching the reference implementation's
// collective-with-a-return-value shape.
func Bcast[T any](c *Comm, v T) (T, error) {
	if c.size == 1 {
		return v, nil
	}
	if c.IsRoot() {
		payload, err := packPayload(c.codec, v)
		if err != nil {
			return v, fmt.Errorf("mpi: bcast encode: %w", err)
		}
		err = c.withDebugBound("bcast", func() error {
			for rank := 1; rank < c.size; rank++ {
				if err := c.fabric.send(rank, BcastTag, payload); err != nil {
					return fmt.Errorf("mpi: bcast to rank %d: %w", rank, err)
				}
			}
			return nil
		})
		return v, err
	}
	var f frame
	if err := c.withDebugBound("bcast", func() (err error) { f, err = recvFrame(c.conn); return }); err != nil {
		if dte, ok := err.(*DebugTimeoutError); ok {
			return v, dte
		}
		return v, wrapSocketClosed("bcast", 0, err)
	}
	if f.Tag != BcastTag {
		return v, &TagError{Got: f.Tag, Want: BcastTag}
	}
	var out T
	if err := unpackPayload(c.codec, f.Payload, &out); err != nil {
		return v, fmt.Errorf("mpi: bcast decode: %w", err)
	}
	return out, nil
}

// Gather collects v from every rank at root, ordered by rank. On non-root
// ranks the returned slice is nil.
func Gather[T any](c *Comm, v T) ([]T, error) {
	if c.size == 1 {
		return []T{v}, nil
	}
	if !c.IsRoot() {
		payload, err := packPayload(c.codec, v)
		if err != nil {
			return nil, fmt.Errorf("mpi: gather encode: %w", err)
		}
		if err := c.withDebugBound("gather", func() error { return sendFrame(c.conn, GatherTag, payload) }); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if c.debugBudget <= 0 {
		return gatherAtRoot[T](c, v)
	}
	type result struct {
		out []T
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := gatherAtRoot[T](c, v)
		done <- result{out, err}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), c.debugBudget)
	defer cancel()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, &DebugTimeoutError{Op: "gather", Budget: c.debugBudget}
	}
}

// gatherAtRoot performs the blocking root-side collection loop for Gather.
func gatherAtRoot[T any](c *Comm, v T) ([]T, error) {
	out := make([]T, c.size)
	out[0] = v
	remaining := map[int]bool{}
	for r := 1; r < c.size; r++ {
		remaining[r] = true
	}
	for len(remaining) > 0 {
		if i, ok := c.fabric.takePendingTag(GatherTag); ok {
			if !remaining[i.rank] {
				continue
			}
			val, _, err := decodeInbound[T](c, i)
			if err != nil {
				return nil, err
			}
			out[i.rank] = val
			delete(remaining, i.rank)
			continue
		}
		in := <-c.fabric.inbound
		if in.err != nil {
			c.fabric.dropPeer(in.rank)
			if remaining[in.rank] {
				return nil, wrapSocketClosed("gather", in.rank, in.err)
			}
			continue
		}
		if in.frame.Tag != GatherTag {
			c.fabric.stashPending(in)
			continue
		}
		if !remaining[in.rank] {
			continue
		}
		val, _, err := decodeInbound[T](c, in)
		if err != nil {
			return nil, err
		}
		out[in.rank] = val
		delete(remaining, in.rank)
	}
	return out, nil
}

// Barrier synchronizes every rank with root: root returns only once every
// rank has called Barrier, and a non-root rank returns once root has called
// it. It is implemented as Bcast(nil, BarrierTag) followed by
// Gather(nil, BarrierTag) over header-only frames: root's broadcast lets
// every non-root rank return from Barrier as soon as its single frame is
// received, while root itself only returns once it has gathered that
// release acknowledgement back from every peer.
func (c *Comm) Barrier() error {
	if c.size == 1 {
		return nil
	}
	if !c.IsRoot() {
		return c.withDebugBound("barrier", func() error {
			f, err := recvFrame(c.conn)
			if err != nil {
				return wrapSocketClosed("barrier", 0, err)
			}
			if f.Tag != BarrierTag {
				return &TagError{Got: f.Tag, Want: BarrierTag}
			}
			return sendFrame(c.conn, BarrierTag, nil)
		})
	}

	return c.withDebugBound("barrier", c.barrierAtRoot)
}

// barrierAtRoot performs the blocking root-side broadcast-then-collect for
// Barrier: release every peer first, then wait for each to acknowledge.
func (c *Comm) barrierAtRoot() error {
	for rank := 1; rank < c.size; rank++ {
		if err := c.fabric.send(rank, BarrierTag, nil); err != nil {
			return fmt.Errorf("mpi: barrier release rank %d: %w", rank, err)
		}
	}
	remaining := map[int]bool{}
	for r := 1; r < c.size; r++ {
		remaining[r] = true
	}
	for len(remaining) > 0 {
		if i, ok := c.fabric.takePendingTag(BarrierTag); ok {
			delete(remaining, i.rank)
			continue
		}
		in := <-c.fabric.inbound
		if in.err != nil {
			c.fabric.dropPeer(in.rank)
			if remaining[in.rank] {
				return wrapSocketClosed("barrier", in.rank, in.err)
			}
			continue
		}
		if in.frame.Tag != BarrierTag {
			c.fabric.stashPending(in)
			continue
		}
		delete(remaining, in.rank)
	}
	return nil
}

// Abort terminates the calling process immediately with the given exit code,
// matching the reference implementation's abort semantics: there is no
// attempt to notify peers, who will observe the abort as a closed socket.
func Abort(code int) {
	os.Exit(code)
}
