package mpi

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/dlpmpi/gompi/pkg/bootstrap"
	"github.com/dlpmpi/gompi/pkg/metricsx"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// rankFormat reports the width, in bytes, of the claimed-rank field sent
// immediately after connect: a single byte for worlds under 200 processes, a
// 16-bit value otherwise (matching the reference protocol's choice to
// special-case small worlds).
func rankFormat(size int) int {
	if size < 200 {
		return 1
	}
	return 2
}

func putRank(size, rank int) []byte {
	if rankFormat(size) == 1 {
		return []byte{byte(rank)}
	}
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(rank))
	return b
}

func getRank(size int, b []byte) int {
	if rankFormat(size) == 1 {
		return int(b[0])
	}
	return int(binary.BigEndian.Uint16(b))
}

// inboundFrame is one frame received from a peer, tagged with the rank it
// arrived from. The root's dispatch loop fans in on a channel of these,
// which stands in for the reference implementation's select-driven
// multiplexer: each peer connection owns a goroutine blocked in recvFrame,
// and "whichever peer is ready first" becomes "whichever goroutine sends to
// the channel first".
type inboundFrame struct {
	rank  int
	frame frame
	err   error
}

// peerConn is one authenticated connection to a non-root rank, held by root.
type peerConn struct {
	rank int
	addr string
	conn net.Conn
	mu   sync.Mutex // serializes concurrent sends on this channel
}

func (p *peerConn) send(tag int32, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sendFrame(p.conn, tag, payload)
}

// fabricMetrics groups the VictoriaMetrics counters the connection fabric
// exposes, mirroring the atomic-counter-plus-WritePrometheus shape used
// elsewhere in this family of services for connection-level instrumentation.
type fabricMetrics struct {
	acceptsTotal     *metrics.Counter
	authOKTotal      *metrics.Counter
	authFailTotal    *metrics.Counter
	framesTxTotal    *metrics.Counter
	framesRxTotal    *metrics.Counter
	bytesTxTotal     *metrics.Counter
	bytesRxTotal     *metrics.Counter
	peersDroppedTotal *metrics.Counter
}

func newFabricMetrics() *fabricMetrics {
	return &fabricMetrics{
		acceptsTotal:      metrics.GetOrCreateCounter("gompi_fabric_accepts_total"),
		authOKTotal:       metrics.GetOrCreateCounter(metricsx.WithLabels("gompi_fabric_auth_total", "result", "ok")),
		authFailTotal:     metrics.GetOrCreateCounter(metricsx.WithLabels("gompi_fabric_auth_total", "result", "fail")),
		framesTxTotal:     metrics.GetOrCreateCounter(metricsx.WithLabels("gompi_fabric_frames_total", "dir", "tx")),
		framesRxTotal:     metrics.GetOrCreateCounter(metricsx.WithLabels("gompi_fabric_frames_total", "dir", "rx")),
		bytesTxTotal:      metrics.GetOrCreateCounter(metricsx.WithLabels("gompi_fabric_bytes_total", "dir", "tx")),
		bytesRxTotal:      metrics.GetOrCreateCounter(metricsx.WithLabels("gompi_fabric_bytes_total", "dir", "rx")),
		peersDroppedTotal: metrics.GetOrCreateCounter("gompi_fabric_peers_dropped_total"),
	}
}

// rootFabric is the root's view of the connection fabric: a listener that
// accepted size-1 authenticated peers, plus the channels to each of them.
type rootFabric struct {
	log     zerolog.Logger
	metrics *fabricMetrics

	mu    sync.Mutex
	peers map[int]*peerConn // rank -> connection
	addrs map[string]int    // addr -> rank, for ANY_SOURCE drop bookkeeping

	inbound chan inboundFrame

	pendingMu sync.Mutex
	pending   []inboundFrame // frames read off inbound but not yet matched by a waiting recv/gather/barrier
}

// stashPending holds a frame that didn't match what the current recv call
// was waiting for, so a later call (waiting on a different (source, tag))
// can still find it without it being lost on the floor.
func (rf *rootFabric) stashPending(in inboundFrame) {
	rf.pendingMu.Lock()
	rf.pending = append(rf.pending, in)
	rf.pendingMu.Unlock()
}

// takePending removes and returns the first pending frame matching
// (source, tag), if any.
func (rf *rootFabric) takePending(source int, tag int32) (inboundFrame, bool) {
	rf.pendingMu.Lock()
	defer rf.pendingMu.Unlock()
	for i, in := range rf.pending {
		if (source == AnySource || in.rank == source) && (tag == AnyTag || in.frame.Tag == tag) {
			rf.pending = append(rf.pending[:i], rf.pending[i+1:]...)
			return in, true
		}
	}
	return inboundFrame{}, false
}

// takePendingTag removes and returns the first pending frame with the given
// tag regardless of source, used by collectives that want the next arrival
// from any not-yet-seen rank.
func (rf *rootFabric) takePendingTag(tag int32) (inboundFrame, bool) {
	rf.pendingMu.Lock()
	defer rf.pendingMu.Unlock()
	for i, in := range rf.pending {
		if in.frame.Tag == tag {
			rf.pending = append(rf.pending[:i], rf.pending[i+1:]...)
			return in, true
		}
	}
	return inboundFrame{}, false
}

// listenAndAccept binds (host, port), accepts exactly size-1 authenticated
// connections, and returns a rootFabric ready for use. It bounds in-flight
// unauthenticated connections with netutil.LimitListener so a slow or
// malicious peer cannot exhaust file descriptors before authenticating.
func listenAndAccept(host string, port, size int, authkey Authkey, log zerolog.Logger) (*rootFabric, net.Listener, error) {
	l, err := bootstrap.ListenReuse("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	limited := netutil.LimitListener(l, 4*size)

	rf := &rootFabric{
		log:     log,
		metrics: newFabricMetrics(),
		peers:   make(map[int]*peerConn, size-1),
		addrs:   make(map[string]int, size-1),
		inbound: make(chan inboundFrame, size),
	}

	for remaining := size - 1; remaining > 0; {
		conn, err := limited.Accept()
		if err != nil {
			return nil, nil, fmt.Errorf("accept: %w", err)
		}
		rf.metrics.acceptsTotal.Inc()

		if _, ok := rf.authenticateAndRegister(conn, size, authkey); ok {
			remaining--
		}
	}

	return rf, limited, nil
}

// authenticateAndRegister reads the claimed rank, runs the server half of
// the handshake, and on success registers conn and starts its reader
// goroutine. Failed connections are logged with the peer address and
// closed, per spec.
func (rf *rootFabric) authenticateAndRegister(conn net.Conn, size int, authkey Authkey) (int, bool) {
	buf, err := recvN(conn, rankFormat(size))
	if err != nil {
		conn.Close()
		return 0, false
	}
	rank := getRank(size, buf)

	if err := authServer(conn, authkey); err != nil {
		rf.metrics.authFailTotal.Inc()
		rf.log.Warn().Str("peer", conn.RemoteAddr().String()).Int("claimed_rank", rank).Err(err).Msg("auth handshake failed, dropping connection")
		conn.Close()
		return 0, false
	}
	rf.metrics.authOKTotal.Inc()

	pc := &peerConn{rank: rank, addr: conn.RemoteAddr().String(), conn: conn}

	rf.mu.Lock()
	rf.peers[rank] = pc
	rf.addrs[pc.addr] = rank
	rf.mu.Unlock()

	go rf.readLoop(pc)

	return rank, true
}

// readLoop decodes frames from one peer and forwards them to the shared
// inbound channel until the peer's socket closes.
func (rf *rootFabric) readLoop(pc *peerConn) {
	for {
		f, err := recvFrame(pc.conn)
		if err != nil {
			rf.inbound <- inboundFrame{rank: pc.rank, err: err}
			return
		}
		rf.metrics.framesRxTotal.Inc()
		rf.metrics.bytesRxTotal.Add(len(f.Payload))
		rf.inbound <- inboundFrame{rank: pc.rank, frame: f}
	}
}

// dropPeer removes a peer that closed its socket, used when the caller is
// waiting on ANY_SOURCE and a peer simply finished (as opposed to one the
// caller was specifically waiting on, which is fatal).
func (rf *rootFabric) dropPeer(rank int) {
	rf.mu.Lock()
	if pc, ok := rf.peers[rank]; ok {
		delete(rf.peers, rank)
		delete(rf.addrs, pc.addr)
	}
	rf.mu.Unlock()
	rf.metrics.peersDroppedTotal.Inc()
}

func (rf *rootFabric) peerCount() int {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return len(rf.peers)
}

func (rf *rootFabric) send(rank int, tag int32, payload []byte) error {
	rf.mu.Lock()
	pc, ok := rf.peers[rank]
	rf.mu.Unlock()
	if !ok {
		return fmt.Errorf("mpi: no channel to rank %d", rank)
	}
	if err := pc.send(tag, payload); err != nil {
		return err
	}
	rf.metrics.framesTxTotal.Inc()
	rf.metrics.bytesTxTotal.Add(len(payload))
	return nil
}

func (rf *rootFabric) close() {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	for _, pc := range rf.peers {
		pc.conn.Close()
	}
}

// dialRoot connects to root with the backoff ladder mandated by spec: ten
// attempts at 10ms, ten at 100ms, thirty at 1s, fifty at 10s, then give up.
func dialRoot(host string, port int, rank, size int, authkey Authkey, log zerolog.Logger) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	schedule := backoffSchedule()
	start := time.Now()

	var lastErr error
	for attempt, wait := range schedule {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			if err := sendAll(conn, putRank(size, rank)); err != nil {
				conn.Close()
				return nil, fmt.Errorf("mpi: send rank advertisement: %w", err)
			}
			if err := authClient(conn, authkey); err != nil {
				conn.Close()
				return nil, fmt.Errorf("mpi: client handshake: %w", err)
			}
			if attempt >= 50 {
				log.Info().Int("rank", rank).Str("addr", addr).Int("attempt", attempt).
					Dur("elapsed", time.Since(start)).Msg("connected to root after retries")
			}
			return conn, nil
		}
		lastErr = err
		if wait > 0 {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("mpi: could not connect to %s after %v: %w", addr, time.Since(start), lastErr)
}

// backoffSchedule returns the wait duration to apply *after* each connection
// attempt in sequence.
func backoffSchedule() []time.Duration {
	var s []time.Duration
	for i := 0; i < 10; i++ {
		s = append(s, 10*time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		s = append(s, 100*time.Millisecond)
	}
	for i := 0; i < 30; i++ {
		s = append(s, time.Second)
	}
	for i := 0; i < 50; i++ {
		s = append(s, 10*time.Second)
	}
	return s
}
