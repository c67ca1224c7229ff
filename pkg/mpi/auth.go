package mpi

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net"

	"golang.org/x/mod/semver"
)

// handshakeVersion is advertised by both sides of the auth handshake before
// running the challenge exchange, so a future incompatible revision of the
// wire protocol fails loudly instead of silently desyncing the frame codec.
const handshakeVersion = "v3.0.0"

const challengeSize = 16
const responseSize = sha256.Size

// authServer runs the server (root) half of the mutual challenge-response
// handshake on a freshly accepted, not-yet-authenticated connection.
func authServer(conn net.Conn, authkey Authkey) error {
	if err := negotiateVersion(conn); err != nil {
		return err
	}
	return challengeExchange(conn, authkey)
}

// authClient runs the client (non-root) half of the handshake after
// connecting to root.
func authClient(conn net.Conn, authkey Authkey) error {
	if err := negotiateVersion(conn); err != nil {
		return err
	}
	return challengeExchange(conn, authkey)
}

// negotiateVersion exchanges handshakeVersion strings and rejects a peer
// advertising an incompatible major version before either side commits any
// secret material to the wire.
func negotiateVersion(conn net.Conn) error {
	peer, err := exchange(conn, []byte(fmt.Sprintf("%-16s", handshakeVersion)), 16)
	if err != nil {
		return err
	}
	var peerVersion string
	for i := len(peer); i > 0; i-- {
		if peer[i-1] != ' ' {
			peerVersion = string(peer[:i])
			break
		}
	}
	if semver.Major(peerVersion) != semver.Major(handshakeVersion) {
		return fmt.Errorf("mpi: incompatible handshake version %q (want %s)", peerVersion, handshakeVersion)
	}
	return nil
}

// challengeExchange performs the symmetric mutual challenge-response: each
// side generates a random challenge, sends it, and must answer the peer's
// challenge with SHA-256(peer_challenge || authkey). The two sides run
// identical code: each swaps challenges with the peer, then swaps
// responses, sending and receiving concurrently within each swap.
func challengeExchange(conn net.Conn, authkey Authkey) error {
	myChallenge := make([]byte, challengeSize)
	if _, err := rand.Read(myChallenge); err != nil {
		return fmt.Errorf("mpi: generate challenge: %w", err)
	}

	peerChallenge, err := exchange(conn, myChallenge, challengeSize)
	if err != nil {
		return err
	}

	peerResponse, err := exchange(conn, respond(peerChallenge, authkey), responseSize)
	if err != nil {
		return err
	}

	expected := respond(myChallenge, authkey)
	if subtle.ConstantTimeCompare(peerResponse, expected) != 1 {
		return &AuthError{Peer: conn.RemoteAddr().String()}
	}
	return nil
}

// exchange sends out to the peer while concurrently reading n bytes back, so
// two peers running the same step never wait on each other's reads, even
// over an unbuffered connection.
func exchange(conn net.Conn, out []byte, n int) ([]byte, error) {
	sent := make(chan error, 1)
	go func() { sent <- sendAll(conn, out) }()
	in, err := recvN(conn, n)
	if err != nil {
		return nil, err
	}
	if err := <-sent; err != nil {
		return nil, err
	}
	return in, nil
}

func respond(challenge []byte, authkey Authkey) []byte {
	h := sha256.New()
	h.Write(challenge)
	h.Write(authkey[:])
	return h.Sum(nil)
}
