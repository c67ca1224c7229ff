package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"os"
)

// hostAndFreePort returns this machine's hostname and a TCP port currently
// free for root to bind, the same way the reference implementation picks an
// ephemeral port before any peer knows about it: bind to port 0, read back
// what the kernel assigned, then close and immediately rebind in the fabric
// listener. The brief window between this close and the fabric's own Listen
// is why the listener additionally sets SO_REUSEADDR (see reuseport_unix.go).
func hostAndFreePort() (string, int, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", 0, fmt.Errorf("determine hostname: %w", err)
	}

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return "", 0, fmt.Errorf("find free port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return host, addr.Port, nil
}

// FreePort returns a TCP port currently free on this host, for callers (such
// as Comm.Clone) that already know which host to bind and only need a new
// port to pair with a fresh authkey.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address type %T", l.Addr())
	}
	return addr.Port, nil
}

// RandomAuthkey generates a cryptographically random authkey, exported for
// callers (such as Comm.Clone) that mint a new fabric's authkey themselves
// instead of going through Resolve.
func RandomAuthkey() ([AuthkeyLength]byte, error) {
	return randomAuthkey()
}

// randomAuthkey generates a cryptographically random authkey, used whenever
// root can hand the key directly to its peers (e.g. over the PMI KVS or an
// OpenMPI rendezvous file) rather than needing every rank to derive it
// independently.
func randomAuthkey() ([AuthkeyLength]byte, error) {
	var authkey [AuthkeyLength]byte
	if _, err := rand.Read(authkey[:]); err != nil {
		return authkey, fmt.Errorf("generate authkey: %w", err)
	}
	return authkey, nil
}

// decodeAuthkeyB64 decodes a base64-encoded AME_AUTHKEY value into a fixed
// AuthkeyLength-byte key, the Go analogue of the original's
// authkey_encode(): the wire format for AME_AUTHKEY is always base64 of
// exactly AuthkeyLength raw bytes, never a raw passphrase.
func decodeAuthkeyB64(raw string) ([AuthkeyLength]byte, error) {
	var authkey [AuthkeyLength]byte
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return authkey, fmt.Errorf("decode AME_AUTHKEY: %w", err)
	}
	if len(decoded) != AuthkeyLength {
		return authkey, fmt.Errorf("AME_AUTHKEY decodes to %d bytes, want %d", len(decoded), AuthkeyLength)
	}
	copy(authkey[:], decoded)
	return authkey, nil
}

// authkeyFromEnv resolves the authkey for launchers that accept an
// AME_AUTHKEY override ahead of their own deterministic derivation: AME,
// and Slurm's fallback path.
func authkeyFromEnv(fallback func() [AuthkeyLength]byte) ([AuthkeyLength]byte, error) {
	if raw, ok := os.LookupEnv("AME_AUTHKEY"); ok {
		return decodeAuthkeyB64(raw)
	}
	return fallback(), nil
}
