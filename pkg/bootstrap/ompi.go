package bootstrap

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ompiRendezvousFile is the name root writes (atomically, via rename) and
// every other rank polls for, inside OMPI_MCA_orte_top_session_dir.
const ompiRendezvousFile = "gompi_host_and_port.txt"

// ompiPollInterval and ompiPollLimit bound how long a non-root rank waits
// for root to publish the rendezvous file, matching the original
// implementation's 6-minute ceiling.
const ompiPollInterval = 100 * time.Millisecond
const ompiPollLimit = 3600

// ompiInfo rendezvous through a shared filesystem location visible to every
// rank in the OpenMPI job: root writes "host:port\nauthkey" to a temp file
// and renames it into place (an atomic operation on POSIX filesystems), and
// every other rank polls for that file to appear.
func ompiInfo() (Info, error) {
	rank, err := requireEnvInt("OMPI_COMM_WORLD_RANK")
	if err != nil {
		return Info{}, err
	}
	size, err := requireEnvInt("OMPI_COMM_WORLD_SIZE")
	if err != nil {
		return Info{}, err
	}

	dir, ok := os.LookupEnv("OMPI_MCA_orte_top_session_dir")
	if !ok {
		return Info{}, fmt.Errorf("OMPI_MCA_orte_top_session_dir not set")
	}
	file := filepath.Join(dir, ompiRendezvousFile)
	tmpFile := file + "_"

	if rank == 0 {
		host, port, err := hostAndFreePort()
		if err != nil {
			return Info{}, err
		}
		authkey, err := randomAuthkey()
		if err != nil {
			return Info{}, err
		}

		var buf bytes.Buffer
		fmt.Fprintf(&buf, "%s:%d\n", host, port)
		buf.Write(authkey[:])
		if err := os.WriteFile(tmpFile, buf.Bytes(), 0o600); err != nil {
			return Info{}, fmt.Errorf("write rendezvous temp file: %w", err)
		}
		if err := os.Rename(tmpFile, file); err != nil {
			return Info{}, fmt.Errorf("publish rendezvous file: %w", err)
		}
		return Info{Method: "ompi", Host: host, Port: port, Rank: rank, Size: size, Authkey: authkey}, nil
	}

	for attempt := 0; ; attempt++ {
		raw, err := os.ReadFile(file)
		if err == nil {
			return parseOmpiRendezvous(raw, rank, size)
		}
		if !os.IsNotExist(err) {
			return Info{}, fmt.Errorf("read rendezvous file: %w", err)
		}
		if attempt >= ompiPollLimit {
			return Info{}, fmt.Errorf("rendezvous file %s not found after %d tries", file, attempt)
		}
		time.Sleep(ompiPollInterval)
	}
}

func parseOmpiRendezvous(raw []byte, rank, size int) (Info, error) {
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return Info{}, fmt.Errorf("malformed rendezvous file: no newline")
	}
	hostPort := string(raw[:nl])
	authkeyBytes := raw[nl+1:]
	if len(authkeyBytes) != AuthkeyLength {
		return Info{}, fmt.Errorf("malformed rendezvous file: authkey length %d, want %d", len(authkeyBytes), AuthkeyLength)
	}

	colon := bytes.LastIndexByte([]byte(hostPort), ':')
	if colon < 0 {
		return Info{}, fmt.Errorf("malformed rendezvous host:port %q", hostPort)
	}
	host := hostPort[:colon]
	port, err := strconv.Atoi(hostPort[colon+1:])
	if err != nil {
		return Info{}, fmt.Errorf("parse rendezvous port: %w", err)
	}

	var authkey [AuthkeyLength]byte
	copy(authkey[:], authkeyBytes)
	return Info{Method: "ompi", Host: host, Port: port, Rank: rank, Size: size, Authkey: authkey}, nil
}
