//go:build unix

package bootstrap

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// adoptPMIFD wraps the UNIX domain socket the process manager passed us
// through the PMI_FD environment variable into a net.Conn, the Go analogue
// of socket.fromfd(pmi_fd, AF_UNIX, SOCK_STREAM).
func adoptPMIFD() (net.Conn, error) {
	fd, err := requireEnvInt("PMI_FD")
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("pmi: set PMI_FD nonblocking: %w", err)
	}
	f := os.NewFile(uintptr(fd), "pmi-fd")
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("pmi: adopt PMI_FD: %w", err)
	}
	f.Close()
	return conn, nil
}
