//go:build !unix

package bootstrap

import (
	"fmt"
	"net"
)

// adoptPMIFD has no meaningful implementation outside UNIX: there is no
// portable way to adopt a foreign file descriptor as a socket, and PMI's
// fd-passing handoff is itself a UNIX-specific process manager convention.
func adoptPMIFD() (net.Conn, error) {
	return nil, fmt.Errorf("pmi: PMI_FD adoption is not supported on this platform")
}
