//go:build unix

package bootstrap

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenReuse binds addr with SO_REUSEADDR set, closing the narrow race
// between hostAndFreePort releasing an ephemeral port and the fabric
// listener rebinding it -- without this, a concurrently started unrelated
// process can occasionally steal the port in that window.
func ListenReuse(network, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), network, addr)
}
