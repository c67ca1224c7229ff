//go:build !unix

package bootstrap

import (
	"context"
	"net"
)

// ListenReuse is a plain Listen on platforms without SO_REUSEADDR semantics
// matching UNIX's.
func ListenReuse(network, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), network, addr)
}
