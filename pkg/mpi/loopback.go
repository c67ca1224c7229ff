package mpi

import (
	"fmt"
	"sync"

	"github.com/dlpmpi/gompi/pkg/bootstrap"
	"github.com/rs/zerolog"
)

// LoopbackWorld builds size communicators wired to each other over real
// loopback TCP sockets, entirely in-process, bypassing the usual
// environment-variable bootstrap resolution that Init performs. It exists so
// this package's own tests, and packages built on top of Comm such as
// dispatch, can exercise collectives and higher-level protocols against a
// real multi-rank fabric without spawning separate processes.
//
// The returned slice has exactly one *Comm per rank, in rank order. The
// returned close func tears every communicator down and must be called once
// the caller is done with the world.
func LoopbackWorld(size int) ([]*Comm, func(), error) {
	if size < 1 {
		return nil, nil, fmt.Errorf("mpi: loopback world size must be >= 1")
	}
	log := zerolog.Nop()

	if size == 1 {
		c := &Comm{rank: 0, size: 1, codec: GobCodec, log: log}
		return []*Comm{c}, func() {}, nil
	}

	host := "127.0.0.1"
	port, err := bootstrap.FreePort()
	if err != nil {
		return nil, nil, fmt.Errorf("mpi: loopback world: pick port: %w", err)
	}
	authkey, err := bootstrap.RandomAuthkey()
	if err != nil {
		return nil, nil, fmt.Errorf("mpi: loopback world: generate authkey: %w", err)
	}

	comms := make([]*Comm, size)
	errs := make([]error, size)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fabric, ln, err := listenAndAccept(host, port, size, authkey, log)
		if err != nil {
			errs[0] = fmt.Errorf("mpi: loopback world: root: %w", err)
			return
		}
		comms[0] = &Comm{rank: 0, size: size, host: host, port: port, codec: GobCodec, log: log, fabric: fabric, ln: ln}
	}()

	for r := 1; r < size; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := dialRoot(host, port, r, size, authkey, log)
			if err != nil {
				errs[r] = fmt.Errorf("mpi: loopback world: rank %d: %w", r, err)
				return
			}
			comms[r] = &Comm{rank: r, size: size, host: host, port: port, codec: GobCodec, log: log, conn: conn}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			for _, c := range comms {
				if c != nil {
					c.Close()
				}
			}
			return nil, nil, err
		}
	}

	closeFn := func() {
		for _, c := range comms {
			c.Close()
		}
	}
	return comms, closeFn, nil
}
