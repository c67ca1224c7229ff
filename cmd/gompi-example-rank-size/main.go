// Command gompi-example-rank-size is the simplest possible gompi program:
// every rank prints its own rank and the world size and exits.
//
//	go run ./cmd/gompi-example-rank-size
//	gompi-run -n 3 -- ./gompi-example-rank-size
package main

import (
	"fmt"
	"os"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

func main() {
	c, err := mpi.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("rank=%d, size=%d\n", c.Rank(), c.Size())
}
