// Command gompi-example-gather has every rank contribute one string, and
// collects them all at root in rank order.
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

	var data string
	switch c.Rank() {
	case 0:
		data = "hello"
	case 1:
		data = "world"
	default:
		data = "!"
	}

	gathered, err := mpi.Gather(c, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: gather: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("rank=%d, size=%d, data=%v\n", c.Rank(), c.Size(), gathered)
}
