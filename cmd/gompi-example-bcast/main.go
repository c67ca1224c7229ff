// Command gompi-example-bcast broadcasts a value built only on root to every
// other rank.
package main

import (
	"fmt"
	"os"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

type payload struct {
	Key1 []float64
	Key2 []string
}

func main() {
	c, err := mpi.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	var data payload
	if c.IsRoot() {
		data = payload{
			Key1: []float64{7, 2.72},
			Key2: []string{"abc", "xyz"},
		}
	}

	data, err = mpi.Bcast(c, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: bcast: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("rank=%d, size=%d, data=%+v\n", c.Rank(), c.Size(), data)
}
