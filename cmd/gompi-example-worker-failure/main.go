// Command gompi-example-worker-failure demonstrates what happens when a
// worker's processing function fails partway through a ManagedSplit run:
// the failing rank returns the error directly, and root's error is
// *dispatch.ErrIteratorNotConsumed describing every reported failure.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dlpmpi/gompi/pkg/dispatch"
	"github.com/dlpmpi/gompi/pkg/mpi"
)

func main() {
	c, err := mpi.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	seq := []int{0, 1, 2, 3, 4}
	err = dispatch.ManagedSplit(c, seq, func(index int, item int) error {
		if item == 3 {
			return fmt.Errorf("item %d is poisoned", item)
		}
		fmt.Printf("rank=%d processed index=%d item=%d\n", c.Rank(), index, item)
		return nil
	})

	var notConsumed *dispatch.ErrIteratorNotConsumed
	switch {
	case err == nil:
		if c.IsRoot() {
			fmt.Println("all indices processed cleanly")
		}
	case errors.As(err, &notConsumed):
		fmt.Printf("rank=%d: root observed incomplete work: %v\n", c.Rank(), notConsumed)
	default:
		fmt.Printf("rank=%d: processing failed: %v\n", c.Rank(), err)
	}
}
