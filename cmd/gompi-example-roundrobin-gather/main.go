// Command gompi-example-roundrobin-gather splits a fixed workload across
// ranks round-robin, processes each rank's share locally, and gathers every
// rank's partial results back at root.
package main

import (
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

	workload := []int{10, 11, 12, 13}

	var result []int
	for _, item := range dispatch.RoundRobin(c, workload) {
		fmt.Printf("rank=%d, size=%d, data=%d\n", c.Rank(), c.Size(), item)
		result = append(result, 2*item)
	}

	total, err := mpi.Gather(c, result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: gather: %v\n", err)
		os.Exit(1)
	}

	if c.IsRoot() {
		fmt.Println("job splits:", total)
		var flat []int
		for _, part := range total {
			flat = append(flat, part...)
		}
		fmt.Println("flat result:", flat)
	}
}
