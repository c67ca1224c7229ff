// Command gompi-example-map-unordered streams a function's results back to
// root as soon as whichever rank picked up each index finishes, rather than
// waiting for every rank to complete.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/dlpmpi/gompi/pkg/dispatch"
	"github.com/dlpmpi/gompi/pkg/mpi"
)

const example = "hello"

func slowLookup(rank, exampleID int) string {
	time.Sleep(time.Duration(rand.Float64() * float64(time.Second)))
	fmt.Println(rank, exampleID, string(example[exampleID]))
	return string(example[exampleID])
}

func main() {
	c, err := mpi.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if c.IsRoot() {
		fmt.Println("### Unordered map scattered around processes:")
	}

	indices := make([]int, len(example))
	for i := range indices {
		indices[i] = i
	}

	stream, err := dispatch.MapUnordered(c, indices, func(exampleID int) (string, error) {
		return slowLookup(c.Rank(), exampleID), nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: map_unordered: %v\n", err)
		os.Exit(1)
	}

	if c.IsRoot() {
		var results []dispatch.Result[string]
		for r := range stream {
			if r.Err != nil {
				fmt.Fprintf(os.Stderr, "error: map_unordered: %v\n", r.Err)
				os.Exit(1)
			}
			results = append(results, r)
		}
		fmt.Println(results)
		fmt.Println("### Map function run only on root:")
		for i := range example {
			slowLookup(c.Rank(), i)
		}
	}
}
