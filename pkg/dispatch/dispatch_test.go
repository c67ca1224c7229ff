package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

// soloComm returns a size-1 world communicator by relying on mpi.Init's
// fallback when no launcher environment variables are set: every collective
// and scheduler in this package takes a local, communication-free path in
// that case, which is exactly what these tests exercise.
func soloComm(t *testing.T) *mpi.Comm {
	t.Helper()
	for _, v := range []string{
		"SLURM_SRUN_COMM_HOST", "SLURM_STEP_NODELIST",
		"PMI_RANK", "OMPI_COMM_WORLD_RANK", "AME_RANK",
	} {
		t.Setenv(v, "")
	}
	c, err := mpi.Init()
	if err != nil {
		t.Fatalf("mpi.Init: %v", err)
	}
	return c
}

func TestRoundRobinIndices(t *testing.T) {
	c := soloComm(t)
	got := RoundRobinIndices(c, 5)
	want := []int{0, 1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRoundRobinSoloReturnsWholeSequence(t *testing.T) {
	c := soloComm(t)
	seq := []string{"a", "b"}
	got := RoundRobin(c, seq)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
}

func TestManagedSplitLocalPath(t *testing.T) {
	c := soloComm(t)
	seq := []int{1, 2, 3}
	var seen []int
	err := ManagedSplit(c, seq, func(index int, item int) error {
		seen = append(seen, item)
		return nil
	})
	if err != nil {
		t.Fatalf("ManagedSplit: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("seen = %v, want 3 items processed", seen)
	}
}

func TestManagedSplitLocalPathPropagatesError(t *testing.T) {
	c := soloComm(t)
	wantErr := errors.New("boom")
	err := ManagedSplit(c, []int{1}, func(index int, item int) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestMapUnorderedLocalPath(t *testing.T) {
	c := soloComm(t)
	seq := []int{1, 2, 3}
	stream, err := MapUnordered(c, seq, func(item int) (int, error) {
		return item * 10, nil
	})
	if err != nil {
		t.Fatalf("MapUnordered: %v", err)
	}
	var results []Result[int]
	for r := range stream {
		if r.Err != nil {
			t.Fatalf("unexpected trailing error on channel: %v", r.Err)
		}
		results = append(results, r)
	}
	if len(results) != 3 {
		t.Fatalf("results = %v, want 3 entries", results)
	}
	for _, r := range results {
		if r.Value != seq[r.Index]*10 {
			t.Fatalf("result %+v does not match seq[%d]*10", r, r.Index)
		}
	}
}

func TestErrIteratorNotConsumedMessageIncludesFailures(t *testing.T) {
	e := &ErrIteratorNotConsumed{
		Issued: 3,
		Length: 5,
		Failed: []FailedIndex{{Rank: 1, Index: 2}},
	}
	msg := e.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	if !strings.Contains(msg, "[{1 2}]") {
		t.Fatalf("message %q does not list the failure {Rank:1 Index:2}", msg)
	}
}
