package collection

import (
	"reflect"
	"testing"

	"github.com/dlpmpi/gompi/pkg/mpi"
)

func TestMapWriteOverwriteRejected(t *testing.T) {
	m := New[int]()
	if err := m.Write([]string{"a", "b"}, 3); err != nil {
		t.Fatalf("first write: %v", err)
	}
	err := m.Write([]string{"a", "b"}, 4)
	var overwrite *ErrOverwrite
	if err == nil {
		t.Fatal("expected ErrOverwrite, got nil")
	}
	if !asErrOverwrite(err, &overwrite) {
		t.Fatalf("expected *ErrOverwrite, got %T: %v", err, err)
	}
	if got := overwrite.Key; !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("overwrite key = %v, want [a b]", got)
	}
}

func TestDeflatten(t *testing.T) {
	entries := []Entry[int]{
		{Key: []string{"a", "b"}, Value: 3},
		{Key: []string{"a", "c"}, Value: 4},
		{Key: []string{"x"}, Value: 9},
	}
	tree := deflatten(entries)

	a, ok := tree["a"].(map[string]any)
	if !ok {
		t.Fatalf("tree[a] is %T, want map[string]any", tree["a"])
	}
	if a["b"] != 3 || a["c"] != 4 {
		t.Errorf("tree[a] = %v, want {b:3 c:4}", a)
	}
	if tree["x"] != 9 {
		t.Errorf("tree[x] = %v, want 9", tree["x"])
	}
}

func TestGatherOnSoloCommMergesLocalWrites(t *testing.T) {
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

	m := New[int]()
	if err := m.Write([]string{"a", "b"}, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Write([]string{"a", "c"}, 2); err != nil {
		t.Fatalf("write: %v", err)
	}

	tree, err := Gather(c, m)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	a, ok := tree["a"].(map[string]any)
	if !ok {
		t.Fatalf("tree[a] is %T, want map[string]any", tree["a"])
	}
	if a["b"] != 1 || a["c"] != 2 {
		t.Fatalf("tree[a] = %v, want {b:1 c:2}", a)
	}
}

func asErrOverwrite(err error, target **ErrOverwrite) bool {
	if e, ok := err.(*ErrOverwrite); ok {
		*target = e
		return true
	}
	return false
}
