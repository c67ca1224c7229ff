package bootstrap

import "testing"

func TestCheckThreadPinningIgnoredForSizeOne(t *testing.T) {
	if err := checkThreadPinning(1); err != nil {
		t.Fatalf("size 1 should never require thread pinning: %v", err)
	}
}

func TestCheckThreadPinningRequiresBothVars(t *testing.T) {
	t.Setenv("OMP_NUM_THREADS", "1")
	t.Setenv("MKL_NUM_THREADS", "4")
	if err := checkThreadPinning(2); err == nil {
		t.Fatal("expected error when MKL_NUM_THREADS != 1")
	}

	t.Setenv("OMP_NUM_THREADS", "")
	t.Setenv("MKL_NUM_THREADS", "1")
	if err := checkThreadPinning(2); err == nil {
		t.Fatal("expected error when OMP_NUM_THREADS != 1")
	}
}

func TestCheckThreadPinningPassesWhenPinned(t *testing.T) {
	t.Setenv("OMP_NUM_THREADS", "1")
	t.Setenv("MKL_NUM_THREADS", "1")
	if err := checkThreadPinning(4); err != nil {
		t.Fatalf("checkThreadPinning: %v", err)
	}
}

func TestSoloInfoIsDeterministic(t *testing.T) {
	a := soloInfo()
	b := soloInfo()
	if a.Authkey != b.Authkey {
		t.Fatal("soloInfo's authkey should be derived deterministically")
	}
	if a.Size != 1 || a.Rank != 0 {
		t.Fatalf("soloInfo = %+v, want size=1 rank=0", a)
	}
}

func TestResolvePriorityOrder(t *testing.T) {
	allVars := []string{
		"AME_RANK", "AME_SIZE", "AME_HOST", "AME_PORT", "AME_AUTHKEY",
		"PMI_RANK", "PMI_SIZE", "PMI_FD",
		"OMPI_COMM_WORLD_RANK", "OMPI_COMM_WORLD_SIZE",
		"SLURM_SRUN_COMM_HOST", "SLURM_STEP_NODELIST",
	}
	clear := func() {
		for _, v := range allVars {
			t.Setenv(v, "")
		}
	}

	// AME wins over every other family, including when their vars are also set.
	clear()
	t.Setenv("AME_RANK", "0")
	t.Setenv("PMI_RANK", "0")
	t.Setenv("OMPI_COMM_WORLD_RANK", "0")
	t.Setenv("SLURM_STEP_NODELIST", "node01")
	if method, _, _ := resolve(); method != "ame" {
		t.Fatalf("method = %q, want ame (AME must take priority over PMI/OMPI/Slurm)", method)
	}

	// With AME absent, PMI wins over OMPI and Slurm.
	clear()
	t.Setenv("PMI_RANK", "0")
	t.Setenv("OMPI_COMM_WORLD_RANK", "0")
	t.Setenv("SLURM_STEP_NODELIST", "node01")
	if method, _, _ := resolve(); method != "pmi" {
		t.Fatalf("method = %q, want pmi (PMI must take priority over OMPI/Slurm)", method)
	}

	// With AME and PMI absent, OpenMPI wins over Slurm.
	clear()
	t.Setenv("OMPI_COMM_WORLD_RANK", "0")
	t.Setenv("SLURM_STEP_NODELIST", "node01")
	if method, _, _ := resolve(); method != "ompi" {
		t.Fatalf("method = %q, want ompi (OpenMPI must take priority over Slurm)", method)
	}

	// With nothing else set, Slurm is checked before falling back to solo.
	clear()
	t.Setenv("SLURM_STEP_NODELIST", "node01")
	if method, _, _ := resolve(); method != "slurm" {
		t.Fatalf("method = %q, want slurm", method)
	}
}

func TestResolveFallsBackToSoloWithNoLauncherEnv(t *testing.T) {
	for _, v := range []string{
		"SLURM_SRUN_COMM_HOST", "SLURM_STEP_NODELIST",
		"PMI_RANK", "OMPI_COMM_WORLD_RANK", "AME_RANK",
	} {
		t.Setenv(v, "")
	}
	info, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if info.Method != "solo" {
		t.Fatalf("method = %q, want solo", info.Method)
	}
}
