package bootstrap

import (
	"reflect"
	"testing"
)

func TestExpandNodeListPlainHostname(t *testing.T) {
	got := expandNodeList("node07")
	want := []string{"node07"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandNodeListRangeAndDiscreteMix(t *testing.T) {
	got := expandNodeList("node[01-03,05]")
	want := []string{"node01", "node02", "node03", "node05"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandNodeListPreservesZeroPadding(t *testing.T) {
	got := expandNodeList("cn[008-010]")
	want := []string{"cn008", "cn009", "cn010"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSlurmPortPrefersReservedPorts(t *testing.T) {
	t.Setenv("SLURM_STEP_RESV_PORTS", "40000-40005")
	t.Setenv("SLURM_JOB_ID", "999")
	t.Setenv("SLURM_SRUN_COMM_PORT", "50000")

	port, err := slurmPort()
	if err != nil {
		t.Fatalf("slurmPort: %v", err)
	}
	if port != 40000 {
		t.Fatalf("port = %d, want 40000", port)
	}
}

func TestSlurmPortFallsBackToJobIDDerivedPort(t *testing.T) {
	t.Setenv("SLURM_JOB_ID", "3007")
	t.Setenv("SLURM_SRUN_COMM_PORT", "50000")

	port, err := slurmPort()
	if err != nil {
		t.Fatalf("slurmPort: %v", err)
	}
	if want := 60001 + 3007%3000; port != want {
		t.Fatalf("port = %d, want %d", port, want)
	}
}

func TestSlurmPortFallsBackToCommPort(t *testing.T) {
	t.Setenv("SLURM_SRUN_COMM_PORT", "50042")

	port, err := slurmPort()
	if err != nil {
		t.Fatalf("slurmPort: %v", err)
	}
	if port != 50042 {
		t.Fatalf("port = %d, want 50042", port)
	}
}

func TestSlurmPortErrorsWithNothingSet(t *testing.T) {
	if _, err := slurmPort(); err == nil {
		t.Fatal("expected error when no port-related env var is set")
	}
}
