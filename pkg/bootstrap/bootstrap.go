// Package bootstrap resolves how this process learns its rank, the size of
// its world, and how to reach rank 0, across the handful of launchers this
// runtime is expected to run under. Exactly one of the method-specific
// resolvers in this package runs per process, selected by which environment
// variables are present.
package bootstrap

import (
	"crypto/sha512"
	"fmt"
	"os"
)

// AuthkeyLength is the length, in bytes, of the shared secret used for the
// fabric's challenge-response handshake.
const AuthkeyLength = 64

// Info is everything a process needs to join the fabric: its place in the
// world and how to find root.
type Info struct {
	Method  string
	Host    string
	Port    int
	Rank    int
	Size    int
	Authkey [AuthkeyLength]byte
}

// Error wraps a failure in a specific bootstrap method with the method's
// name, so a launcher misconfiguration ("SLURM_STEP_RESV_PORTS unset") is
// immediately attributable to the launcher family that produced it.
type Error struct {
	Method string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("bootstrap(%s): %v", e.Method, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Resolve inspects the environment and returns the Info for whichever
// launcher family started this process, trying each known method in order
// and falling back to a size-1 world when none apply. This mirrors
// get_init.get()'s elif chain: the custom AME launcher, then PMI, then
// OpenMPI, then SLURM, then a single-process fallback.
func Resolve() (Info, error) {
	method, info, err := resolve()
	if err != nil {
		return Info{}, &Error{Method: method, Err: err}
	}
	if err := checkThreadPinning(info.Size); err != nil {
		return Info{}, &Error{Method: method, Err: err}
	}
	return info, nil
}

func resolve() (string, Info, error) {
	switch {
	case os.Getenv("AME_RANK") != "":
		info, err := ameInfo()
		return "ame", info, err

	case os.Getenv("PMI_RANK") != "":
		info, err := pmiInfo()
		return "pmi", info, err

	case os.Getenv("OMPI_COMM_WORLD_RANK") != "":
		info, err := ompiInfo()
		return "ompi", info, err

	case os.Getenv("SLURM_SRUN_COMM_HOST") != "" || os.Getenv("SLURM_STEP_NODELIST") != "":
		info, err := slurmInfo()
		return "slurm", info, err

	default:
		return "solo", soloInfo(), nil
	}
}

// checkThreadPinning enforces the sanity requirement spec.md §6 places on
// any multi-process world: numeric libraries that default to spawning one
// thread per core will oversubscribe the machine once size-many processes
// run on it, so every rank must pin itself to a single thread before
// joining the fabric.
func checkThreadPinning(size int) error {
	if size <= 1 {
		return nil
	}
	for _, name := range []string{"OMP_NUM_THREADS", "MKL_NUM_THREADS"} {
		if v := os.Getenv(name); v != "1" {
			return fmt.Errorf("%s must be set to 1 when running with size > 1 (got %q)", name, v)
		}
	}
	return nil
}

// soloInfo is the size-1 fallback used when no launcher's environment
// variables are present: a single process is its own entire world.
func soloInfo() Info {
	return Info{
		Method:  "solo",
		Host:    "localhost",
		Port:    -1,
		Rank:    0,
		Size:    1,
		Authkey: strToAuthkey("localhost:-1"),
	}
}

// strToAuthkey derives a deterministic authkey from a seed string by SHA-512
// hashing it, used whenever a launcher has no channel for root to hand a
// random authkey to its peers out of band (e.g. Slurm, where every rank can
// independently derive the same key from a shared job fact).
func strToAuthkey(seed string) [AuthkeyLength]byte {
	return sha512.Sum512([]byte(seed))
}
