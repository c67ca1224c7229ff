package mpi

import "github.com/dlpmpi/gompi/pkg/bootstrap"

// bootstrapInfo is the subset of bootstrap.Info the communicator needs to
// establish its fabric, with the authkey reshaped into this package's own
// Authkey type so pkg/bootstrap never has to import pkg/mpi.
type bootstrapInfo struct {
	Host    string
	Port    int
	Rank    int
	Size    int
	Authkey Authkey
}

// resolveBootstrap resolves the launcher environment and adapts the result
// into this package's own types.
func resolveBootstrap() (bootstrapInfo, error) {
	info, err := bootstrap.Resolve()
	if err != nil {
		return bootstrapInfo{}, err
	}
	var authkey Authkey
	copy(authkey[:], info.Authkey[:])
	return bootstrapInfo{
		Host:    info.Host,
		Port:    info.Port,
		Rank:    info.Rank,
		Size:    info.Size,
		Authkey: authkey,
	}, nil
}
