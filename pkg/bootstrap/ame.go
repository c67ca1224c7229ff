package bootstrap

import (
	"fmt"
	"os"
	"strconv"
)

// ameInfo reads the custom AME_* launcher environment variables written by
// cmd/gompi-run. AME_AUTHKEY, when present, is base64 of exactly
// AuthkeyLength raw bytes (see authkeyFromEnv); otherwise the key is derived
// deterministically from the host and port so a launcher that predates
// AME_AUTHKEY still produces a shared secret every rank can compute alike.
func ameInfo() (Info, error) {
	host := os.Getenv("AME_HOST")
	if host == "" {
		host = "127.0.0.1"
	}

	port, err := envInt("AME_PORT", 12345)
	if err != nil {
		return Info{}, err
	}
	rank, err := envInt("AME_RANK", 0)
	if err != nil {
		return Info{}, err
	}
	size, err := envInt("AME_SIZE", 1)
	if err != nil {
		return Info{}, err
	}

	authkey, err := authkeyFromEnv(func() [AuthkeyLength]byte {
		return strToAuthkey(fmt.Sprintf("%s:%d", host, port))
	})
	if err != nil {
		return Info{}, err
	}

	return Info{Method: "ame", Host: host, Port: port, Rank: rank, Size: size, Authkey: authkey}, nil
}

func envInt(name string, def int) (int, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", name, raw, err)
	}
	return v, nil
}
