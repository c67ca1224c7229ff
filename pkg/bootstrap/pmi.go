package bootstrap

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// pmiKVSName is the only keyspace this client ever uses; MPICH's PMI-1
// protocol supports multiple named KVSes but nothing here needs more than
// one.
const pmiKVSName = "mykvs"

var pmiRCPattern = regexp.MustCompile(`rc=(-?\d+)`)

// pmiClient speaks the MPICH PMI-1 line protocol over a UNIX socket inherited
// from the process manager via the PMI_FD environment variable.
type pmiClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPMIClient() (*pmiClient, error) {
	conn, err := adoptPMIFD()
	if err != nil {
		return nil, err
	}
	return &pmiClient{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *pmiClient) Close() error { return c.conn.Close() }

// exec sends one PMI command line and returns the raw response, validating
// its rc= field unless checkRC is false (used for the barrier commands,
// whose success response carries no rc=).
func (c *pmiClient) exec(msg string, checkRC bool) (string, error) {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		return "", fmt.Errorf("pmi: write: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("pmi: read response: %w", err)
	}
	if checkRC {
		m := pmiRCPattern.FindStringSubmatch(line)
		if m == nil {
			return "", fmt.Errorf("pmi: response has no rc= field: %q", line)
		}
		rc, _ := strconv.Atoi(m[1])
		if rc != 0 {
			return "", fmt.Errorf("pmi: command %q failed with rc=%d: %q", strings.TrimSpace(msg), rc, line)
		}
	}
	return line, nil
}

func (c *pmiClient) init() error {
	_, err := c.exec("cmd=init pmi_version=1 pmi_subversion=1", true)
	return err
}

func (c *pmiClient) put(key, value string) error {
	_, err := c.exec(fmt.Sprintf("cmd=put kvsname=%s key=%s value=%s", pmiKVSName, key, value), true)
	return err
}

func (c *pmiClient) get(key string) (string, error) {
	line, err := c.exec(fmt.Sprintf("cmd=get kvsname=%s key=%s", pmiKVSName, key), true)
	if err != nil {
		return "", err
	}
	idx := strings.Index(line, "value=")
	if idx < 0 {
		return "", fmt.Errorf("pmi: get response has no value= field: %q", line)
	}
	return strings.TrimSpace(line[idx+len("value="):]), nil
}

func (c *pmiClient) barrier() error {
	_, err := c.exec("cmd=barrier_in", false)
	return err
}

// pmiInfo bootstraps over an MPICH/Hydra-style PMI KVS: root picks a host
// and port, random authkey, publishes both through the KVS, and every rank
// -- including root -- passes through two barriers so that by the time any
// rank reads the KVS, the write has definitely landed.
func pmiInfo() (Info, error) {
	rank, err := requireEnvInt("PMI_RANK")
	if err != nil {
		return Info{}, err
	}
	size, err := requireEnvInt("PMI_SIZE")
	if err != nil {
		return Info{}, err
	}

	pmi, err := newPMIClient()
	if err != nil {
		return Info{}, err
	}
	defer pmi.Close()

	if rank == 0 {
		host, port, err := hostAndFreePort()
		if err != nil {
			return Info{}, err
		}
		authkey, err := randomAuthkey()
		if err != nil {
			return Info{}, err
		}

		if err := pmi.init(); err != nil {
			return Info{}, err
		}
		if err := pmi.put("mykey", fmt.Sprintf("%s:%d", host, port)); err != nil {
			return Info{}, err
		}
		if err := pmi.put("authkey", base64.StdEncoding.EncodeToString(authkey[:])); err != nil {
			return Info{}, err
		}
		if err := pmi.barrier(); err != nil {
			return Info{}, err
		}
		if err := pmi.barrier(); err != nil {
			return Info{}, err
		}
		return Info{Method: "pmi", Host: host, Port: port, Rank: rank, Size: size, Authkey: authkey}, nil
	}

	if err := pmi.barrier(); err != nil {
		return Info{}, err
	}
	hostPort, err := pmi.get("mykey")
	if err != nil {
		return Info{}, err
	}
	authkeyB64, err := pmi.get("authkey")
	if err != nil {
		return Info{}, err
	}
	if err := pmi.barrier(); err != nil {
		return Info{}, err
	}

	colon := strings.LastIndex(hostPort, ":")
	if colon < 0 {
		return Info{}, fmt.Errorf("pmi: malformed mykey value %q", hostPort)
	}
	host := hostPort[:colon]
	port, err := strconv.Atoi(hostPort[colon+1:])
	if err != nil {
		return Info{}, fmt.Errorf("pmi: parse port: %w", err)
	}
	authkeyBytes, err := base64.StdEncoding.DecodeString(authkeyB64)
	if err != nil || len(authkeyBytes) != AuthkeyLength {
		return Info{}, fmt.Errorf("pmi: malformed authkey value")
	}
	var authkey [AuthkeyLength]byte
	copy(authkey[:], authkeyBytes)

	return Info{Method: "pmi", Host: host, Port: port, Rank: rank, Size: size, Authkey: authkey}, nil
}
