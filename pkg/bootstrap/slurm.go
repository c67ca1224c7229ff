package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// expandNodeList expands a Slurm hostlist expression such as
// "node[01-03,05]" into its individual hostnames. A plain hostname with no
// brackets is returned as a single-element slice.
func expandNodeList(nodeList string) []string {
	open := strings.IndexByte(nodeList, '[')
	if open < 0 {
		return []string{nodeList}
	}
	base := nodeList[:open]
	close := strings.LastIndexByte(nodeList, ']')
	if close < open {
		return []string{nodeList}
	}
	ranges := strings.Split(nodeList[open+1:close], ",")

	var nodes []string
	for _, part := range ranges {
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			start, end := part[:dash], part[dash+1:]
			width := len(start)
			startN, errA := strconv.Atoi(start)
			endN, errB := strconv.Atoi(end)
			if errA != nil || errB != nil {
				nodes = append(nodes, base+part)
				continue
			}
			for i := startN; i <= endN; i++ {
				nodes = append(nodes, fmt.Sprintf("%s%0*d", base, width, i))
			}
		} else {
			nodes = append(nodes, base+part)
		}
	}
	return nodes
}

// slurmInfo derives host, port, rank, size and authkey from a Slurm job
// step's environment. The authkey is deterministically derived from
// SLURM_JOB_START_TIME so that every task in the step computes the same key
// without any out-of-band exchange, unless AME_AUTHKEY overrides it.
func slurmInfo() (Info, error) {
	nodeList, ok := os.LookupEnv("SLURM_STEP_NODELIST")
	if !ok {
		return Info{}, fmt.Errorf("SLURM_STEP_NODELIST not set")
	}
	nodes := expandNodeList(nodeList)
	if len(nodes) == 0 {
		return Info{}, fmt.Errorf("SLURM_STEP_NODELIST %q expanded to no nodes", nodeList)
	}
	host := nodes[0]

	port, err := slurmPort()
	if err != nil {
		return Info{}, err
	}

	rank, err := requireEnvInt("SLURM_PROCID")
	if err != nil {
		return Info{}, err
	}
	size, err := requireEnvInt("SLURM_NTASKS")
	if err != nil {
		return Info{}, err
	}

	authkey, err := authkeyFromEnv(func() [AuthkeyLength]byte {
		startTime := os.Getenv("SLURM_JOB_START_TIME")
		return strToAuthkey(startTime + "gompi-slurm")
	})
	if err != nil {
		return Info{}, err
	}

	return Info{Method: "slurm", Host: host, Port: port, Rank: rank, Size: size, Authkey: authkey}, nil
}

// slurmPort resolves the rendezvous port in the priority order spec.md §4.A
// gives: the reserved port range Slurm carved out for this step, then the
// collision-prone job-id-derived default the original implementation uses,
// then the submit-node comm port if nothing else is available.
func slurmPort() (int, error) {
	if resvPorts, ok := os.LookupEnv("SLURM_STEP_RESV_PORTS"); ok {
		portStr := resvPorts
		if dash := strings.IndexByte(resvPorts, '-'); dash >= 0 {
			portStr = resvPorts[:dash]
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return 0, fmt.Errorf("parse SLURM_STEP_RESV_PORTS=%q: %w", resvPorts, err)
		}
		return port, nil
	}

	if jobID, ok := os.LookupEnv("SLURM_JOB_ID"); ok {
		id, err := strconv.Atoi(jobID)
		if err != nil {
			return 0, fmt.Errorf("parse SLURM_JOB_ID=%q: %w", jobID, err)
		}
		port := 60001 + id%3000
		log.Warn().Int("port", port).Msg("slurm: no SLURM_STEP_RESV_PORTS, deriving port from SLURM_JOB_ID; collides across concurrent jobs sharing the same (job_id mod 3000)")
		return port, nil
	}

	if commPort, ok := os.LookupEnv("SLURM_SRUN_COMM_PORT"); ok {
		port, err := strconv.Atoi(commPort)
		if err != nil {
			return 0, fmt.Errorf("parse SLURM_SRUN_COMM_PORT=%q: %w", commPort, err)
		}
		return port, nil
	}

	return 0, fmt.Errorf("none of SLURM_STEP_RESV_PORTS, SLURM_JOB_ID, SLURM_SRUN_COMM_PORT set")
}

func requireEnvInt(name string) (int, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, fmt.Errorf("%s not set", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", name, raw, err)
	}
	return v, nil
}
