// Command gompi-run launches N cooperating processes over the custom AME
// bootstrap protocol: it picks a free port and a random authkey, sets
// AME_HOST/AME_PORT/AME_RANK/AME_SIZE/AME_AUTHKEY in each child's
// environment, and waits for all of them to exit.
package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dlpmpi/gompi/pkg/bootstrap"
	"github.com/dlpmpi/gompi/pkg/runlog"
	"github.com/hashicorp/go-envparse"
	"github.com/rs/xid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var opt struct {
	Workers int
	Pty     int
	Debug   bool
	Job     string
	EnvFile string
	RunDB   string
	Help    bool
}

func init() {
	pflag.IntVarP(&opt.Workers, "np", "n", 0, "Number of worker processes to launch")
	pflag.IntVar(&opt.Pty, "pty", -1, "Show only this rank's stdout/stderr directly (default: show all, prefixed)")
	pflag.BoolVar(&opt.Debug, "debug", false, "Set DLP_MPI_DEBUG=1 in every child's environment")
	pflag.StringVar(&opt.Job, "job", "", "YAML job manifest supplying workers/command/env/pty")
	pflag.StringVar(&opt.EnvFile, "env-file", "", "Additional environment assignments to merge into every child's environment")
	pflag.StringVar(&opt.RunDB, "run-db", "gompi-run.db", "sqlite3 database to record this launch's history in (empty to disable)")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

// jobManifest is the optional --job FILE shape; any field a flag also sets
// is overridden by the flag.
type jobManifest struct {
	Workers int               `yaml:"workers"`
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Pty     int               `yaml:"pty"`
}

func main() {
	pflag.Parse()

	if opt.Help {
		fmt.Printf("usage: %s -n N [options] -- <workload...>\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	var manifest jobManifest
	if opt.Job != "" {
		m, err := readJob(opt.Job)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read job manifest: %v\n", err)
			os.Exit(1)
		}
		manifest = m
	}

	workers := opt.Workers
	if workers == 0 {
		workers = manifest.Workers
	}
	if workers <= 0 {
		fmt.Fprintln(os.Stderr, "error: -n/--np must be a positive worker count")
		os.Exit(2)
	}

	command := pflag.Args()
	if len(command) == 0 {
		command = manifest.Command
	}
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "error: no workload command given (pass it after --, or via --job)")
		os.Exit(2)
	}

	pty := opt.Pty
	if !pflag.CommandLine.Changed("pty") && manifest.Pty != 0 {
		pty = manifest.Pty
	}

	extraEnv := manifest.Env
	if opt.EnvFile != "" {
		fileEnv, err := readEnvFile(opt.EnvFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		if extraEnv == nil {
			extraEnv = map[string]string{}
		}
		for k, v := range fileEnv {
			extraEnv[k] = v
		}
	}

	code, err := run(workers, command, pty, extraEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func readJob(path string) (jobManifest, error) {
	var m jobManifest
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func readEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return envparse.Parse(f)
}

// run spawns the N worker processes, waits for them, records the launch to
// the run log if enabled, and returns the exit code to propagate: the first
// non-zero exit code seen across ranks, or 0 if all exited cleanly.
func run(workers int, command []string, pty int, extraEnv map[string]string) (int, error) {
	port, err := bootstrap.FreePort()
	if err != nil {
		return 0, fmt.Errorf("pick free port: %w", err)
	}
	authkey, err := bootstrap.RandomAuthkey()
	if err != nil {
		return 0, fmt.Errorf("generate authkey: %w", err)
	}
	authkeyB64 := base64.StdEncoding.EncodeToString(authkey[:])

	var db *runlog.DB
	var runID string
	if opt.RunDB != "" {
		if d, err := runlog.Open(opt.RunDB); err != nil {
			fmt.Fprintf(os.Stderr, "warning: run history disabled: %v\n", err)
		} else {
			db = d
			defer db.Close()
			runID = xid.New().String()
			if err := db.InsertRun(runlog.Run{
				ID:        runID,
				Command:   fmt.Sprint(command),
				Workers:   workers,
				StartedAt: time.Now().UTC(),
			}); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to record run: %v\n", err)
			}
		}
	}

	cmds := make([]*exec.Cmd, workers)
	for rank := 0; rank < workers; rank++ {
		cmd := exec.Command(command[0], command[1:]...)
		cmd.Env = append(os.Environ(),
			"AME_HOST=127.0.0.1",
			fmt.Sprintf("AME_PORT=%d", port),
			fmt.Sprintf("AME_RANK=%d", rank),
			fmt.Sprintf("AME_SIZE=%d", workers),
			"AME_AUTHKEY="+authkeyB64,
			"OMP_NUM_THREADS=1",
			"MKL_NUM_THREADS=1",
		)
		if opt.Debug {
			cmd.Env = append(cmd.Env, "DLP_MPI_DEBUG=1")
		}
		for k, v := range extraEnv {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		if rank == pty {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		} else {
			cmd.Stdout = &prefixWriter{rank: rank, w: os.Stdout}
			cmd.Stderr = &prefixWriter{rank: rank, w: os.Stderr}
		}
		cmds[rank] = cmd
	}

	for rank, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			return 0, fmt.Errorf("start rank %d: %w", rank, err)
		}
	}

	exitCodes := make([]int, workers)
	var wg sync.WaitGroup
	for rank, cmd := range cmds {
		wg.Add(1)
		go func(rank int, cmd *exec.Cmd) {
			defer wg.Done()
			exitCodes[rank] = waitExitCode(cmd)
		}(rank, cmd)
	}
	wg.Wait()

	first := 0
	for rank, code := range exitCodes {
		if db != nil {
			if err := db.InsertRankResult(runlog.RankResult{RunID: runID, Rank: rank, ExitCode: code}); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to record rank %d result: %v\n", rank, err)
			}
		}
		if code != 0 && first == 0 {
			first = code
		}
	}
	if db != nil {
		if err := db.FinishRun(runID, time.Now().UTC()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to finish run record: %v\n", err)
		}
	}
	return first, nil
}

func waitExitCode(cmd *exec.Cmd) int {
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}

// prefixWriter prefixes each chunk written to it (one Write call) with
// [rank N]; further lines inside the same chunk are not prefixed.
type prefixWriter struct {
	rank int
	w    *os.File
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	_, err := fmt.Fprintf(p.w, "[rank %d] %s", p.rank, b)
	return len(b), err
}
