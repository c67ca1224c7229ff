package runlog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRunlogRoundTrip(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "gompi-run.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	cur, required, err := db.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if cur != required {
		t.Fatalf("db not migrated: current=%d required=%d", cur, required)
	}

	run := Run{ID: "run1", Command: "echo hi", Workers: 2, StartedAt: time.Now().UTC()}
	if err := db.InsertRun(run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if err := db.InsertRankResult(RankResult{RunID: "run1", Rank: 0, ExitCode: 0}); err != nil {
		t.Fatalf("insert rank result: %v", err)
	}
	if err := db.InsertRankResult(RankResult{RunID: "run1", Rank: 1, ExitCode: 1}); err != nil {
		t.Fatalf("insert rank result: %v", err)
	}
	if err := db.FinishRun("run1", time.Now().UTC()); err != nil {
		t.Fatalf("finish run: %v", err)
	}
}
