// Package runlog persists a record of each gompi-run launch to a sqlite3
// database: when it ran, how many workers it spawned, and the exit code
// each rank finished with. It is a purely operational convenience for the
// launcher; no rank consults it at runtime and it has no bearing on the MPI
// protocol.
package runlog

import (
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DB stores launch history in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a runlog database at name, and
// migrates it up to the latest schema version.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	db := &DB{x: x}
	if _, required, err := db.Version(); err != nil {
		db.Close()
		return nil, err
	} else if err := db.MigrateUp(required); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Run is one recorded launch of gompi-run.
type Run struct {
	ID        string    `db:"id"`
	Command   string    `db:"command"`
	Workers   int       `db:"workers"`
	StartedAt time.Time `db:"started_at"`
	EndedAt   time.Time `db:"ended_at"`
}

// RankResult is one worker's exit status within a recorded run.
type RankResult struct {
	RunID    string `db:"run_id"`
	Rank     int    `db:"rank"`
	ExitCode int    `db:"exit_code"`
}

// InsertRun records the start of a launch and returns nothing further: the
// row is updated in place by FinishRun once every child has exited.
func (db *DB) InsertRun(r Run) error {
	_, err := db.x.NamedExec(`
		INSERT INTO runs (id, command, workers, started_at, ended_at)
		VALUES (:id, :command, :workers, :started_at, :ended_at)
	`, r)
	return err
}

// FinishRun stamps a run's end time.
func (db *DB) FinishRun(id string, endedAt time.Time) error {
	_, err := db.x.Exec(`UPDATE runs SET ended_at = ? WHERE id = ?`, endedAt, id)
	return err
}

// InsertRankResult records one worker's exit code for a run.
func (db *DB) InsertRankResult(r RankResult) error {
	_, err := db.x.NamedExec(`
		INSERT INTO rank_results (run_id, rank, exit_code)
		VALUES (:run_id, :rank, :exit_code)
	`, r)
	return err
}
