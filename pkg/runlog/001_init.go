package runlog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE runs (
			id         TEXT PRIMARY KEY NOT NULL,
			command    TEXT NOT NULL DEFAULT '',
			workers    INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at   DATETIME
		)
	`); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE rank_results (
			run_id    TEXT NOT NULL REFERENCES runs(id),
			rank      INTEGER NOT NULL,
			exit_code INTEGER NOT NULL
		) STRICT
	`); err != nil {
		return fmt.Errorf("create rank_results table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX rank_results_run_idx ON rank_results(run_id)`); err != nil {
		return fmt.Errorf("create rank_results index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX rank_results_run_idx`); err != nil {
		return fmt.Errorf("drop rank_results_run_idx index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE rank_results`); err != nil {
		return fmt.Errorf("drop rank_results table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE runs`); err != nil {
		return fmt.Errorf("drop runs table: %w", err)
	}
	return nil
}
