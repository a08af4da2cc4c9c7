package db

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the run database at path and ensures the baseline
// schema. Schema changes beyond the baseline are applied with MigrateUp.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			catalogue_path    TEXT,
			data_dir          TEXT,
			output_dir        TEXT,
			params            TEXT,
			status            TEXT,
			note              TEXT,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			finished_at       TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS transit_events (
			event_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id            TEXT,
			tic               BIGINT,
			sector            BIGINT,
			time              DOUBLE,
			duration          DOUBLE,
			depth             DOUBLE,
			snr               DOUBLE,
			phase             DOUBLE,
			n_points          BIGINT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
