package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kstaniek/cz2gate/internal/model"
)

const schema = `CREATE TABLE IF NOT EXISTS cache_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	status_json TEXT,
	meta_json TEXT,
	updated_at REAL
)`

// openDB opens (creating if absent) the single-row cache database at path.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return db, nil
}

// loadRow loads the persisted row, if any. A missing row, or one that
// fails to unmarshal, is reported via ok=false so the caller starts fresh.
func loadRow(db *sql.DB) (status *model.SystemStatus, meta model.CacheMeta, ok bool) {
	var statusJSON, metaJSON sql.NullString
	row := db.QueryRow(`SELECT status_json, meta_json FROM cache_state WHERE id = 1`)
	if err := row.Scan(&statusJSON, &metaJSON); err != nil {
		return nil, model.CacheMeta{}, false
	}
	if !metaJSON.Valid {
		return nil, model.CacheMeta{}, false
	}
	if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
		return nil, model.CacheMeta{}, false
	}
	if statusJSON.Valid && statusJSON.String != "" && statusJSON.String != "null" {
		var s model.SystemStatus
		if err := json.Unmarshal([]byte(statusJSON.String), &s); err != nil {
			return nil, model.CacheMeta{}, false
		}
		status = &s
	}
	return status, meta, true
}

// persistRow writes the latest snapshot. Failures are the caller's to log;
// this never returns a panic-worthy error, just the error value.
func persistRow(db *sql.DB, status *model.SystemStatus, meta model.CacheMeta, updatedAt float64) error {
	statusJSON := "null"
	if status != nil {
		b, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		statusJSON = string(b)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO cache_state (id, status_json, meta_json, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status_json = excluded.status_json, meta_json = excluded.meta_json, updated_at = excluded.updated_at`,
		statusJSON, string(metaJSON), updatedAt,
	)
	return err
}
