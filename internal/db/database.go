package db

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

// CanvasSnapshot is the durable state of one session's drawing surface.
// Exactly one row exists per session; each save replaces SceneData wholesale
// and bumps Version by one.
type CanvasSnapshot struct {
	SessionID      string          `json:"session_id"`
	SceneData      json.RawMessage `json:"scene_data"`
	Version        int64           `json:"version"`
	LastModifiedBy string          `json:"last_modified_by"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// sqlite allows one writer at a time; funneling the pool through a
	// single connection avoids SQLITE_BUSY on concurrent saves.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS canvas_states (
		session_id TEXT PRIMARY KEY,
		scene_data BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		last_modified_by TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// LoadCanvas returns the session's snapshot, or nil when the session has
// never been saved. Loading never touches the version counter.
func (d *Database) LoadCanvas(sessionID string) (*CanvasSnapshot, error) {
	row := d.db.QueryRow(
		"SELECT session_id, scene_data, version, last_modified_by, updated_at FROM canvas_states WHERE session_id = ?",
		sessionID,
	)

	var snap CanvasSnapshot
	err := row.Scan(&snap.SessionID, &snap.SceneData, &snap.Version, &snap.LastModifiedBy, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveCanvas upserts the session's snapshot and returns the new version:
// 1 on first save, previous+1 after that. The increment rides on the single
// upsert statement, which is the only serialization concurrent saves get;
// whichever save commits last wins the scene_data column.
func (d *Database) SaveCanvas(sessionID string, sceneData []byte, modifiedBy string) (int64, error) {
	row := d.db.QueryRow(`
		INSERT INTO canvas_states (session_id, scene_data, version, last_modified_by, updated_at)
		VALUES (?, ?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			scene_data = excluded.scene_data,
			version = version + 1,
			last_modified_by = excluded.last_modified_by,
			updated_at = CURRENT_TIMESTAMP
		RETURNING version
	`, sessionID, sceneData, modifiedBy)

	var version int64
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var sessionCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM canvas_states").Scan(&sessionCount); err != nil {
		return nil, err
	}
	stats["saved_sessions"] = sessionCount

	// The sqlite driver only maps DATETIME to time.Time for direct column
	// reads; an aggregate like MAX(updated_at) comes back as a raw string.
	var latest sql.NullTime
	err := d.db.QueryRow("SELECT updated_at FROM canvas_states ORDER BY updated_at DESC LIMIT 1").Scan(&latest)
	switch {
	case err == sql.ErrNoRows:
		// no saved canvases yet
	case err != nil:
		return nil, err
	case latest.Valid:
		stats["last_save_at"] = latest.Time
	}

	return stats, nil
}
