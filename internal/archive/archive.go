// Package archive is a best-effort durable sink for the three log streams
// (summary/actions/results), independent from and never gating in-memory
// session state — spec.md §1 explicitly does not promise durability of
// session state across restarts, so a failure to archive a row is logged
// and swallowed rather than propagated. The schema-on-connect pattern
// ("CREATE SCHEMA IF NOT EXISTS" plus a handful of CREATE TABLE IF NOT
// EXISTS statements run once at construction) is ported from the teacher's
// internal/storage/storage_manager.go initSchema.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/adverant/somhunter/internal/display"
	"github.com/adverant/somhunter/internal/models"
)

// Store is a best-effort Postgres archive of session log events.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the archive schema exists. A
// connection failure is fatal here (matching storage_manager.go), but
// callers wiring this into the process should treat archive.Open itself as
// optional: spec.md never requires persistence.
func Open(postgresURL string) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("archive: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE SCHEMA IF NOT EXISTS somhunter;

	CREATE TABLE IF NOT EXISTS somhunter.result_events (
		event_id    VARCHAR(64) PRIMARY KEY,
		display_type INT NOT NULL,
		top_n       JSONB NOT NULL,
		query_text  TEXT,
		likes       JSONB,
		used_tools  JSONB,
		created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS somhunter.action_events (
		event_id   VARCHAR(64) PRIMARY KEY,
		kind       VARCHAR(32) NOT NULL,
		frame_id   INT,
		payload    JSONB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ArchiveResult persists one result-log event, best-effort: an error is
// logged, not returned, so archival never blocks or fails a live session.
func (s *Store) ArchiveResult(id string, ev display.ResultLogEvent, plainQuery string, likes models.ShownSet, used models.UsedTools) {
	topN, err := json.Marshal(ev.TopN)
	if err != nil {
		log.Printf("WARNING: archive: marshal top_n: %v", err)
		return
	}
	likesJSON, _ := json.Marshal(likes.Slice())
	usedJSON, _ := json.Marshal(used)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO somhunter.result_events (event_id, display_type, top_n, query_text, likes, used_tools)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (event_id) DO NOTHING`,
		id, int(ev.DisplayType), topN, plainQuery, likesJSON, usedJSON)
	if err != nil {
		log.Printf("WARNING: archive: insert result event: %v", err)
	}
}

// ArchiveAction persists one action-log event (like/bookmark/reset/context
// switch), best-effort.
func (s *Store) ArchiveAction(id, kind string, frame models.FrameID, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("WARNING: archive: marshal action payload: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO somhunter.action_events (event_id, kind, frame_id, payload)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`,
		id, kind, int(frame), data)
	if err != nil {
		log.Printf("WARNING: archive: insert action event: %v", err)
	}
}
