package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// migrationLockID is an arbitrary but consistent advisory-lock ID used to
// keep concurrent coordinator instances from racing on schema creation at
// startup.
const migrationLockID = 987654321

// RunMigrations brings the schema up to date: two tables, sessions and
// chunks, with the state machine invariants enforced at the database
// level wherever Postgres can express them directly (composite primary
// key, check constraints on status, cascading delete).
func RunMigrations(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Println("running upload coordinator migrations...")

	if _, err := db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := db.Exec("SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Printf("warning: failed to release migration lock: %v", err)
		}
	}()

	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		log.Printf("uuid-ossp extension already present or unavailable: %v", err)
	}

	migrations := []string{
		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			filename VARCHAR(1024) NOT NULL,
			total_size BIGINT NOT NULL CHECK (total_size > 0),
			total_chunks INTEGER NOT NULL CHECK (total_chunks > 0),
			status VARCHAR(20) NOT NULL DEFAULT 'UPLOADING'
				CHECK (status IN ('UPLOADING', 'PROCESSING', 'COMPLETED', 'FAILED')),
			blob_path TEXT NOT NULL,
			final_hash VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMPTZ,
			CHECK (final_hash IS NULL OR status = 'COMPLETED')
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status_created_at ON sessions(status, created_at)`,

		`DROP TRIGGER IF EXISTS trigger_sessions_updated_at ON sessions`,
		`CREATE TRIGGER trigger_sessions_updated_at
			BEFORE UPDATE ON sessions
			FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`CREATE TABLE IF NOT EXISTS chunks (
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			index INTEGER NOT NULL CHECK (index >= 0),
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING'
				CHECK (status IN ('PENDING', 'SUCCESS')),
			received_at TIMESTAMPTZ,
			PRIMARY KEY (session_id, index)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_chunks_session_status ON chunks(session_id, status)`,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w\nSQL: %s", i, err, migration)
		}
	}

	log.Println("upload coordinator migrations completed")
	return nil
}
