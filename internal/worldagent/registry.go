package worldagent

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Registry is the world agent's crash-recovery record of which world a
// session last used (SPEC_FULL.md Domain Stack: "additive infrastructure,
// not a replacement for" startup GC, which remains the authority on
// whether a world is actually still alive). Grounded in the teacher's
// store package usage of modernc.org/sqlite for its own task database,
// adapted here to the agent's much smaller (session_id, world_id) shape.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if needed) the sqlite database at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("worldagent: open registry: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	world_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_used_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("worldagent: migrate registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// RecordSession upserts the (session_id, world_id) pairing.
func (r *Registry) RecordSession(sessionID, worldID string) {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
INSERT INTO sessions (session_id, world_id, created_at, last_used_at) VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET world_id = excluded.world_id, last_used_at = excluded.last_used_at`,
		sessionID, worldID, now, now)
	_ = err // best-effort: registry absence never blocks a session
}

// Touch updates last_used_at for a reattached session.
func (r *Registry) Touch(sessionID string) {
	_, _ = r.db.Exec(`UPDATE sessions SET last_used_at = ? WHERE session_id = ?`, time.Now().Unix(), sessionID)
}

// Forget removes a session record once its world is torn down.
func (r *Registry) Forget(sessionID string) {
	_, _ = r.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
}

// WorldFor returns the last known world id for a session, if recorded.
func (r *Registry) WorldFor(sessionID string) (string, bool) {
	var worldID string
	err := r.db.QueryRow(`SELECT world_id FROM sessions WHERE session_id = ?`, sessionID).Scan(&worldID)
	return worldID, err == nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
