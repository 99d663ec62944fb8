package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork). Besides
// the latest checkpoint it keeps an append-only checkpoint log per session.
type LibSQLStore struct {
	db *sql.DB
}

// Checkpoint is one entry of the checkpoint log.
type Checkpoint struct {
	SessionID string               `json:"session_id"`
	Sequence  int64                `json:"sequence"`
	Status    schema.SessionStatus `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
}

// NewLibSQLStore opens a libSQL database at the given path, e.g.
// "file:/path/to/sessions.db", and applies pending migrations.
func NewLibSQLStore(ctx context.Context, dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRowContext(ctx, p).Scan(&result)
	}

	s := &LibSQLStore{db: db}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Load(ctx context.Context, id string) (*schema.SessionState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}
	var st schema.SessionState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, storeErr("decode session", err)
	}
	return &st, nil
}

// Save upserts the checkpoint, inserts the snapshot if absent and appends
// to the checkpoint log, all in one transaction.
func (s *LibSQLStore) Save(ctx context.Context, state *schema.SessionState, specSnapshot []byte) error {
	if err := validateState(state); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return storeErr("encode session", err)
	}
	m := state.Metadata
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin save", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, workflow_name, pattern_type, status, spec_hash, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   workflow_name=excluded.workflow_name, pattern_type=excluded.pattern_type,
		   status=excluded.status, spec_hash=excluded.spec_hash,
		   state=excluded.state, updated_at=excluded.updated_at`,
		m.SessionID, m.WorkflowName, string(m.PatternType), string(m.Status), m.SpecHash, string(data),
		formatTime(timeOr(m.CreatedAt, now)), formatTime(timeOr(m.UpdatedAt, now)),
	)
	if err != nil {
		return storeErr("upsert session", err)
	}

	if specSnapshot != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO spec_snapshots (session_id, spec, created_at) VALUES (?, ?, ?)`,
			m.SessionID, string(specSnapshot), formatTime(now),
		); err != nil {
			return storeErr("insert spec snapshot", err)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM checkpoints WHERE session_id = ?`, m.SessionID,
	).Scan(&seq); err != nil {
		return storeErr("next checkpoint sequence", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, sequence, status, created_at) VALUES (?, ?, ?, ?)`,
		m.SessionID, seq, string(m.Status), formatTime(now),
	); err != nil {
		return storeErr("append checkpoint", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit save", err)
	}
	return nil
}

func (s *LibSQLStore) LoadSpecSnapshot(ctx context.Context, id string) ([]byte, error) {
	var spec string
	err := s.db.QueryRowContext(ctx, `SELECT spec FROM spec_snapshots WHERE session_id = ?`, id).Scan(&spec)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("spec snapshot", id)
	}
	if err != nil {
		return nil, storeErr("load spec snapshot", err)
	}
	return []byte(spec), nil
}

func (s *LibSQLStore) List(ctx context.Context, filter Filter) ([]*schema.SessionMetadata, error) {
	query := `SELECT state FROM sessions`
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowName != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	var out []*schema.SessionMetadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, storeErr("scan session", err)
		}
		var st schema.SessionState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, storeErr("decode session", err)
		}
		out = append(out, &st.Metadata)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list sessions", err)
	}
	return out, nil
}

func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin delete", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete session", err)
	}
	if err := checkRowsAffected(res, "session", id); err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM spec_snapshots WHERE session_id = ?`,
		`DELETE FROM checkpoints WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return storeErr("delete session", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit delete", err)
	}
	return nil
}

// History returns the checkpoint log for a session, oldest first.
func (s *LibSQLStore) History(ctx context.Context, id string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, status, created_at FROM checkpoints WHERE session_id = ? ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, storeErr("load checkpoints", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		var status, created string
		if err := rows.Scan(&c.SessionID, &c.Sequence, &status, &created); err != nil {
			return nil, storeErr("scan checkpoint", err)
		}
		c.Status = schema.SessionStatus(status)
		c.CreatedAt, _ = time.Parse(tsLayout, created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// tsLayout is fixed-width so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}
