package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is the stored record of one capture session.
type Session struct {
	ID        string     `json:"id"`
	Locator   string     `json:"locator"`
	Capacity  int        `json:"capacity"`
	Attempt   int        `json:"attempt"`
	Reason    string     `json:"reason"`
	Error     string     `json:"error,omitempty"`
	Captured  int64      `json:"captured"`
	Delivered int64      `json:"delivered"`
	Dropped   int64      `json:"dropped"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SessionResult holds the values recorded when a session ends.
type SessionResult struct {
	Reason    string
	Error     string
	Captured  int64
	Delivered int64
	Dropped   int64
	EndedAt   time.Time
}

// SessionRepository provides access to session records.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a running session. An empty ID is replaced with a new
// UUID and a zero StartedAt with the current time.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Attempt == 0 {
		sess.Attempt = 1
	}
	sess.Reason = "running"

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, locator, capacity, attempt, reason, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Locator, sess.Capacity, sess.Attempt, sess.Reason, sess.StartedAt,
	)
	return err
}

// Finish records how a session ended.
func (r *SessionRepository) Finish(id string, res SessionResult) error {
	if res.EndedAt.IsZero() {
		res.EndedAt = time.Now()
	}

	result, err := r.db.Exec(
		`UPDATE sessions
		 SET reason = ?, error = ?, captured = ?, delivered = ?, dropped = ?, ended_at = ?
		 WHERE id = ?`,
		res.Reason, res.Error, res.Captured, res.Delivered, res.Dropped, res.EndedAt, id,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, locator, capacity, attempt, reason, error, captured, delivered, dropped, started_at, ended_at
		 FROM sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns up to limit sessions, newest first. A limit <= 0 returns all.
func (r *SessionRepository) List(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, locator, capacity, attempt, reason, error, captured, delivered, dropped, started_at, ended_at
		 FROM sessions
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess  Session
		ended sql.NullTime
	)

	err := row.Scan(&sess.ID, &sess.Locator, &sess.Capacity, &sess.Attempt, &sess.Reason, &sess.Error,
		&sess.Captured, &sess.Delivered, &sess.Dropped, &sess.StartedAt, &ended)
	if err != nil {
		return nil, err
	}

	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return &sess, nil
}
