package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per capture session
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			locator TEXT NOT NULL,
			capacity INTEGER NOT NULL CHECK(capacity > 0),
			attempt INTEGER NOT NULL DEFAULT 1,
			reason TEXT NOT NULL DEFAULT 'running'
				CHECK(reason IN ('running', 'cancelled', 'end_of_stream', 'read_failed', 'open_failed')),
			error TEXT NOT NULL DEFAULT '',
			captured INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Settings table - key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
