package memory

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the embedded conversations database.
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the conversations database and initializes the
// schema.
func OpenDB(ctx context.Context, dbPath string) (*DB, error) {
	// Enable WAL mode for better concurrency and set busy timeout
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates the tables if they don't exist.
func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	-- Conversation sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		name           TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		last_activity  INTEGER NOT NULL,
		is_active      INTEGER NOT NULL DEFAULT 1,
		total_messages INTEGER NOT NULL DEFAULT 0,
		metadata       TEXT NOT NULL DEFAULT '{}'
	);

	-- Append-only message log; (session_id, message_index) is gapless per session
	CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		message_index INTEGER NOT NULL,
		sender        TEXT NOT NULL,
		content       TEXT NOT NULL,
		timestamp     INTEGER NOT NULL,
		message_type  TEXT NOT NULL DEFAULT 'text',
		visualization TEXT,
		context_used  TEXT,
		response_time REAL,
		tokens_used   INTEGER,
		UNIQUE (session_id, message_index),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	-- Named conversation topics used to bias context assembly
	CREATE TABLE IF NOT EXISTS context_topics (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		topic           TEXT NOT NULL,
		summary         TEXT NOT NULL,
		importance      REAL NOT NULL DEFAULT 1.0,
		created_at      INTEGER NOT NULL,
		last_referenced INTEGER NOT NULL,
		reference_count INTEGER NOT NULL DEFAULT 1,
		UNIQUE (session_id, topic),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_topics_session ON context_topics(session_id);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}
