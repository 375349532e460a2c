package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoSession is returned when an operation needs a session but none
	// is active and none was supplied.
	ErrNoSession = errors.New("no active session")

	// ErrSessionNotFound is returned when a supplied session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// newConversationSentinel is returned by ContextForPrompt when a session has
// no history yet.
const newConversationSentinel = "This is the start of a new conversation."

// Manager owns session lifecycle, the append-only message log, context-window
// assembly, and topic tracking.
//
// The "current session" pointer is kept per user behind a mutex instead of a
// process-wide global, so concurrent logical users do not collide. The clock
// is injected to make calendar-day logic testable.
type Manager struct {
	db    *DB
	index *MessageIndex // optional; nil disables message search
	clock func() time.Time

	mu      sync.Mutex
	current map[string]string // user id -> current session id
}

// NewManager creates a memory manager over an open database. index may be
// nil when full-text search is not wanted. clock may be nil for time.Now.
func NewManager(db *DB, index *MessageIndex, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		db:      db,
		index:   index,
		clock:   clock,
		current: make(map[string]string),
	}
}

// CreateSession always creates a new session row and makes it the user's
// current session.
func (m *Manager) CreateSession(ctx context.Context, userID, name string) (string, error) {
	now := m.clock()
	if name == "" {
		name = fmt.Sprintf("Session %s", now.Format("2006-01-02 15:04"))
	}

	metadata, err := json.Marshal(map[string]string{"created_via": "chat"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	id := uuid.New().String()
	query := `
		INSERT INTO sessions (id, user_id, name, created_at, last_activity, is_active, total_messages, metadata)
		VALUES (?, ?, ?, ?, ?, 1, 0, ?)
	`
	if _, err := m.db.db.ExecContext(ctx, query, id, userID, name, now.Unix(), now.Unix(), string(metadata)); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.current[userID] = id
	m.mu.Unlock()

	log.Printf("Created conversation session %s for user %s", id, userID)
	return id, nil
}

// GetOrCreateSession returns the user's current session if one is set,
// otherwise an active session touched today, otherwise a fresh one.
//
// The same-calendar-day reuse is a deliberate product policy: casual process
// restarts within a day continue the day's conversation instead of
// fragmenting it into many short sessions.
func (m *Manager) GetOrCreateSession(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	if id, ok := m.current[userID]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	now := m.clock()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var id string
	query := `
		SELECT id FROM sessions
		WHERE user_id = ? AND is_active = 1 AND last_activity >= ?
		ORDER BY last_activity DESC LIMIT 1
	`
	err := m.db.db.QueryRowContext(ctx, query, userID, startOfDay.Unix()).Scan(&id)
	if err == sql.ErrNoRows {
		return m.CreateSession(ctx, userID, "")
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up active session: %w", err)
	}

	m.mu.Lock()
	m.current[userID] = id
	m.mu.Unlock()

	return id, nil
}

// AddMessageParams carries the inputs for AddMessage. SessionID may be empty,
// in which case the user's session is resolved via GetOrCreateSession.
type AddMessageParams struct {
	UserID        string
	SessionID     string
	Sender        Sender
	Content       string
	Type          MessageType
	Visualization json.RawMessage
	ContextUsed   string
	ResponseTime  float64
	TokensUsed    int
}

// AddMessage appends a message to the session log. The next sequence index
// and the parent session's activity counters are updated in one transaction;
// on failure the transaction rolls back and the error propagates.
func (m *Manager) AddMessage(ctx context.Context, p AddMessageParams) (string, error) {
	sessionID := p.SessionID
	if sessionID == "" {
		var err error
		sessionID, err = m.GetOrCreateSession(ctx, p.UserID)
		if err != nil {
			return "", err
		}
	}

	msgType := p.Type
	if msgType == "" {
		msgType = TypeText
	}

	now := m.clock()
	id := uuid.New().String()

	tx, err := m.db.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Next gapless index: max existing + 1, or 0 for an empty session.
	var nextIndex int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(message_index) + 1, 0) FROM messages WHERE session_id = ?`,
		sessionID,
	).Scan(&nextIndex)
	if err != nil {
		return "", fmt.Errorf("failed to compute message index: %w", err)
	}

	var viz any
	if len(p.Visualization) > 0 {
		viz = string(p.Visualization)
	}
	var contextUsed any
	if p.ContextUsed != "" {
		contextUsed = p.ContextUsed
	}
	var responseTime any
	if p.ResponseTime > 0 {
		responseTime = p.ResponseTime
	}
	var tokens any
	if p.TokensUsed > 0 {
		tokens = p.TokensUsed
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, message_index, sender, content, timestamp, message_type, visualization, context_used, response_time, tokens_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, sessionID, nextIndex, string(p.Sender), p.Content, now.Unix(), string(msgType), viz, contextUsed, responseTime, tokens)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ?, total_messages = total_messages + 1 WHERE id = ?
	`, now.Unix(), sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to update session activity: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return "", ErrSessionNotFound
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit message: %w", err)
	}

	// Search indexing is best effort and never fails the append.
	if m.index != nil {
		if err := m.index.IndexMessage(id, sessionID, string(p.Sender), p.Content); err != nil {
			log.Printf("failed to index message %s: %v", id, err)
		}
	}

	return id, nil
}

// History returns the most recent limit messages of a session in ascending
// chronological order. The query fetches descending and reverses, so the
// result is always a suffix of the full log.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.db.QueryContext(ctx, `
		SELECT id, session_id, message_index, sender, content, timestamp, message_type, visualization, context_used, response_time, tokens_used
		FROM messages
		WHERE session_id = ?
		ORDER BY message_index DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var msg Message
		var ts int64
		var viz, contextUsed sql.NullString
		var responseTime sql.NullFloat64
		var tokens sql.NullInt64
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Index, &msg.Sender, &msg.Content, &ts, &msg.Type, &viz, &contextUsed, &responseTime, &tokens)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = time.Unix(ts, 0)
		if viz.Valid {
			msg.Visualization = json.RawMessage(viz.String)
		}
		if contextUsed.Valid {
			msg.ContextUsed = contextUsed.String
		}
		if responseTime.Valid {
			msg.ResponseTime = responseTime.Float64
		}
		if tokens.Valid {
			msg.TokensUsed = int(tokens.Int64)
		}
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}

// ContextForPrompt formats the last maxMessages into the transcript block
// prepended to the next model prompt. This formatted string is the entire
// short-term-memory mechanism; there is no embedding retrieval here.
func (m *Manager) ContextForPrompt(ctx context.Context, sessionID string, maxMessages int) (string, error) {
	if maxMessages <= 0 {
		maxMessages = 10
	}

	history, err := m.History(ctx, sessionID, maxMessages)
	if err != nil && !errors.Is(err, ErrNoSession) {
		return "", err
	}
	if len(history) == 0 {
		return newConversationSentinel, nil
	}

	parts := []string{"Previous conversation context:"}
	for _, msg := range history {
		label := "Human"
		if msg.Sender == SenderAssistant {
			label = "Assistant"
		}
		stamp := msg.Timestamp.Format("15:04")

		if msg.Type == TypeVisualization {
			vizType := "unknown"
			var payload struct {
				Type string `json:"type"`
			}
			if len(msg.Visualization) > 0 && json.Unmarshal(msg.Visualization, &payload) == nil && payload.Type != "" {
				vizType = payload.Type
			}
			parts = append(parts, fmt.Sprintf("[%s] %s: %s (Generated %s visualization)", stamp, label, msg.Content, vizType))
		} else {
			parts = append(parts, fmt.Sprintf("[%s] %s: %s", stamp, label, msg.Content))
		}
	}

	return strings.Join(parts, "\n"), nil
}

// AddContextTopic records or refreshes a topic for a session. Re-adding an
// existing topic bumps reference_count and last_referenced; the importance
// score only ever grows (max-merge).
func (m *Manager) AddContextTopic(ctx context.Context, sessionID, topic, summary string, importance float64) error {
	if sessionID == "" {
		return ErrNoSession
	}

	now := m.clock()
	query := `
		INSERT INTO context_topics (id, session_id, topic, summary, importance, created_at, last_referenced, reference_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(session_id, topic) DO UPDATE SET
			last_referenced = excluded.last_referenced,
			reference_count = reference_count + 1,
			importance = MAX(importance, excluded.importance)
	`
	_, err := m.db.db.ExecContext(ctx, query, uuid.New().String(), sessionID, topic, summary, importance, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert context topic: %w", err)
	}
	return nil
}

// SessionInfo returns session metadata plus its top five topics by
// importance. Callers translate ErrNoSession/ErrSessionNotFound into
// error-object responses.
func (m *Manager) SessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}

	var info SessionInfo
	var createdAt, lastActivity int64
	err := m.db.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, last_activity, total_messages FROM sessions WHERE id = ?
	`, sessionID).Scan(&info.SessionID, &info.Name, &createdAt, &lastActivity, &info.TotalMessages)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	info.CreatedAt = time.Unix(createdAt, 0)
	info.LastActivity = time.Unix(lastActivity, 0)

	rows, err := m.db.db.QueryContext(ctx, `
		SELECT topic, summary FROM context_topics
		WHERE session_id = ?
		ORDER BY importance DESC
		LIMIT 5
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	info.ActiveTopics = []TopicSummary{}
	for rows.Next() {
		var t TopicSummary
		if err := rows.Scan(&t.Topic, &t.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		info.ActiveTopics = append(info.ActiveTopics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topics: %w", err)
	}

	return &info, nil
}

// CurrentSession returns the user's current session id, if any.
func (m *Manager) CurrentSession(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.current[userID]
	return id, ok
}

// MarkInactive flags a session so it no longer participates in same-day
// reuse and becomes eligible for retention cleanup. The current pointer is
// cleared for whichever user held it.
func (m *Manager) MarkInactive(ctx context.Context, sessionID string) error {
	res, err := m.db.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}

	m.mu.Lock()
	for user, id := range m.current {
		if id == sessionID {
			delete(m.current, user)
		}
	}
	m.mu.Unlock()

	return nil
}

// CleanupOldSessions hard-deletes inactive sessions whose last activity is
// older than daysOld, cascading their messages and topics in the same
// transaction. Active sessions are never touched regardless of age.
// Returns the number of sessions removed.
func (m *Manager) CleanupOldSessions(ctx context.Context, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = 30
	}
	cutoff := m.clock().AddDate(0, 0, -daysOld).Unix()

	tx, err := m.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM sessions WHERE last_activity < ? AND is_active = 0`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query old sessions: %w", err)
	}

	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan session id: %w", err)
		}
		victims = append(victims, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating old sessions: %w", err)
	}
	rows.Close()

	if len(victims) == 0 {
		return 0, nil
	}

	// Collect message ids first so the search index can be pruned after commit.
	var staleMessageIDs []string
	if m.index != nil {
		for _, sessionID := range victims {
			msgRows, err := tx.QueryContext(ctx, `SELECT id FROM messages WHERE session_id = ?`, sessionID)
			if err != nil {
				return 0, fmt.Errorf("failed to query session messages: %w", err)
			}
			for msgRows.Next() {
				var id string
				if err := msgRows.Scan(&id); err != nil {
					msgRows.Close()
					return 0, fmt.Errorf("failed to scan message id: %w", err)
				}
				staleMessageIDs = append(staleMessageIDs, id)
			}
			if err := msgRows.Err(); err != nil {
				msgRows.Close()
				return 0, fmt.Errorf("error iterating session messages: %w", err)
			}
			msgRows.Close()
		}
	}

	for _, sessionID := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return 0, fmt.Errorf("failed to delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM context_topics WHERE session_id = ?`, sessionID); err != nil {
			return 0, fmt.Errorf("failed to delete topics: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
			return 0, fmt.Errorf("failed to delete session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	m.mu.Lock()
	for user, id := range m.current {
		for _, victim := range victims {
			if id == victim {
				delete(m.current, user)
			}
		}
	}
	m.mu.Unlock()

	if m.index != nil && len(staleMessageIDs) > 0 {
		if err := m.index.DeleteMessages(staleMessageIDs); err != nil {
			log.Printf("failed to prune search index: %v", err)
		}
	}

	log.Printf("Cleaned up %d old sessions", len(victims))
	return len(victims), nil
}

// Search runs a full-text query over indexed message content, optionally
// restricted to one session. Returns nil when search is disabled.
func (m *Manager) Search(ctx context.Context, query, sessionID string, limit int) ([]SearchResult, error) {
	if m.index == nil {
		return nil, nil
	}
	return m.index.Search(query, sessionID, limit)
}
