package memory

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a controllable clock for calendar-day logic.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T) (*Manager, *testClock) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "conversations.db")
	db, err := OpenDB(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &testClock{now: time.Date(2025, 6, 12, 10, 30, 0, 0, time.UTC)}
	return NewManager(db, nil, clock.Now), clock
}

func TestAddMessageSequenceIsGapless(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sessionID, err := m.CreateSession(ctx, "alice", "")
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		sender := SenderUser
		if i%2 == 1 {
			sender = SenderAssistant
		}
		_, err := m.AddMessage(ctx, AddMessageParams{
			UserID:    "alice",
			SessionID: sessionID,
			Sender:    sender,
			Content:   "turn",
		})
		require.NoError(t, err)
	}

	history, err := m.History(ctx, sessionID, 50)
	require.NoError(t, err)
	require.Len(t, history, 7)
	for i, msg := range history {
		assert.Equal(t, i, msg.Index, "sequence indices must be 0,1,2,... with no gaps")
	}
}

func TestHistoryIsSuffixInAscendingOrder(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sessionID, err := m.CreateSession(ctx, "alice", "")
	require.NoError(t, err)

	contents := []string{"a", "b", "c", "d", "e"}
	for _, c := range contents {
		_, err := m.AddMessage(ctx, AddMessageParams{SessionID: sessionID, Sender: SenderUser, Content: c})
		require.NoError(t, err)
	}

	history, err := m.History(ctx, sessionID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].Content)
	assert.Equal(t, "d", history[1].Content)
	assert.Equal(t, "e", history[2].Content)

	// Round trip: limit >= total returns everything in insertion order.
	full, err := m.History(ctx, sessionID, len(contents))
	require.NoError(t, err)
	require.Len(t, full, len(contents))
	for i, c := range contents {
		assert.Equal(t, c, full[i].Content)
		assert.Equal(t, SenderUser, full[i].Sender)
	}
}

func TestGetOrCreateSessionSameCalendarDay(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	first, err := m.GetOrCreateSession(ctx, "alice")
	require.NoError(t, err)

	// Same day, same user: same session, even after the current pointer is
	// dropped (simulating a process restart).
	m.mu.Lock()
	delete(m.current, "alice")
	m.mu.Unlock()

	clock.Advance(2 * time.Hour)
	second, err := m.GetOrCreateSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Next calendar day: a fresh session.
	m.mu.Lock()
	delete(m.current, "alice")
	m.mu.Unlock()

	clock.Advance(24 * time.Hour)
	third, err := m.GetOrCreateSession(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestGetOrCreateSessionSkipsInactive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.GetOrCreateSession(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, m.MarkInactive(ctx, first))

	second, err := m.GetOrCreateSession(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestContextForPrompt(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sessionID, err := m.CreateSession(ctx, "alice", "")
	require.NoError(t, err)

	// Empty session: fixed sentinel.
	out, err := m.ContextForPrompt(ctx, sessionID, 10)
	require.NoError(t, err)
	assert.Equal(t, "This is the start of a new conversation.", out)

	_, err = m.AddMessage(ctx, AddMessageParams{SessionID: sessionID, Sender: SenderUser, Content: "hello"})
	require.NoError(t, err)

	viz := json.RawMessage(`{"type":"chart","title":"Sample"}`)
	_, err = m.AddMessage(ctx, AddMessageParams{
		SessionID:     sessionID,
		Sender:        SenderAssistant,
		Content:       "here you go",
		Type:          TypeVisualization,
		Visualization: viz,
	})
	require.NoError(t, err)

	out, err = m.ContextForPrompt(ctx, sessionID, 10)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Previous conversation context:"))
	assert.Contains(t, out, "Human: hello")
	assert.Contains(t, out, "Assistant: here you go (Generated chart visualization)")
}

func TestAddContextTopicUpsert(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	sessionID, err := m.CreateSession(ctx, "alice", "")
	require.NoError(t, err)

	require.NoError(t, m.AddContextTopic(ctx, sessionID, "system_monitoring", "asked about cpu", 1.5))
	require.NoError(t, m.AddContextTopic(ctx, sessionID, "system_monitoring", "asked again", 1.0))
	require.NoError(t, m.AddContextTopic(ctx, sessionID, "system_monitoring", "and again", 2.0))

	var count, refs int
	var importance float64
	err = m.db.db.QueryRow(
		`SELECT COUNT(*), MAX(reference_count), MAX(importance) FROM context_topics WHERE session_id = ?`,
		sessionID,
	).Scan(&count, &refs, &importance)
	require.NoError(t, err)

	assert.Equal(t, 1, count, "re-adding a topic must never create a second row")
	assert.Equal(t, 3, refs)
	assert.Equal(t, 2.0, importance, "importance is the max of all supplied values")
}

func TestSessionInfo(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.SessionInfo(ctx, "")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = m.SessionInfo(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sessionID, err := m.CreateSession(ctx, "alice", "Morning chat")
	require.NoError(t, err)
	require.NoError(t, m.AddContextTopic(ctx, sessionID, "data_analysis", "csv questions", 1.2))

	info, err := m.SessionInfo(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "Morning chat", info.Name)
	require.Len(t, info.ActiveTopics, 1)
	assert.Equal(t, "data_analysis", info.ActiveTopics[0].Topic)
}

func TestCleanupOldSessions(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	oldActive, err := m.CreateSession(ctx, "alice", "")
	require.NoError(t, err)
	oldInactive, err := m.CreateSession(ctx, "alice", "")
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, AddMessageParams{SessionID: oldInactive, Sender: SenderUser, Content: "stale"})
	require.NoError(t, err)
	require.NoError(t, m.AddContextTopic(ctx, oldInactive, "old_topic", "stale", 1.0))
	require.NoError(t, m.MarkInactive(ctx, oldInactive))

	// Both sessions are now 40 days stale.
	clock.Advance(40 * 24 * time.Hour)

	removed, err := m.CleanupOldSessions(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The active session survives regardless of age.
	_, err = m.SessionInfo(ctx, oldActive)
	assert.NoError(t, err)

	// The inactive one is gone along with its messages and topics.
	_, err = m.SessionInfo(ctx, oldInactive)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	var leftover int
	err = m.db.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, oldInactive,
	).Scan(&leftover)
	require.NoError(t, err)
	assert.Zero(t, leftover)

	err = m.db.db.QueryRow(
		`SELECT COUNT(*) FROM context_topics WHERE session_id = ?`, oldInactive,
	).Scan(&leftover)
	require.NoError(t, err)
	assert.Zero(t, leftover)
}
