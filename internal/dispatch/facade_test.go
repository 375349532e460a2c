package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attache/internal/memory"
	"attache/internal/multimodal"
)

type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.reply, s.err
}

func (s *stubLLM) Health(ctx context.Context) error { return s.err }

func (s *stubLLM) Model() string { return "stub-model" }

func newTestFacade(t *testing.T, client *stubLLM) *Facade {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "conversations.db")
	db, err := memory.OpenDB(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem := memory.NewManager(db, nil, nil)
	return NewFacade(mem, multimodal.NewProcessor(), client, "tester")
}

func TestChatPlainTurn(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "hello there"})
	ctx := context.Background()

	resp, err := f.Chat(ctx, ChatRequest{Message: "jump"})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "hello there", resp.Message)
	assert.Nil(t, resp.Visualization, "no visualization keywords in the message")
	assert.Equal(t, "stub-model", resp.AgentInfo.Agent)
	assert.Equal(t, 2, resp.AgentInfo.ConversationLength)

	// Exactly two messages, user then assistant, in order.
	history, err := f.Memory().History(ctx, resp.AgentInfo.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.SenderUser, history[0].Sender)
	assert.Equal(t, "jump", history[0].Content)
	assert.Equal(t, memory.SenderAssistant, history[1].Sender)
	assert.Equal(t, "hello there", history[1].Content)
}

func TestChatChartTurn(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "here is your chart"})
	ctx := context.Background()

	resp, err := f.Chat(ctx, ChatRequest{Message: "show me a chart of sales"})
	require.NoError(t, err)

	require.True(t, resp.Success)
	require.NotNil(t, resp.Visualization)
	assert.Equal(t, "chart", resp.Visualization.Kind)
	require.NotNil(t, resp.Visualization.Data)
	assert.NotEmpty(t, resp.Visualization.Data.Labels)
	assert.Len(t, resp.Visualization.Data.Values, len(resp.Visualization.Data.Labels))

	// The assistant turn is persisted as a visualization message.
	history, err := f.Memory().History(ctx, resp.AgentInfo.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.TypeVisualization, history[1].Type)
	assert.NotEmpty(t, history[1].Visualization)
}

func TestChatExplicitVisualizationFlag(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "ok"})

	resp, err := f.Chat(context.Background(), ChatRequest{
		Message:              "anything at all",
		RequestVisualization: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Visualization)
	assert.Equal(t, "text", resp.Visualization.Kind)
}

func TestChatDegradedWhenLLMDown(t *testing.T) {
	f := newTestFacade(t, &stubLLM{err: errors.New("connection refused")})
	ctx := context.Background()

	resp, err := f.Chat(ctx, ChatRequest{Message: "hello"})
	require.NoError(t, err, "model failures never surface as transport errors")

	assert.False(t, resp.Success)
	assert.Equal(t, "I apologize, but I'm experiencing technical difficulties. Please try again.", resp.Message)
	assert.NotEmpty(t, resp.Error)

	// Only the user message was persisted.
	history, err := f.Memory().History(ctx, resp.AgentInfo.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, memory.SenderUser, history[0].Sender)
}

func TestChatTagsTopics(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "cpu looks fine"})
	ctx := context.Background()

	resp, err := f.Chat(ctx, ChatRequest{Message: "give me cpu and memory stats"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	info, err := f.Memory().SessionInfo(ctx, resp.AgentInfo.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, info.ActiveTopics)
	assert.Equal(t, "system_monitoring", info.ActiveTopics[0].Topic)
}

func TestUploadMergesNarrative(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "interesting dataset"})

	resp, err := f.Upload(context.Background(), "data.csv", []byte("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "interesting dataset", resp.AIAnalysis)
	assert.NotNil(t, resp.Analysis)
}

func TestUploadDegradesNarrative(t *testing.T) {
	f := newTestFacade(t, &stubLLM{err: errors.New("down")})

	resp, err := f.Upload(context.Background(), "data.csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.True(t, resp.Success, "structured analysis survives a model outage")
	assert.Contains(t, resp.AIAnalysis, "unavailable")
}

func TestUploadUnsupportedSkipsNarrative(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "should not be called"})

	resp, err := f.Upload(context.Background(), "file.exe", []byte{0x4d, 0x5a})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.AIAnalysis)
	assert.NotNil(t, resp.SupportedFormats)
}

func TestDiagramTurn(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "add more participants"})

	resp, err := f.Diagram(context.Background(), "sequence", "login flow")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "sequence", resp.DiagramType)
	assert.Contains(t, resp.Markup, "sequenceDiagram")
	assert.Equal(t, "add more participants", resp.AISuggestions)
	require.NotNil(t, resp.Visualization)
	assert.Equal(t, "mermaid", resp.Visualization.Kind)
	assert.Equal(t, resp.Markup, resp.Visualization.Mermaid)
}

func TestChatBusyRejection(t *testing.T) {
	f := newTestFacade(t, &stubLLM{reply: "ok"})

	// Saturate the in-flight slots so the next turn is rejected.
	for i := 0; i < cap(f.inflight); i++ {
		f.inflight <- struct{}{}
	}

	resp, err := f.Chat(context.Background(), ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message, "rejections must still carry a renderable message")
	assert.NotEmpty(t, resp.Error)
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// The é straddles the 100-byte cut point and must be dropped whole.
	long := strings.Repeat("a", 99) + "émeute notes"
	for _, cut := range []string{summarize(long), payloadTitle(long)} {
		assert.True(t, utf8.ValidString(cut))
		assert.LessOrEqual(t, len(cut), 100)
	}

	short := "héllo"
	assert.Equal(t, short, summarize(short))
}

func TestVisualizationRules(t *testing.T) {
	cases := []struct {
		message string
		kind    string
	}{
		{"show me cpu and memory stats on a dashboard", "system_dashboard"},
		{"draw a chart of revenue", "chart"},
		{"plot a sine wave", "plot"},
		{"render a table of results", "table"},
		{"write a fibonacci function", "code"},
		{"tell me something", "text"},
	}
	for _, tc := range cases {
		payload := synthesizeVisualization(tc.message)
		assert.Equal(t, tc.kind, payload.Kind, "message: %s", tc.message)
	}
}

func TestVisualizationTriggerKeywords(t *testing.T) {
	assert.True(t, wantsVisualization("please Visualize the trend"))
	assert.True(t, wantsVisualization("analyze this"))
	assert.False(t, wantsVisualization("good morning"))
}
