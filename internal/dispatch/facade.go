package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"attache/internal/llm"
	"attache/internal/memory"
	"attache/internal/multimodal"
)

const (
	// degradedMessage replaces the assistant reply when the model backend is
	// unreachable. The turn still succeeds at the transport level.
	degradedMessage = "I apologize, but I'm experiencing technical difficulties. Please try again."

	defaultLLMTimeout  = 60 * time.Second
	defaultMaxInFlight = 4
	contextWindowSize  = 10
)

// Facade routes user turns through memory, the content analyzers and the
// model. It is the single entry point the HTTP layer and the drop-folder
// watcher talk to.
type Facade struct {
	memory    *memory.Manager
	processor *multimodal.Processor
	llm       llm.Client
	userID    string

	timeout  time.Duration
	inflight chan struct{}

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFacade wires the dispatch facade. userID identifies the desktop user all
// sessions belong to.
func NewFacade(mem *memory.Manager, proc *multimodal.Processor, client llm.Client, userID string) *Facade {
	return &Facade{
		memory:    mem,
		processor: proc,
		llm:       client,
		userID:    userID,
		timeout:   defaultLLMTimeout,
		inflight:  make(chan struct{}, defaultMaxInFlight),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockSession serializes turns within one session so interleaved requests
// cannot produce out-of-order transcript entries.
func (f *Facade) lockSession(sessionID string) func() {
	f.locksMu.Lock()
	mu, ok := f.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		f.locks[sessionID] = mu
	}
	f.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ChatRequest is one user chat turn.
type ChatRequest struct {
	Message              string `json:"message"`
	ContextType          string `json:"context_type,omitempty"`
	SessionID            string `json:"session_id,omitempty"`
	RequestVisualization bool   `json:"request_visualization,omitempty"`
}

// AgentInfo describes how a turn was handled.
type AgentInfo struct {
	Agent              string `json:"agent"`
	ContextUsed        bool   `json:"context_used"`
	SessionID          string `json:"session_id"`
	ConversationLength int    `json:"conversation_length"`
}

// ChatResponse is the structured outcome of a chat turn.
type ChatResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	ResponseTime  float64   `json:"response_time"`
	InteractionID string    `json:"interaction_id,omitempty"`
	AgentInfo     AgentInfo `json:"agent_info"`
	Visualization *Payload  `json:"visualization,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Chat runs a full conversational turn: persist the user message, assemble
// context, query the model, synthesize a visualization when asked for one,
// persist the reply, and tag topics. Model failures degrade into an apology
// response; only storage failures return an error.
func (f *Facade) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	select {
	case f.inflight <- struct{}{}:
		defer func() { <-f.inflight }()
	default:
		return &ChatResponse{
			Success: false,
			Message: "I'm handling too many requests right now. Please try again in a moment.",
			Error:   "too many requests in flight, please retry",
		}, nil
	}

	start := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		var err error
		sessionID, err = f.memory.GetOrCreateSession(ctx, f.userID)
		if err != nil {
			return nil, err
		}
	}

	unlock := f.lockSession(sessionID)
	defer unlock()

	if _, err := f.memory.AddMessage(ctx, memory.AddMessageParams{
		UserID:    f.userID,
		SessionID: sessionID,
		Sender:    memory.SenderUser,
		Content:   req.Message,
	}); err != nil {
		return nil, err
	}

	contextBlock, err := f.memory.ContextForPrompt(ctx, sessionID, contextWindowSize)
	if err != nil {
		return nil, err
	}
	contextUsed := strings.HasPrefix(contextBlock, "Previous conversation context:")

	prompt := contextBlock + "\n\nHuman: " + req.Message + "\n\nAssistant:"

	llmCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	reply, llmErr := f.llm.Complete(llmCtx, prompt)
	elapsed := time.Since(start).Seconds()

	if llmErr != nil {
		log.Printf("LLM completion failed: %v", llmErr)
		return &ChatResponse{
			Success:      false,
			Message:      degradedMessage,
			ResponseTime: elapsed,
			Error:        llmErr.Error(),
			AgentInfo: AgentInfo{
				Agent:       f.llm.Model(),
				ContextUsed: contextUsed,
				SessionID:   sessionID,
			},
		}, nil
	}

	var payload *Payload
	if req.RequestVisualization || wantsVisualization(req.Message) {
		payload = synthesizeVisualization(req.Message)
	}

	msgType := memory.TypeText
	var vizJSON json.RawMessage
	if payload != nil {
		msgType = memory.TypeVisualization
		vizJSON, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal visualization: %w", err)
		}
	}

	interactionID, err := f.memory.AddMessage(ctx, memory.AddMessageParams{
		UserID:        f.userID,
		SessionID:     sessionID,
		Sender:        memory.SenderAssistant,
		Content:       reply,
		Type:          msgType,
		Visualization: vizJSON,
		ContextUsed:   contextBlock,
		ResponseTime:  elapsed,
	})
	if err != nil {
		return nil, err
	}

	// Topic tagging is opportunistic; a failed upsert never fails the turn.
	for _, rule := range matchTopics(req.Message) {
		if err := f.memory.AddContextTopic(ctx, sessionID, rule.topic, summarize(req.Message), rule.importance); err != nil {
			log.Printf("failed to record topic %s: %v", rule.topic, err)
		}
	}

	info, err := f.memory.SessionInfo(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		Success:       true,
		Message:       reply,
		ResponseTime:  elapsed,
		InteractionID: interactionID,
		AgentInfo: AgentInfo{
			Agent:              f.llm.Model(),
			ContextUsed:        contextUsed,
			SessionID:          sessionID,
			ConversationLength: info.TotalMessages,
		},
		Visualization: payload,
	}, nil
}

func summarize(message string) string {
	const maxSummary = 100
	return truncate(message, maxSummary)
}

// AnalysisResponse is an analyzer result plus the model's narrative pass.
type AnalysisResponse struct {
	multimodal.Result
	AIAnalysis string `json:"ai_analysis,omitempty"`
}

// Upload analyzes an uploaded file and asks the model for a narrative read of
// the analysis. The structured analysis is returned even when the model is
// unavailable.
func (f *Facade) Upload(ctx context.Context, filename string, content []byte) (*AnalysisResponse, error) {
	result := f.processor.ProcessFile(ctx, filename, content)
	return f.withNarrative(ctx, result), nil
}

// Screenshot captures and analyzes the current screen.
func (f *Facade) Screenshot(ctx context.Context) (*AnalysisResponse, error) {
	result := f.processor.CaptureScreenshot(ctx)
	return f.withNarrative(ctx, result), nil
}

func (f *Facade) withNarrative(ctx context.Context, result multimodal.Result) *AnalysisResponse {
	resp := &AnalysisResponse{Result: result}
	if !result.Success || result.Prompt == "" {
		return resp
	}

	llmCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	narrative, err := f.llm.Complete(llmCtx, result.Prompt)
	if err != nil {
		log.Printf("narrative pass failed: %v", err)
		resp.AIAnalysis = "AI commentary is unavailable right now. The structured analysis above is complete."
		return resp
	}
	resp.AIAnalysis = narrative
	return resp
}

// RecordFileAnalysis appends a system message about an automatically
// analyzed file to the active session. Used by the drop-folder watcher.
func (f *Facade) RecordFileAnalysis(ctx context.Context, filename string, resp *AnalysisResponse) error {
	sessionID, err := f.memory.GetOrCreateSession(ctx, f.userID)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Automatically analyzed dropped file %q", filename)
	if !resp.Success {
		content = fmt.Sprintf("Failed to analyze dropped file %q: %s", filename, resp.Error)
	}

	_, err = f.memory.AddMessage(ctx, memory.AddMessageParams{
		UserID:    f.userID,
		SessionID: sessionID,
		Sender:    memory.SenderAssistant,
		Content:   content,
		Type:      memory.TypeSystem,
	})
	return err
}

// DiagramResponse carries templated diagram markup plus model commentary.
type DiagramResponse struct {
	Success       bool     `json:"success"`
	DiagramType   string   `json:"diagram_type"`
	Markup        string   `json:"diagram_markup"`
	AISuggestions string   `json:"ai_suggestions"`
	Visualization *Payload `json:"visualization"`
}

// Diagram emits templated Mermaid markup for the requested type and asks the
// model to critique it. Model failures degrade to a fixed notice.
func (f *Facade) Diagram(ctx context.Context, diagramType, content string) (*DiagramResponse, error) {
	d := multimodal.GenerateDiagram(diagramType, content)

	prompt := fmt.Sprintf(`I've generated a %s diagram in Mermaid syntax:

%s

The user asked for: %s

Please suggest how this diagram could be improved or extended to better match the request.`,
		d.DiagramType, d.Code, content)

	llmCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	suggestions, err := f.llm.Complete(llmCtx, prompt)
	if err != nil {
		log.Printf("diagram critique failed: %v", err)
		suggestions = "AI suggestions are unavailable right now."
	}

	return &DiagramResponse{
		Success:       true,
		DiagramType:   d.DiagramType,
		Markup:        d.Code,
		AISuggestions: suggestions,
		Visualization: NewMermaidPayload(summarize(content), d.Code),
	}, nil
}

// Memory exposes the underlying memory manager for read-side API handlers.
func (f *Facade) Memory() *memory.Manager { return f.memory }

// UserID returns the desktop user this facade serves.
func (f *Facade) UserID() string { return f.userID }

// Model reports the backing model's name.
func (f *Facade) Model() string { return f.llm.Model() }

// LLMHealth pings the model backend.
func (f *Facade) LLMHealth(ctx context.Context) error { return f.llm.Health(ctx) }
