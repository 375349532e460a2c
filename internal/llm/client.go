package llm

import "context"

// Client is the text-completion surface the rest of the system depends on.
// The model behind it is opaque: callers hand over one assembled prompt and
// receive one assistant reply.
type Client interface {
	// Complete sends a prompt and returns the assistant's reply.
	Complete(ctx context.Context, prompt string) (string, error)

	// Health reports whether the backing model endpoint is reachable.
	Health(ctx context.Context) error

	// Model returns the configured model name for status reporting.
	Model() string
}
