package schemas

import (
	"context"
	"errors"
)

// -- Session Store Interface --

// SessionStore holds sessions for lookup by ID. Implementations are injected
// into the manager; there is no package-level registry.
type SessionStore interface {
	// Save inserts or replaces a session.
	Save(ctx context.Context, s *Session) error
	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// List returns all stored sessions, oldest first.
	List(ctx context.Context) ([]*Session, error)
	// Delete removes a session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
	MaxTokens       int     `json:"max_tokens"`        // Upper bound on the completion length. Zero means provider default.
}

// ChatTurn is one prior exchange replayed to the model, used to feed a bad
// response back with a correction.
type ChatTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ImagePart is an inline image attached to a request.
type ImagePart struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	History      []ChatTurn        `json:"history"`       // Turns appended after UserPrompt, oldest first.
	Images       []ImagePart       `json:"-"`             // Attached to the user prompt for vision requests.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections, SDK resources).
	Close() error
}

// -- Oracle Interface --

// ErrInvalidActionSchema is returned when the oracle keeps producing output
// that does not decode to an Action.
var ErrInvalidActionSchema = errors.New("LLM failed to generate valid action JSON")

// HistoryEntry is a compact record of a previous step fed back to the oracle.
type HistoryEntry struct {
	Action Action
	Result string
	Error  string
}

// Oracle decides the next action and answers vision questions.
type Oracle interface {
	GenerateAction(ctx context.Context, observation string, goals []string, history []HistoryEntry) (ActionProposal, error)
	AnalyzeImage(ctx context.Context, png []byte, prompt string) (string, error)
}
