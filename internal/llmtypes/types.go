package llmtypes

import "context"

// Model is the core interface for LLM implementations.
type Model interface {
	GenerateContent(ctx context.Context, messages []MessageContent, options ...CallOption) (*ContentResponse, error)
}

// ChatMessageType represents the role of a chat message.
type ChatMessageType string

const (
	ChatMessageTypeSystem  ChatMessageType = "system"
	ChatMessageTypeHuman   ChatMessageType = "human"
	ChatMessageTypeAI      ChatMessageType = "ai"
	ChatMessageTypeGeneric ChatMessageType = "generic"
)

// ContentPart is an interface for different types of message parts.
type ContentPart interface{}

// TextContent represents a text content part.
type TextContent struct {
	Text string
}

// BinaryContent represents inline binary data, e.g. a screenshot attached
// to a vision prompt.
type BinaryContent struct {
	MIMEType string
	Data     []byte
}

// MessageContent represents a message in the conversation.
type MessageContent struct {
	Role  ChatMessageType
	Parts []ContentPart
}

// ContentResponse represents the response from an LLM.
type ContentResponse struct {
	Choices []*ContentChoice
}

// ContentChoice represents a single choice in the response.
type ContentChoice struct {
	Content        string
	StopReason     string
	GenerationInfo map[string]interface{}
}

// Usage represents token usage information.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// CallOptions holds all call options for LLM generation.
type CallOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// CallOption is a function type for setting call options.
type CallOption func(*CallOptions)
