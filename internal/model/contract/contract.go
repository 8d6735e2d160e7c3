package contract

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	JSONMode  bool      `json:"json_mode,omitempty"`
}

type CompletionResponse struct {
	Content string `json:"content"`
}

// StreamChunk is one partial-content update from a token stream. Content is
// cumulative: each chunk carries the full text produced so far, so consumers
// apply last-write-wins. Done marks the terminal chunk.
type StreamChunk struct {
	Content string            `json:"content"`
	Done    bool              `json:"done"`
	Fields  map[string]string `json:"extractedFields,omitempty"`
	Err     error             `json:"-"`
}
