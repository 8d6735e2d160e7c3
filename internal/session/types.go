// Package session owns the conversation session lifecycle. Sessions are
// mutated only through the Machine's transition API; everything else reads.
package session

import (
	"time"

	"github.com/parleyhq/parley/internal/extract"
	"github.com/parleyhq/parley/internal/model/contract"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusError     Status = "error"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusError
}

// FieldValue is an accepted extraction result folded into a session. Source
// records whether the value came from the LLM or the pattern fallback so a
// later re-validation pass can tell them apart.
type FieldValue struct {
	Value      string         `json:"value"`
	Confidence int            `json:"confidence"`
	Source     extract.Source `json:"source"`
}

type Session struct {
	ID              string                `json:"id"`
	SchemaID        string                `json:"schemaId"`
	Status          Status                `json:"status"`
	ExtractedFields map[string]FieldValue `json:"extractedFields"`
	CompletedCount  int                   `json:"completedCount"`
	RequiredCount   int                   `json:"requiredCount"`
	ErrorReason     string                `json:"errorReason,omitempty"`
	StartedAt       time.Time             `json:"startedAt"`
	EndedAt         *time.Time            `json:"endedAt,omitempty"`
	LastActivityAt  time.Time             `json:"lastActivityAt"`
}

// FieldSnapshot flattens accepted values to a plain field→value map, the shape
// webhook payloads carry.
func (s *Session) FieldSnapshot() map[string]string {
	snapshot := make(map[string]string, len(s.ExtractedFields))
	for id, fv := range s.ExtractedFields {
		snapshot[id] = fv.Value
	}
	return snapshot
}

type Role string

const (
	RoleAgent   Role = "agent"
	RoleVisitor Role = "visitor"
)

// Message is one append-only transcript entry. Immutable once appended.
type Message struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"createdAt"`
	ValidationState  string    `json:"validationState,omitempty"`
	ValidationErrors []string  `json:"validationErrors,omitempty"`
}

func (m Message) ToContractMessage() contract.Message {
	role := "user"
	if m.Role == RoleAgent {
		role = "assistant"
	}
	return contract.Message{Role: role, Content: m.Content}
}

// ToContractMessages converts a transcript for model consumption.
func ToContractMessages(messages []Message) []contract.Message {
	out := make([]contract.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ToContractMessage())
	}
	return out
}
