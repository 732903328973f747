// Package convstore is the append-only, session-scoped conversation log.
//
// A session is keyed by an identifier derived from the project directory
// (sanitized name plus a stable hash of the absolute path) so a restarted
// process resumes the same conversation. Turns are persisted one JSONL
// record per line, fully formed or not at all; thinking blocks are live-only
// and stripped at write time. A reset allocates a fresh session identifier
// and leaves prior history untouched.
package convstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// BlockType discriminates content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
)

// ResultStatus is the outcome of a tool execution.
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// ToolCallBlock is a model-requested tool invocation. The id is unique
// within the session.
type ToolCallBlock struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultBlock is the outcome of exactly one ToolCallBlock.
type ToolResultBlock struct {
	ToolCallID  string       `json:"tool_call_id"`
	Status      ResultStatus `json:"status"`
	Payload     string       `json:"payload"`
	DisplayHint string       `json:"display_hint,omitempty"`
}

// Block is a tagged union over the content block variants.
type Block struct {
	Type       BlockType        `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolCall   *ToolCallBlock   `json:"tool_call,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

// TextBlock creates a text Block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolCallBlockOf creates a tool call Block.
func ToolCallBlockOf(id, name string, args json.RawMessage) Block {
	return Block{Type: BlockToolCall, ToolCall: &ToolCallBlock{ID: id, Name: name, Arguments: args}}
}

// ToolResultBlockOf creates a tool result Block.
func ToolResultBlockOf(toolCallID string, status ResultStatus, payload, displayHint string) Block {
	return Block{Type: BlockToolResult, ToolResult: &ToolResultBlock{
		ToolCallID:  toolCallID,
		Status:      status,
		Payload:     payload,
		DisplayHint: displayHint,
	}}
}

// ThinkingBlock creates a thinking Block. Thinking never reaches disk: the
// store strips it before persisting.
func ThinkingBlock(text string) Block {
	return Block{Type: BlockThinking, Text: text}
}

// Turn is one conversation exchange unit. Turns are strictly ordered within
// a session.
type Turn struct {
	ID        string    `json:"turn_id"`
	Role      Role      `json:"role"`
	Blocks    []Block   `json:"blocks"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a Turn with a fresh id and timestamp.
func NewTurn(role Role, blocks ...Block) Turn {
	return Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Blocks:    blocks,
		Timestamp: time.Now().UTC(),
	}
}

// TextContent returns the concatenation of the turn's text blocks.
func (t Turn) TextContent() string {
	var out string
	for _, b := range t.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the turn's tool call blocks.
func (t Turn) ToolCalls() []ToolCallBlock {
	var calls []ToolCallBlock
	for _, b := range t.Blocks {
		if b.Type == BlockToolCall && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// stripThinking returns a copy of the turn with thinking blocks removed.
func (t Turn) stripThinking() Turn {
	blocks := make([]Block, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		if b.Type == BlockThinking {
			continue
		}
		blocks = append(blocks, b)
	}
	out := t
	out.Blocks = blocks
	return out
}
