package entities

import (
	"encoding/json"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"

	StopReasonToolUse = "tool_use"
	StopReasonEndTurn = "end_turn"
)

// ContentBlock mirrors the Messages API block shape so turns can be sent back verbatim.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type ChatTurn struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type CompletionRequest struct {
	Model     string
	System    string
	Messages  []ChatTurn
	Tools     []ToolSpec
	MaxTokens int
}

type CompletionResponse struct {
	Content    []ContentBlock
	StopReason string
}

// Text joins every text block of the response.
func (r *CompletionResponse) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, block := range r.Content {
		if block.Type == BlockText && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *CompletionResponse) ToolUses() []ContentBlock {
	if r == nil {
		return nil
	}
	var uses []ContentBlock
	for _, block := range r.Content {
		if block.Type == BlockToolUse {
			uses = append(uses, block)
		}
	}
	return uses
}

func (r *CompletionResponse) WantsTools() bool {
	return r != nil && r.StopReason == StopReasonToolUse && len(r.ToolUses()) > 0
}
