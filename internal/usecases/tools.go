package usecases

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
)

const (
	ToolUpdateContact   = "update_contact"
	ToolMarkNameAsked   = "mark_name_asked"
	ToolTransferToHuman = "transfer_to_human"
	ToolOfferOptions    = "offer_options"

	maxOptions      = 10
	maxOptionTitle  = 24
	minOptionsCount = 2
)

// ToolCall is one validated tool invocation. The concrete type names the tool.
type ToolCall interface {
	ToolName() string
}

type UpdateContactCall struct {
	Name      string `json:"name"`
	Confirmed *bool  `json:"confirmed"`
}

type MarkNameAskedCall struct{}

type TransferToHumanCall struct {
	Reason string `json:"reason"`
}

type OfferOptionsCall struct {
	Options []string `json:"options"`
}

func (UpdateContactCall) ToolName() string   { return ToolUpdateContact }
func (MarkNameAskedCall) ToolName() string   { return ToolMarkNameAsked }
func (TransferToHumanCall) ToolName() string { return ToolTransferToHuman }
func (OfferOptionsCall) ToolName() string    { return ToolOfferOptions }

// ToolResult is the JSON payload returned to the model in a tool_result block.
type ToolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r ToolResult) JSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// ParseToolCall decodes and validates the raw input of a tool_use block.
func ParseToolCall(name string, input json.RawMessage) (ToolCall, error) {
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage("{}")
	}
	switch name {
	case ToolUpdateContact:
		var call UpdateContactCall
		if err := json.Unmarshal(input, &call); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidToolArgs, err)
		}
		call.Name = strings.TrimSpace(call.Name)
		if call.Name == "" {
			return nil, fmt.Errorf("%w: name is required", apperr.ErrInvalidToolArgs)
		}
		if call.Confirmed == nil || !*call.Confirmed {
			return nil, apperr.ErrNameNotConfirmed
		}
		return call, nil
	case ToolMarkNameAsked:
		return MarkNameAskedCall{}, nil
	case ToolTransferToHuman:
		var call TransferToHumanCall
		if err := json.Unmarshal(input, &call); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidToolArgs, err)
		}
		call.Reason = strings.TrimSpace(call.Reason)
		return call, nil
	case ToolOfferOptions:
		var call OfferOptionsCall
		if err := json.Unmarshal(input, &call); err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidToolArgs, err)
		}
		opts := make([]string, 0, len(call.Options))
		for _, o := range call.Options {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			if utf8.RuneCountInString(o) > maxOptionTitle {
				return nil, fmt.Errorf("%w: option %q is longer than %d characters", apperr.ErrInvalidToolArgs, o, maxOptionTitle)
			}
			opts = append(opts, o)
		}
		if len(opts) < minOptionsCount || len(opts) > maxOptions {
			return nil, fmt.Errorf("%w: between %d and %d options are required", apperr.ErrInvalidToolArgs, minOptionsCount, maxOptions)
		}
		call.Options = opts
		return call, nil
	default:
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownTool, name)
	}
}

// ButtonPrompt converts the offered options into the thread's awaiting state.
func (c OfferOptionsCall) ButtonPrompt() *entities.ButtonPrompt {
	prompt := &entities.ButtonPrompt{Options: make([]entities.ButtonOption, len(c.Options))}
	for i, title := range c.Options {
		prompt.Options[i] = entities.ButtonOption{ID: fmt.Sprintf("opt_%d", i+1), Title: title}
	}
	return prompt
}

// ToolSpecs lists the tools exposed to the completion service.
func ToolSpecs() []entities.ToolSpec {
	return []entities.ToolSpec{
		{
			Name: ToolUpdateContact,
			Description: "Save the customer's real name. Only call this when the customer has explicitly told you their name " +
				"in this conversation, and always pass confirmed=true.",
			InputSchema: json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "The customer's name exactly as they stated it."},
		"confirmed": {"type": "boolean", "description": "Must be true: the customer stated or corrected the name."}
	},
	"required": ["name", "confirmed"]
}`),
		},
		{
			Name:        ToolMarkNameAsked,
			Description: "Record that you asked the customer for their name in this reply.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		{
			Name: ToolTransferToHuman,
			Description: "Hand the conversation over to a human attendant. Use when the customer asks for a person, " +
				"is upset, or needs something you cannot do. Automated replies stop after this.",
			InputSchema: json.RawMessage(`{
	"type": "object",
	"properties": {
		"reason": {"type": "string", "description": "Short reason for the handover."}
	},
	"required": ["reason"]
}`),
		},
		{
			Name: ToolOfferOptions,
			Description: "Offer the customer a short list of choices. They are shown as buttons or a numbered list " +
				"after your reply, so do not repeat them in your text.",
			InputSchema: json.RawMessage(`{
	"type": "object",
	"properties": {
		"options": {"type": "array", "items": {"type": "string", "maxLength": 24}, "minItems": 2, "maxItems": 10}
	},
	"required": ["options"]
}`),
		},
	}
}
