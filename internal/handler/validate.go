package handler

import (
	"fmt"
	"strings"

	"paygate-api/pkg/llm"
)

// fieldError pairs a request field with its rejection reason.
type fieldError struct {
	Field  string
	Reason string
}

func (e fieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

var validRoles = map[string]bool{
	llm.RoleSystem:    true,
	llm.RoleUser:      true,
	llm.RoleAssistant: true,
	llm.RoleTool:      true,
}

// validateChatRequest checks a decoded completion request field by field
// before it ever reaches the gate or a provider.
func validateChatRequest(req *llm.ChatRequest) *fieldError {
	if strings.TrimSpace(req.Model) == "" {
		return &fieldError{Field: "model", Reason: "model is required"}
	}
	if len(req.Messages) == 0 {
		return &fieldError{Field: "messages", Reason: "at least one message is required"}
	}
	for i, msg := range req.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		if !validRoles[msg.Role] {
			return &fieldError{Field: field + ".role", Reason: fmt.Sprintf("unknown role %q", msg.Role)}
		}
		if msg.Role == llm.RoleTool && msg.ToolCallID == "" {
			return &fieldError{Field: field + ".tool_call_id", Reason: "tool messages must reference a tool call"}
		}
		if msg.Content == "" && len(msg.Parts) == 0 && len(msg.ToolCalls) == 0 && msg.Role != llm.RoleAssistant {
			return &fieldError{Field: field + ".content", Reason: "content is required"}
		}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return &fieldError{Field: "temperature", Reason: "must be between 0 and 2"}
	}
	if req.TopP != nil && (*req.TopP <= 0 || *req.TopP > 1) {
		return &fieldError{Field: "top_p", Reason: "must be in (0, 1]"}
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return &fieldError{Field: "max_tokens", Reason: "must be positive"}
	}
	for i, tool := range req.Tools {
		if strings.TrimSpace(tool.Function.Name) == "" {
			return &fieldError{Field: fmt.Sprintf("tools[%d].function.name", i), Reason: "name is required"}
		}
	}
	if req.ToolChoice != nil && req.ToolChoice.Mode != "" {
		switch req.ToolChoice.Mode {
		case llm.ToolChoiceAuto, llm.ToolChoiceNone, llm.ToolChoiceFunction:
		default:
			return &fieldError{Field: "tool_choice", Reason: fmt.Sprintf("unknown mode %q", req.ToolChoice.Mode)}
		}
	}
	return nil
}
