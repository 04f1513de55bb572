package hooks

import (
	"encoding/json"
	"fmt"
	"io"
)

// claudeCode speaks the PreToolUse hook protocol: the event arrives on stdin
// and a hookSpecificOutput object carries the permission decision.
type claudeCode struct{}

type claudeEvent struct {
	HookEventName string         `json:"hook_event_name"`
	ToolName      string         `json:"tool_name"`
	ToolInput     map[string]any `json:"tool_input"`
}

type claudeOutput struct {
	HookSpecificOutput *claudeDecision `json:"hookSpecificOutput,omitempty"`
}

type claudeDecision struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

func (claudeCode) Decode(r io.Reader) (*Call, error) {
	var ev claudeEvent
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("hooks: decode claude-code event: %w", err)
	}
	return &Call{Event: ev.HookEventName, ToolName: ev.ToolName, ToolInput: ev.ToolInput}, nil
}

// Encode writes an empty object on allow so the agent's normal permission
// flow still applies.
func (claudeCode) Encode(w io.Writer, call *Call, d Decision) error {
	var out claudeOutput
	if !d.Allow {
		event := call.Event
		if event == "" {
			event = "PreToolUse"
		}
		out.HookSpecificOutput = &claudeDecision{
			HookEventName:            event,
			PermissionDecision:       "deny",
			PermissionDecisionReason: d.Reason,
		}
	}
	return json.NewEncoder(w).Encode(out)
}

// geminiCLI speaks the BeforeTool hook protocol, which answers with a
// top-level decision and reason.
type geminiCLI struct{}

type geminiEvent struct {
	HookEventName string         `json:"hook_event_name"`
	ToolName      string         `json:"tool_name"`
	ToolInput     map[string]any `json:"tool_input"`
}

type geminiOutput struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

func (geminiCLI) Decode(r io.Reader) (*Call, error) {
	var ev geminiEvent
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("hooks: decode gemini-cli event: %w", err)
	}
	return &Call{Event: ev.HookEventName, ToolName: ev.ToolName, ToolInput: ev.ToolInput}, nil
}

func (geminiCLI) Encode(w io.Writer, _ *Call, d Decision) error {
	out := geminiOutput{Decision: "allow"}
	if !d.Allow {
		out = geminiOutput{Decision: "deny", Reason: d.Reason}
	}
	return json.NewEncoder(w).Encode(out)
}
