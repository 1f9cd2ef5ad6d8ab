// Package mcpguard embeds the action validator in MCP tool-call
// handlers. Blocked calls come back as structured tool results the
// model can read and explain, not transport errors; only a validator
// that could not run at all fails the call outright.
package mcpguard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/action"
)

// StatusBlocked is the status field of a block payload.
const StatusBlocked = "TOOL_CALL_BLOCKED"

// Handler is the mcp-go tool handler shape this package wraps.
type Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// CallContext carries conversation identifiers into the validator's
// exfiltration and audit paths. All fields are optional.
type CallContext struct {
	OriginalRequest    string
	PreviousToolOutput string
	SessionID          string
	RequestID          string
}

// Guard screens MCP tool calls through the action validator.
type Guard struct {
	validator *action.Validator
	logger    *zap.SugaredLogger
}

// New creates a Guard around an existing validator.
func New(v *action.Validator, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{validator: v, logger: logger}
}

// GuardToolCall checks one MCP tool call. A blocked call returns a
// non-nil result carrying the security payload; the caller returns it
// to the model verbatim. An allowed call returns a nil result and the
// decision, and the caller proceeds to the real tool. Validator
// failures fail closed with an error result.
func (g *Guard) GuardToolCall(ctx context.Context, req mcp.CallToolRequest, cc CallContext) (*mcp.CallToolResult, *action.Decision, error) {
	tool := req.Params.Name
	if tool == "" {
		return mcp.NewToolResultError("Missing tool name in call"), nil, nil
	}
	args := req.GetArguments()

	decision, err := g.validator.Check(ctx, &action.Request{
		OriginalRequest:    cc.OriginalRequest,
		Proposed:           action.ProposedAction{Tool: tool, Params: args},
		PreviousToolOutput: cc.PreviousToolOutput,
		SessionID:          cc.SessionID,
		RequestID:          cc.RequestID,
	})
	if err != nil {
		// An unscannable call must not reach the tool.
		g.logger.Errorw("Tool call check failed", "tool", tool, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Security check failed for tool '%s': %v", tool, err)), nil, nil
	}
	if decision.Allowed {
		return nil, decision, nil
	}

	g.logger.Warnw("Tool call blocked",
		"tool", tool,
		"reason", decision.Reason,
		"session_id", cc.SessionID)
	return blockResult(tool, args, decision), decision, nil
}

// Wrap decorates a tool handler with the guard. The optional resolve
// function derives per-call context from the request; nil uses an empty
// context.
func (g *Guard) Wrap(next Handler, resolve func(ctx context.Context, req mcp.CallToolRequest) CallContext) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var cc CallContext
		if resolve != nil {
			cc = resolve(ctx, req)
		}
		blocked, _, err := g.GuardToolCall(ctx, req, cc)
		if err != nil {
			return nil, err
		}
		if blocked != nil {
			return blocked, nil
		}
		return next(ctx, req)
	}
}

// RecordToolOutput feeds a completed tool's output into the
// exfiltration tracker so later calls cannot smuggle it out.
func (g *Guard) RecordToolOutput(output string) {
	g.validator.RecordReadData(output)
}

// blockResult builds the structured security payload for one blocked
// call.
func blockResult(tool string, args map[string]interface{}, decision *action.Decision) *mcp.CallToolResult {
	payload := map[string]interface{}{
		"status":        StatusBlocked,
		"toolName":      tool,
		"requestedArgs": args,
		"reason":        decision.Reason,
		"message": fmt.Sprintf("SECURITY BLOCK: the call to '%s' was rejected by the action validator and did not run. Relay the reason to the user instead of retrying.",
			tool),
	}
	if decision.RequiresApproval && !decision.ApprovalGranted {
		payload["approval"] = "required and not granted"
	}

	jsonResult, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Security block: tool '%s' rejected (%s). Failed to serialize security response: %v", tool, decision.Reason, err))
	}
	return mcp.NewToolResultText(string(jsonResult))
}
