package contracts

import (
	"strings"

	"github.com/aegis-gate/aegisgate-go/internal/action"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
)

// ParseContentSource maps the wire-level source names onto quarantine
// sources. Short aliases are accepted alongside the canonical names so
// `--source tool` and `"source": "tool_output"` mean the same thing.
// Anything unrecognized comes back as unknown, never as an error: a
// caller that cannot name its source still gets an untrusted scan.
func ParseContentSource(s string) quarantine.ContentSource {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "user_input":
		return quarantine.SourceUserInput
	case "tool", "tool_output":
		return quarantine.SourceToolOutput
	case "mcp", "mcp_tool_output":
		return quarantine.SourceMCPToolOutput
	case "web", "web_content":
		return quarantine.SourceWebContent
	case "rag", "rag_retrieval":
		return quarantine.SourceRAGRetrieval
	case "api", "api_response":
		return quarantine.SourceAPIResponse
	case "file", "file_upload":
		return quarantine.SourceFileUpload
	case "email":
		return quarantine.SourceEmail
	case "database", "db":
		return quarantine.SourceDatabase
	case "model", "model_output":
		return quarantine.SourceModelOutput
	default:
		return quarantine.SourceUnknown
	}
}

// Quarantined wraps the request text with its declared source.
func (r *ScanRequest) Quarantined() quarantine.Quarantined[string] {
	return quarantine.Wrap(r.Text, ParseContentSource(r.Source))
}

// ActionRequest converts the flat wire shape into the validator's
// request type.
func (r *ValidateActionRequest) ActionRequest() *action.Request {
	return &action.Request{
		OriginalRequest:    r.OriginalRequest,
		PreviousToolOutput: r.PreviousToolOutput,
		SessionID:          r.SessionID,
		Proposed: action.ProposedAction{
			Tool:   r.Tool,
			Params: r.Params,
		},
	}
}
