package guard

import (
	"errors"
	"fmt"

	"github.com/aegis-gate/aegisgate-go/internal/scanner"
)

var (
	// ErrSessionQuarantined is returned for every GuardInput call on a
	// quarantined session, including the one that quarantined it.
	ErrSessionQuarantined = errors.New("session is quarantined")

	// ErrJudgeNotConfigured is returned by JudgeOutput when no judge
	// model is wired in or the judge is disabled.
	ErrJudgeNotConfigured = errors.New("llm judge is not configured")

	// ErrMultiModalNotConfigured is returned by ScanMedia when no media
	// extractor is wired in.
	ErrMultiModalNotConfigured = errors.New("media extractor is not configured")
)

// BlockedError reports a blocked input together with the scan evidence.
type BlockedError struct {
	ScanResult *scanner.Result
}

func (e *BlockedError) Error() string {
	if e.ScanResult == nil {
		return "input blocked"
	}
	return fmt.Sprintf("input blocked: score %.2f, %d detections",
		e.ScanResult.Score, len(e.ScanResult.Detections))
}

// TerminatedError reports a session killed by the terminate-session
// recovery mode.
type TerminatedError struct {
	SessionID  string
	ScanResult *scanner.Result
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("session %q terminated by security violation", e.SessionID)
}
