package output

// Error codes agents can branch on. Stable across releases.
const (
	ErrCodeConfigNotFound      = "CONFIG_NOT_FOUND"
	ErrCodePolicyInvalid       = "POLICY_INVALID"
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeDaemonNotRunning    = "DAEMON_NOT_RUNNING"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodeConnectionFailed    = "CONNECTION_FAILED"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

// StructuredError is a CLI failure with machine-parseable metadata, so
// an agent driving the CLI can recover without scraping prose.
type StructuredError struct {
	// Code is a machine-readable error identifier (e.g., "CONFIG_NOT_FOUND")
	Code string `json:"code" yaml:"code"`

	// Message is a human-readable error description
	Message string `json:"message" yaml:"message"`

	// Guidance provides context on why this error occurred
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`

	// RecoveryCommand suggests a command to fix the issue
	RecoveryCommand string `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`

	// Context contains additional structured data about the error
	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`

	// RequestID is the daemon-generated request ID for log correlation
	RequestID string `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// NewStructuredError creates a StructuredError with the given code and
// message. The With* builders fill in the optional fields.
func NewStructuredError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

// FromError wraps a plain error under the given code. A StructuredError
// passes through with its original code intact.
func FromError(err error, code string) StructuredError {
	if serr, ok := err.(StructuredError); ok {
		return serr
	}
	return NewStructuredError(code, err.Error())
}

func (e StructuredError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.RecoveryCommand != "" {
		msg += " (try: " + e.RecoveryCommand + ")"
	}
	return msg
}

// WithGuidance adds guidance to the error.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithRecoveryCommand adds a recovery command suggestion.
func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

// WithContext adds one context field to the error.
func (e StructuredError) WithContext(key string, value interface{}) StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID adds a request ID for log correlation.
func (e StructuredError) WithRequestID(requestID string) StructuredError {
	e.RequestID = requestID
	return e
}
