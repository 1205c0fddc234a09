package errors

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Kind classifies a workflow failure so callers can decide whether to abort
// the run or log a warning and move on to the next secret.
type Kind int

const (
	KindUnknown Kind = iota
	ClusterUnreachable
	CredentialNotFound
	KeyIssuanceFailed
	SecretPersistenceFailed
	PrerequisiteMissing
	ConfigurationInvalid
)

func (k Kind) String() string {
	switch k {
	case ClusterUnreachable:
		return "ClusterUnreachable"
	case CredentialNotFound:
		return "CredentialNotFound"
	case KeyIssuanceFailed:
		return "KeyIssuanceFailed"
	case SecretPersistenceFailed:
		return "SecretPersistenceFailed"
	case PrerequisiteMissing:
		return "PrerequisiteMissing"
	case ConfigurationInvalid:
		return "ConfigurationInvalid"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrClusterUnreachable      = &Error{Kind: ClusterUnreachable}
	ErrCredentialNotFound      = &Error{Kind: CredentialNotFound}
	ErrKeyIssuanceFailed       = &Error{Kind: KeyIssuanceFailed}
	ErrSecretPersistenceFailed = &Error{Kind: SecretPersistenceFailed}
	ErrPrerequisiteMissing     = &Error{Kind: PrerequisiteMissing}
	ErrConfigurationInvalid    = &Error{Kind: ConfigurationInvalid}
)

// Error is a classified failure from one of the bootstrap stages.
type Error struct {
	Kind       Kind
	Message    string
	Details    string
	Suggestion string
	// Raw holds the unparsed upstream payload, kept for diagnosis.
	Raw string
	Err error
}

// New creates a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Details != "" {
		b.WriteString("\n  Details: " + e.Details)
	}
	if e.Suggestion != "" {
		b.WriteString("\n  💡 Try: " + e.Suggestion)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Is lets a ConfigError satisfy errors.Is(err, ErrConfigurationInvalid).
func (e ConfigError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == ConfigurationInvalid
}

// CommandError represents a failed gcloud/kubectl invocation
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// NewCommandError builds a CommandError from an executor failure, pulling the
// exit code out of *exec.ExitError and the message out of stderr.
func NewCommandError(name string, args []string, stderr []byte, err error) CommandError {
	ce := CommandError{
		Command: strings.TrimSpace(name + " " + firstArgs(args, 3)),
		Message: strings.TrimSpace(string(stderr)),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
	}
	if ce.Message == "" && err != nil {
		ce.Message = err.Error()
	}
	ce.Suggestion = getCommandSuggestion(name, ce.Message)
	return ce
}

// firstArgs keeps error messages free of trailing arguments, which may
// carry credentials.
func firstArgs(args []string, n int) string {
	if len(args) > n {
		args = args[:n]
	}
	return strings.Join(args, " ")
}

func getCommandSuggestion(command, msg string) string {
	switch command {
	case "gcloud":
		switch {
		case strings.Contains(msg, "not currently have an active account"),
			strings.Contains(msg, "Reauthentication"):
			return "Run 'gcloud auth login' and retry"
		case strings.Contains(msg, "PERMISSION_DENIED"):
			return "Check that your account has the required IAM roles on the project"
		case strings.Contains(msg, "NOT_FOUND"), strings.Contains(msg, "was not found"):
			return "Verify the resource name, region and project ID"
		}
	case "kubectl":
		switch {
		case strings.Contains(msg, "NotFound"), strings.Contains(msg, "not found"):
			return "Verify the namespace and that the Elasticsearch cluster is deployed"
		case strings.Contains(msg, "Unable to connect"), strings.Contains(msg, "connection refused"):
			return "Check cluster connectivity; re-run 'gcloud container clusters get-credentials'"
		}
	}
	return ""
}

// WrapCommandNotFound wraps command not found errors with install hints.
func WrapCommandNotFound(command string, err error) error {
	suggestions := map[string]string{
		"gcloud":  "Install the Google Cloud SDK from https://cloud.google.com/sdk/docs/install",
		"kubectl": "Install kubectl with 'gcloud components install kubectl'",
		"curl":    "Install curl with your system package manager",
	}

	suggestion := suggestions[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	}

	return &Error{
		Kind:       PrerequisiteMissing,
		Message:    fmt.Sprintf("'%s' command not found", command),
		Suggestion: suggestion,
		Err:        err,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"unavailable",
		"rate limit",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
