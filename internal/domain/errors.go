package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoProviderAvailable = errors.New("no AI provider available")
	ErrAllProvidersFailed  = errors.New("all AI providers failed")
	ErrEmptyMessage        = errors.New("customer message is empty")
	ErrTherapistNotFound   = errors.New("therapist not found")
)

// ProviderErrorKind classifies adapter failures.
type ProviderErrorKind string

const (
	ProviderErrHTTP    ProviderErrorKind = "http"
	ProviderErrTimeout ProviderErrorKind = "timeout"
	ProviderErrParse   ProviderErrorKind = "parse"
	ProviderErrNetwork ProviderErrorKind = "network"
)

// ProviderError is returned by adapters once their retry budget is spent.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Status   int
	Body     string
	Err      error
}

func (e *ProviderError) Error() string {
	switch e.Kind {
	case ProviderErrHTTP:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, truncate(e.Body, 200))
	case ProviderErrTimeout:
		return fmt.Sprintf("%s: request timed out", e.Provider)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s error", e.Provider, e.Kind)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError collects the per-provider causes of a failed turn.
type AllProvidersFailedError struct {
	Causes map[string]error
	Order  []string
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Order))
	for _, name := range e.Order {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Causes[name]))
	}
	return fmt.Sprintf("%v (%s)", ErrAllProvidersFailed, strings.Join(parts, "; "))
}

func (e *AllProvidersFailedError) Is(target error) bool { return target == ErrAllProvidersFailed }

func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Order))
	for _, name := range e.Order {
		errs = append(errs, e.Causes[name])
	}
	return errs
}

// ToolArgumentError marks arguments the model produced that could not be used.
type ToolArgumentError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ToolArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s: invalid arguments: %s: %v", e.Tool, e.Reason, e.Err)
	}
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Reason)
}

func (e *ToolArgumentError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a failure of the external call behind a tool.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// EmailAddressInvalidError is returned before any send when a derived address
// is empty or malformed.
type EmailAddressInvalidError struct {
	Address string
	Reason  string
}

func (e *EmailAddressInvalidError) Error() string {
	if e.Address == "" {
		return "invalid email address: " + e.Reason
	}
	return fmt.Sprintf("invalid email address %q: %s", e.Address, e.Reason)
}

// Excerpt shortens s to at most n runes for log output.
func Excerpt(s string, n int) string {
	return truncate(s, n)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
