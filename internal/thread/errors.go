package thread

import (
	"errors"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/provider"
)

// Error is the user-facing classification of a stream failure. Header is a
// short category line; Message is the full human-readable explanation.
type Error struct {
	Header  string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Header
	}
	return e.Header + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// classifyError maps a provider failure onto the error taxonomy, most
// specific category first. The generic case never swallows the cause chain.
func classifyError(err error) *Error {
	var payment provider.PaymentRequiredError
	var spend provider.MonthlySpendLimitError
	var limit provider.RequestLimitError
	var window provider.ContextWindowError

	switch {
	case errors.As(err, &payment):
		return &Error{
			Header:  "Payment required",
			Message: "You have no credit remaining. Add credit to continue.",
			cause:   err,
		}
	case errors.As(err, &spend):
		return &Error{
			Header:  "Monthly spend limit reached",
			Message: "You have reached your configured maximum monthly spend.",
			cause:   err,
		}
	case errors.As(err, &limit):
		return &Error{
			Header:  "Model request limit reached",
			Message: fmt.Sprintf("You have reached the model request limit for the %s plan.", limit.Plan),
			cause:   err,
		}
	case errors.As(err, &window):
		return &Error{
			Header:  "Context window exceeded",
			Message: fmt.Sprintf("The conversation is too long for this model (%d tokens).", window.TokenCount),
			cause:   err,
		}
	default:
		return &Error{
			Header:  "Error interacting with language model",
			Message: causeChain(err),
			cause:   err,
		}
	}
}

// causeChain joins every error in the unwrap chain so nested causes are not
// lost behind a top-level summary.
func causeChain(err error) string {
	var parts []string
	seen := map[string]bool{}
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if !seen[msg] {
			parts = append(parts, msg)
			seen[msg] = true
		}
	}
	return strings.Join(parts, "\n")
}
