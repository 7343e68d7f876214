package provider

import "fmt"

// PaymentRequiredError indicates the account has no credit left.
type PaymentRequiredError struct{}

func (PaymentRequiredError) Error() string { return "payment required" }

// MonthlySpendLimitError indicates the configured monthly spending cap was hit.
type MonthlySpendLimitError struct{}

func (MonthlySpendLimitError) Error() string { return "maximum monthly spend reached" }

// RequestLimitError indicates the plan's model request quota was exhausted.
type RequestLimitError struct {
	Plan string
}

func (e RequestLimitError) Error() string {
	return fmt.Sprintf("model request limit reached for plan %s", e.Plan)
}

// ContextWindowError indicates the rendered request exceeded the model's
// context window. TokenCount is the size the provider measured, which is
// authoritative over any client-side estimate.
type ContextWindowError struct {
	TokenCount int64
}

func (e ContextWindowError) Error() string {
	return fmt.Sprintf("prompt too long: %d tokens", e.TokenCount)
}
