package quality

import (
	"fmt"
	"strings"
)

// RejectionError carries the blocking outcomes of a refused write. Nothing
// is persisted when it is returned; the caller must correct and resubmit.
type RejectionError struct {
	Reasons []Outcome
}

func (e *RejectionError) Error() string {
	codes := make([]string, len(e.Reasons))
	for i, o := range e.Reasons {
		codes[i] = o.RuleCode
	}
	return fmt.Sprintf("write rejected: %s", strings.Join(codes, ", "))
}

// AckRequiredError is a recoverable precondition, not a failure: the write
// is accepted once the caller resubmits with a non-empty justification.
type AckRequiredError struct {
	Reasons []Outcome
}

func (e *AckRequiredError) Error() string {
	codes := make([]string, len(e.Reasons))
	for i, o := range e.Reasons {
		codes[i] = o.RuleCode
	}
	return fmt.Sprintf("acknowledgment required: %s", strings.Join(codes, ", "))
}

// InfraError wraps a storage-layer failure. It is always retryable and is
// never surfaced to end users as a data-quality message.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Retryable distinguishes infrastructure failures from validation
// rejections at API boundaries.
func (e *InfraError) Retryable() bool { return true }
