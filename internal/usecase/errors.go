package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrorRoutingFailed  ErrorCode = "ROUTING_FAILED"
	ErrorQueryWriter    ErrorCode = "QUERY_GENERATION_FAILED"
	ErrorQueryRejected  ErrorCode = "QUERY_REJECTED"
	ErrorQueryExecution ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrorAnswerFailed   ErrorCode = "ANSWER_GENERATION_FAILED"
	ErrorUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
)

// Error is the typed failure surfaced for a turn. Every node failure is fatal
// for its turn; only field decryption is recovered locally and never produces
// one of these.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
