package approval

import "errors"

var (
	// ErrPolicyNotFound means the action class has no registered policy. Callers must not proceed.
	ErrPolicyNotFound = errors.New("approval policy not found")
	// ErrUnauthorized means the actor may not perform the operation. No state was mutated.
	ErrUnauthorized = errors.New("not authorized")
	// ErrDuplicateApproval means the approver already has a record on the request.
	ErrDuplicateApproval = errors.New("approver already approved this request")
	// ErrNotPending means the request has left PENDING: it is READY awaiting
	// execution or in a terminal status, and accepts no more approvals.
	ErrNotPending = errors.New("approval request is no longer pending")
	// ErrNotReady means execute was called before the quorum was met.
	ErrNotReady = errors.New("approval request is not ready for execution")
	// ErrExpired means the request's expiry passed. The EXPIRED status has been persisted.
	ErrExpired = errors.New("approval request has expired")
	// ErrNotFound means the request does not exist.
	ErrNotFound = errors.New("approval request not found")
	// ErrNotSupported means the operation does not apply to the request's policy.
	ErrNotSupported = errors.New("operation not supported for this approval policy")
	// ErrConflict means a concurrent writer changed the request first.
	ErrConflict = errors.New("approval request was modified concurrently")
	// ErrInvalidInput means the caller supplied malformed input.
	ErrInvalidInput = errors.New("invalid approval input")
)

func isPolicyNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound)
}
