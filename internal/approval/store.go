package approval

import "context"

// Store persists requests and their approval ledger.
//
// Atomically is the single point of mutual exclusion: fn runs with exclusive
// access to the request, and everything written through tx commits only if fn
// returns nil. The ctx handed to fn carries the store's transaction so
// appliers writing to the same database join it.
type Store interface {
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListRequests(ctx context.Context, filter Filter) ([]*Request, int64, error)
	ListRecords(ctx context.Context, requestID string) ([]Record, error)
	Atomically(ctx context.Context, requestID string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of one request inside Store.Atomically.
type Tx interface {
	// Request returns the request as loaded under the lock, or ErrNotFound.
	Request(ctx context.Context) (*Request, error)
	// ListFor returns the ledger in append order.
	ListFor(ctx context.Context) ([]Record, error)
	// Append adds one record, assigning Seq. It fails with ErrDuplicateApproval
	// when the approver already has a record on the request.
	Append(ctx context.Context, rec Record) (Record, error)
	// Update writes the mutable request fields if req.Version still matches the
	// stored version, then increments req.Version. A mismatch yields ErrConflict.
	Update(ctx context.Context, req *Request) error
}
