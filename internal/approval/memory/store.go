// Package memory provides an in-process approval.Store used by tests and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"rwaadmin/internal/approval"
)

// Store keeps requests and ledgers in maps. Each request has its own lock, so
// appends to different requests never contend.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*approval.Request
	records  map[string][]approval.Record
	order    []string
	locks    sync.Map // request id -> *sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		requests: make(map[string]*approval.Request),
		records:  make(map[string][]approval.Record),
	}
}

// CreateRequest implements approval.Store.
func (s *Store) CreateRequest(_ context.Context, req *approval.Request) error {
	if req == nil || strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("%w: request id is required", approval.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("%w: request %s already exists", approval.ErrConflict, req.ID)
	}
	s.requests[req.ID] = req.Clone()
	s.order = append(s.order, req.ID)
	return nil
}

// GetRequest implements approval.Store.
func (s *Store) GetRequest(_ context.Context, id string) (*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	return req.Clone(), nil
}

// ListRequests implements approval.Store. Results are newest first.
func (s *Store) ListRequests(_ context.Context, f approval.Filter) ([]*approval.Request, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*approval.Request, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.ActionClass != "" && req.ActionClass != f.ActionClass {
			continue
		}
		if f.TargetKind != "" && req.Target.Kind != f.TargetKind {
			continue
		}
		if f.TargetID != "" && req.Target.EntityID != f.TargetID {
			continue
		}
		matched = append(matched, req.Clone())
	}

	total := int64(len(matched))
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * f.Limit
		if start >= len(matched) {
			return []*approval.Request{}, total, nil
		}
		end := min(start+f.Limit, len(matched))
		matched = matched[start:end]
	}
	return matched, total, nil
}

// ListRecords implements approval.Store.
func (s *Store) ListRecords(_ context.Context, requestID string) ([]approval.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records[requestID]), nil
}

// Atomically implements approval.Store. Writes are staged on a private copy
// and published only when fn succeeds.
func (s *Store) Atomically(ctx context.Context, requestID string, fn func(ctx context.Context, tx approval.Tx) error) error {
	lock := s.lockFor(requestID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{store: s, id: requestID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) lockFor(id string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

type memTx struct {
	store    *Store
	id       string
	loaded   bool
	req      *approval.Request
	version  int
	records  []approval.Record
	appended []approval.Record
	updated  *approval.Request
}

func (t *memTx) load() error {
	if t.loaded {
		return nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	req, ok := t.store.requests[t.id]
	if !ok {
		return fmt.Errorf("%w: %s", approval.ErrNotFound, t.id)
	}
	t.req = req.Clone()
	t.version = req.Version
	t.records = slices.Clone(t.store.records[t.id])
	t.loaded = true
	return nil
}

func (t *memTx) Request(_ context.Context) (*approval.Request, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	if t.updated != nil {
		return t.updated.Clone(), nil
	}
	return t.req.Clone(), nil
}

func (t *memTx) ListFor(_ context.Context) ([]approval.Record, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	out := slices.Clone(t.records)
	return append(out, t.appended...), nil
}

func (t *memTx) Append(_ context.Context, rec approval.Record) (approval.Record, error) {
	if err := t.load(); err != nil {
		return approval.Record{}, err
	}
	for _, existing := range append(slices.Clone(t.records), t.appended...) {
		if existing.ApproverID == rec.ApproverID {
			return approval.Record{}, fmt.Errorf("%w: %s on %s", approval.ErrDuplicateApproval, rec.ApproverID, t.id)
		}
	}
	rec.RequestID = t.id
	rec.Seq = len(t.records) + len(t.appended) + 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	t.appended = append(t.appended, rec)
	return rec, nil
}

func (t *memTx) Update(_ context.Context, req *approval.Request) error {
	if err := t.load(); err != nil {
		return err
	}
	current := t.version
	if t.updated != nil {
		current = t.updated.Version
	}
	if req.Version != current {
		return fmt.Errorf("%w: %s expected version %d, have %d", approval.ErrConflict, t.id, req.Version, current)
	}
	req.Version++
	t.updated = req.Clone()
	return nil
}

func (t *memTx) commit() error {
	if !t.loaded || (t.updated == nil && len(t.appended) == 0) {
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	stored, ok := t.store.requests[t.id]
	if !ok {
		return fmt.Errorf("%w: %s", approval.ErrNotFound, t.id)
	}
	if stored.Version != t.version {
		return fmt.Errorf("%w: %s", approval.ErrConflict, t.id)
	}
	if t.updated != nil {
		t.store.requests[t.id] = t.updated
	}
	t.store.records[t.id] = append(t.store.records[t.id], t.appended...)
	return nil
}
