// Package records owns the ordered collection of test cases and serializes
// every mutation per case.
package records

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"regrun/pkg/model"
	"regrun/pkg/store"
)

var ErrIndexOutOfRange = errors.New("test case index out of range")

// Handle is a stable reference to one record. It stays valid after the store
// is replaced; updates through a stale handle are not persisted.
type Handle struct {
	mu    sync.Mutex
	index int
	gen   uint64
	tc    model.TestCase
}

func (h *Handle) Index() int { return h.index }

// Get returns a copy of the record.
func (h *Handle) Get() model.TestCase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tc.Clone()
}

type Store struct {
	mu         sync.RWMutex
	handles    []*Handle
	generation uint64

	persist store.Store
	logger  *zap.Logger
}

func New(persist store.Store, logger *zap.Logger) *Store {
	if persist == nil {
		persist = store.NewMemoryStore()
	}
	return &Store{persist: persist, logger: logger.Named("records")}
}

// Restore loads previously persisted records.
func (s *Store) Restore(ctx context.Context) error {
	cases, err := s.persist.ListCases(ctx)
	if err != nil {
		return fmt.Errorf("restore records: %w", err)
	}
	for i := range cases {
		if err := cases[i].Validate(); err != nil {
			return fmt.Errorf("restore record %d: %w", i, err)
		}
	}
	s.install(cases)
	s.logger.Info("records restored", zap.Int("cases", len(cases)))
	return nil
}

// Replace installs a freshly parsed matrix. It persists and bumps the
// generation under the store lock.
func (s *Store) Replace(ctx context.Context, cases []model.TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist.ReplaceCases(ctx, cases); err != nil {
		// 持久化失败不影响内存状态
		s.logger.Warn("persist records", zap.Error(err))
	}
	s.installLocked(cases)
}

func (s *Store) install(cases []model.TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installLocked(cases)
}

func (s *Store) installLocked(cases []model.TestCase) {
	s.generation++
	handles := make([]*Handle, len(cases))
	for i, tc := range cases {
		handles[i] = &Handle{index: i, gen: s.generation, tc: tc.Clone()}
	}
	s.handles = handles
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

func (s *Store) Handle(index int) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.handles) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return s.handles[index], nil
}

// Handles returns the current handles in matrix order.
func (s *Store) Handles() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Handle(nil), s.handles...)
}

func (s *Store) Get(index int) (model.TestCase, error) {
	h, err := s.Handle(index)
	if err != nil {
		return model.TestCase{}, err
	}
	return h.Get(), nil
}

// Snapshot copies every record.
func (s *Store) Snapshot() []model.TestCase {
	handles := s.Handles()
	cases := make([]model.TestCase, len(handles))
	for i, h := range handles {
		cases[i] = h.Get()
	}
	return cases
}

// Update runs fn on the record at index with the record lock held.
func (s *Store) Update(ctx context.Context, index int, fn func(*model.TestCase) error) error {
	h, err := s.Handle(index)
	if err != nil {
		return err
	}
	return s.UpdateHandle(ctx, h, fn)
}

// UpdateHandle runs fn on a working copy and commits it only if fn succeeds
// and the result satisfies the lifecycle invariants.
func (s *Store) UpdateHandle(ctx context.Context, h *Handle, fn func(*model.TestCase) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	working := h.tc.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	if working.Name != h.tc.Name {
		return fmt.Errorf("record %d: name is immutable", h.index)
	}
	if err := working.Validate(); err != nil {
		return fmt.Errorf("record %d: %w", h.index, err)
	}
	h.tc = working

	// 持有读锁直到写入完成，Replace 无法插入到检查和写入之间
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h.gen != s.generation {
		s.logger.Debug("update on replaced record", zap.Int("index", h.index))
		return nil
	}
	if err := s.persist.PutCase(ctx, h.index, working); err != nil {
		s.logger.Warn("persist record", zap.Int("index", h.index), zap.Error(err))
	}
	return nil
}
