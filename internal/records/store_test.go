package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regrun/pkg/model"
	"regrun/pkg/store"
)

func matrix(values ...string) []model.TestCase {
	cases := make([]model.TestCase, 0, len(values))
	for _, v := range values {
		cases = append(cases, model.NewTestCase([]model.Param{{Name: "seed", Value: v}}))
	}
	return cases
}

func TestStoreIndexedAccess(t *testing.T) {
	t.Parallel()
	s := New(nil, zap.NewNop())
	s.Replace(context.Background(), matrix("1", "2"))

	require.Equal(t, 2, s.Len())
	tc, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "2", tc.Name)

	_, err = s.Get(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = s.Get(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestStoreUpdateEnforcesInvariants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	s.Replace(ctx, matrix("1"))

	err := s.Update(ctx, 0, func(tc *model.TestCase) error {
		tc.Status = model.StatusRunning
		return nil
	})
	require.Error(t, err)

	tc, _ := s.Get(0)
	assert.Equal(t, model.StatusPending, tc.Status, "rejected update must not be committed")

	err = s.Update(ctx, 0, func(tc *model.TestCase) error {
		tc.Name = "renamed"
		return nil
	})
	require.Error(t, err)

	require.NoError(t, s.Update(ctx, 0, func(tc *model.TestCase) error {
		return tc.MarkCreated("/work/1")
	}))
	tc, _ = s.Get(0)
	assert.Equal(t, model.StatusCreated, tc.Status)
}

func TestStoreUpdateCallbackErrorLeavesRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	s.Replace(ctx, matrix("1"))

	boom := errors.New("boom")
	err := s.Update(ctx, 0, func(tc *model.TestCase) error {
		tc.LogPreview = "half written"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	tc, _ := s.Get(0)
	assert.Empty(t, tc.LogPreview)
}

func TestStorePersistsAndRestores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	persist := store.NewMemoryStore()

	s := New(persist, zap.NewNop())
	s.Replace(ctx, matrix("1", "2"))
	require.NoError(t, s.Update(ctx, 1, func(tc *model.TestCase) error {
		return tc.MarkCreated("/work/2")
	}))

	restored := New(persist, zap.NewNop())
	require.NoError(t, restored.Restore(ctx))
	tc, err := restored.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "/work/2", tc.Directory)
	assert.Equal(t, model.StatusCreated, tc.Status)
}

func TestStoreStaleHandleNotPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	persist := store.NewMemoryStore()
	s := New(persist, zap.NewNop())
	s.Replace(ctx, matrix("1"))

	stale, err := s.Handle(0)
	require.NoError(t, err)
	s.Replace(ctx, matrix("9"))

	require.NoError(t, s.UpdateHandle(ctx, stale, func(tc *model.TestCase) error {
		return tc.MarkCreated("/work/1")
	}))

	cases, err := persist.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "9", cases[0].Name)
	assert.Equal(t, model.StatusPending, cases[0].Status)
}

// gatedStore 在 ReplaceCases 中停住，直到 release 被关闭
type gatedStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) ReplaceCases(ctx context.Context, cases []model.TestCase) error {
	close(g.entered)
	<-g.release
	return g.MemoryStore.ReplaceCases(ctx, cases)
}

func TestStoreOldHandleCannotOverwriteDuringReplace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	s := New(mem, zap.NewNop())
	s.Replace(ctx, matrix("1"))
	old, err := s.Handle(0)
	require.NoError(t, err)

	gated := &gatedStore{MemoryStore: mem, entered: make(chan struct{}), release: make(chan struct{})}
	s.persist = gated

	replaced := make(chan struct{})
	go func() {
		defer close(replaced)
		s.Replace(ctx, matrix("9"))
	}()
	<-gated.entered

	updated := make(chan error, 1)
	go func() {
		updated <- s.UpdateHandle(ctx, old, func(tc *model.TestCase) error {
			return tc.MarkCreated("/work/1")
		})
	}()
	assert.Never(t, func() bool { return len(updated) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(gated.release)
	<-replaced
	require.NoError(t, <-updated)

	cases, err := mem.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "9", cases[0].Name)
	assert.Equal(t, model.StatusPending, cases[0].Status)
}

func TestStoreSerializesPerCase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil, zap.NewNop())
	s.Replace(ctx, matrix("1"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, 0, func(tc *model.TestCase) error {
				return tc.MarkCreated("/work/1")
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}
