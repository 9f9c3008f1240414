package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regrun/pkg/model"
)

func TestMemoryStoreReplaceAndPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	a := model.NewTestCase([]model.Param{{Name: "a", Value: "1"}})
	b := model.NewTestCase([]model.Param{{Name: "a", Value: "2"}})
	require.NoError(t, s.ReplaceCases(ctx, []model.TestCase{a, b}))

	require.NoError(t, b.MarkCreated("/tmp/2"))
	require.NoError(t, s.PutCase(ctx, 1, b))

	cases, err := s.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, model.StatusPending, cases[0].Status)
	assert.Equal(t, model.StatusCreated, cases[1].Status)
	assert.Equal(t, "/tmp/2", cases[1].Directory)
}

func TestMemoryStoreWatch(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()

	events := s.WatchCases(ctx)
	tc := model.NewTestCase([]model.Param{{Name: "seed", Value: "7"}})
	require.NoError(t, s.PutCase(ctx, 0, tc))

	select {
	case ev := <-events:
		assert.Equal(t, CaseUpdate, ev.Type)
		assert.Equal(t, 0, ev.Index)
		require.NotNil(t, ev.Case)
		assert.Equal(t, "7", ev.Case.Name)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-events:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestCaseKeyOrdering(t *testing.T) {
	t.Parallel()
	assert.Less(t, caseKey(9), caseKey(10))
	idx, err := indexFromKey(caseKey(42))
	require.NoError(t, err)
	assert.Equal(t, 42, idx)
}
