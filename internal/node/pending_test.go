package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gra-p2p/gra/internal/models"
	"github.com/gra-p2p/gra/internal/p2p"
)

func TestTable_InsertDuplicate(t *testing.T) {
	table := NewTable[p2p.QueryID, struct{}]("test")

	require.NoError(t, table.Insert(1, NewCompletion[struct{}]()))
	err := table.Insert(1, NewCompletion[struct{}]())
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, table.Len())

	// The same id in another table does not collide.
	other := NewTable[p2p.QueryID, struct{}]("other")
	assert.NoError(t, other.Insert(1, NewCompletion[struct{}]()))
}

func TestTable_ResolveAbsent(t *testing.T) {
	table := NewTable[p2p.RequestID, int]("test")
	assert.False(t, table.Resolve(42, 1, nil))
	assert.Equal(t, 0, table.Len())
}

func TestTable_ResolveOnce(t *testing.T) {
	table := NewTable[p2p.RequestID, int]("test")
	c := NewCompletion[int]()
	require.NoError(t, table.Insert(7, c))

	assert.True(t, table.Resolve(7, 99, nil))
	assert.False(t, table.Resolve(7, 100, nil), "second resolve should be a no-op")
	assert.False(t, table.Has(7))

	v, err := c.Wait(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 99, v)

	select {
	case r := <-c:
		t.Fatalf("completion delivered twice: %+v", r)
	default:
	}
}

func TestTable_FailAll(t *testing.T) {
	table := NewTable[p2p.QueryID, string]("test")
	completions := make([]Completion[string], 5)
	for i := range completions {
		completions[i] = NewCompletion[string]()
		require.NoError(t, table.Insert(p2p.QueryID(i), completions[i]))
	}

	assert.Equal(t, 5, table.FailAll(ErrCancelled))
	assert.Equal(t, 0, table.Len())
	for _, c := range completions {
		_, err := c.Wait(context.Background(), nil)
		assert.ErrorIs(t, err, ErrCancelled)
	}
}

func TestCompletion_CompleteOnce(t *testing.T) {
	c := NewCompletion[int]()
	assert.True(t, c.Complete(1, nil))
	assert.False(t, c.Complete(2, errors.New("late")))

	v, err := c.Wait(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCompletion_WaitStopped(t *testing.T) {
	stopped := make(chan struct{})
	close(stopped)

	_, err := NewCompletion[int]().Wait(context.Background(), stopped)
	assert.ErrorIs(t, err, ErrCancelled)

	// A result delivered before the stop still wins.
	c := NewCompletion[int]()
	c.Complete(5, nil)
	v, err := c.Wait(context.Background(), stopped)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestCompletion_WaitContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewCompletion[int]().Wait(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPending_Sizes(t *testing.T) {
	p := newPending()
	require.NoError(t, p.provide.Insert(1, NewCompletion[struct{}]()))
	require.NoError(t, p.request.Insert(1, NewCompletion[models.Block]()))

	sizes := p.sizes()
	assert.Equal(t, 1, sizes["start_providing"])
	assert.Equal(t, 1, sizes["request_block"])
	assert.Equal(t, 0, sizes["dial"])
	assert.Len(t, sizes, 6)

	assert.Equal(t, 2, p.failAll(ErrCancelled))
}
