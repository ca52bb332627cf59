package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	q, err := New(10)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(Envelope{Type: "low", Priority: PriorityLow}))
	require.NoError(t, q.Enqueue(Envelope{Type: "critical", Priority: PriorityCritical}))
	require.NoError(t, q.Enqueue(Envelope{Type: "normal", Priority: PriorityNormal}))
	require.NoError(t, q.Enqueue(Envelope{Type: "high", Priority: PriorityHigh}))

	got := q.Dequeue(10)
	require.Len(t, got, 4)
	assert.Equal(t, "critical", got[0].Type)
	assert.Equal(t, "high", got[1].Type)
	assert.Equal(t, "normal", got[2].Type)
	assert.Equal(t, "low", got[3].Type)
}

func TestFIFOWithinPriority(t *testing.T) {
	q, err := New(10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Envelope{
			Type:     fmt.Sprintf("msg-%d", i),
			Priority: PriorityNormal,
		}))
	}

	got := q.Dequeue(5)
	require.Len(t, got, 5)
	for i, env := range got {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), env.Type)
	}
}

func TestRejectNewWhenFull(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(Envelope{Type: "a", Priority: PriorityNormal}))
	require.NoError(t, q.Enqueue(Envelope{Type: "b", Priority: PriorityNormal}))

	rejectErr := q.Enqueue(Envelope{Type: "c", Priority: PriorityCritical})
	assert.ErrorIs(t, rejectErr, ErrQueueFull)

	// Queue contents are untouched by the rejected enqueue
	assert.Equal(t, 2, q.Len())
	got := q.Dequeue(10)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Type)
	assert.Equal(t, "b", got[1].Type)

	stats := q.Statistics()
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestDequeueBound(t *testing.T) {
	q, err := New(10)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(Envelope{Type: "m", Priority: PriorityNormal}))
	}

	// Flush cycles dequeue at most N per call
	assert.Len(t, q.Dequeue(3), 3)
	assert.Equal(t, 5, q.Len())
	assert.Len(t, q.Dequeue(3), 3)
	assert.Len(t, q.Dequeue(3), 2)
	assert.Nil(t, q.Dequeue(3))
}

func TestDequeueZeroOrNegative(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(Envelope{Type: "m"}))

	assert.Nil(t, q.Dequeue(0))
	assert.Nil(t, q.Dequeue(-1))
	assert.Equal(t, 1, q.Len())
}

func TestClear(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(Envelope{Type: "m"}))
	require.NoError(t, q.Enqueue(Envelope{Type: "n"}))

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Dequeue(10))
}

func TestTimestampDefaulted(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(Envelope{Type: "m"}))

	got := q.Dequeue(1)
	require.Len(t, got, 1)
	assert.False(t, got[0].Timestamp.IsZero())
}
