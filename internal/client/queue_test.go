package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

func TestQueueNextOrdersByPriorityThenRetriesThenTimestampThenID(t *testing.T) {
	q := newQueue()
	q.add(&recordtypes.RequestRecord{RequestID: "low-priority", Priority: 1, TimestampMs: 1, Status: recordtypes.StatusInQueue})
	q.add(&recordtypes.RequestRecord{RequestID: "high-priority", Priority: 5, TimestampMs: 2, Status: recordtypes.StatusInQueue})

	next := q.next()
	require.NotNil(t, next)
	assert.Equal(t, "high-priority", next.RequestID)

	q.add(&recordtypes.RequestRecord{RequestID: "retrying", Priority: 1, Retries: 1, TimestampMs: 9, Status: recordtypes.StatusInQueue})
	q.add(&recordtypes.RequestRecord{RequestID: "later", Priority: 1, TimestampMs: 5, Status: recordtypes.StatusInQueue})
	q.add(&recordtypes.RequestRecord{RequestID: "a-tie", Priority: 1, TimestampMs: 1, Status: recordtypes.StatusInQueue})
	q.markInProgress(next.RequestID)

	for _, want := range []string{"retrying", "a-tie", "low-priority", "later"} {
		next = q.next()
		require.NotNil(t, next)
		assert.Equal(t, want, next.RequestID)
		q.markInProgress(next.RequestID)
	}
}

func TestQueueNextSkipsInProgress(t *testing.T) {
	q := newQueue()
	q.add(&recordtypes.RequestRecord{RequestID: "a", Priority: 1, Status: recordtypes.StatusInProgress})
	q.add(&recordtypes.RequestRecord{RequestID: "b", Priority: 1, Status: recordtypes.StatusInQueue})

	next := q.next()
	require.NotNil(t, next)
	assert.Equal(t, "b", next.RequestID)
}

func TestQueueNextEmptyReturnsNil(t *testing.T) {
	q := newQueue()
	assert.Nil(t, q.next())
}

func TestQueueMarkInProgressRemovesFromNextSelection(t *testing.T) {
	q := newQueue()
	q.add(&recordtypes.RequestRecord{RequestID: "a", Priority: 1, Status: recordtypes.StatusInQueue})
	q.markInProgress("a")
	assert.Nil(t, q.next())
}

func TestQueueExpireStaleDiscardsLapsedHeartbeats(t *testing.T) {
	q := newQueue()
	q.add(&recordtypes.RequestRecord{RequestID: "a", Status: recordtypes.StatusInQueue})

	expired := q.expireStale(-time.Nanosecond)
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].RequestID)
	assert.Equal(t, 0, q.len())
}

func TestQueueTouchHeartbeatPreventsExpiry(t *testing.T) {
	q := newQueue()
	q.add(&recordtypes.RequestRecord{RequestID: "a", Status: recordtypes.StatusInQueue})
	q.touchHeartbeat("a")

	expired := q.expireStale(time.Hour)
	assert.Empty(t, expired)
}

func TestQueueRemove(t *testing.T) {
	q := newQueue()
	q.add(&recordtypes.RequestRecord{RequestID: "a", Status: recordtypes.StatusInQueue})
	q.remove("a")
	assert.Equal(t, 0, q.len())
	assert.Nil(t, q.next())
}
