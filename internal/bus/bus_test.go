package bus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vivo-us/request-handler/internal/bus"
	"github.com/vivo-us/request-handler/internal/recordtypes"
)

func TestWaiterDeliversOnce(t *testing.T) {
	b := bus.New()
	w := b.Register("req-1")

	record := &recordtypes.RequestRecord{RequestID: "req-1", Status: recordtypes.StatusInProgress}
	b.Resolve(record)

	select {
	case got := <-w.Channel():
		require.Equal(t, record, got)
	case <-time.After(time.Second):
		t.Fatal("waiter never fired")
	}

	// A second resolve must not block or panic (idempotent completion).
	b.Resolve(record)
}

func TestResolveUnknownRequestIsNoop(t *testing.T) {
	b := bus.New()
	require.NotPanics(t, func() {
		b.Resolve(&recordtypes.RequestRecord{RequestID: "unknown"})
	})
}

func TestForgetRemovesWaiter(t *testing.T) {
	b := bus.New()
	b.Register("req-1")
	b.Forget("req-1")

	w2 := b.Register("req-1")
	require.NotNil(t, w2)
}
