package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"echohook/internal/types"
)

func TestBroker_PublishReachesTenantSubscribersOnly(t *testing.T) {
	b := NewBroker()
	a1, cancelA1 := b.Subscribe("a")
	defer cancelA1()
	a2, cancelA2 := b.Subscribe("a")
	defer cancelA2()
	other, cancelOther := b.Subscribe("b")
	defer cancelOther()

	s := types.RequestSummary{ID: "1", Path: "/hook", Method: "POST", CreatedAt: time.Unix(0, 0).UTC()}
	require.Zero(t, b.Publish("a", s))

	require.Equal(t, s, <-a1)
	require.Equal(t, s, <-a2)
	select {
	case got := <-other:
		t.Fatalf("unexpected event for other tenant: %+v", got)
	default:
	}
}

func TestBroker_SlowSubscriberDrops(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe("a")
	defer cancel()

	for i := 0; i < subscriberBuffer; i++ {
		require.Zero(t, b.Publish("a", types.RequestSummary{ID: "x"}))
	}
	require.Equal(t, 1, b.Publish("a", types.RequestSummary{ID: "overflow"}))
}

func TestBroker_CancelClosesAndUnregisters(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("a")
	require.Equal(t, 1, b.Subscribers("a"))

	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
	require.Zero(t, b.Subscribers("a"))
	require.Zero(t, b.Publish("a", types.RequestSummary{ID: "late"}))
}
