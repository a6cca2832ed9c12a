package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xiebiao/stockledger/internal/domain/event"
	"github.com/xiebiao/stockledger/pkg/mq"
)

func delivery(t *testing.T, e event.Event) mq.Delivery {
	t.Helper()
	body, err := json.Marshal(e)
	require.NoError(t, err)
	return mq.Delivery{RoutingKey: string(e.Type), MessageID: e.ID, Body: body}
}

func TestTailer_LogsEachEventOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tl := newTailer("q", 8, zap.New(core))
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	reserved := event.New(event.TypeStockReserved, "A", "res-1", 2, 8, at)
	low := event.NewLowStockAlert("A", 1, 3, at)

	require.NoError(t, tl.handle(context.Background(), delivery(t, reserved)))
	require.NoError(t, tl.handle(context.Background(), delivery(t, reserved)))
	require.NoError(t, tl.handle(context.Background(), delivery(t, low)))

	entries := logs.FilterMessage(string(event.TypeStockReserved)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "res-1", entries[0].ContextMap()["reservation_id"])

	alerts := logs.FilterMessage(string(event.TypeLowStockAlert)).All()
	require.Len(t, alerts, 1)
	assert.Equal(t, zap.WarnLevel, alerts[0].Level)
	assert.EqualValues(t, 3, alerts[0].ContextMap()["threshold"])

	assert.Equal(t, 1, logs.FilterMessage("duplicate event").Len())
}

func TestTailer_AcksMalformedMessages(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tl := newTailer("q", 8, zap.New(core))

	err := tl.handle(context.Background(), mq.Delivery{RoutingKey: "stock.reserved", Body: []byte("{not json")})
	assert.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("dropping malformed message").Len())
}

func TestTailer_WindowEvictsOldest(t *testing.T) {
	tl := newTailer("q", 2, zap.NewNop())

	assert.True(t, tl.remember("a"))
	assert.True(t, tl.remember("b"))
	assert.False(t, tl.remember("a"))

	assert.True(t, tl.remember("c")) // evicts a
	assert.True(t, tl.remember("a"))
	assert.False(t, tl.remember("c"))
	assert.Len(t, tl.seen, 2)
}
