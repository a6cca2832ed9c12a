package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusCommitted))
	assert.True(t, StatusPending.CanTransitionTo(StatusReleased))
	assert.True(t, StatusPending.CanTransitionTo(StatusExpired))

	for _, terminal := range []Status{StatusCommitted, StatusReleased, StatusExpired} {
		assert.True(t, terminal.IsTerminal(), terminal)
		for _, target := range []Status{StatusPending, StatusCommitted, StatusReleased, StatusExpired} {
			assert.False(t, terminal.CanTransitionTo(target), "%s -> %s", terminal, target)
		}
	}

	assert.False(t, Status("LOST").IsValid())
	assert.False(t, Status("LOST").IsTerminal())
}

func TestReservation_Lifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New("r1", "A", 4, now, time.Minute)

	assert.True(t, r.IsPending())
	assert.False(t, r.IsExpired(now.Add(59*time.Second)))
	assert.True(t, r.IsExpired(now.Add(time.Minute)), "deadline itself counts as expired")

	require.NoError(t, r.TransitionTo(StatusCommitted, now.Add(time.Second)))
	require.NotNil(t, r.SettledAt)
	assert.Equal(t, now.Add(time.Second), *r.SettledAt)

	assert.ErrorIs(t, r.TransitionTo(StatusReleased, now), ErrStatusConflict)
	assert.Equal(t, StatusCommitted, r.Status)
}
