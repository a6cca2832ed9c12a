package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSaga_Execute_Success(t *testing.T) {
	var executed []string
	s := NewSaga(5*time.Second, zaptest.NewLogger(t))

	s.AddStep("hold A",
		func(ctx context.Context) error { executed = append(executed, "hold A"); return nil },
		func(ctx context.Context) error { executed = append(executed, "release A"); return nil },
	)
	s.AddStep("hold B",
		func(ctx context.Context) error { executed = append(executed, "hold B"); return nil },
		func(ctx context.Context) error { executed = append(executed, "release B"); return nil },
	)

	require.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, []string{"hold A", "hold B"}, executed)
	assert.Zero(t, s.Compensated())
}

func TestSaga_Execute_FailureCompensatesInReverse(t *testing.T) {
	var executed []string
	stepErr := errors.New("insufficient stock")
	s := NewSaga(0, nil)

	for _, name := range []string{"A", "B"} {
		name := name
		s.AddStep("hold "+name,
			func(ctx context.Context) error { executed = append(executed, "hold "+name); return nil },
			func(ctx context.Context) error { executed = append(executed, "release "+name); return nil },
		)
	}
	s.AddStep("hold C",
		func(ctx context.Context) error { return stepErr },
		func(ctx context.Context) error { executed = append(executed, "release C"); return nil },
	)

	err := s.Execute(context.Background())

	require.ErrorIs(t, err, stepErr)
	assert.Contains(t, err.Error(), "hold C")
	assert.Equal(t, []string{"hold A", "hold B", "release B", "release A"}, executed)
	assert.Equal(t, 2, s.Compensated())
}

func TestSaga_Execute_CompensationErrorsAreJoined(t *testing.T) {
	stepErr := errors.New("step failed")
	compErr := errors.New("release failed")
	s := NewSaga(0, nil)

	s.AddStep("hold A", func(ctx context.Context) error { return nil }, func(ctx context.Context) error { return compErr })
	s.AddStep("hold B", func(ctx context.Context) error { return stepErr }, nil)

	err := s.Execute(context.Background())

	assert.ErrorIs(t, err, stepErr)
	assert.ErrorIs(t, err, compErr)
}

func TestSaga_Execute_CancelledContextStillCompensates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	compensated := false
	s := NewSaga(0, nil)

	s.AddStep("hold A",
		func(ctx context.Context) error { cancel(); return nil },
		func(ctx context.Context) error {
			compensated = ctx.Err() == nil
			return nil
		},
	)
	s.AddStep("hold B", func(ctx context.Context) error { return nil }, nil)

	err := s.Execute(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, compensated, "compensation should see a live context")
}
