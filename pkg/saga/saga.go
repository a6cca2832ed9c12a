// Package saga runs a sequence of steps and undoes the completed ones, in
// reverse order, when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

type Saga struct {
	steps    []Step
	executed []Step
	timeout  time.Duration
	logger   *zap.Logger

	compensated int
}

// NewSaga creates an empty saga. A zero timeout means no deadline beyond ctx's.
func NewSaga(timeout time.Duration, logger *zap.Logger) *Saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saga{
		timeout: timeout,
		logger:  logger,
	}
}

func (s *Saga) AddStep(name string, action, compensate func(ctx context.Context) error) {
	s.steps = append(s.steps, Step{
		Name:       name,
		Action:     action,
		Compensate: compensate,
	})
}

// Execute runs the steps in order. On failure or timeout it compensates the
// executed steps and returns the step error joined with any compensation errors.
func (s *Saga) Execute(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, fmt.Errorf("saga aborted before step %d (%s): %w", i, step.Name, err))
		}

		if step.Action != nil {
			if err := step.Action(ctx); err != nil {
				return s.fail(ctx, fmt.Errorf("step %d (%s) failed: %w", i, step.Name, err))
			}
		}

		s.executed = append(s.executed, step)
	}

	return nil
}

// Compensated reports how many compensations ran during the last failure.
func (s *Saga) Compensated() int {
	return s.compensated
}

func (s *Saga) fail(ctx context.Context, cause error) error {
	// compensation must run even when ctx is what failed
	cctx := context.WithoutCancel(ctx)

	errs := []error{cause}
	s.compensated = 0
	for i := len(s.executed) - 1; i >= 0; i-- {
		step := s.executed[i]
		if step.Compensate == nil {
			continue
		}
		s.compensated++
		if err := step.Compensate(cctx); err != nil {
			s.logger.Error("saga compensation failed", zap.String("step", step.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name, err))
		}
	}
	s.executed = nil

	return errors.Join(errs...)
}
