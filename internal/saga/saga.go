// Package saga runs a short chain of local steps and rolls back the completed
// ones when a later step fails.
package saga

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Step is one unit of work. Undo may be nil when there is nothing to revert.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// StepError names the step that stopped a saga. UndoErrors holds rollbacks
// that failed; empty means every completed step was reverted.
type StepError struct {
	Saga       string
	Step       string
	Err        error
	UndoErrors []error
}

func (e *StepError) Error() string {
	if len(e.UndoErrors) > 0 {
		return fmt.Sprintf("%s: %s: %v (%d rollback(s) failed)", e.Saga, e.Step, e.Err, len(e.UndoErrors))
	}
	return fmt.Sprintf("%s: %s: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Saga is built once per operation and is not safe for concurrent use.
type Saga struct {
	name   string
	steps  []Step
	logger *zap.Logger
}

// New creates an empty saga.
func New(name string, logger *zap.Logger) *Saga {
	return &Saga{name: name, logger: logger}
}

// Then appends a step.
func (s *Saga) Then(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the steps in order. When one fails, the steps already done are
// undone newest first on a context that outlives ctx, and a *StepError is
// returned.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		err := step.Do(ctx)
		if err == nil {
			continue
		}

		s.logger.Warn("rolling back",
			zap.String("saga", s.name),
			zap.String("failed_step", step.Name),
			zap.Error(err),
		)
		return &StepError{
			Saga:       s.name,
			Step:       step.Name,
			Err:        err,
			UndoErrors: s.rollback(context.WithoutCancel(ctx), s.steps[:i]),
		}
	}
	return nil
}

func (s *Saga) rollback(ctx context.Context, done []Step) []error {
	var failed []error
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].Undo == nil {
			continue
		}
		if err := done[i].Undo(ctx); err != nil {
			s.logger.Error("rollback step failed",
				zap.String("saga", s.name),
				zap.String("step", done[i].Name),
				zap.Error(err),
			)
			failed = append(failed, fmt.Errorf("undo %s: %w", done[i].Name, err))
		}
	}
	return failed
}
