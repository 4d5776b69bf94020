package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun_AllStepsInOrder(t *testing.T) {
	var order []string
	s := New("ok", zap.NewNop())
	for _, name := range []string{"a", "b", "c"} {
		name := name
		s.Then(Step{
			Name: name,
			Do:   func(context.Context) error { order = append(order, name); return nil },
		})
	}

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRun_UndoesCompletedStepsNewestFirst(t *testing.T) {
	var undone []string
	boom := errors.New("boom")
	undoFailed := errors.New("row locked")

	s := New("failing", zap.NewNop()).
		Then(Step{
			Name: "first",
			Do:   func(context.Context) error { return nil },
			Undo: func(context.Context) error { undone = append(undone, "first"); return nil },
		}).
		Then(Step{
			Name: "no-undo",
			Do:   func(context.Context) error { return nil },
		}).
		Then(Step{
			Name: "second",
			Do:   func(context.Context) error { return nil },
			Undo: func(context.Context) error { undone = append(undone, "second"); return undoFailed },
		}).
		Then(Step{
			Name: "third",
			Do:   func(context.Context) error { return boom },
			Undo: func(context.Context) error { undone = append(undone, "third"); return nil },
		})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"second", "first"}, undone)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "failing", stepErr.Saga)
	assert.Equal(t, "third", stepErr.Step)
	require.Len(t, stepErr.UndoErrors, 1)
	assert.ErrorIs(t, stepErr.UndoErrors[0], undoFailed)
	assert.Contains(t, err.Error(), "1 rollback(s) failed")
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	ran := false
	err := New("short", zap.NewNop()).
		Then(Step{Name: "fail", Do: func(context.Context) error { return errors.New("nope") }}).
		Then(Step{Name: "never", Do: func(context.Context) error { ran = true; return nil }}).
		Run(context.Background())

	assert.EqualError(t, err, "short: fail: nope")
	assert.False(t, ran)
}

func TestRun_UndoSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoCtxErr error

	s := New("cancelled", zap.NewNop()).
		Then(Step{
			Name: "create",
			Do:   func(context.Context) error { return nil },
			Undo: func(ctx context.Context) error { undoCtxErr = ctx.Err(); return nil },
		}).
		Then(Step{
			Name: "publish",
			Do: func(context.Context) error {
				cancel()
				return context.Canceled
			},
		})

	require.Error(t, s.Run(ctx))
	assert.NoError(t, undoCtxErr)
}
