package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSkipAndLogContinues(t *testing.T) {
	var ran []string
	record := func(name string, err error) func(context.Context, int) error {
		return func(context.Context, int) error {
			ran = append(ran, name)
			return err
		}
	}

	p := New("test", zap.NewNop(),
		Stage[int]{Name: "a", Run: record("a", nil)},
		Stage[int]{Name: "b", Run: record("b", errors.New("boom"))},
		Stage[int]{Name: "c", Run: func(context.Context, int) error { panic("bad") }},
		Stage[int]{Name: "d", Run: record("d", nil)},
	)

	report := p.Run(context.Background(), 1)
	require.Equal(t, []string{"a", "b", "d"}, ran)
	require.Equal(t, []string{"b", "c"}, report.Failed())
	require.False(t, report.Aborted)
	require.Equal(t, []string{"a", "b", "c", "d"}, p.Stages())
}

func TestAbortPipelineStopsLaterStages(t *testing.T) {
	var ran []string
	p := New("test", nil,
		Stage[string]{Name: "first", Run: func(_ context.Context, e string) error { ran = append(ran, e+"1"); return nil }},
		Stage[string]{Name: "gate", Policy: AbortPipeline, Run: func(context.Context, string) error { return errors.New("stop") }},
		Stage[string]{Name: "after", Run: func(_ context.Context, e string) error { ran = append(ran, e+"3"); return nil }},
	)

	report := p.Run(context.Background(), "x")
	require.Equal(t, []string{"x1"}, ran)
	require.True(t, report.Aborted)
	require.True(t, report.Stages[2].Skipped)
	require.Equal(t, "abort-pipeline", AbortPipeline.String())
}
