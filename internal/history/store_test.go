package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func run(id string, day int, distance float64, completed bool) types.CompletedRun {
	return types.CompletedRun{
		ID:                id,
		Date:              time.Date(2026, 3, day, 7, 30, 0, 0, time.UTC),
		TargetDistanceKm:  5,
		TargetTimeMinutes: 25,
		ActualDistanceKm:  distance,
		ActualTimeSeconds: int64(distance * 300),
		AveragePace:       types.Pace{MinPerKm: 5, Valid: true},
		CompletedGoal:     completed,
	}
}

func TestAppendAndListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Append(ctx, run("a", 1, 5.0, true)))
	require.NoError(t, s.Append(ctx, run("b", 2, 3.2, false)))
	require.NoError(t, s.Append(ctx, run("c", 3, 5.1, true)))

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	assert.Equal(t, run("b", 2, 3.2, false), runs[1])
}

func TestAppendKeepsUndefinedPace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r := run("zero", 1, 0, false)
	r.AveragePace = types.Pace{}
	require.NoError(t, s.Append(ctx, r))

	got, err := s.Get(ctx, "zero")
	require.NoError(t, err)
	assert.False(t, got.AveragePace.Valid)
}

func TestDuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Append(ctx, run("a", 1, 5.0, true)))
	assert.Error(t, s.Append(ctx, run("a", 2, 5.0, true)))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Append(ctx, run("a", 1, 5.0, true)))
	require.NoError(t, s.Append(ctx, run("b", 2, 4.0, false)))

	require.NoError(t, s.Remove(ctx, "a"))
	assert.ErrorIs(t, s.Remove(ctx, "a"), ErrRunNotFound)

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrRunNotFound)

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)
}

func TestClearAllAndSummary(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	empty, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, empty)

	require.NoError(t, s.Append(ctx, run("a", 1, 5.0, true)))
	require.NoError(t, s.Append(ctx, run("b", 2, 3.0, false)))

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Runs)
	assert.Equal(t, 1, sum.GoalsCompleted)
	assert.InDelta(t, 8.0, sum.TotalDistanceKm, 1e-9)
	assert.Equal(t, int64(2400), sum.TotalSeconds)

	require.NoError(t, s.ClearAll(ctx))
	runs, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, run("a", 1, 5.0, true)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
