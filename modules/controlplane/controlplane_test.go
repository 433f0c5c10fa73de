package controlplane

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kitlog "github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/statedb"
)

func newControlPlane(t *testing.T) (*statedb.Store, *ControlPlane) {
	t.Helper()

	states, err := statedb.Open(filepath.Join(t.TempDir(), "state_store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })
	require.NoError(t, states.EnsureSchema(context.Background()))

	cp := New(states, kitlog.NewNopLogger()).
		WithClock(func() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }).
		WithConfirm(func(string) bool { return false })
	return states, cp
}

func failedState(customerID, date, message string) *statedb.PartitionState {
	return &statedb.PartitionState{
		Key: partition.Key{
			Source: "google_ads", CustomerID: customerID,
			QueryName: "campaign_stats", LogicalDate: date,
		},
		Status:       statedb.StatusFailed,
		UpdatedAt:    time.Date(2024, 6, 10, 6, 0, 0, 0, time.UTC),
		ErrorMessage: message,
		AttemptCount: 1,
	}
}

func TestRetryRefusesEmptySelector(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()
	require.NoError(t, states.Upsert(ctx, failedState("123", "2024-06-01", "boom")))

	_, err := cp.Retry(ctx, RetryOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGuardRejected))
	assert.Contains(t, err.Error(), "Refusing to retry everything without --force")

	// and the row is untouched
	state, err := states.Get(ctx, failedState("123", "2024-06-01", "").Key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, state.Status)
}

func TestRetryOverThresholdNeedsConfirmation(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		date := fmt.Sprintf("2024-05-%02d", i+1)
		require.NoError(t, states.Upsert(ctx, failedState("123", date, "boom")))
	}

	// confirmation declined
	_, err := cp.Retry(ctx, RetryOptions{Selector: Selector{CustomerID: "123"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGuardRejected))

	// confirmation granted
	cp.WithConfirm(func(string) bool { return true })
	result, err := cp.Retry(ctx, RetryOptions{Selector: Selector{CustomerID: "123"}})
	require.NoError(t, err)
	assert.Equal(t, 25, result.Updated)

	pending, err := states.List(ctx, statedb.ListOptions{Status: statedb.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 25)
}

func TestRetryForceSkipsAllGuards(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		date := fmt.Sprintf("2024-05-%02d", i+1)
		require.NoError(t, states.Upsert(ctx, failedState("123", date, "boom")))
	}

	result, err := cp.Retry(ctx, RetryOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 25, result.Updated)
}

func TestRetryPreservesAttemptCountAndRun(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()

	state := failedState("123", "2024-06-01", "boom")
	state.CurrentRunID = "2024-06-01T00:00:00.000Z"
	state.RecordCount = 7
	state.SchemaVersion = "v1"
	state.AttemptCount = 4
	require.NoError(t, states.Upsert(ctx, state))

	_, err := cp.Retry(ctx, RetryOptions{Selector: Selector{CustomerID: "123"}})
	require.NoError(t, err)

	got, err := states.Get(ctx, state.Key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusPending, got.Status)
	assert.Equal(t, int64(4), got.AttemptCount)
	assert.Equal(t, "2024-06-01T00:00:00.000Z", got.CurrentRunID)
	assert.Equal(t, int64(7), got.RecordCount)
	assert.Equal(t, "boom", got.ErrorMessage) // unchanged without --clear-terminal
}

func TestTerminalStickiness(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()
	key := failedState("123", "2024-06-01", "").Key
	require.NoError(t, states.Upsert(ctx, failedState("123", "2024-06-01", "boom")))

	// mark terminal prefixes with exactly one space
	result, err := cp.MarkTerminal(ctx, MarkTerminalOptions{Selector: Selector{CustomerID: "123"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	got, err := states.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "[terminal] boom", got.ErrorMessage)

	// a second mark-terminal skips it
	result, err = cp.MarkTerminal(ctx, MarkTerminalOptions{Selector: Selector{CustomerID: "123"}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 1, result.Skipped)

	// retry without --clear-terminal leaves it failed
	result, err = cp.Retry(ctx, RetryOptions{Selector: Selector{CustomerID: "123"}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 1, result.Skipped)

	got, err = states.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, got.Status)

	// with --clear-terminal it becomes pending with no error message
	result, err = cp.Retry(ctx, RetryOptions{Selector: Selector{CustomerID: "123"}, ClearTerminal: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	got, err = states.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestRetryDryRunMutatesNothing(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()
	require.NoError(t, states.Upsert(ctx, failedState("123", "2024-06-01", "boom")))

	result, err := cp.Retry(ctx, RetryOptions{Selector: Selector{CustomerID: "123"}, DryRun: true})
	require.NoError(t, err)
	assert.Len(t, result.Selected, 1)
	assert.Equal(t, 0, result.Updated)

	got, err := states.Get(ctx, failedState("123", "2024-06-01", "").Key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, got.Status)
}

func TestMalformedDateFiltersAreRejected(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()
	require.NoError(t, states.Upsert(ctx, failedState("123", "2024-06-01", "boom")))

	// a garbage bound must surface as an error, not an empty match
	_, err := cp.Inspect(ctx, statedb.ListOptions{Since: "not-a-date"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-date")

	_, err = cp.Inspect(ctx, statedb.ListOptions{Until: "2024-13-40"})
	require.Error(t, err)

	_, err = cp.Retry(ctx, RetryOptions{Selector: Selector{Since: "not-a-date"}})
	require.Error(t, err)

	_, err = cp.MarkTerminal(ctx, MarkTerminalOptions{Selector: Selector{Until: "06/01/2024"}})
	require.Error(t, err)

	// and the row is untouched
	state, err := states.Get(ctx, failedState("123", "2024-06-01", "").Key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, state.Status)

	// well-formed bounds still pass
	rows, err := cp.Inspect(ctx, statedb.ListOptions{Since: "2024-06-01", Until: "2024-06-30"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBackfillCoversRangeExactly(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()

	result, err := cp.BackfillEnqueue(ctx, BackfillOptions{
		CustomerID: "123", QueryName: "campaign_stats",
		Since: "2024-06-01", Until: "2024-06-05",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Updated)

	all, err := states.List(ctx, statedb.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for _, state := range all {
		assert.Equal(t, statedb.StatusPending, state.Status)
		assert.GreaterOrEqual(t, state.Key.LogicalDate, "2024-06-01")
		assert.LessOrEqual(t, state.Key.LogicalDate, "2024-06-05")
		assert.Equal(t, int64(0), state.AttemptCount)
	}
}

func TestBackfillSkipsExistingRows(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()

	existing := failedState("123", "2024-06-03", "boom")
	require.NoError(t, states.Upsert(ctx, existing))

	result, err := cp.BackfillEnqueue(ctx, BackfillOptions{
		CustomerID: "123", QueryName: "campaign_stats",
		Since: "2024-06-01", Until: "2024-06-05",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Updated)
	assert.Equal(t, 1, result.Skipped)

	got, err := states.Get(ctx, existing.Key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, got.Status)
}

func TestBackfillForcePendingInheritsAttempts(t *testing.T) {
	states, cp := newControlPlane(t)
	ctx := context.Background()

	existing := failedState("123", "2024-06-03", "boom")
	existing.CurrentRunID = "2024-06-03T00:00:00.000Z"
	existing.RecordCount = 9
	existing.SchemaVersion = "v1"
	existing.AttemptCount = 3
	require.NoError(t, states.Upsert(ctx, existing))

	_, err := cp.BackfillEnqueue(ctx, BackfillOptions{
		CustomerID: "123", QueryName: "campaign_stats",
		Since: "2024-06-03", Until: "2024-06-03",
		ForcePending: true,
	})
	require.NoError(t, err)

	got, err := states.Get(ctx, existing.Key)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusPending, got.Status)
	assert.Equal(t, int64(3), got.AttemptCount)
	assert.Equal(t, "2024-06-03T00:00:00.000Z", got.CurrentRunID)
	assert.Empty(t, got.ErrorMessage)
}

func TestBackfillRejectsInvertedRange(t *testing.T) {
	_, cp := newControlPlane(t)

	_, err := cp.BackfillEnqueue(context.Background(), BackfillOptions{
		CustomerID: "123", QueryName: "campaign_stats",
		Since: "2024-06-05", Until: "2024-06-01",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGuardRejected))
}

func TestBackfillRequiresSelectors(t *testing.T) {
	_, cp := newControlPlane(t)

	_, err := cp.BackfillEnqueue(context.Background(), BackfillOptions{
		CustomerID: "123", QueryName: "campaign_stats", Since: "2024-06-01",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGuardRejected))
}

func TestBackfillLargeRangeNeedsConfirmation(t *testing.T) {
	_, cp := newControlPlane(t)

	_, err := cp.BackfillEnqueue(context.Background(), BackfillOptions{
		CustomerID: "123", QueryName: "campaign_stats",
		Since: "2024-01-01", Until: "2024-06-01",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGuardRejected))

	cp.WithConfirm(func(string) bool { return true })
	result, err := cp.BackfillEnqueue(context.Background(), BackfillOptions{
		CustomerID: "123", QueryName: "campaign_stats",
		Since: "2024-01-01", Until: "2024-06-01",
	})
	require.NoError(t, err)
	assert.Equal(t, 153, result.Updated) // 2024 is a leap year
}
