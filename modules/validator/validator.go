// Package validator promotes finalized raw runs to authoritative partition
// state. Validation failures are recorded as state rows, never returned as
// errors; only store failures propagate.
package validator

import (
	"context"
	"fmt"
	"io"
	"time"

	gkLog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/rawdb/backend"
	"github.com/adlake/adlake/statedb"
)

var metricOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "adlake",
	Name:      "validator_outcomes_total",
	Help:      "Total validator outcomes by status.",
}, []string{"status"})

type Validator struct {
	sink   backend.RawSink
	states *statedb.Store
	logger gkLog.Logger
	now    func() time.Time
}

func New(sink backend.RawSink, states *statedb.Store, logger gkLog.Logger) *Validator {
	return &Validator{
		sink:   sink,
		states: states,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects a deterministic clock for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ValidatePartition verifies the run and upserts the resulting state row.
func (v *Validator) ValidatePartition(ctx context.Context, key partition.Key, runID string) (*statedb.PartitionState, error) {
	reader, err := v.sink.OpenRun(ctx, key, runID)
	if errors.Is(err, backend.ErrDoesNotExist) {
		return v.recordFailure(ctx, key, fmt.Sprintf("Partition not found: %s run_id=%s", key.String(), runID))
	}
	if err != nil {
		return nil, err
	}

	meta, err := reader.Meta(ctx)
	if err != nil {
		return v.recordFailure(ctx, key, fmt.Sprintf("Metadata read failed: %v", err))
	}

	actual, err := v.countRows(ctx, reader)
	if err != nil {
		return v.recordFailure(ctx, key, fmt.Sprintf("Payload read failed: %v", err))
	}

	if meta.RecordCount != actual {
		return v.recordFailure(ctx, key,
			fmt.Sprintf("Record count mismatch: metadata=%d actual=%d", meta.RecordCount, actual))
	}

	return v.recordSuccess(ctx, key, runID, actual)
}

func (v *Validator) countRows(ctx context.Context, reader backend.RunReader) (int64, error) {
	iter, err := reader.Rows(ctx)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var count int64
	for {
		_, err := iter.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		count++
	}
}

// recordSuccess applies the authority rule: the greatest run ID seen so far
// stays authoritative regardless of arrival order.
func (v *Validator) recordSuccess(ctx context.Context, key partition.Key, runID string, recordCount int64) (*statedb.PartitionState, error) {
	previous, err := v.states.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	state := &statedb.PartitionState{
		Key:           key,
		Status:        statedb.StatusSuccess,
		CurrentRunID:  runID,
		SchemaVersion: "v1",
		RecordCount:   recordCount,
		UpdatedAt:     v.now(),
		AttemptCount:  nextAttempt(previous),
	}
	if previous != nil {
		// validator successes never clear a lingering error message
		state.ErrorMessage = previous.ErrorMessage

		if previous.CurrentRunID != "" && partition.CompareRunIDs(runID, previous.CurrentRunID) < 0 {
			// the candidate finished later but is the older run: it lost the
			// race, the existing authority is preserved
			state.CurrentRunID = previous.CurrentRunID
			state.RecordCount = previous.RecordCount
			state.SchemaVersion = previous.SchemaVersion
		}
	}

	if err := v.states.Upsert(ctx, state); err != nil {
		return nil, err
	}

	metricOutcomes.WithLabelValues(string(statedb.StatusSuccess)).Inc()
	level.Info(v.logger).Log("msg", "partition validated", "key", key.String(),
		"run_id", runID, "current_run_id", state.CurrentRunID, "records", state.RecordCount)
	return state, nil
}

// recordFailure carries the prior authority forward unchanged so a failed
// retry cannot clobber an earlier success.
func (v *Validator) recordFailure(ctx context.Context, key partition.Key, message string) (*statedb.PartitionState, error) {
	previous, err := v.states.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	state := &statedb.PartitionState{
		Key:          key,
		Status:       statedb.StatusFailed,
		UpdatedAt:    v.now(),
		ErrorMessage: message,
		AttemptCount: nextAttempt(previous),
	}
	if previous != nil {
		state.CurrentRunID = previous.CurrentRunID
		state.RecordCount = previous.RecordCount
		state.SchemaVersion = previous.SchemaVersion
	}

	if err := v.states.Upsert(ctx, state); err != nil {
		return nil, err
	}

	metricOutcomes.WithLabelValues(string(statedb.StatusFailed)).Inc()
	level.Warn(v.logger).Log("msg", "partition validation failed", "key", key.String(), "err", message)
	return state, nil
}

func nextAttempt(previous *statedb.PartitionState) int64 {
	if previous == nil {
		return 1
	}
	return previous.AttemptCount + 1
}
