// Package reconciler converges the warehouse pointers onto the successful
// partition states. It is the policy layer: the pointer flip is the commit,
// actual rows are staged by the curated sink when one is wired.
package reconciler

import (
	"context"
	"time"

	gkLog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/pointerdb"
	"github.com/adlake/adlake/rawdb/backend"
	"github.com/adlake/adlake/rawdb/curated"
	"github.com/adlake/adlake/statedb"
)

var metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "adlake",
	Name:      "reconciler_actions_total",
	Help:      "Total reconciliation actions applied, by action.",
}, []string{"action"})

// Target is one partition the plan acts on.
type Target struct {
	Key           partition.Key `json:"key"`
	RunID         string        `json:"run_id"`
	SchemaVersion string        `json:"schema_version,omitempty"`
}

// Plan is the full set of pointer mutations a reconciliation will apply. It
// is returned verbatim after applying, for observability.
type Plan struct {
	Load    []Target `json:"load"`
	Replace []Target `json:"replace"`
	Demote  []Target `json:"demote"`
}

func (p *Plan) Empty() bool {
	return len(p.Load) == 0 && len(p.Replace) == 0 && len(p.Demote) == 0
}

type Reconciler struct {
	states   *statedb.Store
	pointers *pointerdb.Store
	logger   gkLog.Logger
	now      func() time.Time

	// staging is optional; without it the reconciler only flips pointers.
	raw     backend.RawSink
	curated curated.Sink
}

func New(states *statedb.Store, pointers *pointerdb.Store, logger gkLog.Logger) *Reconciler {
	return &Reconciler{
		states:   states,
		pointers: pointers,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithStaging makes the reconciler copy each loaded or replaced run from the
// raw sink into the curated sink before flipping its pointer.
func (r *Reconciler) WithStaging(raw backend.RawSink, sink curated.Sink) *Reconciler {
	r.raw = raw
	r.curated = sink
	return r
}

// WithClock injects a deterministic clock for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Run plans and applies one reconciliation pass. The plan is returned even
// when applying fails part way.
func (r *Reconciler) Run(ctx context.Context) (*Plan, error) {
	plan, err := r.plan(ctx)
	if err != nil {
		return nil, err
	}
	return plan, r.apply(ctx, plan)
}

func (r *Reconciler) plan(ctx context.Context) (*Plan, error) {
	states, err := r.states.List(ctx, statedb.ListOptions{Status: statedb.StatusSuccess})
	if err != nil {
		return nil, err
	}

	// success states without a run carry no publishable artifact
	successKeys := make(map[partition.Key]struct{}, len(states))
	plan := &Plan{}
	for _, state := range states {
		if state.CurrentRunID == "" {
			continue
		}
		successKeys[state.Key] = struct{}{}

		pointer, err := r.pointers.Get(ctx, state.Key)
		if err != nil {
			return nil, err
		}
		target := Target{Key: state.Key, RunID: state.CurrentRunID, SchemaVersion: state.SchemaVersion}
		switch {
		case pointer == nil:
			plan.Load = append(plan.Load, target)
		case pointer.RunID != state.CurrentRunID:
			plan.Replace = append(plan.Replace, target)
		}
	}

	pointers, err := r.pointers.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, pointer := range pointers {
		if _, ok := successKeys[pointer.Key]; !ok {
			plan.Demote = append(plan.Demote, Target{Key: pointer.Key, RunID: pointer.RunID})
		}
	}
	return plan, nil
}

func (r *Reconciler) apply(ctx context.Context, plan *Plan) error {
	for _, target := range append(append([]Target{}, plan.Load...), plan.Replace...) {
		if err := r.stage(ctx, target); err != nil {
			return err
		}
		err := r.pointers.Upsert(ctx, &pointerdb.Pointer{
			Key:           target.Key,
			RunID:         target.RunID,
			SchemaVersion: target.SchemaVersion,
			LoadedAt:      r.now(),
		})
		if err != nil {
			return err
		}
		metricActions.WithLabelValues("load").Inc()
		level.Info(r.logger).Log("msg", "pointer loaded", "key", target.Key.String(), "run_id", target.RunID)
	}

	for _, target := range plan.Demote {
		if err := r.pointers.Delete(ctx, target.Key); err != nil {
			return err
		}
		metricActions.WithLabelValues("demote").Inc()
		level.Info(r.logger).Log("msg", "pointer demoted", "key", target.Key.String(), "run_id", target.RunID)
	}
	return nil
}

func (r *Reconciler) stage(ctx context.Context, target Target) error {
	if r.curated == nil || r.raw == nil {
		return nil
	}

	reader, err := r.raw.OpenRun(ctx, target.Key, target.RunID)
	if err != nil {
		return err
	}
	meta, err := reader.Meta(ctx)
	if err != nil {
		return err
	}
	rows, err := reader.Rows(ctx)
	if err != nil {
		return err
	}
	defer rows.Close()

	return r.curated.StagePartition(ctx, target.Key, target.RunID, rows, meta)
}
