// Package controlplane implements the operator surface over the state store:
// listing, previewing, retrying, terminal marking and backfill enqueueing.
// Every mutation is a single idempotent upsert; iteration continues past
// per-partition failures and the errors are aggregated.
package controlplane

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	gkLog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/statedb"
)

const (
	// RetryConfirmThreshold is the selected-row count above which retry and
	// mark-terminal ask for confirmation.
	RetryConfirmThreshold = 20
	// BackfillConfirmThreshold is the date-range size above which backfill
	// enqueue asks for confirmation.
	BackfillConfirmThreshold = 100
)

// ErrGuardRejected is returned when an operator guard refuses a mutation.
// Callers map it to exit code 1 without a stack trace.
var ErrGuardRejected = errors.New("operator guard rejected")

// Selector narrows a mutation to matching partitions. All fields are ANDed;
// empty fields match everything.
type Selector struct {
	CustomerID string
	QueryName  string
	Since      string
	Until      string
}

func (s Selector) Empty() bool {
	return s.CustomerID == "" && s.QueryName == "" && s.Since == "" && s.Until == ""
}

// Validate rejects malformed date bounds before they reach the store, where
// string comparison would silently match nothing.
func (s Selector) Validate() error {
	for _, bound := range []struct{ flag, value string }{
		{"--since", s.Since},
		{"--until", s.Until},
	} {
		if bound.value == "" {
			continue
		}
		if _, err := time.Parse(partition.DateFormat, bound.value); err != nil {
			return errors.Wrapf(err, "invalid %s %q", bound.flag, bound.value)
		}
	}
	return nil
}

func (s Selector) listOptions(status statedb.Status) statedb.ListOptions {
	return statedb.ListOptions{
		Status:     status,
		CustomerID: s.CustomerID,
		QueryName:  s.QueryName,
		Since:      s.Since,
		Until:      s.Until,
	}
}

// ConfirmFunc asks the operator to approve a large mutation.
type ConfirmFunc func(prompt string) bool

type ControlPlane struct {
	states  *statedb.Store
	logger  gkLog.Logger
	confirm ConfirmFunc
	now     func() time.Time
}

func New(states *statedb.Store, logger gkLog.Logger) *ControlPlane {
	return &ControlPlane{
		states:  states,
		logger:  logger,
		confirm: stdinConfirm,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithConfirm injects the confirmation prompt, mainly for tests.
func (c *ControlPlane) WithConfirm(confirm ConfirmFunc) *ControlPlane {
	c.confirm = confirm
	return c
}

// WithClock injects a deterministic clock for tests.
func (c *ControlPlane) WithClock(now func() time.Time) *ControlPlane {
	c.now = now
	return c
}

func stdinConfirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

// Inspect returns state rows matching the filters, newest first.
func (c *ControlPlane) Inspect(ctx context.Context, opts statedb.ListOptions) ([]*statedb.PartitionState, error) {
	if err := (Selector{Since: opts.Since, Until: opts.Until}).Validate(); err != nil {
		return nil, err
	}
	return c.states.List(ctx, opts)
}

// MutationResult summarizes one retry / mark-terminal / backfill pass.
type MutationResult struct {
	Selected []*statedb.PartitionState
	Updated  int
	Skipped  int
	DryRun   bool
}

type RetryOptions struct {
	Selector      Selector
	DryRun        bool
	Force         bool
	ClearTerminal bool
}

// Retry flips matching failed partitions back to pending. Terminal partitions
// are excluded unless ClearTerminal is set; attempt counts are never touched.
func (c *ControlPlane) Retry(ctx context.Context, opts RetryOptions) (*MutationResult, error) {
	if err := opts.Selector.Validate(); err != nil {
		return nil, err
	}
	if opts.Selector.Empty() && !opts.Force {
		return nil, errors.Wrap(ErrGuardRejected, "Refusing to retry everything without --force")
	}

	failed, err := c.states.List(ctx, opts.Selector.listOptions(statedb.StatusFailed))
	if err != nil {
		return nil, err
	}

	result := &MutationResult{DryRun: opts.DryRun}
	for _, state := range failed {
		if state.Terminal() && !opts.ClearTerminal {
			result.Skipped++
			continue
		}
		result.Selected = append(result.Selected, state)
	}

	if len(result.Selected) > RetryConfirmThreshold && !opts.Force {
		prompt := fmt.Sprintf("About to retry %d partitions", len(result.Selected))
		if !c.confirm(prompt) {
			return nil, errors.Wrap(ErrGuardRejected, "retry not confirmed")
		}
	}
	if opts.DryRun {
		return result, nil
	}

	var failures []string
	for _, state := range result.Selected {
		update := *state
		update.Status = statedb.StatusPending
		update.UpdatedAt = c.now()
		if opts.ClearTerminal {
			update.ErrorMessage = ""
		}
		if err := c.states.Upsert(ctx, &update); err != nil {
			failures = append(failures, err.Error())
			continue
		}
		result.Updated++
		level.Info(c.logger).Log("msg", "partition queued for retry", "key", state.Key.String())
	}
	return result, joinFailures(failures)
}

type MarkTerminalOptions struct {
	Selector Selector
	DryRun   bool
	Force    bool
}

// MarkTerminal prefixes the error message of matching failed partitions with
// the terminal marker, excluding them from automatic retry.
func (c *ControlPlane) MarkTerminal(ctx context.Context, opts MarkTerminalOptions) (*MutationResult, error) {
	if err := opts.Selector.Validate(); err != nil {
		return nil, err
	}
	if opts.Selector.Empty() && !opts.Force {
		return nil, errors.Wrap(ErrGuardRejected, "Refusing to mark everything terminal without --force")
	}

	failed, err := c.states.List(ctx, opts.Selector.listOptions(statedb.StatusFailed))
	if err != nil {
		return nil, err
	}

	result := &MutationResult{DryRun: opts.DryRun}
	for _, state := range failed {
		if state.Terminal() {
			result.Skipped++
			continue
		}
		result.Selected = append(result.Selected, state)
	}

	if len(result.Selected) > RetryConfirmThreshold && !opts.Force {
		prompt := fmt.Sprintf("About to mark %d partitions terminal", len(result.Selected))
		if !c.confirm(prompt) {
			return nil, errors.Wrap(ErrGuardRejected, "mark-terminal not confirmed")
		}
	}
	if opts.DryRun {
		return result, nil
	}

	var failures []string
	for _, state := range result.Selected {
		update := *state
		update.ErrorMessage = statedb.TerminalMarker + " " + state.ErrorMessage
		update.UpdatedAt = c.now()
		if err := c.states.Upsert(ctx, &update); err != nil {
			failures = append(failures, err.Error())
			continue
		}
		result.Updated++
		level.Info(c.logger).Log("msg", "partition marked terminal", "key", state.Key.String())
	}
	return result, joinFailures(failures)
}

type BackfillOptions struct {
	Source       string
	CustomerID   string
	QueryName    string
	Since        string
	Until        string
	ForcePending bool
	Force        bool
	DryRun       bool
}

// BackfillEnqueue upserts a pending row for every date in [Since, Until].
// Existing rows are skipped unless ForcePending is set; attempt counts are
// inherited so retries remain visible after a backfill.
func (c *ControlPlane) BackfillEnqueue(ctx context.Context, opts BackfillOptions) (*MutationResult, error) {
	if opts.CustomerID == "" || opts.QueryName == "" || opts.Since == "" || opts.Until == "" {
		return nil, errors.Wrap(ErrGuardRejected, "backfill requires --customer-id, --query-name, --since and --until")
	}
	dates, err := datesBetween(opts.Since, opts.Until)
	if err != nil {
		return nil, err
	}

	if len(dates) > BackfillConfirmThreshold && !opts.Force {
		prompt := fmt.Sprintf("About to enqueue %d dates", len(dates))
		if !c.confirm(prompt) {
			return nil, errors.Wrap(ErrGuardRejected, "backfill not confirmed")
		}
	}

	source := opts.Source
	if source == "" {
		source = "google_ads"
	}

	result := &MutationResult{DryRun: opts.DryRun}
	var failures []string
	for _, date := range dates {
		key := partition.Key{
			Source:      source,
			CustomerID:  opts.CustomerID,
			QueryName:   opts.QueryName,
			LogicalDate: date,
		}
		existing, err := c.states.Get(ctx, key)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if existing != nil && !opts.ForcePending {
			result.Skipped++
			continue
		}

		update := &statedb.PartitionState{
			Key:       key,
			Status:    statedb.StatusPending,
			UpdatedAt: c.now(),
		}
		if existing != nil {
			// only a forced re-pend keeps the published run attached
			update.AttemptCount = existing.AttemptCount
			update.CurrentRunID = existing.CurrentRunID
			update.RecordCount = existing.RecordCount
			update.SchemaVersion = existing.SchemaVersion
		}
		result.Selected = append(result.Selected, update)
		if opts.DryRun {
			continue
		}
		if err := c.states.Upsert(ctx, update); err != nil {
			failures = append(failures, err.Error())
			continue
		}
		result.Updated++
	}
	if result.Updated > 0 || opts.DryRun {
		level.Info(c.logger).Log("msg", "backfill enqueued",
			"customer", opts.CustomerID, "query", opts.QueryName,
			"since", opts.Since, "until", opts.Until, "dates", len(dates), "dry_run", opts.DryRun)
	}
	return result, joinFailures(failures)
}

// datesBetween expands an inclusive [since, until] range of YYYY-MM-DD dates.
func datesBetween(since, until string) ([]string, error) {
	start, err := time.Parse(partition.DateFormat, since)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --since %q", since)
	}
	end, err := time.Parse(partition.DateFormat, until)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --until %q", until)
	}
	if end.Before(start) {
		return nil, errors.Wrapf(ErrGuardRejected, "--since %s is after --until %s", since, until)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(partition.DateFormat))
	}
	return dates, nil
}

func joinFailures(failures []string) error {
	if len(failures) == 0 {
		return nil
	}
	return errors.Errorf("%d partition updates failed: %s", len(failures), strings.Join(failures, "; "))
}
