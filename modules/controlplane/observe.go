package controlplane

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/statedb"
)

// StateReport counts partitions per status and carries the most recently
// failed partitions for triage.
type StateReport struct {
	Total     int
	ByStatus  map[statedb.Status]int
	TopFailed []*statedb.PartitionState
}

func (c *ControlPlane) ObserveState(ctx context.Context, topFailed int) (*StateReport, error) {
	states, err := c.states.List(ctx, statedb.ListOptions{})
	if err != nil {
		return nil, err
	}

	report := &StateReport{
		Total:    len(states),
		ByStatus: map[statedb.Status]int{},
	}
	for _, state := range states {
		report.ByStatus[state.Status]++
	}

	if topFailed > 0 {
		report.TopFailed, err = c.states.List(ctx, statedb.ListOptions{
			Status: statedb.StatusFailed,
			Limit:  topFailed,
		})
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

// FreshnessGroup summarizes the success coverage of one (source, query_name)
// pair across all customers.
type FreshnessGroup struct {
	Source    string
	QueryName string
	Earliest  string
	Latest    string
	LagDays   int
	// MissingSpans are the gaps between Earliest and Latest, contiguous runs
	// collapsed into "start→end".
	MissingSpans []string
}

// ObserveFreshness reports per-group date coverage of the success set. The
// reference day for lag is passed in so reports are reproducible.
func (c *ControlPlane) ObserveFreshness(ctx context.Context, today time.Time) ([]FreshnessGroup, error) {
	states, err := c.states.List(ctx, statedb.ListOptions{Status: statedb.StatusSuccess})
	if err != nil {
		return nil, err
	}

	type groupKey struct{ source, query string }
	dates := map[groupKey]map[string]struct{}{}
	for _, state := range states {
		k := groupKey{state.Key.Source, state.Key.QueryName}
		if dates[k] == nil {
			dates[k] = map[string]struct{}{}
		}
		dates[k][state.Key.LogicalDate] = struct{}{}
	}

	var groups []FreshnessGroup
	for k, seen := range dates {
		group := FreshnessGroup{Source: k.source, QueryName: k.query}

		sorted := make([]string, 0, len(seen))
		for date := range seen {
			sorted = append(sorted, date)
		}
		sort.Strings(sorted)
		group.Earliest = sorted[0]
		group.Latest = sorted[len(sorted)-1]

		latest, err := time.Parse(partition.DateFormat, group.Latest)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing logical date %q", group.Latest)
		}
		group.LagDays = int(today.Truncate(24*time.Hour).Sub(latest).Hours() / 24)

		group.MissingSpans, err = missingSpans(seen, group.Earliest, group.Latest)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Source != groups[j].Source {
			return groups[i].Source < groups[j].Source
		}
		return groups[i].QueryName < groups[j].QueryName
	})
	return groups, nil
}

// missingSpans walks every calendar date in [earliest, latest] and collapses
// contiguous absences. A single missing date renders without an arrow.
func missingSpans(seen map[string]struct{}, earliest, latest string) ([]string, error) {
	start, err := time.Parse(partition.DateFormat, earliest)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing logical date %q", earliest)
	}
	end, err := time.Parse(partition.DateFormat, latest)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing logical date %q", latest)
	}

	var spans []string
	var gapStart, gapEnd string
	flush := func() {
		if gapStart == "" {
			return
		}
		if gapStart == gapEnd {
			spans = append(spans, gapStart)
		} else {
			spans = append(spans, gapStart+"→"+gapEnd)
		}
		gapStart, gapEnd = "", ""
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(partition.DateFormat)
		if _, ok := seen[date]; ok {
			flush()
			continue
		}
		if gapStart == "" {
			gapStart = date
		}
		gapEnd = date
	}
	flush()
	return spans, nil
}

// RetryBucket is one attempt-count band of the retries report.
type RetryBucket struct {
	Label string
	Count int
}

// RetriesReport buckets attempt counts and lists the partitions with the most
// validator outcomes.
type RetriesReport struct {
	Buckets []RetryBucket
	Top     []*statedb.PartitionState
}

func (c *ControlPlane) ObserveRetries(ctx context.Context, topN int) (*RetriesReport, error) {
	states, err := c.states.List(ctx, statedb.ListOptions{})
	if err != nil {
		return nil, err
	}

	report := &RetriesReport{
		Buckets: []RetryBucket{
			{Label: "1–2"}, {Label: "3–5"}, {Label: "6–10"}, {Label: "10+"},
		},
	}
	var attempted []*statedb.PartitionState
	for _, state := range states {
		switch n := state.AttemptCount; {
		case n <= 0:
		case n <= 2:
			report.Buckets[0].Count++
		case n <= 5:
			report.Buckets[1].Count++
		case n <= 10:
			report.Buckets[2].Count++
		default:
			report.Buckets[3].Count++
		}
		if state.AttemptCount > 0 {
			attempted = append(attempted, state)
		}
	}

	sort.SliceStable(attempted, func(i, j int) bool {
		return attempted[i].AttemptCount > attempted[j].AttemptCount
	})
	if topN > 0 && len(attempted) > topN {
		attempted = attempted[:topN]
	}
	report.Top = attempted
	return report, nil
}
