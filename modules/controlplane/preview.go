package controlplane

import (
	"context"
	"io"

	"github.com/go-kit/log/level"

	"github.com/adlake/adlake/rawdb/backend"
	"github.com/adlake/adlake/statedb"
)

type PreviewOptions struct {
	Selector        Selector
	LimitPartitions int
	SampleRows      int
}

// PartitionPreview pairs a successful state row with a sample of the raw rows
// its current run holds.
type PartitionPreview struct {
	State  *statedb.PartitionState
	Sample []map[string]interface{}
}

// Preview opens the current run of each matching success partition and reads
// up to SampleRows rows. Partitions whose run cannot be opened are logged and
// skipped; a preview is best effort.
func (c *ControlPlane) Preview(ctx context.Context, sink backend.RawSink, opts PreviewOptions) ([]PartitionPreview, error) {
	if err := opts.Selector.Validate(); err != nil {
		return nil, err
	}
	listOpts := opts.Selector.listOptions(statedb.StatusSuccess)
	listOpts.Limit = opts.LimitPartitions
	states, err := c.states.List(ctx, listOpts)
	if err != nil {
		return nil, err
	}

	var previews []PartitionPreview
	for _, state := range states {
		if state.CurrentRunID == "" {
			continue
		}
		sample, err := c.sampleRun(ctx, sink, state, opts.SampleRows)
		if err != nil {
			level.Warn(c.logger).Log("msg", "preview skipped partition",
				"key", state.Key.String(), "run_id", state.CurrentRunID, "err", err)
			continue
		}
		previews = append(previews, PartitionPreview{State: state, Sample: sample})
	}
	return previews, nil
}

func (c *ControlPlane) sampleRun(ctx context.Context, sink backend.RawSink, state *statedb.PartitionState, sampleRows int) ([]map[string]interface{}, error) {
	reader, err := sink.OpenRun(ctx, state.Key, state.CurrentRunID)
	if err != nil {
		return nil, err
	}
	rows, err := reader.Rows(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sample []map[string]interface{}
	for len(sample) < sampleRows {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		sample = append(sample, row)
	}
	return sample, nil
}
