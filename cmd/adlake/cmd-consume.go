package main

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/adlake/adlake/modules/controlplane"
	"github.com/adlake/adlake/pkg/util/log"
	"github.com/adlake/adlake/rawdb"
	"github.com/adlake/adlake/rawdb/backend"
	"github.com/adlake/adlake/rawdb/backend/local"
)

type previewCmd struct {
	LimitPartitions int    `default:"10" help:"Maximum partitions to preview."`
	SampleRows      int    `default:"5" help:"Rows sampled per partition."`
	Format          string `default:"table" enum:"table,json" help:"Output format."`
	RawRoot         string `help:"Filesystem raw sink root; overrides the RAW_SINK_* environment." type:"path"`

	selectorOptions
	stateDBOptions
}

func (cmd *previewCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	if !cmd.exists() {
		return errors.Errorf("state store not found at %s", cmd.DBPath)
	}

	sink, err := cmd.sink()
	if err != nil {
		return err
	}

	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	previews, err := controlplane.New(states, log.Logger).Preview(ctx, sink, controlplane.PreviewOptions{
		Selector:        cmd.selector(),
		LimitPartitions: cmd.LimitPartitions,
		SampleRows:      cmd.SampleRows,
	})
	if err != nil {
		return err
	}
	return controlplane.RenderPreviews(os.Stdout, previews, cmd.Format)
}

func (cmd *previewCmd) sink() (backend.RawSink, error) {
	if cmd.RawRoot != "" {
		return local.New(&local.Config{Path: cmd.RawRoot})
	}
	return rawdb.FromEnv()
}
