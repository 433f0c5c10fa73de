package main

import (
	"context"
	"os"
	"time"

	"github.com/adlake/adlake/modules/controlplane"
	"github.com/adlake/adlake/pkg/util/log"
)

type observeStateCmd struct {
	TopFailed int `default:"10" help:"Recent failed partitions to list."`

	stateDBOptions
}

func (cmd *observeStateCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	report, err := controlplane.New(states, log.Logger).ObserveState(ctx, cmd.TopFailed)
	if err != nil {
		return err
	}
	controlplane.RenderStateReport(os.Stdout, report)
	return nil
}

type observeFreshnessCmd struct {
	stateDBOptions
}

func (cmd *observeFreshnessCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	groups, err := controlplane.New(states, log.Logger).ObserveFreshness(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	controlplane.RenderFreshness(os.Stdout, groups)
	return nil
}

type observeRetriesCmd struct {
	Top int `default:"10" help:"Most attempted partitions to list."`

	stateDBOptions
}

func (cmd *observeRetriesCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	report, err := controlplane.New(states, log.Logger).ObserveRetries(ctx, cmd.Top)
	if err != nil {
		return err
	}
	controlplane.RenderRetries(os.Stdout, report)
	return nil
}
