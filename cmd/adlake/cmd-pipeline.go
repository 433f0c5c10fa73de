package main

import (
	"context"
	"fmt"

	"github.com/adlake/adlake/modules/extractor"
	"github.com/adlake/adlake/modules/runner"
	"github.com/adlake/adlake/pkg/util/log"
	"github.com/adlake/adlake/rawdb"
)

type dailyCmd struct {
	stateDBOptions
}

func (cmd *dailyCmd) Run(opts *globalOptions) error {
	return runCycle(opts, &cmd.stateDBOptions, func(ctx context.Context, r *runner.Runner) (*runner.CycleResult, error) {
		return r.Daily(ctx)
	})
}

type catchUpCmd struct {
	Days int `help:"Lookback window in days; defaults to the configured catch-up window."`

	stateDBOptions
}

func (cmd *catchUpCmd) Run(opts *globalOptions) error {
	return runCycle(opts, &cmd.stateDBOptions, func(ctx context.Context, r *runner.Runner) (*runner.CycleResult, error) {
		return r.CatchUp(ctx, cmd.Days)
	})
}

func runCycle(opts *globalOptions, dbOpts *stateDBOptions, cycle func(context.Context, *runner.Runner) (*runner.CycleResult, error)) error {
	ctx := context.Background()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ads := cfg.Extractors.GoogleAds
	client, err := extractor.NewGoogleAdsClient(ads.APIVersion, ads.LoginCustomerID)
	if err != nil {
		return err
	}

	sink, err := rawdb.FromEnv()
	if err != nil {
		return err
	}

	states, err := dbOpts.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	result, err := cycle(ctx, runner.New(cfg, client, sink, states, log.Logger))
	if err != nil {
		return err
	}

	fmt.Printf("cycle %s complete: %d targets, %d succeeded, %d failed\n",
		result.RunID, result.Targets, result.Succeeded, result.Failed)
	return nil
}
