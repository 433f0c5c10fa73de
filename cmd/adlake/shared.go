package main

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/config"
	"github.com/adlake/adlake/statedb"
)

type stateDBOptions struct {
	DBPath string `name:"db-path" default:"data/state_store.db" help:"Partition state store path." type:"path"`
}

func (o *stateDBOptions) exists() bool {
	_, err := os.Stat(o.DBPath)
	return err == nil
}

func (o *stateDBOptions) open(ctx context.Context) (*statedb.Store, error) {
	states, err := statedb.Open(o.DBPath)
	if err != nil {
		return nil, err
	}
	if err := states.EnsureSchema(ctx); err != nil {
		states.Close()
		return nil, err
	}
	return states, nil
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	path := opts.ConfigFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, opts.ConfigExpandEnv)
	return cfg, errors.Wrap(err, "loading configuration")
}
