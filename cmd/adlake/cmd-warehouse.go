package main

import (
	"context"
	"fmt"

	"github.com/adlake/adlake/modules/reconciler"
	"github.com/adlake/adlake/pkg/util/log"
	"github.com/adlake/adlake/pointerdb"
	"github.com/adlake/adlake/rawdb"
	"github.com/adlake/adlake/rawdb/curated"
)

type warehouseLoadCmd struct {
	StateDBPath   string `default:"data/state_store.db" help:"Partition state store path." type:"path"`
	PointerDBPath string `default:"data/warehouse_pointers.db" help:"Warehouse pointer store path." type:"path"`
	CuratedRoot   string `help:"Stage loaded runs below this curated root." type:"path"`
}

func (cmd *warehouseLoadCmd) Run(_ *globalOptions) error {
	ctx := context.Background()

	states, err := (&stateDBOptions{DBPath: cmd.StateDBPath}).open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	pointers, err := pointerdb.Open(cmd.PointerDBPath)
	if err != nil {
		return err
	}
	defer pointers.Close()
	if err := pointers.EnsureSchema(ctx); err != nil {
		return err
	}

	r := reconciler.New(states, pointers, log.Logger)
	if cmd.CuratedRoot != "" {
		sink, err := rawdb.FromEnv()
		if err != nil {
			return err
		}
		staged, err := curated.New(&curated.Config{Path: cmd.CuratedRoot})
		if err != nil {
			return err
		}
		r.WithStaging(sink, staged)
	}

	plan, err := r.Run(ctx)
	if plan != nil {
		fmt.Printf("reconciled: %d loaded, %d replaced, %d demoted\n",
			len(plan.Load), len(plan.Replace), len(plan.Demote))
	}
	return err
}
