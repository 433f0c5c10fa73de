package main

import (
	"context"
	"fmt"
	"os"

	"github.com/adlake/adlake/modules/controlplane"
	"github.com/adlake/adlake/pkg/util/log"
	"github.com/adlake/adlake/statedb"
)

type selectorOptions struct {
	CustomerID string `help:"Restrict to one customer."`
	QueryName  string `help:"Restrict to one query."`
	Since      string `help:"Inclusive lower bound on logical date, YYYY-MM-DD."`
	Until      string `help:"Inclusive upper bound on logical date, YYYY-MM-DD."`
}

func (o *selectorOptions) selector() controlplane.Selector {
	return controlplane.Selector{
		CustomerID: o.CustomerID,
		QueryName:  o.QueryName,
		Since:      o.Since,
		Until:      o.Until,
	}
}

type inspectCmd struct {
	Status string `help:"Restrict to one status." enum:",pending,success,failed"`
	Limit  int    `help:"Maximum rows to list."`
	Format string `default:"table" enum:"table,json" help:"Output format."`

	selectorOptions
	stateDBOptions
}

func (cmd *inspectCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	// a missing store is an empty listing, not an error
	if !cmd.exists() {
		fmt.Println("No partition state records found.")
		return nil
	}

	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	rows, err := controlplane.New(states, log.Logger).Inspect(ctx, statedb.ListOptions{
		Status:     statedb.Status(cmd.Status),
		CustomerID: cmd.CustomerID,
		QueryName:  cmd.QueryName,
		Since:      cmd.Since,
		Until:      cmd.Until,
		Limit:      cmd.Limit,
	})
	if err != nil {
		return err
	}
	return controlplane.RenderStates(os.Stdout, rows, cmd.Format)
}

type retryCmd struct {
	DryRun        bool `help:"Show what would change without writing."`
	Force         bool `help:"Skip guard prompts."`
	ClearTerminal bool `help:"Include terminal partitions and clear their error message."`

	selectorOptions
	stateDBOptions
}

func (cmd *retryCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	result, err := controlplane.New(states, log.Logger).Retry(ctx, controlplane.RetryOptions{
		Selector:      cmd.selector(),
		DryRun:        cmd.DryRun,
		Force:         cmd.Force,
		ClearTerminal: cmd.ClearTerminal,
	})
	if err != nil {
		return err
	}
	printMutation("retry", result)
	return nil
}

type markTerminalCmd struct {
	DryRun bool `help:"Show what would change without writing."`
	Force  bool `help:"Skip guard prompts."`

	selectorOptions
	stateDBOptions
}

func (cmd *markTerminalCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	result, err := controlplane.New(states, log.Logger).MarkTerminal(ctx, controlplane.MarkTerminalOptions{
		Selector: cmd.selector(),
		DryRun:   cmd.DryRun,
		Force:    cmd.Force,
	})
	if err != nil {
		return err
	}
	printMutation("mark-terminal", result)
	return nil
}

type backfillEnqueueCmd struct {
	CustomerID   string `required:"" help:"Customer to backfill."`
	QueryName    string `required:"" help:"Query to backfill."`
	Since        string `required:"" help:"Inclusive range start, YYYY-MM-DD."`
	Until        string `required:"" help:"Inclusive range end, YYYY-MM-DD."`
	ForcePending bool   `help:"Re-pend dates that already have a state row."`
	Force        bool   `help:"Skip guard prompts."`
	DryRun       bool   `help:"Show what would change without writing."`

	stateDBOptions
}

func (cmd *backfillEnqueueCmd) Run(_ *globalOptions) error {
	ctx := context.Background()
	states, err := cmd.open(ctx)
	if err != nil {
		return err
	}
	defer states.Close()

	result, err := controlplane.New(states, log.Logger).BackfillEnqueue(ctx, controlplane.BackfillOptions{
		CustomerID:   cmd.CustomerID,
		QueryName:    cmd.QueryName,
		Since:        cmd.Since,
		Until:        cmd.Until,
		ForcePending: cmd.ForcePending,
		Force:        cmd.Force,
		DryRun:       cmd.DryRun,
	})
	if err != nil {
		return err
	}
	printMutation("backfill", result)
	return nil
}

func printMutation(op string, result *controlplane.MutationResult) {
	if result.DryRun {
		fmt.Printf("%s dry-run: %d selected, %d skipped\n", op, len(result.Selected), result.Skipped)
		return
	}
	fmt.Printf("%s: %d updated, %d skipped\n", op, result.Updated, result.Skipped)
}
