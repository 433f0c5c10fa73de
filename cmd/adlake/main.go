package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"

	"github.com/adlake/adlake/modules/controlplane"
	"github.com/adlake/adlake/pkg/util/log"
)

type globalOptions struct {
	ConfigFile      string `name:"config.file" help:"Pipeline configuration file." type:"path"`
	ConfigExpandEnv bool   `name:"config.expand-env" help:"Expand environment variables in the configuration file."`
	LogLevel        string `name:"log.level" default:"info" enum:"debug,info,warn,error" help:"Log level."`
}

var cli struct {
	globalOptions

	Daily   dailyCmd   `cmd:"" help:"Run one pipeline cycle for today with the daily lookback."`
	CatchUp catchUpCmd `cmd:"" name:"catch-up" help:"Run one pipeline cycle with an extended lookback window."`

	State struct {
		Inspect      inspectCmd      `cmd:"" help:"List partition state records."`
		Retry        retryCmd        `cmd:"" help:"Flip failed partitions back to pending."`
		MarkTerminal markTerminalCmd `cmd:"" name:"mark-terminal" help:"Exclude failed partitions from automatic retry."`
		Backfill     struct {
			Enqueue backfillEnqueueCmd `cmd:"" help:"Enqueue pending rows for a date range."`
		} `cmd:"" help:"Backfill operations."`
	} `cmd:"" help:"Operate on the partition state store."`

	Consume struct {
		Preview previewCmd `cmd:"" help:"Sample rows from successful partitions."`
	} `cmd:"" help:"Read-side helpers."`

	Warehouse struct {
		Load warehouseLoadCmd `cmd:"" help:"Reconcile warehouse pointers onto successful partitions."`
	} `cmd:"" help:"Warehouse operations."`

	Observe struct {
		State     observeStateCmd     `cmd:"" help:"Summarize partition states."`
		Freshness observeFreshnessCmd `cmd:"" help:"Report success coverage and gaps per query."`
		Retries   observeRetriesCmd   `cmd:"" help:"Report attempt-count distribution."`
	} `cmd:"" help:"Read-only reports."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("adlake"),
		kong.Description("Incremental extract-validate-publish pipeline for ad-platform report data."),
		kong.UsageOnError(),
	)

	log.InitLogger(cli.LogLevel)

	if err := ctx.Run(&cli.globalOptions); err != nil {
		if errors.Is(err, controlplane.ErrGuardRejected) {
			fmt.Fprintln(os.Stderr, guardMessage(err))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// guardMessage strips the wrapped sentinel suffix so the operator sees only
// the refusal text.
func guardMessage(err error) string {
	msg := err.Error()
	suffix := ": " + controlplane.ErrGuardRejected.Error()
	if len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
		return msg[:len(msg)-len(suffix)]
	}
	return msg
}
