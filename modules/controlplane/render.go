package controlplane

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/adlake/adlake/statedb"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// RenderStates prints state rows as a table or JSON. An empty listing prints
// a notice and is not an error.
func RenderStates(w io.Writer, states []*statedb.PartitionState, format string) error {
	if len(states) == 0 {
		fmt.Fprintln(w, "No partition state records found.")
		return nil
	}
	if format == FormatJSON {
		return renderStatesJSON(w, states)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"customer", "query", "date", "status", "run id", "records", "attempts", "error"})
	for _, state := range states {
		table.Append([]string{
			state.Key.CustomerID,
			state.Key.QueryName,
			state.Key.LogicalDate,
			string(state.Status),
			state.CurrentRunID,
			recordCountCell(state),
			strconv.FormatInt(state.AttemptCount, 10),
			state.ErrorMessage,
		})
	}
	table.Render()
	return nil
}

func renderStatesJSON(w io.Writer, states []*statedb.PartitionState) error {
	type row struct {
		Source        string `json:"source"`
		CustomerID    string `json:"customer_id"`
		QueryName     string `json:"query_name"`
		LogicalDate   string `json:"logical_date"`
		Status        string `json:"status"`
		CurrentRunID  string `json:"current_run_id,omitempty"`
		SchemaVersion string `json:"schema_version,omitempty"`
		RecordCount   *int64 `json:"record_count"`
		UpdatedAt     string `json:"updated_at"`
		ErrorMessage  string `json:"error_message,omitempty"`
		AttemptCount  int64  `json:"attempt_count"`
	}

	rows := make([]row, 0, len(states))
	for _, state := range states {
		r := row{
			Source:        state.Key.Source,
			CustomerID:    state.Key.CustomerID,
			QueryName:     state.Key.QueryName,
			LogicalDate:   state.Key.LogicalDate,
			Status:        string(state.Status),
			CurrentRunID:  state.CurrentRunID,
			SchemaVersion: state.SchemaVersion,
			UpdatedAt:     state.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			ErrorMessage:  state.ErrorMessage,
			AttemptCount:  state.AttemptCount,
		}
		if state.CurrentRunID != "" || state.RecordCount != 0 {
			count := state.RecordCount
			r.RecordCount = &count
		}
		rows = append(rows, r)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func recordCountCell(state *statedb.PartitionState) string {
	if state.CurrentRunID == "" && state.RecordCount == 0 {
		return "-"
	}
	return humanize.Comma(state.RecordCount)
}

// RenderPreviews prints the preview summary table followed by a JSON sample
// block per partition. JSON format emits one document for the whole preview.
func RenderPreviews(w io.Writer, previews []PartitionPreview, format string) error {
	if len(previews) == 0 {
		fmt.Fprintln(w, "No successful partitions matched.")
		return nil
	}
	if format == FormatJSON {
		type block struct {
			CustomerID  string                   `json:"customer_id"`
			QueryName   string                   `json:"query_name"`
			LogicalDate string                   `json:"logical_date"`
			RunID       string                   `json:"run_id"`
			RecordCount int64                    `json:"record_count"`
			Sample      []map[string]interface{} `json:"sample"`
		}
		blocks := make([]block, 0, len(previews))
		for _, p := range previews {
			blocks = append(blocks, block{
				CustomerID:  p.State.Key.CustomerID,
				QueryName:   p.State.Key.QueryName,
				LogicalDate: p.State.Key.LogicalDate,
				RunID:       p.State.CurrentRunID,
				RecordCount: p.State.RecordCount,
				Sample:      p.Sample,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(blocks)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"customer", "query", "date", "run id", "records", "sampled"})
	for _, p := range previews {
		table.Append([]string{
			p.State.Key.CustomerID,
			p.State.Key.QueryName,
			p.State.Key.LogicalDate,
			p.State.CurrentRunID,
			humanize.Comma(p.State.RecordCount),
			strconv.Itoa(len(p.Sample)),
		})
	}
	table.Render()

	for _, p := range previews {
		fmt.Fprintf(w, "\n%s run_id=%s\n", p.State.Key.String(), p.State.CurrentRunID)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p.Sample); err != nil {
			return err
		}
	}
	return nil
}

func RenderStateReport(w io.Writer, report *StateReport) {
	fmt.Fprintf(w, "partitions: %s\n", humanize.Comma(int64(report.Total)))
	for _, status := range []statedb.Status{statedb.StatusPending, statedb.StatusSuccess, statedb.StatusFailed} {
		fmt.Fprintf(w, "  %-8s %s\n", status, humanize.Comma(int64(report.ByStatus[status])))
	}

	if len(report.TopFailed) == 0 {
		return
	}
	fmt.Fprintln(w, "\nrecent failures:")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"customer", "query", "date", "attempts", "error"})
	for _, state := range report.TopFailed {
		table.Append([]string{
			state.Key.CustomerID,
			state.Key.QueryName,
			state.Key.LogicalDate,
			strconv.FormatInt(state.AttemptCount, 10),
			state.ErrorMessage,
		})
	}
	table.Render()
}

func RenderFreshness(w io.Writer, groups []FreshnessGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No successful partitions recorded.")
		return
	}
	for _, group := range groups {
		fmt.Fprintf(w, "%s / %s\n", group.Source, group.QueryName)
		fmt.Fprintf(w, "  earliest: %s\n", group.Earliest)
		fmt.Fprintf(w, "  latest:   %s\n", group.Latest)
		fmt.Fprintf(w, "  lag_days: %d\n", group.LagDays)
		if len(group.MissingSpans) == 0 {
			fmt.Fprintln(w, "  missing:  none")
			continue
		}
		fmt.Fprintln(w, "  missing:")
		for _, span := range group.MissingSpans {
			fmt.Fprintf(w, "    %s\n", span)
		}
	}
}

func RenderRetries(w io.Writer, report *RetriesReport) {
	fmt.Fprintln(w, "attempt buckets:")
	for _, bucket := range report.Buckets {
		fmt.Fprintf(w, "  %-5s %s\n", bucket.Label, humanize.Comma(int64(bucket.Count)))
	}

	if len(report.Top) == 0 {
		return
	}
	fmt.Fprintln(w, "\nmost attempted:")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"customer", "query", "date", "status", "attempts"})
	for _, state := range report.Top {
		table.Append([]string{
			state.Key.CustomerID,
			state.Key.QueryName,
			state.Key.LogicalDate,
			string(state.Status),
			strconv.FormatInt(state.AttemptCount, 10),
		})
	}
	table.Render()
}
