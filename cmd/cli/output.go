package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	"github.com/kurihiro0119/mixpanel-ingest/internal/runner"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRunOutcome(out *runner.Outcome) {
	fmt.Printf("\nRun %s: %s\n", out.Run.ID, out.Run.Status)
	fmt.Printf("Date Range: %s to %s\n\n", domain.FormatDate(out.Run.FromDate), domain.FormatDate(out.Run.ToDate))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Slices", strconv.Itoa(out.Stats.Slices)})
	table.Append([]string{"Records Fetched", strconv.FormatInt(out.Stats.Fetched, 10)})
	table.Append([]string{"Rows Emitted", strconv.FormatInt(out.Stats.Emitted, 10)})
	table.Append([]string{"Rows Skipped", strconv.FormatInt(out.Stats.Skipped, 10)})
	table.Append([]string{"Unconverted Values", strconv.FormatInt(out.Stats.Unconverted, 10)})
	if !out.Report.IsEmpty() {
		table.Append([]string{"Next From Date", domain.FormatDate(out.Report.NextFromDate)})
		table.Append([]string{"Latest Fetched Time", strconv.FormatInt(out.Report.LatestFetchedTime, 10)})
	}
	table.Render()
}

func printPreview(p *runner.Preview) {
	if p.Range != nil {
		fmt.Printf("\nPreview of %s\n\n", p.Range)
	}

	table := tablewriter.NewWriter(os.Stdout)
	header := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		header[i] = c.Name + ":" + string(c.Type)
	}
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	for _, row := range p.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		table.Append(cells)
	}
	table.Render()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.RFC3339)
	case string:
		return x
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// printColumnsYAML prints a columns list ready to paste into a task file
func printColumnsYAML(columns []domain.ColumnSpec) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"columns": columns}); err != nil {
		return err
	}
	return enc.Close()
}

func printState(state *domain.TaskState) {
	fmt.Printf("\nTask State: %s\n\n", state.Task)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"From Date", domain.FormatDate(state.FromDate)})
	table.Append([]string{"Latest Fetched Time", strconv.FormatInt(state.LatestFetchedTime, 10)})
	table.Append([]string{"Last Run", state.LastRunID})
	table.Append([]string{"Updated At", state.UpdatedAt.Format(time.RFC3339)})
	table.Render()
}

func printRuns(runs []*domain.Run) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Mode", "Range", "Status", "Emitted", "Skipped", "Started"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			string(r.Mode),
			domain.DateRange{From: r.FromDate, To: r.ToDate}.String(),
			string(r.Status),
			strconv.FormatInt(r.RowsEmitted, 10),
			strconv.FormatInt(r.RowsSkipped, 10),
			r.StartedAt.Format(time.RFC3339),
		})
	}
	table.Render()
}

func printStatus(summary *domain.TaskSummary, series *domain.TimeSeriesData) {
	fmt.Printf("\nTask Summary: %s\n\n", summary.Task)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Runs", strconv.Itoa(summary.Runs)})
	table.Append([]string{"Completed", strconv.Itoa(summary.CompletedRuns)})
	table.Append([]string{"Failed", strconv.Itoa(summary.FailedRuns)})
	table.Append([]string{"Rows Emitted", strconv.FormatInt(summary.RowsEmitted, 10)})
	table.Append([]string{"Rows Skipped", strconv.FormatInt(summary.RowsSkipped, 10)})
	if summary.NextFromDate != nil {
		table.Append([]string{"Next From Date", domain.FormatDate(*summary.NextFromDate)})
	}
	table.Append([]string{"Latest Fetched Time", strconv.FormatInt(summary.LatestFetchedTime, 10)})
	if summary.LastRunAt != nil {
		table.Append([]string{"Last Run At", summary.LastRunAt.Format(time.RFC3339)})
	}
	table.Render()

	if series == nil || len(series.DataPoints) == 0 {
		return
	}
	fmt.Printf("\nRows per %s\n\n", series.Granularity)
	ts := tablewriter.NewWriter(os.Stdout)
	ts.SetHeader([]string{"Period", "Rows"})
	for _, p := range series.DataPoints {
		ts.Append([]string{domain.FormatDate(p.Timestamp), strconv.FormatInt(p.Value, 10)})
	}
	ts.Render()
}
