package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vietddude/riverwatch/internal/control"
	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/freshness"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted status of every pipeline",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusRow is one line of the status table.
type statusRow struct {
	ID        domain.PipelineID
	State     domain.PipelineState
	Record    domain.StatusRecord
	Threshold time.Duration
}

func runStatus(cmd *cobra.Command, args []string) {
	withWatcher(func(ctx context.Context, app *control.Watcher) error {
		now := time.Now()
		rows := make([]statusRow, 0, len(app.Pipelines()))
		for _, p := range app.Pipelines() {
			if err := p.Load(ctx); err != nil {
				slog.Error("Failed to load status record", "pipeline", p.ID(), "error", err)
				continue
			}
			rec := p.Recorder().Current()
			f := freshness.Evaluate(rec, now, p.Threshold())
			rows = append(rows, statusRow{
				ID:        p.ID(),
				State:     freshness.DeriveState(rec, f),
				Record:    rec,
				Threshold: p.Threshold(),
			})
		}
		writeStatus(os.Stdout, rows)
		return nil
	})
}

func writeStatus(out io.Writer, rows []statusRow) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "PIPELINE\tSTATE\tLAST SUCCESS\tLAST ATTEMPT\tTHRESHOLD\tLAST ERROR")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			stateColor(r.State).Sprint(freshness.StateDescription(r.State)),
			ago(r.Record.LastSuccess),
			ago(attemptTime(r.Record)),
			r.Threshold,
			r.Record.LastError)
	}
	_ = w.Flush()
}

func stateColor(s domain.PipelineState) *color.Color {
	switch s {
	case domain.PipelineStateCurrent:
		return color.New(color.FgGreen)
	case domain.PipelineStateFailedButCurrent:
		return color.New(color.FgYellow)
	case domain.PipelineStateStale:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.Faint)
	}
}

func attemptTime(rec domain.StatusRecord) *time.Time {
	if rec.LastAttempt.IsZero() {
		return nil
	}
	return &rec.LastAttempt
}

func ago(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}
