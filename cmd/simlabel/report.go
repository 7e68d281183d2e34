package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/simlabel/config"
	"go.viam.com/simlabel/sensor"
	"go.viam.com/simlabel/session"
)

// summaryTable renders the end-of-run counters.
func summaryTable(sum session.Summary, ticks, skipped int, elapsed time.Duration) string {
	t := table.NewWriter()
	t.SetTitle("run " + sum.RunID)
	t.AppendHeader(table.Row{"Stage", "Received", "Labeled", "Dropped"})
	t.AppendRow(table.Row{"ticks", ticks, "", skipped})
	t.AppendRow(table.Row{"images", sum.Queue.ImagesReceived, sum.Labels.Images, sum.Queue.ImagesDropped})
	t.AppendRow(table.Row{"sweeps", sum.Queue.SweepsReceived, sum.Labels.Sweeps, sum.Queue.SweepsDropped})
	t.AppendSeparator()
	t.AppendRow(table.Row{"objects", sum.Labels.Objects, sum.Labels.Detected, sum.Labels.Malformed})
	t.AppendFooter(table.Row{
		"written",
		fmt.Sprintf("%d files", sum.Written.Files),
		sum.Written.HumanBytes(),
		fmt.Sprintf("%d failed", sum.Pool.Failed),
	})
	t.AppendFooter(table.Row{
		"visible ratio",
		fmt.Sprintf("mean %.3f", sum.RatioMean),
		fmt.Sprintf("median %.3f", sum.RatioMedian),
		elapsed.Round(time.Millisecond).String(),
	})
	return t.Render()
}

func printSummary(w io.Writer, sum session.Summary, ticks, skipped int, elapsed time.Duration) {
	fmt.Fprintln(w, summaryTable(sum, ticks, skipped, elapsed))
}

// sensorTable builds every configured sensor and renders whether it initialized. It returns the
// number of sensors that failed.
func sensorTable(cfgs []config.Sensor) (string, int) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Type", "Description", "Status"})
	failed := 0
	for _, cfg := range cfgs {
		status := "ok"
		if _, err := sensor.NewModel(cfg); err != nil {
			status = err.Error()
			failed++
		}
		t.AppendRow(table.Row{cfg.ID, cfg.Type, cfg.Description, status})
	}
	return t.Render(), failed
}

// ValidateCommand loads a config and reports which sensors initialize.
func ValidateCommand(c *cli.Context) error {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	rendered, failed := sensorTable(cfg.Sensors)
	fmt.Fprintln(c.App.Writer, rendered)
	if failed > 0 {
		return errors.Errorf("%d of %d sensors failed to initialize", failed, len(cfg.Sensors))
	}
	fmt.Fprintf(c.App.Writer, "%s: scenario %q, %d sensors ok\n", cfg.ConfigFilePath, cfg.Scenario, len(cfg.Sensors))
	return nil
}
