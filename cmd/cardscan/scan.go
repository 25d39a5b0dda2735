package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/cardscan/internal/config"
	"github.com/GriffinCanCode/cardscan/internal/metrics"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator"
	"github.com/GriffinCanCode/cardscan/internal/trace"
)

var scanOpts struct {
	backSuffix string
	quiet      bool
}

var scanCmd = &cobra.Command{
	Use:   "scan <image>...",
	Short: "Scan still photos of business cards and print the results as JSON lines",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScanFiles(cmd.Context(), cfg, args)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanOpts.backSuffix, "back-suffix", "", `pair "card.jpg" with "card<suffix>.jpg" as its reverse side`)
	scanCmd.Flags().BoolVarP(&scanOpts.quiet, "quiet", "q", false, "hide the progress bar")
}

// scanLine is one JSON line of output.
type scanLine struct {
	File string `json:"file"`
	orchestrator.Result
	Error string `json:"error,omitempty"`
}

func runScanFiles(ctx context.Context, cfg *config.Config, files []string) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	orch, err := buildOrchestrator(cfg, c, metrics.New(nil))
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("scanning cards"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(!scanOpts.quiet),
	)
	enc := json.NewEncoder(os.Stdout)

	accepted := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fctx, _ := trace.EnsureContext(ctx)
		line := scanFile(fctx, orch, f)
		if line.Outcome == orchestrator.OutcomeAccepted {
			accepted++
		}
		_ = bar.Clear()
		if err := enc.Encode(line); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintf(os.Stderr, "\n%d/%d cards accepted\n", accepted, len(files))
	return nil
}

func scanFile(ctx context.Context, orch *orchestrator.Orchestrator, path string) scanLine {
	line := scanLine{File: path}
	front, err := os.ReadFile(path)
	if err != nil {
		line.Outcome, line.Error = orchestrator.OutcomeError, err.Error()
		return line
	}
	a := orchestrator.Attempt{Image: front, Still: true, Trigger: "still"}
	if scanOpts.backSuffix != "" {
		ext := filepath.Ext(path)
		backPath := path[:len(path)-len(ext)] + scanOpts.backSuffix + ext
		if back, err := os.ReadFile(backPath); err == nil {
			a.BackImage = back
		}
	}

	line.Result, err = orch.Scan(ctx, a)
	if err != nil {
		line.Outcome, line.Error = orchestrator.OutcomeError, err.Error()
	} else if line.Result.Err != nil {
		line.Error = line.Result.Err.Error()
	}
	return line
}
