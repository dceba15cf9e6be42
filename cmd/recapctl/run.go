package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"summoner-story/internal/auth"
	"summoner-story/internal/constants"
	"summoner-story/internal/domain"
	fxmodules "summoner-story/internal/fx"
	"summoner-story/internal/poller"
	"summoner-story/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	runRegion   string
	runTemplate string
	runMonths   int
	runQueue    int
	runRanked   bool
)

func init() {
	runCmd.Flags().StringVarP(&runRegion, "region", "r", "na1", "Platform id, e.g. na1, euw1, kr")
	runCmd.Flags().StringVarP(&runTemplate, "template", "t", "", "Narrative template (default from the template set)")
	runCmd.Flags().IntVarP(&runMonths, "months", "m", 0, "History window in months (default HISTORY_MONTHS)")
	runCmd.Flags().IntVar(&runQueue, "queue", 0, "Only count one queue id")
	runCmd.Flags().BoolVar(&runRanked, "ranked", false, "Only count ranked solo/duo games (same as --queue 420)")
	runCmd.MarkFlagsMutuallyExclusive("queue", "ranked")
}

// queueFilter resolves the queue flags; zero means every queue.
func queueFilter(ranked bool, queue int) int {
	if ranked {
		return constants.RankedSoloQueueID
	}
	return queue
}

var runCmd = &cobra.Command{
	Use:   "run <Name#TAG>",
	Short: "Run a recap in-process against the local database and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var orchestrator *service.Orchestrator
		app := fx.New(
			fxmodules.Core,
			fx.Decorate(func(zerolog.Logger) zerolog.Logger { return log }),
			fx.NopLogger,
			fx.Populate(&orchestrator),
		)
		if err := app.Err(); err != nil {
			return fmt.Errorf("wiring recap pipeline: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		startCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer cancel()
		if err := app.Start(startCtx); err != nil {
			return fmt.Errorf("starting: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			_ = orchestrator.Shutdown(stopCtx)
			_ = app.Stop(stopCtx)
		}()

		// the local operator acts as its own session
		session := &auth.Session{ID: uuid.NewString(), Subject: "recapctl", ExpiresAt: time.Now().Add(constants.PipelineTimeout)}
		jobID, err := orchestrator.Submit(ctx, session, service.RecapRequest{
			Handle:   args[0],
			Region:   runRegion,
			Template: runTemplate,
			Months:   runMonths,
			Queue:    queueFilter(runRanked, runQueue),
		})
		if err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "Job %s submitted\n", jobID)
		}

		final, err := poller.New(orchestrator, log, poller.WithInterval(200*time.Millisecond, 2*time.Second)).
			Wait(ctx, jobID, printProgress)
		if err != nil {
			return err
		}
		if final.State == domain.JobFailed {
			return printFailure(final)
		}

		recap, err := orchestrator.GetRecap(ctx, jobID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(recap)
		}
		printRecap(recap.Handle, recap.Stats, recap.Narrative)
		return nil
	},
}
