package main

import (
	"fmt"
	"os"
	"time"

	"summoner-story/internal/auth"
	"summoner-story/internal/config"
	"summoner-story/internal/domain"
	"summoner-story/internal/poller"
	"summoner-story/internal/server"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	follow    bool

	snapshotRegion string
	snapshotLimit  int

	tokenSubject string
	tokenTTL     time.Duration
)

func init() {
	for _, c := range []*cobra.Command{statusCmd, snapshotsCmd} {
		c.Flags().StringVarP(&serverURL, "server", "s", envOr("RECAP_SERVER", "http://localhost:8080"), "Recap server base URL")
		c.Flags().StringVar(&token, "token", os.Getenv("RECAP_TOKEN"), "Session token (default $RECAP_TOKEN)")
	}
	statusCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll until the job finishes")

	snapshotsCmd.Flags().StringVarP(&snapshotRegion, "region", "r", "na1", "Platform id")
	snapshotsCmd.Flags().IntVarP(&snapshotLimit, "limit", "n", 10, "Maximum snapshots to list")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job on a recap server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := server.NewDefaultRecapClient(serverURL, token)
		ctx := cmd.Context()

		status, err := client.GetStatus(ctx, args[0])
		if err != nil {
			return err
		}
		if follow && !status.State.IsTerminal() {
			status, err = poller.New(client, log).Wait(ctx, args[0], printProgress)
			if err != nil {
				return err
			}
		}

		if status.State != domain.JobCompleted {
			if jsonOutput {
				return printJSON(status)
			}
			if status.State == domain.JobFailed {
				return printFailure(status)
			}
			fmt.Printf("%s: %s (%d%%)\n", status.JobID, status.State, status.Progress)
			return nil
		}

		recap, err := client.GetRecap(ctx, args[0])
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

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <Name#TAG>",
	Short: "List stored statistics snapshots of a player",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := server.NewDefaultRecapClient(serverURL, token)
		resp, err := client.ListSnapshots(cmd.Context(), server.ListSnapshotsRequest{
			Handle: args[0],
			Region: snapshotRegion,
			Limit:  snapshotLimit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resp)
		}

		fmt.Printf("%s (%d snapshots)\n", resp.Puuid, len(resp.Snapshots))
		for _, s := range resp.Snapshots {
			partial := ""
			if s.Partial {
				partial = " partial"
			}
			fmt.Printf("  %s  %s..%s  %4d games  %.1f%% WR  %s%s\n",
				s.CreatedAt.Format(time.DateTime),
				s.WindowStart.Format(time.DateOnly),
				s.WindowEnd.Format(time.DateOnly),
				s.TotalGames,
				s.Payload.WinRate,
				s.Fingerprint[:min(12, len(s.Fingerprint))],
				partial,
			)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a session token with SESSION_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv(log)
		secret := os.Getenv("SESSION_SECRET")
		if secret == "" {
			return fmt.Errorf("SESSION_SECRET is required")
		}
		signed, err := auth.New(secret, envOr("SESSION_ISSUER", "summoner-story")).Sign(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(signed)
		return nil
	},
}
