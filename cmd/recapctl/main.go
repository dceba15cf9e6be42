package main

import (
	"fmt"
	"os"
	"strings"

	"summoner-story/internal/domain"
	"summoner-story/internal/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	jsonOutput bool
	log        zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "recapctl",
	Short:        "Generate and inspect League of Legends year-in-review recaps",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log = logger.Console(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(tokenCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProgress(s domain.JobStatus) {
	if jsonOutput {
		return
	}
	fmt.Fprintf(os.Stderr, "  [%3d%%] %s\n", s.Progress, s.State)
}

func printRecap(handle string, stats *domain.StatisticsPayload, narrative *domain.Narrative) {
	fmt.Printf("\n%s\n%s\n", handle, strings.Repeat("=", len(handle)))
	if stats != nil {
		fmt.Printf("  Games: %d (%d W / %d L, %.1f%% win rate)\n", stats.TotalGames, stats.TotalWins, stats.TotalLosses, stats.WinRate)
		fmt.Printf("  Average KDA: %.2f\n", stats.AvgKDA)
		fmt.Printf("  Consistency: %.0f  Trend: %+.2f\n", stats.ConsistencyScore, stats.ImprovementTrend)
		if len(stats.ChampionStats) > 0 {
			fmt.Println("\n  Top champions:")
			for _, c := range stats.ChampionStats[:min(3, len(stats.ChampionStats))] {
				fmt.Printf("    %-14s %3d games  %.1f%% WR  %.2f KDA\n", c.ChampionName, c.Games, c.WinRate, c.AvgKDA)
			}
		}
	}
	if narrative != nil {
		if narrative.Archetype != "" {
			fmt.Printf("\n  Archetype: %s\n", narrative.Archetype)
		}
		for _, a := range narrative.Achievements {
			fmt.Printf("  * %s\n", a)
		}
		fmt.Printf("\n%s\n", narrative.Text)
	}
}

func printFailure(s domain.JobStatus) error {
	if s.Error == nil {
		return fmt.Errorf("job %s failed", s.JobID)
	}
	return fmt.Errorf("job %s failed: %s (%s)", s.JobID, s.Error.Message, s.Error.Code)
}
