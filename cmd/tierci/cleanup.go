package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/state"
)

var (
	cleanupForce       bool
	cleanupDryRun      bool
	cleanupOlderThan   time.Duration
	cleanupInterrupted bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Close interrupted runs and purge old history",
	Long: `Clean up the run history database.

This command:
  - Closes runs left unfinished by a crashed process (--interrupted)
  - Deletes finished runs older than --older-than, with their jobs

'tierci serve' closes interrupted runs on its own at startup; use this after
a crash of 'tierci run'.

Examples:
  tierci cleanup --interrupted
  tierci cleanup --older-than 720h
  tierci cleanup --older-than 720h --dry-run`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be cleaned without changing anything")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Purge finished runs created before this age (e.g. 720h)")
	cleanupCmd.Flags().BoolVar(&cleanupInterrupted, "interrupted", false, "Close runs that never reached a verdict")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupInterrupted && cleanupOlderThan <= 0 {
		return fmt.Errorf("nothing to do: pass --interrupted and/or --older-than")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openState(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	if cleanupInterrupted {
		rm := state.NewRecoveryManager(db)
		runs, err := rm.CheckForInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("find interrupted runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No interrupted runs found.")
		} else {
			fmt.Printf("Found %d interrupted run(s):\n", len(runs))
			for _, r := range runs {
				fmt.Printf("  - %s %s (%d job(s) in flight, started %s ago)\n",
					shortRunID(r.RunID), r.Trigger, r.RunningJobs, formatDuration(time.Since(r.CreatedAt)))
			}
			if cleanupDryRun {
				fmt.Println("Dry run mode - no runs were closed.")
			} else if confirm("Close these runs?") {
				n, err := rm.CleanAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Closed %d run(s).\n", n)
			}
		}
	}

	if cleanupOlderThan > 0 {
		if cleanupDryRun {
			fmt.Printf("Dry run mode - would purge finished runs older than %s.\n", cleanupOlderThan)
			return nil
		}
		if !confirm(fmt.Sprintf("Purge finished runs older than %s?", cleanupOlderThan)) {
			return nil
		}
		n, err := db.PurgeRuns(ctx, cleanupOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d run(s).\n", n)
	}
	return nil
}

// confirm asks a yes/no question unless --force is set.
func confirm(question string) bool {
	if cleanupForce {
		return true
	}
	fmt.Printf("%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	if response != "y" && response != "yes" {
		fmt.Println("Cancelled.")
		return false
	}
	return true
}
