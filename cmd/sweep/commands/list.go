package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunelab/sweep/internal/aggregator"
	"github.com/tunelab/sweep/pkg/trialstore"
)

var (
	listJSON   bool
	listStatus string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List trials in this experiment's namespace",
	Long: `List trials recorded in the trial store for this experiment's namespace.

For each trial, displays:
  • Trial id
  • Status ` + "(QUEUED/INITIALIZING/RUNNING/COMPLETED/FAILED)" + `
  • Scalar score (for completed trials with a numeric result)
  • Age since creation

Use --status to show only one lifecycle state and --json for
machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (e.g. QUEUED, COMPLETED)")
	rootCmd.AddCommand(listCmd)
}

// trialRow is the list entry shown per job.
type trialRow struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Score     *float64 `json:"score,omitempty"`
	Command   string   `json:"command"`
	CreatedAt string   `json:"created_at"`
	Age       string   `json:"age"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var jobs []*trialstore.Job
	if listStatus != "" {
		status := trialstore.Status(listStatus)
		if !status.IsValid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		jobs, err = store.FindJobs(ctx, status)
	} else {
		jobs, err = store.ListJobs(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list trials: %w", err)
	}

	// Newest first
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAtMs > jobs[j].CreatedAtMs
	})

	rows := make([]trialRow, 0, len(jobs))
	for _, job := range jobs {
		created := time.UnixMilli(job.CreatedAtMs)
		row := trialRow{
			ID:        job.ID,
			Status:    string(job.Status),
			Command:   job.Command,
			CreatedAt: created.UTC().Format(time.RFC3339),
			Age:       formatDuration(time.Since(created)),
		}
		if job.Status == trialstore.StatusCompleted {
			if score, err := aggregator.ToScalar(job.Result); err == nil {
				s := score
				row.Score = &s
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		if listJSON {
			fmt.Println("[]")
		} else {
			fmt.Printf("No trials found in namespace %q.\n", cfg.Namespace)
			fmt.Println()
			fmt.Println("Run 'sweep enqueue' or 'sweep run' to create some.")
		}
		return nil
	}

	if listJSON {
		outputJSON(rows)
	} else {
		outputTable(rows)
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func outputJSON(rows []trialRow) {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputTable(rows []trialRow) {
	fmt.Printf("%-36s %-13s %-12s %-10s %s\n", "TRIAL", "STATUS", "SCORE", "AGE", "COMMAND")

	for _, row := range rows {
		score := "-"
		if row.Score != nil {
			score = fmt.Sprintf("%g", *row.Score)
		}

		command := row.Command
		if len(command) > 40 {
			command = command[:37] + "..."
		}

		fmt.Printf("%-36s %-13s %-12s %-10s %s\n", row.ID, row.Status, score, row.Age, command)
	}
}
