package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devflow-ai/devflow/pkg/api"
	"github.com/devflow-ai/devflow/pkg/cost"
	"github.com/devflow-ai/devflow/pkg/models"
	"github.com/devflow-ai/devflow/pkg/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Show a combined view of server health, load, mode, and spend.`,
	Args:  exactArgs(0),
	RunE:  runStatusOverview,
}

var statusOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show the combined status view",
	Args:  exactArgs(0),
	RunE:  runStatusOverview,
}

var statusStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show orchestrator load",
	Args:  exactArgs(0),
	RunE:  runStatusStats,
}

var statusCostsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show spend summary",
	Args:  exactArgs(0),
	RunE:  runStatusCosts,
}

var statusHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show subsystem health",
	Args:  exactArgs(0),
	RunE:  runStatusHealth,
}

func init() {
	statusCostsCmd.Flags().Int("days", 0, "restrict the summary to the last N days")

	statusCmd.AddCommand(statusOverviewCmd)
	statusCmd.AddCommand(statusStatsCmd)
	statusCmd.AddCommand(statusCostsCmd)
	statusCmd.AddCommand(statusHealthCmd)
}

// statusOverview is the combined snapshot assembled from four endpoints.
type statusOverview struct {
	Health api.HealthResponse `json:"health"`
	Stats  orchestrator.Stats `json:"stats"`
	Costs  cost.Summary       `json:"costs"`
	Mode   models.Mode        `json:"mode"`
}

func runStatusOverview(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	// The four endpoints are independent, so fetch them concurrently.
	var ov statusOverview
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		// Decode the body even on 503 so the overview still renders
		// when a subsystem is down.
		_, err := client.getStatus(ctx, "/health", &ov.Health)
		return err
	})
	g.Go(func() error { return client.get(ctx, "/api/v1/monitoring/stats", &ov.Stats) })
	g.Go(func() error { return client.get(ctx, "/api/v1/monitoring/costs", &ov.Costs) })
	g.Go(func() error {
		var resp struct {
			Mode models.Mode `json:"mode"`
		}
		if err := client.get(ctx, "/api/v1/modes/current", &resp); err != nil {
			return err
		}
		ov.Mode = resp.Mode
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(out, ov)
	}

	fmt.Fprintf(out, "Server:  %s (%s)\n", client.base, ov.Health.Version)
	fmt.Fprintf(out, "Status:  %s\n", ov.Health.Status)
	renderHealthChecks(out, &ov.Health)
	fmt.Fprintf(out, "\nMode:    %s\n", ov.Mode)

	fmt.Fprintf(out, "\nTasks:   %d total\n", ov.Stats.TotalTasks)
	if line := statusLine(ov.Stats.ByStatus); line != "" {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, "Queue:   %d waiting, %d agent(s) busy\n", ov.Stats.QueueDepth, ov.Stats.ActiveAgents)

	fmt.Fprintf(out, "\nSpend:   $%s across %d call(s), %d tokens\n",
		ov.Costs.TotalCost, ov.Costs.CallCount, ov.Costs.TotalTokens)
	return nil
}

func renderHealthChecks(w io.Writer, h *api.HealthResponse) {
	checks := []struct {
		name  string
		check api.HealthCheck
	}{
		{"database", h.Database},
		{"cache", h.Cache},
		{"provider", h.Provider},
		{"local provider", h.LocalProvider},
	}
	for _, c := range checks {
		line := fmt.Sprintf("  %-15s %s", c.name+":", c.check.Status)
		if c.check.Message != "" {
			line += " (" + c.check.Message + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// statusLine renders task counts in lifecycle order, skipping zero
// buckets.
func statusLine(byStatus map[models.TaskStatus]int) string {
	order := []models.TaskStatus{
		models.TaskPending, models.TaskAnalyzing, models.TaskRunning, models.TaskPaused,
		models.TaskCompleted, models.TaskFailed, models.TaskCancelled,
	}
	line := ""
	for _, st := range order {
		n, ok := byStatus[st]
		if !ok || n == 0 {
			continue
		}
		if line != "" {
			line += "  "
		}
		line += fmt.Sprintf("%s: %d", st, n)
	}
	return line
}

func runStatusStats(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var stats orchestrator.Stats
	if err := client.get(cmd.Context(), "/api/v1/monitoring/stats", &stats); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(out, stats)
	}
	fmt.Fprintf(out, "Mode:          %s\n", stats.CurrentMode)
	fmt.Fprintf(out, "Total tasks:   %d\n", stats.TotalTasks)
	if line := statusLine(stats.ByStatus); line != "" {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, "Active agents: %d\n", stats.ActiveAgents)
	fmt.Fprintf(out, "Queue depth:   %d\n", stats.QueueDepth)
	fmt.Fprintf(out, "Total tokens:  %d\n", stats.TotalTokens)
	fmt.Fprintf(out, "Total cost:    $%s\n", stats.TotalCost)
	return nil
}

func runStatusCosts(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	path := "/api/v1/monitoring/costs"
	if days, _ := cmd.Flags().GetInt("days"); days > 0 {
		path += "?days=" + url.QueryEscape(strconv.Itoa(days))
	}
	var summary cost.Summary
	if err := client.get(cmd.Context(), path, &summary); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(out, summary)
	}

	fmt.Fprintf(out, "Total cost:   $%s\n", summary.TotalCost)
	fmt.Fprintf(out, "Total tokens: %d\n", summary.TotalTokens)
	fmt.Fprintf(out, "Calls:        %d\n", summary.CallCount)
	if summary.Since != nil {
		fmt.Fprintf(out, "Since:        %s\n", summary.Since.Local().Format("2006-01-02"))
	}

	if len(summary.ByProvider) > 0 {
		fmt.Fprintln(out, "\nBy provider:")
		renderCostMap(out, summary.ByProvider)
	}
	if len(summary.ByModel) > 0 {
		fmt.Fprintln(out, "\nBy model:")
		renderCostMap(out, summary.ByModel)
	}
	if len(summary.ByDay) > 0 {
		fmt.Fprintln(out, "\nBy day:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  DATE\tTOKENS IN\tTOKENS OUT\tCOST")
		for _, d := range summary.ByDay {
			fmt.Fprintf(tw, "  %s\t%d\t%d\t$%s\n", d.Date, d.TokensIn, d.TokensOut, d.Cost)
		}
		tw.Flush()
	}
	return nil
}

func renderCostMap(w io.Writer, m map[string]cost.Cost) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, key := range keys {
		fmt.Fprintf(tw, "  %s\t$%s\n", key, m[key])
	}
	tw.Flush()
}

func runStatusHealth(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var health api.HealthResponse
	code, err := client.getStatus(cmd.Context(), "/health", &health)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		if err := printJSON(out, health); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Status:  %s\n", health.Status)
		fmt.Fprintf(out, "Version: %s\n", health.Version)
		renderHealthChecks(out, &health)
	}
	if code != http.StatusOK {
		return fmt.Errorf("server reports %s", health.Status)
	}
	return nil
}
