package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devflow-ai/devflow/pkg/mode"
	"github.com/devflow-ai/devflow/pkg/models"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Inspect and switch execution modes",
}

var modeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all modes",
	Args:  exactArgs(0),
	RunE:  runModeList,
}

var modeCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the active mode",
	Args:  exactArgs(0),
	RunE:  runModeCurrent,
}

var modeSwitchCmd = &cobra.Command{
	Use:   "switch <mode>",
	Short: "Switch the active mode",
	Long: `Switch the server's active execution mode. The server drains running
work according to the target mode's strategy before new submissions
pick up the new policy; tasks already in flight keep the mode they
were submitted under.`,
	Args: exactArgs(1),
	RunE: runModeSwitch,
}

var modeInfoCmd = &cobra.Command{
	Use:   "info <mode>",
	Short: "Show one mode's full configuration",
	Args:  exactArgs(1),
	RunE:  runModeInfo,
}

var modeCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare all modes side by side",
	Args:  exactArgs(0),
	RunE:  runModeCompare,
}

func init() {
	modeCmd.AddCommand(modeListCmd)
	modeCmd.AddCommand(modeCurrentCmd)
	modeCmd.AddCommand(modeSwitchCmd)
	modeCmd.AddCommand(modeInfoCmd)
	modeCmd.AddCommand(modeCompareCmd)
}

// modeListResponse mirrors GET /api/v1/modes.
type modeListResponse struct {
	Modes   []mode.Info `json:"modes"`
	Current models.Mode `json:"current"`
}

func runModeList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var resp modeListResponse
	if err := client.get(cmd.Context(), "/api/v1/modes", &resp); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODE\tACTIVE\tAPPROVAL\tTIMEOUT\tRETRIES\tCOST LIMIT")
	for _, info := range resp.Modes {
		active := ""
		if info.Active {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			info.Mode, active,
			yesNo(info.Config.RequiresHumanApproval),
			info.Config.TaskTimeout,
			info.Config.MaxRetries,
			costLimit(info.Config))
	}
	tw.Flush()
	return nil
}

func runModeCurrent(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var resp struct {
		Mode   models.Mode        `json:"mode"`
		Config *models.ModeConfig `json:"config"`
	}
	if err := client.get(cmd.Context(), "/api/v1/modes/current", &resp); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Current mode: %s\n\n", resp.Mode)
	renderModeConfig(cmd.OutOrStdout(), resp.Config)
	return nil
}

func runModeSwitch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var resp struct {
		Mode models.Mode `json:"mode"`
	}
	body := map[string]string{"mode": args[0]}
	if err := client.post(cmd.Context(), "/api/v1/modes/switch", body, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Switched to mode %s\n", resp.Mode)
	return nil
}

func runModeInfo(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var info mode.Info
	path := "/api/v1/modes/" + url.PathEscape(strings.ToUpper(args[0]))
	if err := client.get(cmd.Context(), path, &info); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), info)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mode: %s", info.Mode)
	if info.Active {
		fmt.Fprint(out, " (active)")
	}
	fmt.Fprint(out, "\n\n")
	renderModeConfig(out, info.Config)
	return nil
}

func renderModeConfig(w io.Writer, cfg *models.ModeConfig) {
	if cfg == nil {
		return
	}
	fmt.Fprintf(w, "Decomposition:   %s\n", cfg.DecompositionDepth)
	fmt.Fprintf(w, "Parallelization: %s\n", cfg.ParallelizationLevel)
	fmt.Fprintf(w, "Validation:      %s\n", cfg.ValidationDepth)
	fmt.Fprintf(w, "Human approval:  %s\n", yesNo(cfg.RequiresHumanApproval))
	fmt.Fprintf(w, "Primary model:   %s/%s\n", cfg.PrimaryModel.Provider, cfg.PrimaryModel.Model)
	if cfg.FallbackModel.Model != "" {
		fmt.Fprintf(w, "Fallback model:  %s/%s\n", cfg.FallbackModel.Provider, cfg.FallbackModel.Model)
	}
	fmt.Fprintf(w, "Local models:    %s\n", yesNo(cfg.UseLocalModels))
	fmt.Fprintf(w, "Required agents: %s\n", joinAgents(cfg.RequiredAgents))
	if len(cfg.OptionalAgents) > 0 {
		fmt.Fprintf(w, "Optional agents: %s\n", joinAgents(cfg.OptionalAgents))
	}
	fmt.Fprintf(w, "Task timeout:    %s\n", cfg.TaskTimeout)
	fmt.Fprintf(w, "Max retries:     %d\n", cfg.MaxRetries)
	fmt.Fprintf(w, "Cost limit:      %s\n", costLimit(cfg))
}

func runModeCompare(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var resp modeListResponse
	if err := client.get(cmd.Context(), "/api/v1/modes", &resp); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	header := "PROPERTY"
	for _, info := range resp.Modes {
		name := string(info.Mode)
		if info.Active {
			name += "*"
		}
		header += "\t" + name
	}
	fmt.Fprintln(tw, header)

	rows := []struct {
		name  string
		value func(*models.ModeConfig) string
	}{
		{"decomposition", func(c *models.ModeConfig) string { return string(c.DecompositionDepth) }},
		{"parallelization", func(c *models.ModeConfig) string { return string(c.ParallelizationLevel) }},
		{"validation", func(c *models.ModeConfig) string { return string(c.ValidationDepth) }},
		{"human approval", func(c *models.ModeConfig) string { return yesNo(c.RequiresHumanApproval) }},
		{"primary model", func(c *models.ModeConfig) string { return c.PrimaryModel.Model }},
		{"local models", func(c *models.ModeConfig) string { return yesNo(c.UseLocalModels) }},
		{"task timeout", func(c *models.ModeConfig) string { return c.TaskTimeout.String() }},
		{"max retries", func(c *models.ModeConfig) string { return fmt.Sprintf("%d", c.MaxRetries) }},
		{"cost limit", costLimit},
	}
	for _, row := range rows {
		line := row.name
		for _, info := range resp.Modes {
			line += "\t" + row.value(info.Config)
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func costLimit(cfg *models.ModeConfig) string {
	if cfg.CostLimit == nil {
		return "unlimited"
	}
	return "$" + cfg.CostLimit.String()
}

func joinAgents(agents []models.AgentType) string {
	if len(agents) == 0 {
		return "(none)"
	}
	parts := make([]string, len(agents))
	for i, a := range agents {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}
