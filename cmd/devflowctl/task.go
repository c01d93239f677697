package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devflow-ai/devflow/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and manage tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <description>",
	Short: "Submit a new task",
	Long: `Submit a task for orchestration. The description is what you want done;
the server decomposes it into phases according to the execution mode.

Examples:
  devflowctl task create "add rate limiting to the login endpoint"
  devflowctl task create "refactor the billing module" --mode quality --priority 80
  devflowctl task create "fix the flaky session test" --watch`,
	Args: exactArgs(1),
	RunE: runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  exactArgs(0),
	RunE:  runTaskList,
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show one task in full",
	Args:  exactArgs(1),
	RunE:  runTaskGet,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  exactArgs(1),
	RunE:  runTaskCancel,
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Resubmit a failed task as a new task",
	Args:  exactArgs(1),
	RunE:  runTaskRetry,
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Release a task held at the approval gate",
	Args:  exactArgs(1),
	RunE:  runTaskApprove,
}

func init() {
	taskCreateCmd.Flags().String("mode", "", "execution mode for this task (speed, quality, autonomy, cost)")
	taskCreateCmd.Flags().String("project", "", "project id to attribute the task to")
	taskCreateCmd.Flags().Int("priority", 0, "task priority, 0-100")
	taskCreateCmd.Flags().Bool("watch", false, "stream the task's events after submitting")

	taskListCmd.Flags().String("status", "", "filter by status (pending, analyzing, running, paused, completed, failed, cancelled)")
	taskListCmd.Flags().String("mode", "", "filter by execution mode")
	taskListCmd.Flags().String("project", "", "filter by project id")
	taskListCmd.Flags().Int("page", 1, "result page, starting at 1")
	taskListCmd.Flags().Int("page-size", 20, "results per page")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskWatchCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskRetryCmd)
	taskCmd.AddCommand(taskApproveCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	mode, _ := cmd.Flags().GetString("mode")
	project, _ := cmd.Flags().GetString("project")
	priority, _ := cmd.Flags().GetInt("priority")
	watch, _ := cmd.Flags().GetBool("watch")

	req := map[string]any{"description": args[0]}
	if mode != "" {
		req["mode"] = mode
	}
	if project != "" {
		req["project_id"] = project
	}
	if priority != 0 {
		req["priority"] = priority
	}

	var task models.Task
	if err := client.post(cmd.Context(), "/api/v1/tasks", req, &task); err != nil {
		return err
	}

	if jsonOutput() {
		if err := printJSON(cmd.OutOrStdout(), task); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s created (mode %s, status %s)\n", task.ID, task.Mode, task.Status)
	}

	if watch {
		return watchChannel(cmd, client, task.ID)
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	q := url.Values{}
	for _, f := range []struct{ flag, param string }{
		{"status", "status"},
		{"mode", "mode"},
		{"project", "project_id"},
	} {
		if v, _ := cmd.Flags().GetString(f.flag); v != "" {
			q.Set(f.param, v)
		}
	}
	if page, _ := cmd.Flags().GetInt("page"); page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	if size, _ := cmd.Flags().GetInt("page-size"); size != 20 {
		q.Set("page_size", strconv.Itoa(size))
	}

	path := "/api/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp models.TaskListResponse
	if err := client.get(cmd.Context(), path, &resp); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	renderTaskTable(cmd.OutOrStdout(), &resp)
	return nil
}

func renderTaskTable(w io.Writer, resp *models.TaskListResponse) {
	if len(resp.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tMODE\tPRIO\tCOST\tCREATED\tDESCRIPTION")
	for _, t := range resp.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t$%s\t%s\t%s\n",
			t.ID, t.Status, t.Mode, t.Priority, t.Cost,
			t.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(t.Description, 48))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nPage %d, showing %d of %d task(s)\n", resp.Page, len(resp.Tasks), resp.TotalCount)
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	var task models.Task
	if err := client.get(cmd.Context(), "/api/v1/tasks/"+url.PathEscape(args[0]), &task); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), task)
	}
	renderTaskDetail(cmd.OutOrStdout(), &task)
	return nil
}

func renderTaskDetail(w io.Writer, t *models.Task) {
	fmt.Fprintf(w, "Task:        %s\n", t.ID)
	fmt.Fprintf(w, "Description: %s\n", t.Description)
	fmt.Fprintf(w, "Status:      %s\n", t.Status)
	fmt.Fprintf(w, "Mode:        %s\n", t.Mode)
	fmt.Fprintf(w, "Priority:    %d\n", t.Priority)
	if t.ProjectID != "" {
		fmt.Fprintf(w, "Project:     %s\n", t.ProjectID)
	}
	if t.Complexity != "" {
		fmt.Fprintf(w, "Complexity:  %s\n", t.Complexity)
	}
	fmt.Fprintf(w, "Tokens:      %d\n", t.TokensUsed)
	fmt.Fprintf(w, "Cost:        $%s\n", t.Cost)
	fmt.Fprintf(w, "Created:     %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if t.StartedAt != nil {
		fmt.Fprintf(w, "Started:     %s\n", t.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:   %s\n", t.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if len(t.Phases) > 0 {
		fmt.Fprintf(w, "\nPhases (%d/%d):\n", t.CurrentPhase, len(t.Phases))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tNAME\tSTATUS\tAGENTS")
		for _, p := range t.Phases {
			agents := make([]string, 0, len(p.Subtasks))
			for _, st := range p.Subtasks {
				agents = append(agents, string(st.AgentType))
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", p.Number, p.Name, p.Status, strings.Join(agents, ","))
		}
		tw.Flush()
	}

	if len(t.FilesModified) > 0 {
		fmt.Fprintf(w, "\nFiles modified:\n")
		for _, f := range t.FilesModified {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}

	if len(t.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range t.Errors {
			fmt.Fprintf(w, "  [phase %d] %s\n", e.Phase, e.Message)
		}
	}
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.del(cmd.Context(), "/api/v1/tasks/"+url.PathEscape(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", args[0])
	return nil
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var task models.Task
	if err := client.post(cmd.Context(), "/api/v1/tasks/"+url.PathEscape(args[0])+"/retry", nil, &task); err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), task)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s resubmitted as %s\n", args[0], task.ID)
	return nil
}

func runTaskApprove(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.post(cmd.Context(), "/api/v1/tasks/"+url.PathEscape(args[0])+"/approve", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s approved\n", args[0])
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
