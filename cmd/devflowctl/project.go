package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devflow-ai/devflow/pkg/models"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a project",
	Args:  exactArgs(0),
	RunE:  runProjectCreate,
}

var projectInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Register the current directory as a project",
	Args:  exactArgs(0),
	RunE:  runProjectInit,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  exactArgs(0),
	RunE:  runProjectList,
}

var projectGetCmd = &cobra.Command{
	Use:   "get <project-id>",
	Short: "Show one project",
	Args:  exactArgs(1),
	RunE:  runProjectGet,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Remove a project",
	Args:  exactArgs(1),
	RunE:  runProjectDelete,
}

func init() {
	projectCreateCmd.Flags().String("name", "", "project name")
	projectCreateCmd.Flags().String("path", "", "filesystem path to the project checkout")
	_ = projectCreateCmd.MarkFlagRequired("name")
	_ = projectCreateCmd.MarkFlagRequired("path")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectInitCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectGetCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	path, _ := cmd.Flags().GetString("path")
	return createProject(cmd, name, path)
}

// runProjectInit registers the working directory, named after its base
// directory.
func runProjectInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	return createProject(cmd, filepath.Base(cwd), cwd)
}

func createProject(cmd *cobra.Command, name, path string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	req := models.CreateProjectRequest{Name: name, Path: path}
	var project models.Project
	if err := client.post(cmd.Context(), "/api/v1/projects", req, &project); err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), project)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Project %s created (%s → %s)\n", project.ID, project.Name, project.Path)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var resp struct {
		Projects []*models.Project `json:"projects"`
		Count    int               `json:"count"`
	}
	if err := client.get(cmd.Context(), "/api/v1/projects", &resp); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	if resp.Count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects registered")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPATH\tCREATED")
	for _, p := range resp.Projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			p.ID, p.Name, p.Path, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
	return nil
}

func runProjectGet(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var project models.Project
	if err := client.get(cmd.Context(), "/api/v1/projects/"+url.PathEscape(args[0]), &project); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), project)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Project: %s\n", project.ID)
	fmt.Fprintf(out, "Name:    %s\n", project.Name)
	fmt.Fprintf(out, "Path:    %s\n", project.Path)
	fmt.Fprintf(out, "Created: %s\n", project.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if len(project.Settings) > 0 {
		fmt.Fprintln(out, "Settings:")
		for k, v := range project.Settings {
			fmt.Fprintf(out, "  %s: %v\n", k, v)
		}
	}
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.del(cmd.Context(), "/api/v1/projects/"+url.PathEscape(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Project %s deleted\n", args[0])
	return nil
}
