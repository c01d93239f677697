// Devflowctl is the command-line client for a devflow server: submit and
// watch tasks, manage modes and projects, and inspect spend and health.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devflow-ai/devflow/pkg/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks input mistakes the user can fix by rereading --help.
// They exit 2; everything else exits 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// exactArgs is cobra.ExactArgs with misuse exit semantics.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// maxArgs is cobra.MaximumNArgs with misuse exit semantics.
func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usagef("%s expects at most %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

var rootCmd = &cobra.Command{
	Use:   "devflowctl",
	Short: "Control a devflow orchestration server",
	Long: `Devflowctl talks to a running devflow server over its HTTP API.

Point it at a server with --server, the DEVFLOWCTL_SERVER_URL environment
variable, or 'devflowctl config set server.url <url>'.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initClientConfig)

	rootCmd.PersistentFlags().String("server", "", "devflow server base URL (default http://127.0.0.1:8000)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format: text or json")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err: err}
	})

	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// initClientConfig layers viper config: defaults, then the config file,
// then DEVFLOWCTL_* environment variables, then flags. Runs on every
// Execute so a viper reset never strips the flag bindings.
func initClientConfig() {
	setConfigDefaults()

	_ = viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("output.format", rootCmd.PersistentFlags().Lookup("output"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if dir := configDir(); dir != "" {
		viper.AddConfigPath(dir)
	}
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("DEVFLOWCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; defaults and environment carry it.
	_ = viper.ReadInConfig()
}

// jsonOutput reports whether the user asked for machine-readable output.
func jsonOutput() bool {
	return strings.EqualFold(viper.GetString("output.format"), "json")
}
