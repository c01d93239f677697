package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Client settings live in a small flat key space. Every key has a
// default, so devflowctl works against a local server with no config
// file at all.
var clientDefaults = map[string]any{
	"server.url":      "http://127.0.0.1:8000",
	"output.format":   "text",
	"request.timeout": 30 * time.Second,
}

// configKeyTypes drives validation in `config set`: key → value kind.
var configKeyTypes = map[string]string{
	"server.url":      "url",
	"output.format":   "format",
	"request.timeout": "duration",
}

func setConfigDefaults() {
	for key, value := range clientDefaults {
		viper.SetDefault(key, value)
	}
}

// configDir resolves where the client config file lives: $XDG_CONFIG_HOME
// first, then ~/.config/devflowctl.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devflowctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devflowctl"
	}
	return filepath.Join(home, ".config", "devflowctl")
}

func configFile() string {
	return filepath.Join(configDir(), "config.yaml")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify client settings",
	Long: `View or modify devflowctl settings.

Keys use dot notation:
  server.url       - Base URL of the devflow server
  output.format    - Default output format (text or json)
  request.timeout  - HTTP request timeout, e.g. 30s or 2m

Settings resolve from flags, then DEVFLOWCTL_* environment variables
(e.g. DEVFLOWCTL_SERVER_URL), then the config file, then defaults.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved settings",
	Args:  exactArgs(0),
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting's value",
	Args:  exactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the config file",
	Args:  exactArgs(2),
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset settings to defaults",
	Args:  maxArgs(1),
	RunE:  runConfigReset,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  exactArgs(0),
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)
}

func sortedConfigKeys() []string {
	keys := make([]string, 0, len(clientDefaults))
	for key := range clientDefaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if jsonOutput() {
		resolved := make(map[string]any, len(clientDefaults))
		for key := range clientDefaults {
			resolved[key] = viper.Get(key)
		}
		return printJSON(out, resolved)
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", used)
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n\n")
	}
	for _, key := range sortedConfigKeys() {
		fmt.Fprintf(out, "%s = %v\n", key, viper.Get(key))
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if _, ok := configKeyTypes[key]; !ok {
		return unknownConfigKey(key)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v\n", viper.Get(key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	value, err := validateConfigValue(key, raw)
	if err != nil {
		return err
	}

	viper.Set(key, value)
	if err := writeConfigFile(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile())
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		for key, value := range clientDefaults {
			viper.Set(key, value)
		}
		fmt.Fprintln(out, "Reset all settings to defaults")
	} else {
		key := args[0]
		value, ok := clientDefaults[key]
		if !ok {
			return unknownConfigKey(key)
		}
		viper.Set(key, value)
		fmt.Fprintf(out, "Reset %s to default: %v\n", key, value)
	}

	if err := writeConfigFile(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Config saved to %s\n", configFile())
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile())
	}
	return nil
}

// validateConfigValue checks the value against the key's kind and
// returns the typed value viper should store.
func validateConfigValue(key, raw string) (any, error) {
	kind, ok := configKeyTypes[key]
	if !ok {
		return nil, unknownConfigKey(key)
	}
	switch kind {
	case "url":
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, usagef("invalid value for %s: %q is not an http(s) URL", key, raw)
		}
		return raw, nil
	case "format":
		if raw != "text" && raw != "json" {
			return nil, usagef("invalid value for %s: expected text or json", key)
		}
		return raw, nil
	case "duration":
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, usagef("invalid value for %s: expected a positive duration such as 30s", key)
		}
		return d.String(), nil
	default:
		return raw, nil
	}
}

func unknownConfigKey(key string) error {
	return usagef("unknown configuration key %q, valid keys: %v", key, sortedConfigKeys())
}

func writeConfigFile() error {
	if err := os.MkdirAll(configDir(), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile()); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
