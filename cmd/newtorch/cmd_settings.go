package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtorch/pkg/cli"
	"github.com/newtron-network/newtorch/pkg/engine"
	"github.com/newtron-network/newtorch/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage the settings file",
	Long: `Manage the daemon settings file (default /etc/newtorch/newtorch.yaml).

Missing settings take their defaults, so a partial file is valid.

Examples:
  newtorch settings show
  newtorch settings init
  newtorch -c ./newtorch.yaml settings init --force`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(configPath)
		if err != nil {
			return err
		}

		if settingsYAML {
			data, err := yaml.Marshal(s)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		}

		source := configPath
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			source += " (not found, using defaults)"
		}
		fmt.Printf("Settings file: %s\n\n", source)

		t := cli.NewTable("SETTING", "VALUE")
		printSetting := func(name, value string) {
			if value == "" {
				value = "(not set)"
			}
			t.Row(name, value)
		}

		printSetting("redis.addr", s.Redis.Addr)
		if s.SSH != nil {
			printSetting("ssh", fmt.Sprintf("%s@%s", s.SSH.User, s.SSH.Host))
		}
		printSetting("switch.mac", s.Switch.MAC)
		printSetting("driver.workers", fmt.Sprint(s.Driver.Workers))
		printSetting("driver.retry_interval", s.Driver.RetryInterval.String())
		printSetting("driver.backoff", fmt.Sprintf("%s..%s", s.Driver.BackoffBase, s.Driver.BackoffMax))
		printSetting("driver.max_attempts", fmt.Sprint(s.Driver.MaxAttempts))
		printSetting("boundary.timeout", s.Boundary.Timeout.String())
		printSetting("references.strict", fmt.Sprint(s.References.Strict))
		printSetting("mux.tunnel", s.Mux.Tunnel)
		printSetting("metrics.listen", s.Metrics.Listen)
		printSetting("log", s.Log.Level+"/"+s.Log.Format)
		printSetting("record.path", s.Record.Path)

		var enabled []string
		for _, name := range engine.DomainNames() {
			if s.DomainEnabled(name) {
				enabled = append(enabled, name)
			}
		}
		printSetting("domains", strings.Join(enabled, ","))

		t.Flush()
		return nil
	},
}

var (
	settingsInitForce bool
	settingsYAML      bool
)

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !settingsInitForce {
			return fmt.Errorf("%s exists: use --force to overwrite", configPath)
		}
		if err := settings.Default().SaveTo(configPath); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("Settings written to %s\n", configPath)
		return nil
	},
}

func init() {
	settingsInitCmd.Flags().BoolVar(&settingsInitForce, "force", false, "Overwrite an existing file")
	settingsShowCmd.Flags().BoolVar(&settingsYAML, "yaml", false, "Print the settings in file form")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsInitCmd)
}
