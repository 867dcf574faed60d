// Newtorch - SONiC switch state reconciler
//
// Newtorch watches the switch intent tables (CONFIG_DB, APPL_DB, STATE_DB)
// and programs forwarding objects through ASIC_DB until the hardware
// matches the intent. Dependencies between objects are resolved through a
// reference table; work that is missing a prerequisite waits and retries.
//
// Examples:
//
//	newtorch run                                     # Reconcile until interrupted
//	newtorch -c /etc/newtorch/newtorch.yaml run
//	newtorch show objects ROUTE_ENTRY               # Programmed routes
//	newtorch show table CONFIG_DB PORT Ethernet0    # Raw intent
//	newtorch status                                  # Queues of a running daemon
//	newtorch wait STATE_DB PORT_TABLE Ethernet0 state=ok --timeout 30s
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/newtorch/pkg/cli"
	"github.com/newtron-network/newtorch/pkg/settings"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
	"github.com/newtron-network/newtorch/pkg/version"
)

var (
	configPath string
	redisAddr  string
	verbose    bool
	logFormat  string
	jsonOutput bool

	cfg *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "newtorch",
	Short:             "SONiC switch state reconciler",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Newtorch reconciles SONiC intent tables into forwarding objects.

The daemon is started with "newtorch run". The other commands inspect
the switch databases or a running daemon.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isMeta(cmd) {
			return nil
		}

		var err error
		cfg, err = settings.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if redisAddr != "" {
			cfg.Redis.Addr = redisAddr
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		} else if cmd.Name() != "run" {
			level = "warn"
		}
		format := cfg.Log.Format
		if logFormat != "" {
			format = logFormat
		}
		if err := util.Configure(level, format); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", settings.DefaultPath, "Settings file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (overrides redis.addr)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	for _, cmd := range []*cobra.Command{showCmd, statusCmd, healthCmd, recordCmd} {
		addOutputFlags(cmd)
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "query", Title: "Inspection:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)
	runCmd.GroupID = "daemon"
	rootCmd.AddCommand(runCmd)
	for _, cmd := range []*cobra.Command{showCmd, statusCmd, healthCmd, waitCmd, recordCmd} {
		cmd.GroupID = "query"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("newtorch " + version.String())
	},
}

// isMeta checks whether cmd (or any ancestor) needs no settings.
func isMeta(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "settings":
			return true
		}
	}
	return false
}

// addOutputFlags registers --json as a local flag.
// For noun-group parent commands, this is a PersistentFlag so subcommands inherit.
func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if cmd.HasSubCommands() {
		flags = cmd.PersistentFlags()
	}
	flags.BoolVar(&jsonOutput, "json", false, "JSON output")
}

// connect opens the switch databases named by the settings, prompting for
// the SSH password when a tunnel has neither a password nor a key.
func connect() (store.Store, error) {
	if err := ensureSSHPassword(); err != nil {
		return nil, err
	}
	var tc *store.TunnelConfig
	if s := cfg.SSH; s != nil {
		tc = &store.TunnelConfig{
			Host:     s.Host,
			Port:     s.Port,
			User:     s.User,
			Password: s.Password,
			KeyFile:  s.KeyFile,
			Remote:   cfg.Redis.Addr,
		}
	}
	st, err := store.DialRedis(cfg.Redis.Addr, cfg.Redis.Password, tc)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Redis.Addr, err)
	}
	return st, nil
}

func ensureSSHPassword() error {
	s := cfg.SSH
	if s == nil || s.Password != "" || s.KeyFile != "" {
		return nil
	}
	pw, err := promptPassword(fmt.Sprintf("%s@%s's password: ", s.User, s.Host))
	if err != nil {
		return err
	}
	s.Password = pw
	return nil
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("ssh password required: set ssh.password or ssh.key_file")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// Color shorthands for command output.
func green(s string) string { return cli.Green(s) }
func red(s string) string   { return cli.Red(s) }
func bold(s string) string  { return cli.Bold(s) }
