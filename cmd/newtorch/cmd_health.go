package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtorch/pkg/cli"
	"github.com/newtron-network/newtorch/pkg/health"
)

var healthCheckName string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run health checks against the switch databases",
	Long: `Run health checks against the switch databases.

The checks read the store directly; the driver check reports unknown
because no daemon state is available. Use "newtorch status" for the queues
of a running daemon.

Examples:
  newtorch health
  newtorch health --check mux`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := connect()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		checker := health.NewChecker()
		target := &health.Target{Name: cfg.Redis.Addr, Store: st}

		if healthCheckName != "" {
			result, err := checker.RunCheck(ctx, target, healthCheckName)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			printHealthResult(*result)
			return nil
		}

		report := checker.Run(ctx, target)
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(report)
		}

		fmt.Printf("Health of %s (%s)\n\n", bold(report.Device), report.Duration.Round(time.Millisecond))
		t := cli.NewTable("CHECK", "STATUS", "MESSAGE", "DURATION").WithMaxCell(72)
		for _, result := range report.Results {
			t.Row(result.Check, cli.Status(string(result.Status)), result.Message, result.Duration.Round(time.Microsecond).String())
		}
		t.Flush()

		fmt.Printf("\n%s %s\n", cli.DotPad("overall", 20), cli.Status(string(report.Overall)))
		if report.Overall == health.StatusCritical {
			return fmt.Errorf("%s is critical", report.Device)
		}
		return nil
	},
}

// printHealthResult prints one check with its counters dot-aligned:
//
//	ports ........... WARNING  ports not ready: [Ethernet8]
//	  ready ......... 7
//	  total ......... 8
func printHealthResult(result health.Result) {
	fmt.Printf("%s %s  %s\n", cli.DotPad(result.Check, 20), cli.Status(string(result.Status)), result.Message)
	counts, ok := result.Details.(map[string]int)
	if !ok {
		return
	}
	for _, k := range sortedKeys(counts) {
		fmt.Printf("  %s %d\n", cli.DotPad(k, 18), counts[k])
	}
}

func init() {
	healthCmd.Flags().StringVar(&healthCheckName, "check", "", "Run a single check (store, driver, ports, mux, pfcwd)")
}
