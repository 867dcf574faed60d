package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtorch/pkg/cli"
	"github.com/newtron-network/newtorch/pkg/driver"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the queues of a running daemon",
	Long: `Query the /stats endpoint of a running daemon and show, per domain,
the queued and in-flight tasks, the keys waiting on a prerequisite and the
tasks waiting out a retry backoff.

Examples:
  newtorch status
  newtorch status --addr 10.0.0.10:9101 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statusAddr
		if addr == "" {
			addr = cfg.Metrics.Listen
		}
		if addr == "" {
			return fmt.Errorf("no daemon address: set metrics.listen or use --addr")
		}
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/stats", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("querying daemon at %s: %w", addr, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("querying daemon at %s: %s", addr, resp.Status)
		}

		var stats map[string]driver.DomainStats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return fmt.Errorf("decoding stats: %w", err)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}

		t := cli.NewTable("DOMAIN", "QUEUED", "IN-FLIGHT", "RETRYING", "DEFERRED")
		for _, name := range sortedKeys(stats) {
			s := stats[name]
			deferred := strconv.Itoa(len(s.Deferred))
			if len(s.Deferred) > 0 {
				deferred = cli.Yellow(deferred)
			}
			t.Row(name, strconv.Itoa(s.Queued), strconv.Itoa(s.InFlight), strconv.Itoa(s.Retrying), deferred)
		}
		t.Flush()

		if verbose {
			for _, name := range sortedKeys(stats) {
				if d := stats[name].Deferred; len(d) > 0 {
					fmt.Printf("\n%s waiting on prerequisites:\n", bold(name))
					for _, id := range d {
						fmt.Printf("  %s\n", id)
					}
				}
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Daemon address (default metrics.listen)")
}
