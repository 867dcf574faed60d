package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtorch/pkg/cli"
	"github.com/newtron-network/newtorch/pkg/record"
	"github.com/newtron-network/newtorch/pkg/sai"
)

var (
	recordPath     string
	recordType     string
	recordOp       string
	recordLast     string
	recordLimit    int
	recordFailures bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "View the boundary operation trail",
	Long: `View the trail of create, set and remove operations sent to ASIC_DB.

The trail is written by the daemon when record.path is set.

Examples:
  newtorch record --type ROUTE_ENTRY --last 1h
  newtorch record --failures`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := recordPath
		if path == "" {
			path = cfg.Record.Path
		}
		if path == "" {
			return fmt.Errorf("no record file: set record.path or use --file")
		}

		filter := record.Filter{
			Op:          record.Op(recordOp),
			Limit:       recordLimit,
			FailureOnly: recordFailures,
		}
		if recordType != "" {
			t, err := sai.ParseObjectType(recordType)
			if err != nil {
				return err
			}
			filter.ObjectType = string(t)
		}
		if recordLast != "" {
			duration, err := time.ParseDuration(recordLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", recordLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		events, err := record.QueryFile(path, filter)
		if err != nil {
			return fmt.Errorf("querying %s: %w", path, err)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(events)
		}
		if len(events) == 0 {
			fmt.Println("No operations recorded")
			return nil
		}

		t := cli.NewTable("SEQ", "TIMESTAMP", "OP", "TYPE", "OID", "STATUS").WithMaxCell(80)
		for _, e := range events {
			status := green("ok")
			if !e.Success() {
				status = red("failed: " + e.Error)
			}
			t.Row(fmt.Sprint(e.Seq), e.Timestamp.Format("2006-01-02 15:04:05.000"), string(e.Op),
				strings.TrimPrefix(e.ObjectType, "SAI_OBJECT_TYPE_"), e.ID, status)
		}
		t.Flush()
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordPath, "file", "", "Record file (default record.path)")
	recordCmd.Flags().StringVar(&recordType, "type", "", "Filter by object type")
	recordCmd.Flags().StringVar(&recordOp, "op", "", "Filter by operation: create, set, remove")
	recordCmd.Flags().StringVar(&recordLast, "last", "", "Show operations from last duration (e.g., 1h)")
	recordCmd.Flags().IntVar(&recordLimit, "limit", 100, "Maximum operations to show")
	recordCmd.Flags().BoolVar(&recordFailures, "failures", false, "Show only failed operations")
}
