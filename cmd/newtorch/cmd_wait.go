package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtorch/pkg/store"
)

var (
	waitTimeout time.Duration
	waitAbsent  bool
)

var waitCmd = &cobra.Command{
	Use:   "wait <db> <table> <key> [field=value...]",
	Short: "Wait until an entry reaches a state",
	Long: `Block until an entry carries the given fields, exists (no fields
given), or is deleted (--absent). Useful in scripts that must not proceed
before the reconciler converged.

Examples:
  newtorch wait STATE_DB PORT_TABLE Ethernet0 state=ok
  newtorch wait APPL_DB PFC_WD_TABLE_INSTORM Ethernet0 --absent --timeout 2m`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.ParseDB(args[0])
		if err != nil {
			return err
		}
		table, key := args[1], args[2]

		want := make(map[string]string)
		for _, kv := range args[3:] {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || name == "" {
				return fmt.Errorf("expected field=value, got %q", kv)
			}
			want[name] = value
		}
		if waitAbsent && len(want) > 0 {
			return fmt.Errorf("--absent takes no field=value arguments")
		}

		st, err := connect()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		switch {
		case waitAbsent:
			err = store.WaitAbsent(ctx, st, db, table, key)
		default:
			err = store.WaitFor(ctx, st, db, table, key, want)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", db, store.RedisKey(db, table, key), green("ready"))
		return nil
	},
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 60*time.Second, "Give up after this long")
	waitCmd.Flags().BoolVar(&waitAbsent, "absent", false, "Wait for the entry to be deleted")
}
