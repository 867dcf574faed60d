package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtorch/pkg/cli"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show switch database contents",
	Long: `Show programmed objects and raw table entries.

Examples:
  newtorch show objects
  newtorch show objects NEXT_HOP_GROUP -v
  newtorch show table APPL_DB ROUTE_TABLE
  newtorch show table CONFIG_DB PORT Ethernet0`,
}

var showObjectsCmd = &cobra.Command{
	Use:   "objects [type]",
	Short: "List objects programmed in ASIC_DB",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types := sai.ObjectTypes()
		if len(args) == 1 {
			t, err := sai.ParseObjectType(args[0])
			if err != nil {
				return err
			}
			types = []sai.ObjectType{t}
		}

		st, err := connect()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		var objects []sai.Object
		for _, t := range types {
			objs, err := sai.Objects(ctx, st, t)
			if err != nil {
				return fmt.Errorf("reading %s: %w", t, err)
			}
			objects = append(objects, objs...)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(objects)
		}
		if len(objects) == 0 {
			fmt.Println("No objects programmed")
			return nil
		}

		t := cli.NewTable("TYPE", "OID", "ATTRS").WithMaxCell(64)
		for _, o := range objects {
			t.Row(strings.TrimPrefix(string(o.Handle.Type), "SAI_OBJECT_TYPE_"), o.Handle.ID, fmt.Sprint(len(o.Attrs)))
			if verbose {
				for _, name := range sortedKeys(o.Attrs) {
					t.Row("", "  "+name, o.Attrs[name])
				}
			}
		}
		t.Flush()
		return nil
	},
}

var showTableCmd = &cobra.Command{
	Use:   "table <db> <table> [key]",
	Short: "Dump entries of a table",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.ParseDB(args[0])
		if err != nil {
			return err
		}
		table := args[1]

		st, err := connect()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		keys := args[2:]
		if len(keys) == 0 {
			if keys, err = st.Keys(ctx, db, table); err != nil {
				return err
			}
			sort.Strings(keys)
		}

		entries := make(map[string]map[string]string, len(keys))
		for _, k := range keys {
			fields, err := st.Get(ctx, db, table, k)
			if err != nil {
				return err
			}
			if fields == nil {
				if len(args) == 3 {
					return fmt.Errorf("%s %s not found", db, store.RedisKey(db, table, k))
				}
				continue
			}
			entries[k] = store.Fields(fields)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{table: entries})
		}
		if len(entries) == 0 {
			fmt.Printf("%s %s is empty\n", db, table)
			return nil
		}

		t := cli.NewTable("KEY", "FIELD", "VALUE").WithMaxCell(64).WithCount("%d entries")
		for _, k := range keys {
			fields, ok := entries[k]
			if !ok {
				continue
			}
			if len(fields) == 0 {
				t.Row(k, "", "")
				continue
			}
			for i, name := range sortedKeys(fields) {
				key := k
				if i > 0 {
					key = ""
				}
				t.Row(key, name, fields[name])
			}
		}
		t.Flush()
		return nil
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	showCmd.AddCommand(showObjectsCmd)
	showCmd.AddCommand(showTableCmd)
}
