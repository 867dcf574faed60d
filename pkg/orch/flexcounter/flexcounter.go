// Package flexcounter enables counter polling groups.
package flexcounter

import (
	"context"
	"sort"
	"strings"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Tables
const (
	ConfigTable = "FLEX_COUNTER_TABLE"
	GroupTable  = "FLEX_COUNTER_GROUP_TABLE"
)

// Groups maps a configured counter group to its FLEX_COUNTER_DB group.
var Groups = map[string]string{
	"PFCWD": "PFC_WD",
	"QUEUE": "QUEUE_STAT_COUNTER",
	"PORT":  "PORT_STAT_COUNTER",
}

func groupNames() []string {
	names := make([]string, 0, len(Groups))
	for g := range Groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// Orch publishes counter group settings.
type Orch struct {
	*orch.Base
}

// New creates the flex counter orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{Base: orch.NewBase("flexcounter", r, st)}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{{DB: store.ConfigDB, Table: ConfigTable}}
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	if t.Resync {
		return nil
	}
	group, ok := Groups[t.Key]
	if !ok {
		return util.InvalidIntentf(ConfigTable, t.Key, "unknown counter group, want one of %s", strings.Join(groupNames(), ", "))
	}
	if t.Deleted() {
		o.Forgotten(t.ID())
		return o.Unpublish(ctx, store.FlexCounterDB, GroupTable, group)
	}

	f := orch.NewFields(t.Fields)
	status := f.OneOf("FLEX_COUNTER_STATUS", "disable", "enable", "disable")
	poll := f.Int("POLL_INTERVAL", 0, 100, 3600000)
	if err := f.Err(ConfigTable, t.Key); err != nil {
		return err
	}
	out := map[string]string{"FLEX_COUNTER_STATUS": status}
	if poll != 0 {
		out["POLL_INTERVAL"] = f.String("POLL_INTERVAL", "")
	}
	if err := o.Publish(ctx, store.FlexCounterDB, GroupTable, group, out); err != nil {
		return err
	}
	o.Log.WithField("group", group).Infof("Counter polling %sd", status)
	o.SetState(t.ID(), orch.Active)
	return nil
}
