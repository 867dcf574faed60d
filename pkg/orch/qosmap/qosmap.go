// Package qosmap programs QoS classification maps and binds them to ports.
package qosmap

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Map tables and the port binding table (CONFIG_DB).
const (
	Dot1pToTCTable  = "DOT1P_TO_TC_MAP"
	DSCPToTCTable   = "DSCP_TO_TC_MAP"
	TCToQueueTable  = "TC_TO_QUEUE_MAP"
	PortQosMapTable = "PORT_QOS_MAP"
)

// kind describes one map table: its value list encoding and the port
// field and attribute binding it.
type kind struct {
	table     string
	mapType   string
	keyName   string
	keyMax    int
	valueName string
	valueMax  int
	portField string
	portAttr  string
}

var kinds = []kind{
	{Dot1pToTCTable, sai.QosMapTypeDot1pToTC, "dot1p", 7, "tc", 7, "dot1p_to_tc_map", sai.PortAttrDot1pToTC},
	{DSCPToTCTable, sai.QosMapTypeDSCPToTC, "dscp", 63, "tc", 7, "dscp_to_tc_map", sai.PortAttrDSCPToTC},
	{TCToQueueTable, sai.QosMapTypeTCToQueue, "tc", 7, "qidx", 7, "tc_to_queue_map", sai.PortAttrTCToQueue},
}

func kindOf(table string) kind {
	for _, k := range kinds {
		if k.table == table {
			return k
		}
	}
	panic("qosmap: unknown table " + table)
}

type qosMap struct {
	list    string
	binding *resolver.Binding
}

type portMaps struct {
	// names maps a map table to the bound map name.
	names   map[string]string
	binding *resolver.Binding
}

// Orch is the QoS map orchestrator.
type Orch struct {
	*orch.Base
	maps  *orch.Entities[qosMap]
	ports *orch.Entities[portMaps]
}

// New creates the QoS map orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:  orch.NewBase("qosmap", r, st),
		maps:  orch.NewEntities[qosMap](),
		ports: orch.NewEntities[portMaps](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	srcs := make([]orch.Source, 0, len(kinds)+1)
	for _, k := range kinds {
		srcs = append(srcs, orch.Source{DB: store.ConfigDB, Table: k.table})
	}
	return append(srcs, orch.Source{DB: store.ConfigDB, Table: PortQosMapTable})
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	h := orch.Handlers{
		PortQosMapTable: func(ctx context.Context, t orch.Task) error {
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updatePort,
				Reconcile:  o.reconcilePort,
				Remove:     o.removePort,
				Known:      o.ports.Has,
				Programmed: func(k string) bool { return !o.ports.Get(k).binding.Empty() },
				Forget:     o.ports.Delete,
			})
		},
	}
	for _, k := range kinds {
		k := k
		h[k.table] = func(ctx context.Context, t orch.Task) error {
			mk := mapKey(k.table, t.Key)
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     func(name string, fields map[string]string) error { return o.updateMap(k, name, fields) },
				Reconcile:  func(ctx context.Context, id, _ string) error { return o.reconcileMap(ctx, id, k, t.Key) },
				Remove:     func(ctx context.Context, id, _ string) error { return o.removeMap(ctx, id, k, t.Key) },
				Known:      func(string) bool { return o.maps.Has(mk) },
				Programmed: func(string) bool { return !o.maps.Get(mk).binding.Empty() },
				Forget:     func(string) { o.maps.Delete(mk) },
			})
		}
	}
	return h.Apply(ctx, t)
}

func mapKey(table, name string) string { return table + "|" + name }

type mapEntry struct {
	Key   map[string]int `json:"key"`
	Value map[string]int `json:"value"`
}

type mapList struct {
	Count int        `json:"count"`
	List  []mapEntry `json:"list"`
}

// encodeMap validates a map record and renders it as a MAP_TO_VALUE_LIST,
// ordered by key.
func encodeMap(k kind, name string, fields map[string]string) (string, error) {
	v := &util.ValidationBuilder{}
	var list []mapEntry
	for field, value := range fields {
		if field == store.NullField {
			continue
		}
		from, err := strconv.Atoi(field)
		if err != nil || from < 0 || from > k.keyMax {
			v.AddErrorf("%s %q out of range [0, %d]", k.keyName, field, k.keyMax)
			continue
		}
		to, err := strconv.Atoi(value)
		if err != nil || to < 0 || to > k.valueMax {
			v.AddErrorf("%s %q for %s %d out of range [0, %d]", k.valueName, value, k.keyName, from, k.valueMax)
			continue
		}
		list = append(list, mapEntry{Key: map[string]int{k.keyName: from}, Value: map[string]int{k.valueName: to}})
	}
	v.Add(len(list) > 0 || v.HasErrors(), "map has no entries")
	if err := v.Build(); err != nil {
		return "", util.NewIntentError(k.table, name, err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key[k.keyName] < list[j].Key[k.keyName] })
	b, err := json.Marshal(mapList{Count: len(list), List: list})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (o *Orch) updateMap(k kind, name string, fields map[string]string) error {
	list, err := encodeMap(k, name, fields)
	if err != nil {
		return err
	}
	m := o.maps.GetOrCreate(mapKey(k.table, name), func() *qosMap {
		return &qosMap{binding: resolver.NewBinding(o.Owner(orch.TaskID(k.table, name)))}
	})
	m.list = list
	return nil
}

func (o *Orch) reconcileMap(ctx context.Context, id string, k kind, name string) error {
	m := o.maps.Get(mapKey(k.table, name))
	key := resolver.QosMapKey(k.table, name)
	if m.binding.Empty() {
		n := &resolver.Node{
			Key:  key,
			Type: sai.TypeQosMap,
			Build: func(resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{sai.QosMapAttrType: k.mapType, sai.QosMapAttrList: m.list}, nil
			},
		}
		if _, err := o.R.Resolve(ctx, m.binding, n); err != nil {
			return o.Defer(id, err)
		}
		o.Log.WithField("map", name).Infof("%s created", k.table)
	} else if _, err := o.R.Converge(ctx, key, sai.Attrs{sai.QosMapAttrList: m.list}); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removeMap(ctx context.Context, id string, k kind, name string) error {
	m := o.maps.Get(mapKey(k.table, name))
	if err := o.R.CheckUnused(resolver.QosMapKey(k.table, name), m.binding.Owner); err != nil {
		return o.Defer(id, err)
	}
	if err := o.R.Release(ctx, m.binding); err != nil {
		return err
	}
	o.maps.Delete(mapKey(k.table, name))
	o.Forgotten(id)
	return nil
}

// mapName accepts a plain map name or a "[TABLE|name]" reference to the
// expected table.
func mapName(k kind, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "[") {
		return ref, ref != ""
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(ref, "["), "]")
	table, name, ok := strings.Cut(inner, "|")
	return name, ok && table == k.table && name != ""
}

func (o *Orch) updatePort(alias string, fields map[string]string) error {
	f := orch.NewFields(fields)
	names := make(map[string]string)
	for _, k := range kinds {
		if !f.Has(k.portField) {
			continue
		}
		name, ok := mapName(k, fields[k.portField])
		f.Check(ok, "%s: bad map reference %q", k.portField, fields[k.portField])
		names[k.table] = name
	}
	if err := f.Err(PortQosMapTable, alias); err != nil {
		return err
	}
	p := o.ports.GetOrCreate(alias, func() *portMaps {
		return &portMaps{binding: resolver.NewBinding(o.Owner(orch.TaskID(PortQosMapTable, alias)))}
	})
	p.names = names
	return nil
}

// reconcilePort binds the configured maps into a fresh binding, points the
// port attributes at them, then releases the previous binding.
func (o *Orch) reconcilePort(ctx context.Context, id, alias string) error {
	p := o.ports.Get(alias)
	nb := resolver.NewBinding(p.binding.Owner)
	if _, err := o.R.Resolve(ctx, nb, resolver.Ref(resolver.PortKey(alias))); err != nil {
		return o.Defer(id, err)
	}
	attrs := make(sai.Attrs)
	for _, k := range kinds {
		name, ok := p.names[k.table]
		if !ok {
			attrs[k.portAttr] = sai.NullOID
			continue
		}
		hd, err := o.R.Resolve(ctx, nb, resolver.Ref(resolver.QosMapKey(k.table, name)))
		if err != nil {
			if rerr := o.R.Release(ctx, nb); rerr != nil {
				return rerr
			}
			return o.Defer(id, err)
		}
		attrs[k.portAttr] = hd.ID
	}
	if _, err := o.R.Converge(ctx, resolver.PortKey(alias), attrs); err != nil {
		return err
	}
	if err := o.R.Release(ctx, p.binding); err != nil {
		return err
	}
	p.binding = nb
	o.Unwatch(id)
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removePort(ctx context.Context, id, alias string) error {
	p := o.ports.Get(alias)
	attrs := make(sai.Attrs)
	for _, k := range kinds {
		attrs[k.portAttr] = sai.NullOID
	}
	if _, err := o.R.Converge(ctx, resolver.PortKey(alias), attrs); err != nil {
		return err
	}
	if err := o.R.Release(ctx, p.binding); err != nil {
		return err
	}
	o.ports.Delete(alias)
	o.Forgotten(id)
	return nil
}
