// Package intf converges router interfaces and their addresses.
//
// Every interface table carries two kinds of keys: "<alias>" configures the
// interface itself and "<alias>|<prefix>" assigns an address. Ports, port
// channels, VLANs and sub-interfaces get a router interface bound to their
// link; loopbacks have none and only receive the ip2me route for each of
// their addresses.
package intf

import (
	"context"
	"strings"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Tables
const (
	InterfaceTable       = "INTERFACE"
	PortChannelTable     = "PORTCHANNEL_INTERFACE"
	VlanTable            = "VLAN_INTERFACE"
	LoopbackTable        = "LOOPBACK_INTERFACE"
	SubInterfaceTable    = "VLAN_SUB_INTERFACE"
	ApplTable            = "INTF_TABLE"
	StateTable           = "INTERFACE_TABLE"
	SubInterfaceStateTab = "PORT_TABLE"
)

const kindSub = "subinterface"

// tableKinds maps each source table to the interface kind it configures.
var tableKinds = map[string]string{
	InterfaceTable:    util.KindPort,
	PortChannelTable:  util.KindPortChannel,
	VlanTable:         util.KindVlan,
	LoopbackTable:     util.KindLoopback,
	SubInterfaceTable: kindSub,
}

// Orch is the interface orchestrator.
type Orch struct {
	*orch.Base
	ifaces *orch.Entities[iface]
	addrs  *orch.Entities[address]
}

// New creates the interface orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:   orch.NewBase("intf", r, st),
		ifaces: orch.NewEntities[iface](),
		addrs:  orch.NewEntities[address](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{
		{DB: store.ConfigDB, Table: InterfaceTable},
		{DB: store.ConfigDB, Table: PortChannelTable},
		{DB: store.ConfigDB, Table: VlanTable},
		{DB: store.ConfigDB, Table: LoopbackTable},
		{DB: store.ConfigDB, Table: SubInterfaceTable},
	}
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	kind, ok := tableKinds[t.Table]
	if !ok {
		return util.InvalidIntentf(t.Table, t.Key, "not an interface table")
	}
	if strings.Contains(t.Key, "|") {
		return o.Run(ctx, t, orch.Lifecycle{
			Update:     func(key string, fields map[string]string) error { return o.updateAddress(t.Table, key, fields) },
			Reconcile:  o.reconcileAddress,
			Remove:     o.removeAddress,
			Known:      o.addrs.Has,
			Programmed: func(k string) bool { return !o.addrs.Get(k).binding.Empty() },
			Forget:     o.addrs.Delete,
		})
	}
	return o.Run(ctx, t, orch.Lifecycle{
		Update:     func(alias string, fields map[string]string) error { return o.updateIface(t.Table, kind, alias, fields) },
		Reconcile:  o.reconcileIface,
		Remove:     o.removeIface,
		Known:      o.ifaces.Has,
		Programmed: func(k string) bool { return !o.ifaces.Get(k).binding.Empty() },
		Forget:     o.ifaces.Delete,
	})
}

// ifaceSubject is notified when an interface becomes usable by addresses
// or is torn down.
func ifaceSubject(alias string) string { return "intf:" + alias }

// addressesOf returns the programmed address keys of alias.
func (o *Orch) addressesOf(alias string) []string {
	var out []string
	for _, k := range o.addrs.Keys() {
		if a := o.addrs.Get(k); a != nil && a.alias == alias && !a.binding.Empty() {
			out = append(out, k)
		}
	}
	return out
}
