package intf

import (
	"context"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

type address struct {
	alias   string
	prefix  string
	ip      string
	family  string
	binding *resolver.Binding
}

func (o *Orch) updateAddress(table, key string, _ map[string]string) error {
	alias, prefix, _ := util.SplitKey(key, "|")
	ip, _, err := util.ParseIPWithMask(prefix)
	if err != nil {
		return util.NewIntentError(table, key, err)
	}
	if tableKinds[table] == kindSub {
		if _, _, err := util.SplitSubInterface(alias); err != nil {
			return util.NewIntentError(table, key, err)
		}
	} else if util.InterfaceKind(alias) != tableKinds[table] {
		return util.InvalidIntentf(table, key, "%s is not a %s interface", alias, tableKinds[table])
	}
	o.addrs.GetOrCreate(key, func() *address {
		return &address{
			alias:   alias,
			prefix:  prefix,
			ip:      ip.String(),
			family:  util.IPFamily(prefix),
			binding: resolver.NewBinding(o.Owner(orch.TaskID(table, key))),
		}
	})
	return nil
}

// applKey is the INTF_TABLE key of an address: "<alias>:<prefix>".
func (a *address) applKey() string { return a.alias + ":" + a.prefix }

func (o *Orch) reconcileAddress(ctx context.Context, id, key string) error {
	a := o.addrs.Get(key)
	base := o.ifaces.Get(a.alias)
	if base == nil || o.State(orch.TaskID(base.table, a.alias)) != orch.Active {
		return o.Defer(id, util.NewDependencyError(key, "interface", a.alias), ifaceSubject(a.alias))
	}

	if a.binding.Empty() {
		if err := o.bindRoutes(ctx, a, base); err != nil {
			return o.Defer(id, err, ifaceSubject(a.alias))
		}
		o.Unwatch(id)
		o.Log.WithField("interface", a.alias).Infof("Address %s added", a.prefix)
	}

	if err := o.Publish(ctx, store.ApplDB, ApplTable, a.applKey(), map[string]string{
		"scope":  "global",
		"family": a.family,
	}); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.StateDB, StateTable, key, map[string]string{"state": "ok"}); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	return nil
}

// bindRoutes creates the subnet route toward the router interface and the
// ip2me host route toward the CPU port.
func (o *Orch) bindRoutes(ctx context.Context, a *address, base *iface) error {
	network, err := util.NetworkPrefix(a.prefix)
	if err != nil {
		return err
	}
	host, err := util.HostPrefix(a.ip)
	if err != nil {
		return err
	}

	var nodes []*resolver.Node
	if base.kind != util.KindLoopback && network != host {
		nodes = append(nodes, o.R.RouteViaNode(base.cfg.vrf, network, resolver.Ref(resolver.RifKey(a.alias))))
	}
	nodes = append(nodes, o.R.RouteViaNode(base.cfg.vrf, host, resolver.Ref(resolver.CPUPortKey)))
	for _, n := range nodes {
		if _, err := o.R.Resolve(ctx, a.binding, n); err != nil {
			if rerr := o.R.Release(ctx, a.binding); rerr != nil {
				o.Log.Errorf("Releasing %s: %v", a.prefix, rerr)
			}
			return err
		}
	}
	return nil
}

func (o *Orch) removeAddress(ctx context.Context, id, key string) error {
	a := o.addrs.Get(key)
	if err := o.R.Release(ctx, a.binding); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.ApplDB, ApplTable, a.applKey()); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.StateDB, StateTable, key); err != nil {
		return err
	}
	o.addrs.Delete(key)
	o.Forgotten(id)
	o.R.Notify("ref:" + ifaceSubject(a.alias))
	o.Log.WithField("interface", a.alias).Infof("Address %s removed", a.prefix)
	return nil
}
