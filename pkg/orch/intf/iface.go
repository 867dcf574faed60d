package intf

import (
	"context"
	"strconv"
	"strings"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

type ifaceConfig struct {
	vrf string
	// Sub-interfaces only. A zero mtu inherits the parent's.
	mtu     int
	adminUp bool
}

type iface struct {
	table string
	kind  string
	// link is the port, port channel or VLAN the router interface binds to;
	// the parent for a sub-interface.
	link     string
	linkKind string
	vlanID   int
	cfg      ifaceConfig
	binding  *resolver.Binding
}

func (o *Orch) updateIface(table, kind, alias string, fields map[string]string) error {
	e := &iface{table: table, kind: kind, link: alias, linkKind: kind}
	if kind == kindSub {
		parent, vlan, err := util.SplitSubInterface(alias)
		if err != nil {
			return util.NewIntentError(table, alias, err)
		}
		e.link, e.linkKind, e.vlanID = parent, util.InterfaceKind(parent), vlan
	} else if util.InterfaceKind(alias) != kind {
		return util.InvalidIntentf(table, alias, "%s is not a %s interface", alias, kind)
	}

	f := orch.NewFields(fields)
	vrf := f.String("vrf_name", "")
	if vrf == resolver.DefaultVRF {
		vrf = ""
	}
	f.Check(vrf == "" || strings.HasPrefix(vrf, "Vrf"), "vrf_name: %q is not a VRF", vrf)
	cfg := ifaceConfig{vrf: vrf, adminUp: true}
	if kind == kindSub {
		cfg.mtu = f.Int("mtu", 0, 68, 9216)
		cfg.adminUp = f.Admin("admin_status", orch.AdminUp)
	}
	if err := f.Err(table, alias); err != nil {
		return err
	}

	if cur := o.ifaces.Get(alias); cur != nil {
		if cur.table != table {
			return util.InvalidIntentf(table, alias, "already configured in %s", cur.table)
		}
		if !cur.binding.Empty() && cur.cfg.vrf != cfg.vrf {
			return util.InvalidIntentf(table, alias, "cannot move a live interface from VRF %q to %q", cur.cfg.vrf, cfg.vrf)
		}
	}
	got := o.ifaces.GetOrCreate(alias, func() *iface {
		e.binding = resolver.NewBinding(o.Owner(orch.TaskID(table, alias)))
		return e
	})
	got.cfg = cfg
	return nil
}

func linkObjectKey(kind, alias string) string {
	switch kind {
	case util.KindPortChannel:
		return resolver.LagKey(alias)
	case util.KindVlan:
		return resolver.VlanKey(alias)
	default:
		return resolver.PortKey(alias)
	}
}

// rifAttrs returns the router interface attributes that follow the link.
func rifAttrs(e *iface, link resolver.LinkInfo) sai.Attrs {
	mtu := link.MTU
	if e.kind != kindSub {
		return sai.Attrs{sai.RifAttrMTU: strconv.Itoa(mtu)}
	}
	if e.cfg.mtu > 0 && e.cfg.mtu < mtu {
		mtu = e.cfg.mtu
	}
	up := sai.Bool(e.cfg.adminUp && link.AdminUp)
	return sai.Attrs{
		sai.RifAttrMTU:     strconv.Itoa(mtu),
		sai.RifAttrV4State: up,
		sai.RifAttrV6State: up,
	}
}

func (o *Orch) rifNode(alias string, e *iface, want sai.Attrs) *resolver.Node {
	vr := resolver.Ref(resolver.VRKey(e.cfg.vrf))
	link := resolver.Ref(linkObjectKey(e.linkKind, e.link))
	mac := o.R.SwitchMAC()
	return &resolver.Node{
		Key:      resolver.RifKey(alias),
		Type:     sai.TypeRouterInterface,
		Requires: []*resolver.Node{vr, link},
		Build: func(d resolver.Deps) (sai.Attrs, error) {
			attrs := want.Clone()
			attrs[sai.RifAttrVR] = d.OID(vr.Key)
			attrs[sai.RifAttrSrcMAC] = mac
			switch {
			case e.kind == kindSub:
				attrs[sai.RifAttrType] = sai.RifTypeSubPort
				attrs[sai.RifAttrPort] = d.OID(link.Key)
				attrs[sai.RifAttrOuterVlan] = strconv.Itoa(e.vlanID)
			case e.linkKind == util.KindVlan:
				attrs[sai.RifAttrType] = sai.RifTypeVlan
				attrs[sai.RifAttrVlan] = d.OID(link.Key)
			default:
				attrs[sai.RifAttrType] = sai.RifTypePort
				attrs[sai.RifAttrPort] = d.OID(link.Key)
			}
			return attrs, nil
		},
	}
}

func (o *Orch) reconcileIface(ctx context.Context, id, alias string) error {
	e := o.ifaces.Get(alias)
	created := e.binding.Empty()

	if e.kind == util.KindLoopback {
		if created {
			if _, err := o.R.Resolve(ctx, e.binding, resolver.Ref(resolver.VRKey(e.cfg.vrf))); err != nil {
				return o.Defer(id, err)
			}
			o.Unwatch(id)
		}
	} else {
		subjects := []string{"link:" + e.link}
		link, ok := o.R.Link(e.link)
		if !ok || !link.Ready {
			return o.Defer(id, util.NewDependencyError(alias, "link", e.link), subjects...)
		}
		want := rifAttrs(e, link)
		if created {
			if _, err := o.R.Resolve(ctx, e.binding, o.rifNode(alias, e, want)); err != nil {
				return o.Defer(id, err, subjects...)
			}
			o.Log.WithField("interface", alias).Infof("Router interface created")
		} else if _, err := o.R.Converge(ctx, resolver.RifKey(alias), want); err != nil {
			return err
		}
		o.Watch(id, subjects...)
	}

	if err := o.publishIface(ctx, alias, e); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	if created {
		o.R.Notify(ifaceSubject(alias))
	}
	return nil
}

func (o *Orch) publishIface(ctx context.Context, alias string, e *iface) error {
	fields := map[string]string{}
	if e.cfg.vrf != "" {
		fields["vrf_name"] = e.cfg.vrf
	}
	if e.kind == kindSub {
		fields["admin_status"] = admin(e.cfg.adminUp)
		if e.cfg.mtu > 0 {
			fields["mtu"] = strconv.Itoa(e.cfg.mtu)
		}
		if err := o.Publish(ctx, store.StateDB, SubInterfaceStateTab, alias, map[string]string{"state": "ok"}); err != nil {
			return err
		}
	}
	return o.Publish(ctx, store.ApplDB, ApplTable, alias, fields)
}

func admin(up bool) string {
	if up {
		return orch.AdminUp
	}
	return orch.AdminDown
}

func (o *Orch) removeIface(ctx context.Context, id, alias string) error {
	e := o.ifaces.Get(alias)
	if addrs := o.addressesOf(alias); len(addrs) > 0 {
		return o.Defer(id, util.NewInUseError(ifaceSubject(alias), addrs...))
	}
	if e.kind != util.KindLoopback {
		if err := o.R.CheckUnused(resolver.RifKey(alias), e.binding.Owner); err != nil {
			return o.Defer(id, err)
		}
	}
	if err := o.R.Release(ctx, e.binding); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.ApplDB, ApplTable, alias); err != nil {
		return err
	}
	if e.kind == kindSub {
		if err := o.Unpublish(ctx, store.StateDB, SubInterfaceStateTab, alias); err != nil {
			return err
		}
	}
	o.ifaces.Delete(alias)
	o.Forgotten(id)
	o.R.Notify(ifaceSubject(alias))
	o.Log.WithField("interface", alias).Infof("Interface removed")
	return nil
}
