// Package vlan converges CONFIG_DB VLAN and VLAN_MEMBER.
package vlan

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Tables
const (
	ConfigTable       = "VLAN"
	MemberConfigTable = "VLAN_MEMBER"
	ApplTable         = "VLAN_TABLE"
	StateTable        = "VLAN_TABLE"
	MemberApplTable   = "VLAN_MEMBER_TABLE"
	MemberStateTable  = "VLAN_MEMBER_TABLE"
)

// Tagging modes
const (
	Tagged   = "tagged"
	Untagged = "untagged"
)

type vlanConfig struct {
	id      int
	mtu     int
	adminUp bool
}

type vlan struct {
	cfg     vlanConfig
	binding *resolver.Binding
}

type member struct {
	vlan    string
	port    string
	mode    string
	binding *resolver.Binding
}

// Orch is the VLAN orchestrator.
type Orch struct {
	*orch.Base
	vlans   *orch.Entities[vlan]
	members *orch.Entities[member]
}

// New creates the VLAN orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:    orch.NewBase("vlan", r, st),
		vlans:   orch.NewEntities[vlan](),
		members: orch.NewEntities[member](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{
		{DB: store.ConfigDB, Table: ConfigTable},
		{DB: store.ConfigDB, Table: MemberConfigTable},
	}
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return orch.Handlers{
		ConfigTable: func(ctx context.Context, t orch.Task) error {
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updateVlan,
				Reconcile:  o.reconcileVlan,
				Remove:     o.removeVlan,
				Known:      o.vlans.Has,
				Programmed: func(k string) bool { return !o.vlans.Get(k).binding.Empty() },
				Forget:     o.vlans.Delete,
			})
		},
		MemberConfigTable: func(ctx context.Context, t orch.Task) error {
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updateMember,
				Reconcile:  o.reconcileMember,
				Remove:     o.removeMember,
				Known:      o.members.Has,
				Programmed: func(k string) bool { return !o.members.Get(k).binding.Empty() },
				Forget:     o.members.Delete,
			})
		},
	}.Apply(ctx, t)
}

func (o *Orch) updateVlan(alias string, fields map[string]string) error {
	id, err := util.VlanIDFromAlias(alias)
	if err != nil {
		return util.NewIntentError(ConfigTable, alias, err)
	}
	f := orch.NewFields(fields)
	cfg := vlanConfig{
		id:      id,
		mtu:     f.Int("mtu", orch.DefaultMTU, 68, 9216),
		adminUp: f.Admin("admin_status", orch.AdminUp),
	}
	if f.Has("vlanid") {
		f.Check(f.Int("vlanid", id, 1, 4094) == id, "vlanid does not match %s", alias)
	}
	if err := f.Err(ConfigTable, alias); err != nil {
		return err
	}
	e := o.vlans.GetOrCreate(alias, func() *vlan {
		return &vlan{binding: resolver.NewBinding(o.Owner(orch.TaskID(ConfigTable, alias)))}
	})
	e.cfg = cfg
	return nil
}

func (o *Orch) reconcileVlan(ctx context.Context, id, alias string) error {
	e := o.vlans.Get(alias)
	if e.binding.Empty() {
		vid := strconv.Itoa(e.cfg.id)
		n := &resolver.Node{
			Key:      resolver.VlanKey(alias),
			Type:     sai.TypeVlan,
			Requires: []*resolver.Node{resolver.Ref(resolver.SwitchKey)},
			Build: func(resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{sai.VlanAttrVlanID: vid}, nil
			},
		}
		if _, err := o.R.Resolve(ctx, e.binding, n); err != nil {
			return o.Defer(id, err)
		}
		o.Log.WithField("vlan", alias).Infof("VLAN created")
	}

	if err := o.Publish(ctx, store.ApplDB, ApplTable, alias, map[string]string{
		"admin_status": admin(e.cfg.adminUp),
		"mtu":          strconv.Itoa(e.cfg.mtu),
	}); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.StateDB, StateTable, alias, map[string]string{"state": "ok"}); err != nil {
		return err
	}
	o.R.SetLink(alias, resolver.LinkInfo{MTU: e.cfg.mtu, AdminUp: e.cfg.adminUp, Ready: true})
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removeVlan(ctx context.Context, id, alias string) error {
	e := o.vlans.Get(alias)
	if err := o.R.CheckUnused(resolver.VlanKey(alias), e.binding.Owner); err != nil {
		return o.Defer(id, err)
	}
	if err := o.R.Release(ctx, e.binding); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.ApplDB, ApplTable, alias); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.StateDB, StateTable, alias); err != nil {
		return err
	}
	o.R.ClearLink(alias)
	o.vlans.Delete(alias)
	o.Forgotten(id)
	o.Log.WithField("vlan", alias).Infof("VLAN removed")
	return nil
}

func admin(up bool) string {
	if up {
		return orch.AdminUp
	}
	return orch.AdminDown
}

// linkKey returns the object key of a bridged port or port channel.
func linkKey(alias string) string {
	if util.InterfaceKind(alias) == util.KindPortChannel {
		return resolver.LagKey(alias)
	}
	return resolver.PortKey(alias)
}

func (o *Orch) updateMember(key string, fields map[string]string) error {
	vlanName, port, ok := util.SplitKey(key, "|")
	if !ok || port == "" {
		return util.InvalidIntentf(MemberConfigTable, key, "key must be <vlan>|<port>")
	}
	if _, err := util.VlanIDFromAlias(vlanName); err != nil {
		return util.NewIntentError(MemberConfigTable, key, err)
	}
	if k := util.InterfaceKind(port); k != util.KindPort && k != util.KindPortChannel {
		return util.InvalidIntentf(MemberConfigTable, key, "%s cannot be a VLAN member", port)
	}
	f := orch.NewFields(fields)
	mode := f.OneOf("tagging_mode", Untagged, Tagged, Untagged)
	if err := f.Err(MemberConfigTable, key); err != nil {
		return err
	}
	m := o.members.GetOrCreate(key, func() *member {
		return &member{
			vlan:    vlanName,
			port:    port,
			binding: resolver.NewBinding(o.Owner(orch.TaskID(MemberConfigTable, key))),
		}
	})
	m.mode = mode
	return nil
}

func taggingAttr(mode string) string {
	if mode == Tagged {
		return sai.VlanTaggingTagged
	}
	return sai.VlanTaggingUntagged
}

func (o *Orch) reconcileMember(ctx context.Context, id, key string) error {
	m := o.members.Get(key)
	if m.binding.Empty() {
		vlanRef := resolver.Ref(resolver.VlanKey(m.vlan))
		portRef := resolver.Ref(linkKey(m.port))
		mode := taggingAttr(m.mode)
		n := &resolver.Node{
			Key:      resolver.VlanMemberKey(m.vlan, m.port),
			Type:     sai.TypeVlanMember,
			Requires: []*resolver.Node{vlanRef, portRef},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.VlanMemberAttrVlan:    d.OID(vlanRef.Key),
					sai.VlanMemberAttrPort:    d.OID(portRef.Key),
					sai.VlanMemberAttrTagging: mode,
				}, nil
			},
		}
		if _, err := o.R.Resolve(ctx, m.binding, n); err != nil {
			return o.Defer(id, err)
		}
		o.Unwatch(id)
		o.Log.WithFields(logrus.Fields{"vlan": m.vlan, "port": m.port}).Infof("Member added (%s)", m.mode)
	} else if _, err := o.R.Converge(ctx, resolver.VlanMemberKey(m.vlan, m.port), sai.Attrs{
		sai.VlanMemberAttrTagging: taggingAttr(m.mode),
	}); err != nil {
		return err
	}

	if err := o.Publish(ctx, store.ApplDB, MemberApplTable, m.vlan+":"+m.port, map[string]string{"tagging_mode": m.mode}); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.StateDB, MemberStateTable, key, map[string]string{"state": "ok"}); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removeMember(ctx context.Context, id, key string) error {
	m := o.members.Get(key)
	if err := o.R.Release(ctx, m.binding); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.ApplDB, MemberApplTable, m.vlan+":"+m.port); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.StateDB, MemberStateTable, key); err != nil {
		return err
	}
	o.members.Delete(key)
	o.Forgotten(id)
	return nil
}
