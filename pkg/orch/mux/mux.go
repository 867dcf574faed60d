// Package mux tracks dual-ToR mux cables: their server addresses, their
// active/standby state and the MACs learned behind them. Transitions are
// pushed into the resolver's mux view, whose notifications requeue the
// neighbors and routes that must swap next-hops. The orchestrator also
// keeps a single ACL rule dropping ingress traffic on standby ports.
package mux

import (
	"context"
	"net"
	"sort"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Tables
const (
	CableTable = "MUX_CABLE"
	// StateTable is the APPL_DB source of cable state and the STATE_DB
	// table it is published back to.
	StateTable = "MUX_CABLE_TABLE"
	FdbTable   = "FDB_TABLE"
)

// AclPriority is the priority of the standby drop rule.
const AclPriority = "999"

const (
	aclTableName = "mux"
	aclRuleName  = "mux-drop"
)

type cable struct {
	servers []string
}

// Orch is the mux orchestrator.
type Orch struct {
	*orch.Base
	cables *orch.Entities[cable]

	// acl holds the drop table and rule; aclPorts the standby ports the
	// rule matches.
	acl      *resolver.Binding
	aclPorts *resolver.Binding
}

// New creates the mux orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	b := orch.NewBase("mux", r, st)
	return &Orch{
		Base:     b,
		cables:   orch.NewEntities[cable](),
		acl:      resolver.NewBinding(b.Owner("acl")),
		aclPorts: resolver.NewBinding(b.Owner("acl")),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{
		{DB: store.ConfigDB, Table: CableTable},
		{DB: store.ApplDB, Table: StateTable},
		{DB: store.ApplDB, Table: FdbTable},
	}
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return orch.Handlers{
		CableTable: func(ctx context.Context, t orch.Task) error {
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updateCable,
				Reconcile:  o.reconcileCable,
				Remove:     o.removeCable,
				Known:      o.cables.Has,
				Programmed: func(string) bool { return true },
				Forget:     o.cables.Delete,
			})
		},
		StateTable: o.applyState,
		FdbTable:   o.applyFDB,
	}.Apply(ctx, t)
}

func serverAddress(f *orch.Fields, name string, v4 bool) string {
	s := f.String(name, "")
	if s == "" {
		return ""
	}
	addr, err := util.StripHostMask(s)
	ip := net.ParseIP(addr)
	f.Check(err == nil && (ip.To4() != nil) == v4, "%s: %q is not a valid server address", name, s)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func (o *Orch) updateCable(port string, fields map[string]string) error {
	f := orch.NewFields(fields)
	servers := []string{
		serverAddress(f, "server_ipv4", true),
		serverAddress(f, "server_ipv6", false),
	}
	if err := f.Err(CableTable, port); err != nil {
		return err
	}
	c := o.cables.GetOrCreate(port, func() *cable { return &cable{} })
	c.servers = servers
	o.R.Notify(o.R.Mux().SetCable(port, servers...)...)
	return nil
}

func (o *Orch) reconcileCable(ctx context.Context, id, port string) error {
	if err := o.syncACL(ctx); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removeCable(ctx context.Context, id, port string) error {
	o.R.Notify(o.R.Mux().RemoveCable(port)...)
	if err := o.syncACL(ctx); err != nil {
		return err
	}
	o.cables.Delete(port)
	o.Forgotten(id)
	o.Log.WithField("port", port).Infof("Mux cable removed")
	return nil
}

func (o *Orch) applyState(ctx context.Context, t orch.Task) error {
	if t.Resync {
		return o.syncACL(ctx)
	}
	port := t.Key
	if t.Deleted() {
		o.Unwatch(t.ID())
		o.R.Notify(o.R.Mux().ClearState(port)...)
		if err := o.syncACL(ctx); err != nil {
			return err
		}
		return o.Unpublish(ctx, store.StateDB, StateTable, port)
	}

	f := orch.NewFields(t.Fields)
	state := f.OneOf("state", "", resolver.MuxActive, resolver.MuxStandby)
	f.Check(state != "", "state is required")
	if err := f.Err(StateTable, port); err != nil {
		return err
	}
	if subjects := o.R.Mux().SetState(port, state); len(subjects) > 0 {
		o.Log.WithField("port", port).Infof("Mux state -> %s", state)
		o.R.Notify(subjects...)
	}
	if err := o.syncACL(ctx); err != nil {
		return err
	}
	return o.Publish(ctx, store.StateDB, StateTable, port, map[string]string{"state": state})
}

func (o *Orch) applyFDB(ctx context.Context, t orch.Task) error {
	if t.Resync {
		return nil
	}
	vlan, macStr, ok := util.SplitKey(t.Key, ":")
	mac, err := util.NormalizeMAC(macStr)
	if !ok || err != nil {
		return util.InvalidIntentf(FdbTable, t.Key, "key must be <vlan>:<mac>")
	}
	if t.Deleted() {
		o.R.Notify(o.R.Mux().RemoveFDB(vlan, mac)...)
		return nil
	}
	f := orch.NewFields(t.Fields)
	port := f.String("port", "")
	f.Check(port != "", "port is required")
	f.OneOf("type", "dynamic", "dynamic", "static")
	if err := f.Err(FdbTable, t.Key); err != nil {
		return err
	}
	o.R.Notify(o.R.Mux().SetFDB(vlan, mac, port)...)
	return nil
}

// syncACL converges the drop rule to the current standby port set. Ports
// whose objects do not exist yet are left out until they appear.
func (o *Orch) syncACL(ctx context.Context) error {
	var ports []string
	for _, p := range o.R.Mux().StandbyPorts() {
		if o.R.Exists(resolver.PortKey(p)) {
			ports = append(ports, p)
			continue
		}
		o.Watch(orch.TaskID(StateTable, p), "obj:"+resolver.PortKey(p))
	}

	if len(ports) == 0 {
		if o.acl.Empty() {
			return nil
		}
		if err := o.R.Release(ctx, o.acl); err != nil {
			return err
		}
		if err := o.R.Release(ctx, o.aclPorts); err != nil {
			return err
		}
		o.Log.Infof("Standby drop rule removed")
		return nil
	}

	held := make(map[string]bool)
	for _, k := range o.aclPorts.Keys() {
		held[k] = true
	}
	want := make(map[string]bool, len(ports))
	for _, p := range ports {
		key := resolver.PortKey(p)
		want[key] = true
		if held[key] {
			continue
		}
		if _, err := o.R.Resolve(ctx, o.aclPorts, resolver.Ref(key)); err != nil {
			return err
		}
	}
	inPorts := o.portList(ports)

	if o.acl.Empty() {
		table := &resolver.Node{
			Key:  resolver.AclTableKey(aclTableName),
			Type: sai.TypeAclTable,
			Build: func(resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.AclTableAttrStage:   sai.AclStageIngress,
					sai.AclTableAttrInPorts: sai.Bool(true),
				}, nil
			},
		}
		rule := &resolver.Node{
			Key:      resolver.AclKey(aclRuleName),
			Type:     sai.TypeAclEntry,
			Requires: []*resolver.Node{table},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.AclEntryAttrTable:      d.OID(table.Key),
					sai.AclEntryAttrPriority:   AclPriority,
					sai.AclEntryAttrInPorts:    inPorts,
					sai.AclEntryAttrAction:     sai.PacketActionDrop,
					sai.AclEntryAttrAdminState: sai.Bool(true),
				}, nil
			},
		}
		if _, err := o.R.Resolve(ctx, o.acl, rule); err != nil {
			return err
		}
		o.Log.Infof("Standby drop rule created")
	} else if _, err := o.R.Converge(ctx, resolver.AclKey(aclRuleName), sai.Attrs{sai.AclEntryAttrInPorts: inPorts}); err != nil {
		return err
	}

	var stale []string
	for k := range held {
		if !want[k] {
			stale = append(stale, k)
		}
	}
	sort.Strings(stale)
	return o.R.ReleaseKeys(ctx, o.aclPorts, stale...)
}

func (o *Orch) portList(ports []string) string {
	oids := make([]string, 0, len(ports))
	for _, p := range ports {
		h, _ := o.R.Handle(resolver.PortKey(p))
		oids = append(oids, h.ID)
	}
	return sai.OIDList(oids...)
}
