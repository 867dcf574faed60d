// Package neigh converges APPL_DB NEIGH_TABLE.
//
// A neighbor is programmed as a neighbor entry plus its IP next-hop while
// its mux port is active (or when it is not behind a mux cable at all),
// and as a host route to the peer-switch tunnel next-hop while the port is
// standby. The two forms are never kept together once a transition
// completes: the new form is created before the old one is removed.
package neigh

import (
	"context"
	"net"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// ApplTable is the neighbor source table.
const ApplTable = "NEIGH_TABLE"

type entity struct {
	alias  string
	ip     string
	mac    string
	family string
	// active holds the neighbor entry and its next-hop; standby holds
	// the host route to the tunnel next-hop.
	active  *resolver.Binding
	standby *resolver.Binding
}

func (e *entity) programmed() bool {
	return !e.active.Empty() || !e.standby.Empty()
}

// Orch is the neighbor orchestrator.
type Orch struct {
	*orch.Base
	neighbors *orch.Entities[entity]
}

// New creates the neighbor orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:      orch.NewBase("neigh", r, st),
		neighbors: orch.NewEntities[entity](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{{DB: store.ApplDB, Table: ApplTable}}
}

// Concurrent implements orch.Concurrent; neighbors are independent keys.
func (o *Orch) Concurrent() bool { return true }

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return o.Run(ctx, t, orch.Lifecycle{
		Update:     o.update,
		Reconcile:  o.reconcile,
		Remove:     o.remove,
		Known:      o.neighbors.Has,
		Programmed: func(k string) bool { return o.neighbors.Get(k).programmed() },
		Forget: func(k string) {
			if e := o.neighbors.Get(k); e != nil {
				o.R.Notify(o.R.Mux().RemoveNeighbor(e.alias, e.ip)...)
			}
			o.neighbors.Delete(k)
		},
	})
}

func (o *Orch) update(key string, fields map[string]string) error {
	alias, ipStr, _ := util.SplitKey(key, ":")
	ip := net.ParseIP(ipStr)
	f := orch.NewFields(fields)
	f.Check(alias != "" && ip != nil, "key must be <interface>:<ip>")
	f.Check(!util.IsLinkLocal(ipStr), "link-local neighbor %s", ipStr)
	mac, err := util.NormalizeMAC(f.String("neigh", ""))
	f.Check(err == nil, "neigh: %q is not a MAC address", fields["neigh"])
	f.Check(err != nil || util.IsUnicastMAC(mac), "neigh: %s is not a unicast MAC", mac)
	if ip != nil {
		want := util.IPFamily(ip.String())
		f.Check(f.OneOf("family", want, util.FamilyIPv4, util.FamilyIPv6) == want, "family does not match %s", ipStr)
	}
	if err := f.Err(ApplTable, key); err != nil {
		return err
	}

	e := o.neighbors.GetOrCreate(key, func() *entity {
		owner := o.Owner(orch.TaskID(ApplTable, key))
		return &entity{
			alias:   alias,
			ip:      ip.String(),
			family:  util.IPFamily(ip.String()),
			active:  resolver.NewBinding(owner),
			standby: resolver.NewBinding(owner),
		}
	})
	e.mac = mac
	o.R.Notify(o.R.Mux().SetNeighbor(e.alias, e.ip, mac)...)
	return nil
}

func (o *Orch) neighborNode(e *entity) *resolver.Node {
	rif := resolver.Ref(resolver.RifKey(e.alias))
	mac := e.mac
	return &resolver.Node{
		Key:      resolver.NeighKey(e.alias, e.ip),
		Type:     sai.TypeNeighborEntry,
		Requires: []*resolver.Node{rif},
		Entry: func(d resolver.Deps) sai.Entry {
			return sai.NeighborEntry(o.R.SwitchID(), d.OID(rif.Key), e.ip)
		},
		Build: func(resolver.Deps) (sai.Attrs, error) {
			return sai.Attrs{sai.NeighborAttrDstMAC: mac}, nil
		},
	}
}

func hostPrefix(ip string) string {
	p, _ := util.HostPrefix(ip)
	return p
}

func (o *Orch) reconcile(ctx context.Context, id, key string) error {
	e := o.neighbors.Get(key)
	nh, err := o.R.NextHopFor(e.alias, e.ip)
	if err != nil {
		return o.Defer(id, err, nh.Subjects...)
	}

	if nh.Tunnel {
		if e.standby.Empty() {
			route := o.R.RouteViaNode(resolver.DefaultVRF, hostPrefix(e.ip), nh.Node)
			if _, err := o.R.Resolve(ctx, e.standby, route); err != nil {
				return o.Defer(id, err, nh.Subjects...)
			}
			o.Log.WithField("neighbor", key).Infof("Standby: routed to tunnel next-hop")
		}
		if err := o.releaseActive(ctx, e); err != nil {
			return o.Defer(id, err, nh.Subjects...)
		}
	} else {
		// The next-hop is acquired last; without it the active form is
		// incomplete, whatever a failed rollback left behind.
		if !e.active.Holds(resolver.NextHopKey(e.alias, e.ip)) {
			if err := o.programActive(ctx, key, e); err != nil {
				return o.Defer(id, err, nh.Subjects...)
			}
			o.Log.WithField("neighbor", key).Infof("Neighbor programmed (%s)", e.mac)
		} else if _, err := o.R.Converge(ctx, resolver.NeighKey(e.alias, e.ip), sai.Attrs{sai.NeighborAttrDstMAC: e.mac}); err != nil {
			return err
		}
		if err := o.R.Release(ctx, e.standby); err != nil {
			return err
		}
	}

	o.Watch(id, nh.Subjects...)
	o.SetState(id, orch.Active)
	return nil
}

// programActive creates the neighbor entry and its next-hop. On failure
// it releases what it acquired; references it cannot release stay in
// e.active and are released with it.
func (o *Orch) programActive(ctx context.Context, key string, e *entity) error {
	if err := o.R.Release(ctx, e.active); err != nil {
		return err
	}
	if _, err := o.R.Resolve(ctx, e.active, o.neighborNode(e)); err != nil {
		return err
	}
	if _, err := o.R.Resolve(ctx, e.active, resolver.NeighborNextHopNode(e.alias, e.ip)); err != nil {
		if rerr := o.R.Release(ctx, e.active); rerr != nil {
			o.Log.WithField("neighbor", key).WithError(rerr).Error("Releasing neighbor entry failed")
		}
		return err
	}
	return nil
}

// releaseActive removes the neighbor entry and next-hop once no route
// still points at them.
func (o *Orch) releaseActive(ctx context.Context, e *entity) error {
	if e.active.Empty() {
		return nil
	}
	for _, k := range []string{resolver.NextHopKey(e.alias, e.ip), resolver.NeighKey(e.alias, e.ip)} {
		if err := o.R.CheckUnused(k, e.active.Owner); err != nil {
			return err
		}
	}
	return o.R.Release(ctx, e.active)
}

func (o *Orch) remove(ctx context.Context, id, key string) error {
	e := o.neighbors.Get(key)
	// Forget the neighbor first so that no new path resolves through it.
	o.R.Notify(o.R.Mux().RemoveNeighbor(e.alias, e.ip)...)
	if err := o.R.Release(ctx, e.standby); err != nil {
		return err
	}
	if err := o.releaseActive(ctx, e); err != nil {
		return o.Defer(id, err)
	}
	o.neighbors.Delete(key)
	o.Forgotten(id)
	o.Log.WithField("neighbor", key).Infof("Neighbor removed")
	return nil
}
