// Package route converges APPL_DB ROUTE_TABLE.
//
// A route forwards to one next-hop, to a router interface, to a next-hop
// group, or drops. Every next-hop is resolved through the resolver, so a
// path whose neighbor sits behind a standby mux port points at the shared
// tunnel next-hop instead. Changes are applied in place: the new target is
// created and the route repointed before the old target is released, and
// ECMP members are added before stale ones are removed.
package route

import (
	"context"
	"net"
	"sort"
	"strings"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// ApplTable is the route source table.
const ApplTable = "ROUTE_TABLE"

// path is one configured next-hop. An empty ip is a directly connected
// path through the interface.
type path struct {
	alias string
	ip    string
}

func (p path) String() string { return p.alias + "|" + p.ip }

type config struct {
	paths     []path
	blackhole bool
}

type member struct {
	path    path
	target  string
	binding *resolver.Binding
}

type entity struct {
	vrf    string
	prefix string
	cfg    config

	route *resolver.Binding
	// via holds the single next-hop or interface target.
	via    *resolver.Binding
	viaKey string
	// group holds the next-hop group; members its members in path order.
	group   *resolver.Binding
	members []*member
	// orphans are targets that a failed route create could not release.
	orphans []*resolver.Binding
}

func (e *entity) programmed() bool {
	return !e.route.Empty() || !e.via.Empty() || !e.group.Empty() || len(e.members) > 0 || len(e.orphans) > 0
}

func (e *entity) ecmp() bool { return !e.cfg.blackhole && len(e.cfg.paths) > 1 }

// Orch is the route orchestrator.
type Orch struct {
	*orch.Base
	routes *orch.Entities[entity]
}

// New creates the route orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:   orch.NewBase("route", r, st),
		routes: orch.NewEntities[entity](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{{DB: store.ApplDB, Table: ApplTable}}
}

// Concurrent implements orch.Concurrent.
func (o *Orch) Concurrent() bool { return true }

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return o.Run(ctx, t, orch.Lifecycle{
		Update:     o.update,
		Reconcile:  o.reconcile,
		Remove:     o.remove,
		Known:      o.routes.Has,
		Programmed: func(k string) bool { return o.routes.Get(k).programmed() },
		Forget:     o.routes.Delete,
	})
}

// parseKey splits "[Vrf<name>:]<prefix>" and canonicalizes the prefix.
func parseKey(key string) (vrf, prefix string, ok bool) {
	rest := key
	if strings.HasPrefix(key, "Vrf") {
		vrf, rest, ok = util.SplitKey(key, ":")
		if !ok {
			return "", "", false
		}
	}
	_, ipnet, err := net.ParseCIDR(rest)
	if err != nil {
		return "", "", false
	}
	return vrf, ipnet.String(), true
}

func (o *Orch) update(key string, fields map[string]string) error {
	vrf, prefix, ok := parseKey(key)
	if !ok {
		return util.InvalidIntentf(ApplTable, key, "key must be [Vrf<name>:]<prefix>")
	}
	family := util.IPFamily(prefix)

	f := orch.NewFields(fields)
	cfg := config{blackhole: f.OneOf("blackhole", "false", "true", "false") == "true"}
	if !cfg.blackhole {
		ifs := f.List("ifname")
		nhs := f.List("nexthop")
		if len(nhs) == 0 {
			nhs = make([]string, len(ifs))
		}
		f.Check(len(ifs) > 0, "ifname is required")
		f.Check(len(nhs) == len(ifs), "nexthop has %d entries, ifname %d", len(nhs), len(ifs))
		seen := make(map[path]bool)
		for i := 0; i < len(nhs) && i < len(ifs); i++ {
			p := path{alias: ifs[i]}
			if nhs[i] != "" {
				ip := net.ParseIP(nhs[i])
				f.Check(ip != nil, "nexthop: %q is not an address", nhs[i])
				if ip == nil {
					continue
				}
				f.Check(util.IPFamily(ip.String()) == family, "nexthop %s does not match %s", nhs[i], prefix)
				if !ip.IsUnspecified() {
					p.ip = ip.String()
				}
			}
			f.Check(!seen[p], "duplicate next-hop %s", p)
			seen[p] = true
			cfg.paths = append(cfg.paths, p)
		}
		if len(cfg.paths) > 1 {
			for _, p := range cfg.paths {
				f.Check(p.ip != "", "next-hop group member on %s has no address", p.alias)
			}
		}
	}
	if err := f.Err(ApplTable, key); err != nil {
		return err
	}

	e := o.routes.GetOrCreate(key, func() *entity {
		owner := o.Owner(orch.TaskID(ApplTable, key))
		return &entity{
			vrf:    vrf,
			prefix: prefix,
			route:  resolver.NewBinding(owner),
			via:    resolver.NewBinding(owner),
			group:  resolver.NewBinding(owner),
		}
	})
	e.cfg = cfg
	return nil
}

// pathNode resolves the object a path forwards to.
func (o *Orch) pathNode(p path) (*resolver.Node, []string, error) {
	if p.ip == "" {
		return resolver.Ref(resolver.RifKey(p.alias)), nil, nil
	}
	nh, err := o.R.NextHopFor(p.alias, p.ip)
	return nh.Node, nh.Subjects, err
}

func routeAttrs(target string) sai.Attrs {
	if target == "" {
		return sai.Attrs{
			sai.RouteAttrPacketAction: sai.PacketActionDrop,
			sai.RouteAttrNextHop:      sai.NullOID,
		}
	}
	return sai.Attrs{
		sai.RouteAttrPacketAction: sai.PacketActionForward,
		sai.RouteAttrNextHop:      target,
	}
}

func (o *Orch) reconcile(ctx context.Context, id, key string) error {
	e := o.routes.Get(key)
	log := o.Log.WithField("route", key)
	if err := o.releaseOrphans(ctx, e); err != nil {
		return err
	}

	var (
		subjects []string
		pending  error
		target   string
		newVia   *resolver.Binding
		newKey   string
		stale    []*member
	)
	switch {
	case e.cfg.blackhole:
	case !e.ecmp():
		node, subs, err := o.pathNode(e.cfg.paths[0])
		subjects = subs
		if err != nil {
			return o.Defer(id, err, subjects...)
		}
		if node.Key != e.viaKey {
			newVia = resolver.NewBinding(e.route.Owner)
			if _, err := o.R.Resolve(ctx, newVia, node); err != nil {
				return o.Defer(id, err, subjects...)
			}
			newKey = node.Key
		}
		h, _ := o.R.Handle(node.Key)
		target = h.ID
	default:
		var err error
		stale, subjects, pending, err = o.syncGroup(ctx, e)
		if err != nil {
			return o.Defer(id, err, subjects...)
		}
		if len(e.members) == 0 && e.route.Empty() {
			if err := o.releaseGroup(ctx, e); err != nil {
				return err
			}
			return o.Defer(id, pending, subjects...)
		}
		h, _ := o.R.Handle(resolver.NextHopGroupKey(e.vrf, e.prefix))
		target = h.ID
	}

	attrs := routeAttrs(target)
	if e.route.Empty() {
		node := o.R.RouteNode(e.vrf, e.prefix, func() (sai.Attrs, error) { return attrs, nil })
		if _, err := o.R.Resolve(ctx, e.route, node); err != nil {
			if newVia != nil {
				if rerr := o.R.Release(ctx, newVia); rerr != nil {
					log.WithError(rerr).Errorf("Releasing next-hop %s failed", newKey)
					e.orphans = append(e.orphans, newVia)
				}
			}
			return o.Defer(id, err, subjects...)
		}
		log.Infof("Route programmed (%d paths)", len(e.cfg.paths))
	} else if _, err := o.R.Converge(ctx, resolver.RouteKey(e.vrf, e.prefix), attrs); err != nil {
		return err
	}

	// The route no longer points at anything released below.
	if newVia != nil || (!e.via.Empty() && (e.ecmp() || e.cfg.blackhole)) {
		if err := o.R.Release(ctx, e.via); err != nil {
			return err
		}
		e.via, e.viaKey = resolver.NewBinding(e.route.Owner), ""
	}
	if newVia != nil {
		e.via, e.viaKey = newVia, newKey
	}
	if e.ecmp() {
		for _, m := range stale {
			if err := o.R.Release(ctx, m.binding); err != nil {
				return err
			}
			log.Debugf("Member %s -> %s removed", m.path, m.target)
		}
	} else if err := o.releaseGroup(ctx, e); err != nil {
		return err
	}

	o.SetState(id, orch.Active)
	if pending != nil {
		return o.Defer(id, pending, subjects...)
	}
	o.Watch(id, subjects...)
	return nil
}

// syncGroup creates the next-hop group if needed and adds a member for
// every path whose target changed. A path that does not resolve keeps its
// current member. It returns the members to release once the route points
// at the group, and the first path failure.
func (o *Orch) syncGroup(ctx context.Context, e *entity) (stale []*member, subjects []string, pending, err error) {
	owner := e.route.Owner
	nhgKey := resolver.NextHopGroupKey(e.vrf, e.prefix)
	if e.group.Empty() {
		nhg := &resolver.Node{
			Key:  nhgKey,
			Type: sai.TypeNextHopGroup,
			Build: func(resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{sai.NextHopGroupAttrType: sai.NextHopGroupTypeECMP}, nil
			},
		}
		if _, err := o.R.Resolve(ctx, e.group, nhg); err != nil {
			return nil, nil, nil, err
		}
	}

	current := make(map[path]*member, len(e.members))
	for _, m := range e.members {
		current[m.path] = m
	}
	fail := func(err error) {
		subjects = append(subjects, orch.WaitSubjects(err)...)
		if pending == nil {
			pending = err
		}
	}

	var next []*member
	for _, p := range e.cfg.paths {
		cur := current[p]
		node, subs, perr := o.pathNode(p)
		subjects = append(subjects, subs...)
		if perr == nil && cur != nil && cur.target == node.Key {
			next = append(next, cur)
			delete(current, p)
			continue
		}
		if perr == nil {
			m := &member{path: p, target: node.Key, binding: resolver.NewBinding(owner)}
			if _, perr = o.R.Resolve(ctx, m.binding, memberNode(e, p, nhgKey, node)); perr == nil {
				next = append(next, m)
				o.Log.WithField("route", e.prefix).Debugf("Member %s -> %s added", p, node.Key)
				continue
			}
		}
		fail(perr)
		if cur != nil {
			next = append(next, cur)
			delete(current, p)
		}
	}
	e.members = next

	for _, m := range current {
		stale = append(stale, m)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].path.String() < stale[j].path.String() })
	return stale, subjects, pending, nil
}

func memberNode(e *entity, p path, nhgKey string, target *resolver.Node) *resolver.Node {
	nhg := resolver.Ref(nhgKey)
	return &resolver.Node{
		Key:      resolver.NextHopGroupMemberKey(e.vrf, e.prefix, p.String(), target.Key),
		Type:     sai.TypeNextHopGroupMember,
		Requires: []*resolver.Node{nhg, target},
		Build: func(d resolver.Deps) (sai.Attrs, error) {
			return sai.Attrs{
				sai.NextHopGroupMemberAttrNHG: d.OID(nhg.Key),
				sai.NextHopGroupMemberAttrNH:  d.OID(target.Key),
			}, nil
		},
	}
}

// releaseGroup removes every member, then the group.
func (o *Orch) releaseGroup(ctx context.Context, e *entity) error {
	for len(e.members) > 0 {
		if err := o.R.Release(ctx, e.members[0].binding); err != nil {
			return err
		}
		e.members = e.members[1:]
	}
	return o.R.Release(ctx, e.group)
}

// releaseOrphans retries the targets left over by a failed route create.
func (o *Orch) releaseOrphans(ctx context.Context, e *entity) error {
	for len(e.orphans) > 0 {
		if err := o.R.Release(ctx, e.orphans[0]); err != nil {
			return err
		}
		e.orphans = e.orphans[1:]
	}
	return nil
}

func (o *Orch) remove(ctx context.Context, id, key string) error {
	e := o.routes.Get(key)
	if err := o.R.Release(ctx, e.route); err != nil {
		return err
	}
	if err := o.releaseOrphans(ctx, e); err != nil {
		return err
	}
	if err := o.R.Release(ctx, e.via); err != nil {
		return err
	}
	if err := o.releaseGroup(ctx, e); err != nil {
		return err
	}
	o.routes.Delete(key)
	o.Forgotten(id)
	o.Log.WithField("route", key).Infof("Route removed")
	return nil
}
