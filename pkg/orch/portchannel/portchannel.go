// Package portchannel converges CONFIG_DB PORTCHANNEL and
// PORTCHANNEL_MEMBER into SAI LAGs and LAG members.
package portchannel

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Tables
const (
	ConfigTable       = "PORTCHANNEL"
	MemberConfigTable = "PORTCHANNEL_MEMBER"
	ApplTable         = "LAG_TABLE"
	StateTable        = "LAG_TABLE"
	MemberApplTable   = "LAG_MEMBER_TABLE"
	MemberStateTable  = "LAG_MEMBER_TABLE"
)

type lagConfig struct {
	mtu      int
	adminUp  bool
	minLinks int
}

type lag struct {
	cfg     lagConfig
	binding *resolver.Binding
}

type member struct {
	lag     string
	port    string
	binding *resolver.Binding
}

// Orch is the port channel orchestrator.
type Orch struct {
	*orch.Base
	lags    *orch.Entities[lag]
	members *orch.Entities[member]
}

// New creates the port channel orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:    orch.NewBase("portchannel", r, st),
		lags:    orch.NewEntities[lag](),
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
				Update:     o.updateLag,
				Reconcile:  o.reconcileLag,
				Remove:     o.removeLag,
				Known:      o.lags.Has,
				Programmed: func(k string) bool { return !o.lags.Get(k).binding.Empty() },
				Forget:     o.lags.Delete,
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

func (o *Orch) updateLag(alias string, fields map[string]string) error {
	f := orch.NewFields(fields)
	cfg := lagConfig{
		mtu:      f.Int("mtu", orch.DefaultMTU, 68, 9216),
		adminUp:  f.Admin("admin_status", orch.AdminUp),
		minLinks: f.Int("min_links", 0, 0, 1024),
	}
	f.Check(util.InterfaceKind(alias) == util.KindPortChannel, "%s is not a port channel name", alias)
	if err := f.Err(ConfigTable, alias); err != nil {
		return err
	}
	e := o.lags.GetOrCreate(alias, func() *lag {
		return &lag{binding: resolver.NewBinding(o.Owner(orch.TaskID(ConfigTable, alias)))}
	})
	e.cfg = cfg
	return nil
}

func (o *Orch) reconcileLag(ctx context.Context, id, alias string) error {
	e := o.lags.Get(alias)
	if e.binding.Empty() {
		n := &resolver.Node{
			Key:      resolver.LagKey(alias),
			Type:     sai.TypeLag,
			Requires: []*resolver.Node{resolver.Ref(resolver.SwitchKey)},
		}
		if _, err := o.R.Resolve(ctx, e.binding, n); err != nil {
			return o.Defer(id, err)
		}
		o.Log.WithField("lag", alias).Infof("Port channel created")
	}

	if err := o.Publish(ctx, store.ApplDB, ApplTable, alias, map[string]string{
		"admin_status": adminString(e.cfg.adminUp),
		"mtu":          strconv.Itoa(e.cfg.mtu),
		"min_links":    strconv.Itoa(e.cfg.minLinks),
	}); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.StateDB, StateTable, alias, map[string]string{"state": "ok"}); err != nil {
		return err
	}
	// Members watch the LAG link and follow its MTU.
	o.R.SetLink(alias, resolver.LinkInfo{MTU: e.cfg.mtu, AdminUp: e.cfg.adminUp, Ready: true})
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removeLag(ctx context.Context, id, alias string) error {
	e := o.lags.Get(alias)
	if err := o.R.CheckUnused(resolver.LagKey(alias), e.binding.Owner); err != nil {
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
	o.lags.Delete(alias)
	o.Forgotten(id)
	o.Log.WithField("lag", alias).Infof("Port channel removed")
	return nil
}

func adminString(up bool) string {
	if up {
		return orch.AdminUp
	}
	return orch.AdminDown
}

// splitMember splits a "PortChannel1|Ethernet0" member key.
func splitMember(key string) (lag, port string, ok bool) {
	lag, port, ok = strings.Cut(key, "|")
	return lag, port, ok && lag != "" && port != ""
}

func (o *Orch) updateMember(key string, fields map[string]string) error {
	lagName, port, ok := splitMember(key)
	if !ok {
		return util.InvalidIntentf(MemberConfigTable, key, "key must be <portchannel>|<port>")
	}
	if util.InterfaceKind(lagName) != util.KindPortChannel || util.InterfaceKind(port) != util.KindPort {
		return util.InvalidIntentf(MemberConfigTable, key, "%s cannot be a member of %s", port, lagName)
	}
	o.members.GetOrCreate(key, func() *member {
		return &member{
			lag:     lagName,
			port:    port,
			binding: resolver.NewBinding(o.Owner(orch.TaskID(MemberConfigTable, key))),
		}
	})
	return nil
}

func (o *Orch) reconcileMember(ctx context.Context, id, key string) error {
	m := o.members.Get(key)
	subjects := []string{"link:" + m.lag}

	lagLink, ok := o.R.Link(m.lag)
	if !ok || !lagLink.Ready {
		return o.Defer(id, util.NewDependencyError(key, "port channel", m.lag), subjects...)
	}
	portLink, ok := o.R.Link(m.port)
	if !ok || !portLink.Ready {
		return o.Defer(id, util.NewDependencyError(key, "port", m.port), append(subjects, "link:"+m.port)...)
	}
	if portLink.Lag != "" && portLink.Lag != m.lag {
		return o.Defer(id, util.NewInUseError(resolver.PortKey(m.port), portLink.Lag), append(subjects, "link:"+m.port)...)
	}

	if m.binding.Empty() {
		lagRef := resolver.Ref(resolver.LagKey(m.lag))
		portRef := resolver.Ref(resolver.PortKey(m.port))
		n := &resolver.Node{
			Key:      resolver.LagMemberKey(m.port),
			Type:     sai.TypeLagMember,
			Requires: []*resolver.Node{lagRef, portRef},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.LagMemberAttrLag:  d.OID(lagRef.Key),
					sai.LagMemberAttrPort: d.OID(portRef.Key),
				}, nil
			},
		}
		if _, err := o.R.Resolve(ctx, m.binding, n); err != nil {
			return o.Defer(id, err, subjects...)
		}
		o.Log.WithFields(logrus.Fields{"lag": m.lag, "port": m.port}).Infof("Member added")
	}
	o.Watch(id, subjects...)

	// The member port carries the port channel MTU.
	o.R.UpdateLink(m.port, func(l *resolver.LinkInfo) { l.Lag = m.lag })
	if _, err := o.R.Converge(ctx, resolver.PortKey(m.port), sai.Attrs{
		sai.PortAttrMTU: strconv.Itoa(lagLink.MTU + orch.MTUOverhead),
	}); err != nil {
		return err
	}

	if err := o.Publish(ctx, store.ApplDB, MemberApplTable, m.lag+":"+m.port, map[string]string{"status": "enabled"}); err != nil {
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
	// Clearing the membership lets the port restore its own MTU.
	if _, ok := o.R.Link(m.port); ok {
		o.R.UpdateLink(m.port, func(l *resolver.LinkInfo) {
			if l.Lag == m.lag {
				l.Lag = ""
			}
		})
	}
	if err := o.Unpublish(ctx, store.ApplDB, MemberApplTable, m.lag+":"+m.port); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.StateDB, MemberStateTable, key); err != nil {
		return err
	}
	o.members.Delete(key)
	o.Forgotten(id)
	o.Log.WithFields(logrus.Fields{"lag": m.lag, "port": m.port}).Infof("Member removed")
	return nil
}
