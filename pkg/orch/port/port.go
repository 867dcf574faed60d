// Package port converges CONFIG_DB PORT into SAI ports and their queues.
package port

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

// Tables
const (
	ConfigTable          = "PORT"
	ApplTable            = "PORT_TABLE"
	StateTable           = "PORT_TABLE"
	CountersPortNameMap  = "COUNTERS_PORT_NAME_MAP"
	CountersQueueNameMap = "COUNTERS_QUEUE_NAME_MAP"
	CountersQueuePortMap = "COUNTERS_QUEUE_PORT_MAP"
)

// QueuesPerPort is the number of unicast queues created for each port.
const QueuesPerPort = 8

type config struct {
	lanes   []int
	speed   int
	mtu     int
	adminUp bool
}

func parse(key string, fields map[string]string) (config, error) {
	f := orch.NewFields(fields)
	c := config{
		speed:   f.Int("speed", 0, 0, 800000),
		mtu:     f.Int("mtu", orch.DefaultMTU, 68, 9216),
		adminUp: f.Admin("admin_status", orch.AdminDown),
	}
	for _, l := range f.List("lanes") {
		n, err := strconv.Atoi(l)
		f.Check(err == nil && n >= 0, "lanes: %q is not a lane number", l)
		c.lanes = append(c.lanes, n)
	}
	f.Check(util.InterfaceKind(key) == util.KindPort, "%s is not a port name", key)
	return c, f.Err(ConfigTable, key)
}

type entity struct {
	cfg     config
	binding *resolver.Binding
	oid     string
	queues  []string
}

// Orch is the port orchestrator.
type Orch struct {
	*orch.Base
	ports *orch.Entities[entity]
}

// New creates the port orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:  orch.NewBase("port", r, st),
		ports: orch.NewEntities[entity](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{{DB: store.ConfigDB, Table: ConfigTable}}
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return o.Run(ctx, t, orch.Lifecycle{
		Update:     o.update,
		Reconcile:  o.reconcile,
		Remove:     o.remove,
		Known:      o.ports.Has,
		Programmed: func(alias string) bool { return !o.ports.Get(alias).binding.Empty() },
		Forget:     o.ports.Delete,
	})
}

func (o *Orch) update(alias string, fields map[string]string) error {
	cfg, err := parse(alias, fields)
	if err != nil {
		return err
	}
	e := o.ports.GetOrCreate(alias, func() *entity {
		return &entity{binding: resolver.NewBinding(o.Owner(orch.TaskID(ConfigTable, alias)))}
	})
	e.cfg = cfg
	return nil
}

// portMTU returns the hardware MTU for a logical MTU.
func portMTU(mtu int) string {
	return strconv.Itoa(mtu + orch.MTUOverhead)
}

func (o *Orch) wantAttrs(alias string, cfg config) sai.Attrs {
	attrs := sai.Attrs{sai.PortAttrAdminState: sai.Bool(cfg.adminUp)}
	if cfg.speed > 0 {
		attrs[sai.PortAttrSpeed] = strconv.Itoa(cfg.speed)
	}
	// A LAG member carries the MTU derived from its port channel.
	if link, ok := o.R.Link(alias); !ok || link.Lag == "" {
		attrs[sai.PortAttrMTU] = portMTU(cfg.mtu)
	}
	return attrs
}

func (o *Orch) reconcile(ctx context.Context, id, alias string) error {
	e := o.ports.Get(alias)
	o.Watch(id, "link:"+alias)

	// oid is set once the port and all its queues exist.
	if e.oid == "" {
		if err := o.create(ctx, alias, e); err != nil {
			return o.Defer(id, err)
		}
		o.Log.WithField("port", alias).Infof("Port created")
	} else if _, err := o.R.Converge(ctx, resolver.PortKey(alias), o.wantAttrs(alias, e.cfg)); err != nil {
		return err
	}

	if err := o.publishCounters(ctx, alias, e); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.ApplDB, ApplTable, alias, map[string]string{
		"admin_status": adminString(e.cfg.adminUp),
		"mtu":          strconv.Itoa(e.cfg.mtu),
		"speed":        strconv.Itoa(e.cfg.speed),
	}); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.StateDB, StateTable, alias, map[string]string{"state": "ok"}); err != nil {
		return err
	}

	o.R.UpdateLink(alias, func(l *resolver.LinkInfo) {
		l.MTU = e.cfg.mtu
		l.AdminUp = e.cfg.adminUp
		l.Ready = true
	})
	o.SetState(id, orch.Active)
	return nil
}

func adminString(up bool) string {
	if up {
		return orch.AdminUp
	}
	return orch.AdminDown
}

func (o *Orch) create(ctx context.Context, alias string, e *entity) error {
	attrs := o.wantAttrs(alias, e.cfg)
	if len(e.cfg.lanes) > 0 {
		lanes := make([]string, len(e.cfg.lanes))
		for i, l := range e.cfg.lanes {
			lanes[i] = strconv.Itoa(l)
		}
		attrs[sai.PortAttrLanes] = strconv.Itoa(len(lanes)) + ":" + strings.Join(lanes, ",")
	}
	port := &resolver.Node{
		Key:      resolver.PortKey(alias),
		Type:     sai.TypePort,
		Requires: []*resolver.Node{resolver.Ref(resolver.SwitchKey)},
		Build:    func(resolver.Deps) (sai.Attrs, error) { return attrs, nil },
	}
	ph, err := o.R.Resolve(ctx, e.binding, port)
	if err != nil {
		return err
	}

	e.queues = e.queues[:0]
	for i := 0; i < QueuesPerPort; i++ {
		idx := i
		q := &resolver.Node{
			Key:      resolver.QueueKey(alias, idx),
			Type:     sai.TypeQueue,
			Requires: []*resolver.Node{port},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.QueueAttrType:  sai.QueueTypeUnicast,
					sai.QueueAttrIndex: strconv.Itoa(idx),
					sai.QueueAttrPort:  d.OID(port.Key),
				}, nil
			},
		}
		qh, err := o.R.Resolve(ctx, e.binding, q)
		if err != nil {
			if rerr := o.R.Release(ctx, e.binding); rerr != nil {
				o.Log.WithField("port", alias).WithError(rerr).Error("Releasing partial port failed")
			}
			e.queues = nil
			return err
		}
		e.queues = append(e.queues, qh.ID)
	}
	e.oid = ph.ID
	return nil
}

// publishCounters maps the port and queue names to their object ids for
// the counter consumers.
func (o *Orch) publishCounters(ctx context.Context, alias string, e *entity) error {
	queueNames := make(map[string]string, len(e.queues))
	queuePorts := make(map[string]string, len(e.queues))
	for i, qid := range e.queues {
		queueNames[alias+":"+strconv.Itoa(i)] = qid
		queuePorts[qid] = e.oid
	}
	if err := o.Publish(ctx, store.CountersDB, CountersPortNameMap, "", map[string]string{alias: e.oid}); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.CountersDB, CountersQueueNameMap, "", queueNames); err != nil {
		return err
	}
	return o.Publish(ctx, store.CountersDB, CountersQueuePortMap, "", queuePorts)
}

func (o *Orch) remove(ctx context.Context, id, alias string) error {
	e := o.ports.Get(alias)
	if err := o.R.CheckUnused(resolver.PortKey(alias), e.binding.Owner); err != nil {
		return o.Defer(id, err)
	}
	if err := o.R.Release(ctx, e.binding); err != nil {
		return err
	}

	names := make([]string, 0, len(e.queues))
	for i := range e.queues {
		names = append(names, alias+":"+strconv.Itoa(i))
	}
	for _, op := range []struct {
		table  string
		fields []string
	}{
		{CountersPortNameMap, []string{alias}},
		{CountersQueueNameMap, names},
		{CountersQueuePortMap, e.queues},
	} {
		if len(op.fields) == 0 {
			continue
		}
		if err := o.Store.DeleteFields(ctx, store.CountersDB, op.table, "", op.fields...); err != nil {
			return err
		}
	}
	if err := o.Unpublish(ctx, store.ApplDB, ApplTable, alias); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.StateDB, StateTable, alias); err != nil {
		return err
	}
	o.R.ClearLink(alias)
	o.ports.Delete(alias)
	o.Forgotten(id)
	o.Log.WithField("port", alias).Infof("Port removed")
	return nil
}

// Queues returns the queue object ids of a port by index.
func (o *Orch) Queues(alias string) []string {
	if e := o.ports.Get(alias); e != nil {
		return append([]string(nil), e.queues...)
	}
	return nil
}
