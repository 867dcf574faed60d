// Package pfcwd implements the PFC watchdog.
//
// A port is watched once it has a PFC_WD entry. The queues watched are the
// PFC-enabled queues at the moment the watch starts. A queue storms when
// its DEBUG_STORM counter field is enabled, or while the global big red
// switch is on; either way it is counted once as detected, PFC is masked
// off for it, and with the drop action an ACL rule drops its traffic.
// Leaving the dropping state counts one restoration.
package pfcwd

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
	ConfigTable      = "PFC_WD"
	PortQosMapTable  = "PORT_QOS_MAP"
	CountersTable    = "COUNTERS"
	InStormTable     = "PFC_WD_TABLE_INSTORM"
	FlexCounterTable = "FLEX_COUNTER_TABLE"
	FlexGroupTable   = "FLEX_COUNTER_GROUP_TABLE"
	// FlexGroup prefixes the watchdog's FLEX_COUNTER_TABLE keys.
	FlexGroup = "PFC_WD"
	GlobalKey = "GLOBAL"
)

// COUNTERS_DB fields
const (
	FieldDebugStorm      = "DEBUG_STORM"
	FieldStatus          = "PFC_WD_STATUS"
	FieldBRSMode         = "BIG_RED_SWITCH_MODE"
	FieldDetected        = "PFC_WD_QUEUE_STATS_DEADLOCK_DETECTED"
	FieldRestored        = "PFC_WD_QUEUE_STATS_DEADLOCK_RESTORED"
	FieldAction          = "PFC_WD_ACTION"
	FieldDetectionTime   = "PFC_WD_DETECTION_TIME"
	FieldRestorationTime = "PFC_WD_RESTORATION_TIME"
)

// Queue status values
const (
	StatusStormed     = "stormed"
	StatusOperational = "operational"
)

// Actions
const (
	ActionDrop    = "drop"
	ActionForward = "forward"
	ActionAlert   = "alert"
)

type watchConfig struct {
	action      string
	detection   int
	restoration int
}

type queue struct {
	port     string
	index    int
	oid      string
	storm    bool
	dropping bool
	detected int
	restored int
	acl      *resolver.Binding
	// published is the last COUNTERS entry written for the queue.
	published map[string]string
}

type watch struct {
	cfg     watchConfig
	active  bool
	portOID string
	queues  []*queue
}

type portState struct {
	pfc    uint8
	qosSet bool
	watch  *watch
}

// Orch is the PFC watchdog orchestrator.
type Orch struct {
	*orch.Base
	ports *orch.Entities[portState]
	byOID map[string]*queue
	brs   bool
	poll  int
}

// New creates the PFC watchdog orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base:  orch.NewBase("pfcwd", r, st),
		ports: orch.NewEntities[portState](),
		byOID: make(map[string]*queue),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{
		{DB: store.ConfigDB, Table: ConfigTable},
		{DB: store.ConfigDB, Table: PortQosMapTable},
		{DB: store.CountersDB, Table: CountersTable},
	}
}

func (o *Orch) port(alias string) *portState {
	return o.ports.GetOrCreate(alias, func() *portState { return &portState{} })
}

func (o *Orch) watched(alias string) bool {
	p := o.ports.Get(alias)
	return p != nil && p.watch != nil
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return orch.Handlers{
		ConfigTable: func(ctx context.Context, t orch.Task) error {
			if t.Key == GlobalKey {
				return o.applyGlobal(ctx, t)
			}
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updateWatch,
				Reconcile:  o.reconcileWatch,
				Remove:     o.stopWatch,
				Known:      o.watched,
				Programmed: func(k string) bool { return o.ports.Get(k).watch.active },
				Forget:     func(k string) { o.port(k).watch = nil },
			})
		},
		PortQosMapTable: func(ctx context.Context, t orch.Task) error {
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updatePFC,
				Reconcile:  o.reconcilePFC,
				Remove:     o.removePFC,
				Known:      func(k string) bool { p := o.ports.Get(k); return p != nil && p.qosSet },
				Programmed: func(k string) bool { return o.R.Exists(resolver.PortKey(k)) },
				Forget:     func(k string) { o.port(k).qosSet = false },
			})
		},
		CountersTable: o.applyCounters,
	}.Apply(ctx, t)
}

func (o *Orch) applyGlobal(ctx context.Context, t orch.Task) error {
	if t.Resync {
		return nil
	}
	brs := false
	if !t.Deleted() {
		f := orch.NewFields(t.Fields)
		brs = f.OneOf("BIG_RED_SWITCH", "disable", "enable", "disable") == "enable"
		poll := f.Int("POLL_INTERVAL", 0, 100, 3000)
		if err := f.Err(ConfigTable, t.Key); err != nil {
			return err
		}
		if poll != 0 && poll != o.poll {
			o.poll = poll
			if err := o.Publish(ctx, store.FlexCounterDB, FlexGroupTable, FlexGroup,
				map[string]string{"POLL_INTERVAL": strconv.Itoa(poll)}); err != nil {
				return err
			}
		}
	}
	if brs == o.brs {
		return nil
	}
	o.brs = brs
	o.Log.Infof("Big red switch %s", map[bool]string{true: "enabled", false: "disabled"}[brs])
	for _, alias := range o.ports.Keys() {
		if w := o.ports.Get(alias).watch; w != nil && w.active {
			if err := o.evaluate(ctx, alias); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orch) updateWatch(alias string, fields map[string]string) error {
	f := orch.NewFields(fields)
	cfg := watchConfig{
		action:      f.OneOf("action", ActionDrop, ActionDrop, ActionForward, ActionAlert),
		detection:   f.Int("detection_time", 200, 100, 5000),
		restoration: f.Int("restoration_time", 200, 100, 60000),
	}
	if err := f.Err(ConfigTable, alias); err != nil {
		return err
	}
	p := o.port(alias)
	if p.watch == nil {
		p.watch = &watch{}
	}
	p.watch.cfg = cfg
	return nil
}

// reconcileWatch starts the watch, snapshotting the PFC-enabled queues, or
// re-evaluates a running one after a configuration change.
func (o *Orch) reconcileWatch(ctx context.Context, id, alias string) error {
	p := o.ports.Get(alias)
	w := p.watch
	if !w.active {
		ph, ok := o.R.Handle(resolver.PortKey(alias))
		if !ok {
			return o.Defer(id, util.NewDependencyError(alias, "object", resolver.PortKey(alias)))
		}
		var queues []*queue
		for i := 0; i < 8; i++ {
			if p.pfc&(1<<i) == 0 {
				continue
			}
			qh, ok := o.R.Handle(resolver.QueueKey(alias, i))
			if !ok {
				return o.Defer(id, util.NewDependencyError(alias, "object", resolver.QueueKey(alias, i)))
			}
			q := &queue{port: alias, index: i, oid: qh.ID, acl: resolver.NewBinding(o.Owner(id))}
			if err := o.loadCounters(ctx, q); err != nil {
				return err
			}
			queues = append(queues, q)
		}
		if err := o.publishFlex(ctx, ph.ID, queues); err != nil {
			return err
		}
		w.portOID, w.queues, w.active = ph.ID, queues, true
		for _, q := range queues {
			o.byOID[q.oid] = q
		}
		o.Unwatch(id)
		idx := make([]int, len(queues))
		for i, q := range queues {
			idx[i] = q.index
		}
		o.Log.WithField("port", alias).Infof("Watch started on queues %s", util.CompactRange(idx))
	}
	if err := o.evaluate(ctx, alias); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	return nil
}

// loadCounters resumes the queue's statistics and storm signal from
// COUNTERS_DB.
func (o *Orch) loadCounters(ctx context.Context, q *queue) error {
	fields, err := o.Store.Get(ctx, store.CountersDB, CountersTable, q.oid)
	if err != nil {
		return err
	}
	q.storm = fields[FieldDebugStorm] == "enabled"
	q.detected = o.counter(q, fields, FieldDetected)
	q.restored = o.counter(q, fields, FieldRestored)
	return nil
}

// counter parses a stored statistic. A corrupt value restarts it at zero.
func (o *Orch) counter(q *queue, fields map[string]string, name string) int {
	v, ok := fields[name]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		o.Log.WithFields(logrus.Fields{"queue": q.oid, "field": name, "value": v}).Warn("Ignoring corrupt storm counter")
		return 0
	}
	return n
}

func (o *Orch) publishFlex(ctx context.Context, portOID string, queues []*queue) error {
	var stats []string
	for _, q := range queues {
		stats = append(stats, "SAI_PORT_STAT_PFC_"+strconv.Itoa(q.index)+"_RX_PKTS")
	}
	if err := o.Publish(ctx, store.FlexCounterDB, FlexCounterTable, FlexGroup+":"+portOID,
		map[string]string{"PORT_COUNTER_ID_LIST": strings.Join(stats, ",")}); err != nil {
		return err
	}
	for _, q := range queues {
		if err := o.Publish(ctx, store.FlexCounterDB, FlexCounterTable, FlexGroup+":"+q.oid, map[string]string{
			"QUEUE_COUNTER_ID_LIST": "SAI_QUEUE_STAT_PACKETS,SAI_QUEUE_STAT_CURR_OCCUPANCY_BYTES",
			"QUEUE_ATTR_ID_LIST":    "SAI_QUEUE_ATTR_PAUSE_STATUS",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orch) stopWatch(ctx context.Context, id, alias string) error {
	p := o.ports.Get(alias)
	w := p.watch
	for _, q := range w.queues {
		if err := o.R.Release(ctx, q.acl); err != nil {
			return err
		}
		if err := o.Store.DeleteFields(ctx, store.CountersDB, CountersTable, q.oid,
			FieldStatus, FieldBRSMode, FieldAction, FieldDetectionTime, FieldRestorationTime); err != nil {
			return err
		}
		if err := o.Unpublish(ctx, store.FlexCounterDB, FlexCounterTable, FlexGroup+":"+q.oid); err != nil {
			return err
		}
		delete(o.byOID, q.oid)
	}
	if err := o.Unpublish(ctx, store.FlexCounterDB, FlexCounterTable, FlexGroup+":"+w.portOID); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.ApplDB, InStormTable, alias); err != nil {
		return err
	}
	p.watch = nil
	if o.R.Exists(resolver.PortKey(alias)) {
		if err := o.applyPFC(ctx, alias); err != nil {
			return err
		}
	}
	o.Forgotten(id)
	o.Log.WithField("port", alias).Infof("Watch stopped")
	return nil
}

func (o *Orch) updatePFC(alias string, fields map[string]string) error {
	var bits uint8
	if s := fields["pfc_enable"]; s != "" {
		b, err := util.BitmapFromRange(s)
		if err != nil {
			return util.InvalidIntentf(PortQosMapTable, alias, "pfc_enable: %v", err)
		}
		bits = b
	}
	p := o.port(alias)
	p.pfc, p.qosSet = bits, true
	return nil
}

func (o *Orch) reconcilePFC(ctx context.Context, id, alias string) error {
	if !o.R.Exists(resolver.PortKey(alias)) {
		return o.Defer(id, util.NewDependencyError(alias, "object", resolver.PortKey(alias)))
	}
	if err := o.applyPFC(ctx, alias); err != nil {
		return err
	}
	o.Unwatch(id)
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removePFC(ctx context.Context, id, alias string) error {
	p := o.port(alias)
	p.pfc, p.qosSet = 0, false
	if err := o.applyPFC(ctx, alias); err != nil {
		return err
	}
	o.Forgotten(id)
	return nil
}

// applyPFC programs the configured PFC bits minus the queues the watchdog
// has taken out of PFC.
func (o *Orch) applyPFC(ctx context.Context, alias string) error {
	p := o.port(alias)
	bits := p.pfc
	if w := p.watch; w != nil && w.active && w.cfg.action != ActionAlert {
		for _, q := range w.queues {
			if q.dropping {
				bits &^= 1 << q.index
			}
		}
	}
	_, err := o.R.Converge(ctx, resolver.PortKey(alias), sai.Attrs{sai.PortAttrPFC: strconv.Itoa(int(bits))})
	return err
}

func (o *Orch) applyCounters(ctx context.Context, t orch.Task) error {
	if t.Resync {
		return nil
	}
	q, ok := o.byOID[t.Key]
	if !ok {
		return nil
	}
	storm := t.Fields[FieldDebugStorm] == "enabled"
	if storm == q.storm {
		return nil
	}
	q.storm = storm
	return o.evaluate(ctx, q.port)
}
