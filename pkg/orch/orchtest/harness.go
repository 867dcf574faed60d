// Package orchtest runs orchestrators synchronously against the memory
// store and the ASIC_DB boundary. Requeues raised by the resolver are
// drained in order after every applied task, so a test observes the
// converged state as soon as Set or Del returns.
package orchtest

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// SwitchMAC is the bootstrap MAC used by harnesses.
const SwitchMAC = "7c:fe:90:f9:3e:80"

const maxDrain = 10000

// Harness drives a set of orchestrators.
type Harness struct {
	t     *testing.T
	ctx   context.Context
	Store *store.Memory
	Asic  *sai.AsicDB
	// Faults sits between the resolver and Asic.
	Faults *sai.Faults
	R      *resolver.Resolver

	orchs   []orch.Orchestrator
	byName  map[string]orch.Orchestrator
	pending []resolver.Dependent
	// Errors collects non-deferrable errors returned while draining.
	Errors []error
}

// New creates a bootstrapped harness with a strict reference table.
func New(t *testing.T) *Harness {
	t.Helper()
	st := store.NewMemory()
	asic := sai.NewAsicDB(st)
	faults := sai.NewFaults(asic)
	r := resolver.New(faults, true)
	h := &Harness{
		t:      t,
		ctx:    context.Background(),
		Store:  st,
		Asic:   asic,
		Faults: faults,
		R:      r,
		byName: make(map[string]orch.Orchestrator),
	}
	r.SetNotifier(h)
	if _, err := r.Bootstrap(h.ctx, SwitchMAC); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return h
}

// Add registers orchestrators.
func (h *Harness) Add(orchs ...orch.Orchestrator) {
	for _, o := range orchs {
		h.orchs = append(h.orchs, o)
		h.byName[o.Name()] = o
	}
}

// Requeue implements resolver.Notifier.
func (h *Harness) Requeue(domain, key string) {
	h.pending = append(h.pending, resolver.Dependent{Domain: domain, Key: key})
}

// Set writes a record to the store and applies it to every orchestrator
// sourcing the table. It returns the first error of the direct apply.
func (h *Harness) Set(db store.DB, table, key string, fields map[string]string) error {
	h.t.Helper()
	if err := h.Store.Set(h.ctx, db, table, key, fields); err != nil {
		h.t.Fatalf("Set(%s %s|%s) error = %v", db, table, key, err)
	}
	stored, _ := h.Store.Get(h.ctx, db, table, key)
	return h.dispatch(orch.Task{DB: db, Table: table, Key: key, Fields: store.Fields(stored)})
}

// Del removes a record from the store and applies the deletion.
func (h *Harness) Del(db store.DB, table, key string) error {
	h.t.Helper()
	if err := h.Store.Delete(h.ctx, db, table, key); err != nil {
		h.t.Fatalf("Delete(%s %s|%s) error = %v", db, table, key, err)
	}
	return h.dispatch(orch.Task{DB: db, Table: table, Key: key})
}

// DelFields removes fields of a record and applies the resulting record.
func (h *Harness) DelFields(db store.DB, table, key string, fields ...string) error {
	h.t.Helper()
	if err := h.Store.DeleteFields(h.ctx, db, table, key, fields...); err != nil {
		h.t.Fatalf("DeleteFields(%s %s|%s) error = %v", db, table, key, err)
	}
	stored, _ := h.Store.Get(h.ctx, db, table, key)
	return h.dispatch(orch.Task{DB: db, Table: table, Key: key, Fields: store.Fields(stored)})
}

func (h *Harness) dispatch(t orch.Task) error {
	var first error
	for _, o := range h.orchs {
		if !sources(o, t.DB, t.Table) {
			continue
		}
		if err := o.Apply(h.ctx, t); err != nil && first == nil {
			first = err
		}
	}
	h.Drain()
	return first
}

func sources(o orch.Orchestrator, db store.DB, table string) bool {
	for _, s := range o.Sources() {
		if s.DB == db && s.Table == table {
			return true
		}
	}
	return false
}

// Drain applies requeued resyncs until none remain.
func (h *Harness) Drain() {
	h.t.Helper()
	for i := 0; len(h.pending) > 0; i++ {
		if i > maxDrain {
			h.t.Fatalf("requeue loop: %d resyncs without converging", maxDrain)
		}
		d := h.pending[0]
		h.pending = h.pending[1:]
		o, ok := h.byName[d.Domain]
		if !ok {
			continue
		}
		table, key := orch.ParseTaskID(d.Key)
		err := o.Apply(h.ctx, orch.Task{Table: table, Key: key, Resync: true})
		if err != nil && !util.IsDeferrable(err) {
			h.Errors = append(h.Errors, err)
		}
	}
}

// Objects returns the programmed objects of type t.
func (h *Harness) Objects(t sai.ObjectType) []sai.Object {
	h.t.Helper()
	objs, err := sai.Objects(h.ctx, h.Store, t)
	if err != nil {
		h.t.Fatalf("Objects(%s) error = %v", t, err)
	}
	return objs
}

// Attrs returns the attributes of the object bound to a logical key.
func (h *Harness) Attrs(key string) sai.Attrs {
	h.t.Helper()
	hd, ok := h.R.Handle(key)
	if !ok {
		h.t.Fatalf("no object for %s", key)
	}
	attrs, err := h.Asic.Get(h.ctx, hd)
	if err != nil {
		h.t.Fatalf("Get(%s) error = %v", key, err)
	}
	return attrs
}

// Get reads a table entry.
func (h *Harness) Get(db store.DB, table, key string) map[string]string {
	h.t.Helper()
	fields, err := h.Store.Get(h.ctx, db, table, key)
	if err != nil {
		h.t.Fatalf("Get(%s %s|%s) error = %v", db, table, key, err)
	}
	return fields
}

// AddPorts configures ports with default attributes.
func (h *Harness) AddPorts(aliases ...string) {
	h.t.Helper()
	for i, alias := range aliases {
		fields := map[string]string{"lanes": lanes(i), "speed": "100000", "admin_status": "up"}
		if err := h.Set(store.ConfigDB, "PORT", alias, fields); err != nil {
			h.t.Fatalf("adding port %s: %v", alias, err)
		}
	}
}

func lanes(i int) string {
	l := make([]string, 4)
	for j := range l {
		l[j] = strconv.Itoa(i*4 + j + 1)
	}
	return strings.Join(l, ",")
}

// Ctx returns the harness context.
func (h *Harness) Ctx() context.Context { return h.ctx }

// Orch returns a registered orchestrator by domain name.
func (h *Harness) Orch(name string) orch.Orchestrator {
	h.t.Helper()
	o, ok := h.byName[name]
	if !ok {
		h.t.Fatalf("no orchestrator %q", name)
	}
	return o
}
