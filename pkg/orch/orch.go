// Package orch holds what the per-domain orchestrators share: the task
// model handed to them by the driver, the entity state machine, and the
// helpers used to publish derived tables.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Source is a table an orchestrator consumes.
type Source struct {
	DB    store.DB
	Table string
}

func (s Source) String() string {
	return s.DB.String() + ":" + s.Table
}

// Task is one unit of work for a key. A task with nil Fields and Resync
// unset is a deletion; a resync asks the orchestrator to re-evaluate the
// key from the intent it already holds.
type Task struct {
	DB     store.DB
	Table  string
	Key    string
	Fields map[string]string
	Resync bool
}

// TaskID is the per-domain identity of a key: "<table>|<key>".
func TaskID(table, key string) string {
	return table + "|" + key
}

// ParseTaskID splits a task id into table and key.
func ParseTaskID(id string) (table, key string) {
	table, key, _ = strings.Cut(id, "|")
	return table, key
}

// ID returns the task's key identity.
func (t Task) ID() string { return TaskID(t.Table, t.Key) }

// Deleted reports whether the task removes the key.
func (t Task) Deleted() bool { return !t.Resync && t.Fields == nil }

func (t Task) String() string {
	switch {
	case t.Resync:
		return "resync " + t.ID()
	case t.Deleted():
		return "del " + t.ID()
	default:
		return "set " + t.ID()
	}
}

// Orchestrator converges one configuration domain.
type Orchestrator interface {
	Name() string
	Sources() []Source
	// Apply processes one task. Deferrable errors mean the task waits for
	// a prerequisite; the driver classifies every other error.
	Apply(ctx context.Context, t Task) error
}

// Concurrent is implemented by orchestrators whose keys are independent,
// letting the driver run several workers for the domain.
type Concurrent interface {
	Concurrent() bool
}

// State is the lifecycle state of a reconciled entity.
type State int

const (
	Absent State = iota
	Pending
	Active
	Removing
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Removing:
		return "removing"
	default:
		return "absent"
	}
}

// Base carries what every orchestrator needs: its resolver, the state
// store, a domain-tagged logger and the per-entity state table.
type Base struct {
	name  string
	R     *resolver.Resolver
	Store store.Store
	Log   *logrus.Entry

	mu     sync.Mutex
	states map[string]State
}

// NewBase creates the shared part of a domain orchestrator.
func NewBase(name string, r *resolver.Resolver, st store.Store) *Base {
	return &Base{
		name:   name,
		R:      r,
		Store:  st,
		Log:    util.WithDomain(name),
		states: make(map[string]State),
	}
}

// Name returns the domain name.
func (b *Base) Name() string { return b.name }

// Owner returns the reference owner name for an entity.
func (b *Base) Owner(id string) string { return b.name + "/" + id }

// State returns the lifecycle state of an entity.
func (b *Base) State(id string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[id]
}

// SetState records a lifecycle transition.
func (b *Base) SetState(id string, s State) {
	b.mu.Lock()
	prev := b.states[id]
	if s == Absent {
		delete(b.states, id)
	} else {
		b.states[id] = s
	}
	b.mu.Unlock()
	if prev != s {
		b.Log.WithField("key", id).Debugf("%s -> %s", prev, s)
	}
}

// States returns a snapshot of every non-absent entity.
func (b *Base) States() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]State, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out
}

// Watch registers the entity's interest in transitions.
func (b *Base) Watch(id string, subjects ...string) {
	b.R.Watch(b.name, id, subjects...)
}

// Unwatch drops the entity's subscriptions.
func (b *Base) Unwatch(id string) {
	b.R.Unwatch(b.name, id)
}

// WaitSubjects returns the transitions that may clear a deferrable err:
// the creation of a missing object or the release of an object in use.
func WaitSubjects(err error) []string {
	var subjects []string
	var de *util.DependencyError
	if errors.As(err, &de) && de.DependsOnType == "object" {
		subjects = append(subjects, "obj:"+de.DependsOn)
	}
	var ie *util.InUseError
	if errors.As(err, &ie) {
		subjects = append(subjects, "ref:"+ie.Resource)
	}
	return subjects
}

// Defer marks an entity pending on err. When err names a missing object
// the entity also watches for that object's creation.
func (b *Base) Defer(id string, err error, subjects ...string) error {
	subjects = append(subjects[:len(subjects):len(subjects)], WaitSubjects(err)...)
	if len(subjects) > 0 {
		b.Watch(id, dedup(subjects)...)
	}
	if b.State(id) == Absent {
		b.SetState(id, Pending)
	}
	return err
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Publish writes a derived table entry.
func (b *Base) Publish(ctx context.Context, db store.DB, table, key string, fields map[string]string) error {
	if err := b.Store.Set(ctx, db, table, key, fields); err != nil {
		return fmt.Errorf("publishing %s %s%s%s: %w", db, table, db.Separator(), key, err)
	}
	return nil
}

// Unpublish removes a derived table entry.
func (b *Base) Unpublish(ctx context.Context, db store.DB, table, key string) error {
	if err := b.Store.Delete(ctx, db, table, key); err != nil {
		return fmt.Errorf("removing %s %s%s%s: %w", db, table, db.Separator(), key, err)
	}
	return nil
}

// Handler processes tasks for one source table.
type Handler func(ctx context.Context, t Task) error

// Handlers routes tasks to a handler by table.
type Handlers map[string]Handler

// Apply dispatches t to its table's handler.
func (h Handlers) Apply(ctx context.Context, t Task) error {
	fn, ok := h[t.Table]
	if !ok {
		return fmt.Errorf("no handler for table %s", t.Table)
	}
	return fn(ctx, t)
}

// Defaults shared by the link-layer domains.
const (
	DefaultMTU = 9100
	// MTUOverhead is added to a logical MTU to obtain the port MTU
	// programmed in hardware (Ethernet header, VLAN tag and FCS).
	MTUOverhead = 22
)

// Lifecycle is the per-table behavior driven by Base.Run.
type Lifecycle struct {
	// Update validates a set record and stores it as the entity's intent.
	Update func(key string, fields map[string]string) error
	// Reconcile converges the entity toward its stored intent.
	Reconcile func(ctx context.Context, id, key string) error
	// Remove tears down the programmed entity and forgets it.
	Remove func(ctx context.Context, id, key string) error
	// Known reports whether an intent is stored for key.
	Known func(key string) bool
	// Programmed reports whether the entity holds any object.
	Programmed func(key string) bool
	// Forget drops the stored intent of an entity that holds nothing.
	Forget func(key string)
}

// Run applies t through the table's lifecycle: a set updates the intent
// and reconciles, a delete removes (or simply forgets a never-programmed
// entity), and a resync re-evaluates whichever of the two is pending.
func (b *Base) Run(ctx context.Context, t Task, lc Lifecycle) error {
	id := t.ID()
	switch {
	case t.Resync:
		if !lc.Known(t.Key) {
			return nil
		}
		if b.State(id) == Removing {
			return lc.Remove(ctx, id, t.Key)
		}
		return lc.Reconcile(ctx, id, t.Key)
	case t.Deleted():
		if !lc.Known(t.Key) {
			return nil
		}
		if !lc.Programmed(t.Key) {
			lc.Forget(t.Key)
			b.Unwatch(id)
			b.SetState(id, Absent)
			return nil
		}
		b.SetState(id, Removing)
		return lc.Remove(ctx, id, t.Key)
	}
	if err := lc.Update(t.Key, t.Fields); err != nil {
		return err
	}
	if b.State(id) == Removing {
		b.SetState(id, Pending)
	}
	return lc.Reconcile(ctx, id, t.Key)
}

// Forgotten completes a removal: the entity's watches and state are
// dropped.
func (b *Base) Forgotten(id string) {
	b.Unwatch(id)
	b.SetState(id, Absent)
}

// Entities is a mutex-guarded intent table keyed by record key.
type Entities[E any] struct {
	mu sync.Mutex
	m  map[string]*E
}

// NewEntities creates an empty table.
func NewEntities[E any]() *Entities[E] {
	return &Entities[E]{m: make(map[string]*E)}
}

// Get returns the entity for key or nil.
func (s *Entities[E]) Get(key string) *E {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

// GetOrCreate returns the entity for key, creating it with fn when absent.
func (s *Entities[E]) GetOrCreate(key string, fn func() *E) *E {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		e = fn()
		s.m[key] = e
	}
	return e
}

// Has reports whether key is present.
func (s *Entities[E]) Has(key string) bool {
	return s.Get(key) != nil
}

// Delete drops key.
func (s *Entities[E]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Keys returns every key, sorted.
func (s *Entities[E]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
