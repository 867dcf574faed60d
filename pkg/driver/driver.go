// Package driver runs the convergence loop: it feeds store changes to the
// domain orchestrators and classifies every result.
//
// Each domain owns a queue of per-key FIFOs and a worker pool. Deferred
// keys are retried on the retry tick or when the resolver requeues them;
// transient boundary failures back off exponentially; an exhausted
// boundary failure stops the driver.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Config tunes the driver.
type Config struct {
	// Workers is the pool size of domains whose keys are independent.
	Workers int
	// RetryInterval is the period of the deferred-key retry tick.
	RetryInterval time.Duration
	// BackoffBase and BackoffMax bound the transient failure backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts is the number of applies a transiently failing task gets.
	MaxAttempts int
	Clock       clock.Clock
	Metrics     *Metrics
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		RetryInterval: time.Second,
		BackoffBase:   100 * time.Millisecond,
		BackoffMax:    10 * time.Second,
		MaxAttempts:   5,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Driver schedules orchestrator work.
type Driver struct {
	cfg     Config
	store   store.Store
	log     *logrus.Entry
	domains map[string]*domain
	names   []string

	mu      sync.Mutex
	changed chan struct{}
}

// New creates a driver reading intent from st.
func New(st store.Store, cfg Config) *Driver {
	cfg.fill()
	return &Driver{
		cfg:     cfg,
		store:   st,
		log:     util.WithField("component", "driver"),
		domains: make(map[string]*domain),
		changed: make(chan struct{}),
	}
}

// Add registers orchestrators, one domain each.
func (d *Driver) Add(orchs ...orch.Orchestrator) {
	for _, o := range orchs {
		workers := 1
		if c, ok := o.(orch.Concurrent); ok && c.Concurrent() {
			workers = d.cfg.Workers
		}
		d.domains[o.Name()] = &domain{
			drv:      d,
			name:     o.Name(),
			o:        o,
			workers:  workers,
			log:      util.WithDomain(o.Name()),
			q:        newKeyQueue(),
			deferred: make(map[string]bool),
			attempts: make(map[string]int),
			retries:  make(map[string]*clock.Timer),
			wake:     make(chan struct{}, 1),
		}
		d.names = append(d.names, o.Name())
	}
	sort.Strings(d.names)
}

// Domains lists the registered domain names.
func (d *Driver) Domains() []string { return append([]string(nil), d.names...) }

// Enqueue submits a task to a domain as if it came from the store.
func (d *Driver) Enqueue(name string, t orch.Task) {
	if dm, ok := d.domains[name]; ok {
		dm.submit(t)
	}
}

// Requeue implements resolver.Notifier: the entity id (table|key) of
// domain is re-evaluated.
func (d *Driver) Requeue(name, id string) {
	dm, ok := d.domains[name]
	if !ok {
		d.log.Debugf("Requeue for unknown domain %s", name)
		return
	}
	table, key := orch.ParseTaskID(id)
	dm.push(orch.Task{Table: table, Key: key, Resync: true})
}

// notify wakes WaitIdle callers.
func (d *Driver) notify() {
	d.mu.Lock()
	close(d.changed)
	d.changed = make(chan struct{})
	d.mu.Unlock()
}

func (d *Driver) watch() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

// Idle reports whether no domain has queued or in-flight work. Deferred
// keys and tasks waiting out a backoff do not count.
func (d *Driver) Idle() bool {
	for _, dm := range d.domains {
		if dm.busy() {
			return false
		}
	}
	return true
}

// WaitIdle blocks until the driver is idle or ctx ends.
func (d *Driver) WaitIdle(ctx context.Context) error {
	for {
		ch := d.watch()
		if d.Idle() {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for idle: %w", ctx.Err())
		}
	}
}

// DomainStats is a snapshot of one domain's scheduling state.
type DomainStats struct {
	Queued   int      `json:"queued"`
	InFlight int      `json:"in_flight"`
	Deferred []string `json:"deferred,omitempty"`
	Retrying int      `json:"retrying"`
}

// Stats returns the scheduling state of every domain.
func (d *Driver) Stats() map[string]DomainStats {
	out := make(map[string]DomainStats, len(d.domains))
	for name, dm := range d.domains {
		out[name] = dm.stats()
	}
	return out
}

// Run subscribes every domain to its sources and processes tasks until ctx
// ends or a fatal error occurs.
func (d *Driver) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	type subscription struct {
		dm     *domain
		events <-chan store.Event
	}
	var subs []subscription
	for _, name := range d.names {
		dm := d.domains[name]
		for _, src := range dm.o.Sources() {
			events, err := d.store.Subscribe(ctx, src.DB, src.Table)
			if err != nil {
				return fmt.Errorf("subscribing %s to %s: %w", name, src, err)
			}
			subs = append(subs, subscription{dm, events})
		}
	}

	ticker := d.cfg.Clock.Ticker(d.cfg.RetryInterval)
	g.Go(func() error {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, name := range d.names {
					d.domains[name].retryDeferred()
				}
			}
		}
	})
	for _, s := range subs {
		s := s
		g.Go(func() error { return s.dm.ingest(ctx, s.events) })
	}
	for _, name := range d.names {
		dm := d.domains[name]
		for i := 0; i < dm.workers; i++ {
			g.Go(func() error { return dm.work(ctx) })
		}
	}
	d.log.Infof("Driver started with %d domains", len(d.names))
	return g.Wait()
}

// domain is one orchestrator with its queue and retry state.
type domain struct {
	drv     *Driver
	name    string
	o       orch.Orchestrator
	workers int
	log     *logrus.Entry

	mu       sync.Mutex
	q        *keyQueue
	deferred map[string]bool
	attempts map[string]int
	retries  map[string]*clock.Timer
	wake     chan struct{}
}

func (dm *domain) ingest(ctx context.Context, events <-chan store.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			dm.submit(orch.Task{DB: e.DB, Table: e.Table, Key: e.Key, Fields: store.Fields(e.Fields)})
		}
	}
}

// submit queues a new record for a key. It supersedes any backoff retry
// of an older record.
func (dm *domain) submit(t orch.Task) {
	id := t.ID()
	dm.mu.Lock()
	if tm, ok := dm.retries[id]; ok {
		tm.Stop()
		delete(dm.retries, id)
	}
	delete(dm.attempts, id)
	dm.mu.Unlock()
	dm.push(t)
}

func (dm *domain) push(t orch.Task) {
	dm.mu.Lock()
	changed := dm.q.push(t)
	dm.gauges()
	dm.mu.Unlock()
	if changed {
		dm.signal()
		dm.drv.notify()
	}
}

func (dm *domain) signal() {
	select {
	case dm.wake <- struct{}{}:
	default:
	}
}

// gauges must be called with dm.mu held.
func (dm *domain) gauges() {
	if m := dm.drv.cfg.Metrics; m != nil {
		m.QueueDepth.WithLabelValues(dm.name).Set(float64(dm.q.depth()))
		m.DeferredKeys.WithLabelValues(dm.name).Set(float64(len(dm.deferred)))
	}
}

func (dm *domain) busy() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.q.busy()
}

func (dm *domain) stats() DomainStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	s := DomainStats{Queued: dm.q.depth(), InFlight: len(dm.q.inflight), Retrying: len(dm.retries)}
	for id := range dm.deferred {
		s.Deferred = append(s.Deferred, id)
	}
	sort.Strings(s.Deferred)
	return s
}

func (dm *domain) retryDeferred() {
	dm.mu.Lock()
	ids := make([]string, 0, len(dm.deferred))
	for id := range dm.deferred {
		ids = append(ids, id)
	}
	dm.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		table, key := orch.ParseTaskID(id)
		dm.push(orch.Task{Table: table, Key: key, Resync: true})
	}
}

func (dm *domain) next(ctx context.Context) (orch.Task, bool) {
	for {
		dm.mu.Lock()
		t, ok := dm.q.pop()
		more := len(dm.q.ready) > 0
		dm.gauges()
		dm.mu.Unlock()
		if ok {
			if more {
				dm.signal()
			}
			return t, true
		}
		select {
		case <-ctx.Done():
			return orch.Task{}, false
		case <-dm.wake:
		}
	}
}

func (dm *domain) work(ctx context.Context) error {
	for {
		t, ok := dm.next(ctx)
		if !ok {
			return nil
		}
		start := dm.drv.cfg.Clock.Now()
		err := dm.o.Apply(ctx, t)
		if m := dm.drv.cfg.Metrics; m != nil {
			m.ApplyDuration.WithLabelValues(dm.name).Observe(dm.drv.cfg.Clock.Since(start).Seconds())
		}
		if ferr := dm.finish(t, err); ferr != nil {
			return ferr
		}
	}
}

// finish classifies the result of t and releases its key.
func (dm *domain) finish(t orch.Task, err error) error {
	id := t.ID()
	log := dm.log.WithField("key", id)
	result := ResultOK

	dm.mu.Lock()
	switch {
	case err == nil:
		delete(dm.deferred, id)
		delete(dm.attempts, id)
	case util.IsDeferrable(err):
		result = ResultDeferred
		dm.deferred[id] = true
		log.Debugf("Deferred: %v", err)
	case util.IsFatal(err):
		result = ResultFatal
	case util.IsTransient(err):
		delete(dm.deferred, id)
		dm.attempts[id]++
		n := dm.attempts[id]
		if n >= dm.drv.cfg.MaxAttempts {
			result = ResultDropped
			delete(dm.attempts, id)
			log.Errorf("Dropped after %d attempts: %v", n, err)
			break
		}
		result = ResultRetry
		delay := dm.backoff(n)
		log.Warnf("Retrying in %s: %v", delay, err)
		dm.retries[id] = dm.drv.cfg.Clock.AfterFunc(delay, func() {
			dm.mu.Lock()
			delete(dm.retries, id)
			dm.mu.Unlock()
			dm.push(t)
		})
	case errors.Is(err, util.ErrInvalidIntent):
		result = ResultInvalid
		delete(dm.deferred, id)
		log.Warnf("Invalid intent dropped: %v", err)
	default:
		result = ResultDropped
		delete(dm.deferred, id)
		log.Errorf("Task %s failed: %v", t, err)
	}
	dm.q.done(id)
	more := len(dm.q.ready) > 0
	dm.gauges()
	dm.mu.Unlock()

	if m := dm.drv.cfg.Metrics; m != nil {
		m.Tasks.WithLabelValues(dm.name, result).Inc()
	}
	if more {
		dm.signal()
	}
	dm.drv.notify()
	if result == ResultFatal {
		log.Errorf("Fatal: %v", err)
		return fmt.Errorf("domain %s: %w", dm.name, err)
	}
	return nil
}

// backoff returns the delay before attempt n+1.
func (dm *domain) backoff(n int) time.Duration {
	d := dm.drv.cfg.BackoffBase
	for i := 1; i < n && d < dm.drv.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > dm.drv.cfg.BackoffMax {
		d = dm.drv.cfg.BackoffMax
	}
	return d
}
