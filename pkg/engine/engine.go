// Package engine assembles a running reconciler from settings: the state
// store, the ASIC_DB boundary, the resolver, the driver and every enabled
// domain orchestrator.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/newtorch/pkg/driver"
	"github.com/newtron-network/newtorch/pkg/health"
	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/orch/flexcounter"
	"github.com/newtron-network/newtorch/pkg/orch/intf"
	"github.com/newtron-network/newtorch/pkg/orch/mux"
	"github.com/newtron-network/newtorch/pkg/orch/neigh"
	"github.com/newtron-network/newtorch/pkg/orch/pfcwd"
	"github.com/newtron-network/newtorch/pkg/orch/port"
	"github.com/newtron-network/newtorch/pkg/orch/portchannel"
	"github.com/newtron-network/newtorch/pkg/orch/qosmap"
	"github.com/newtron-network/newtorch/pkg/orch/route"
	"github.com/newtron-network/newtorch/pkg/orch/tunnel"
	"github.com/newtron-network/newtorch/pkg/orch/vlan"
	"github.com/newtron-network/newtorch/pkg/orch/vrf"
	"github.com/newtron-network/newtorch/pkg/record"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/settings"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Option customizes an Engine.
type Option func(*options)

type options struct {
	store    store.Store
	clock    clock.Clock
	registry *prometheus.Registry
}

// WithStore runs the engine on st instead of dialing Redis. The engine
// does not close an injected store.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithClock sets the driver clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// Engine is a fully wired reconciler.
type Engine struct {
	Settings *settings.Settings
	Store    store.Store
	Asic     *sai.AsicDB
	Resolver *resolver.Resolver
	Driver   *driver.Driver
	Health   *health.Checker

	registry  *prometheus.Registry
	recorder  record.Recorder
	orchs     []orch.Orchestrator
	ownsStore bool
	ready     chan struct{}
	log       *logrus.Entry
}

type builder func(r *resolver.Resolver, st store.Store, s *settings.Settings) orch.Orchestrator

func plain[O orch.Orchestrator](newOrch func(*resolver.Resolver, store.Store) O) builder {
	return func(r *resolver.Resolver, st store.Store, _ *settings.Settings) orch.Orchestrator {
		return newOrch(r, st)
	}
}

// builders lists every domain in dependency order.
var builders = []struct {
	name  string
	build builder
}{
	{"port", plain(port.New)},
	{"portchannel", plain(portchannel.New)},
	{"vlan", plain(vlan.New)},
	{"vrf", plain(vrf.New)},
	{"intf", plain(intf.New)},
	{"neigh", plain(neigh.New)},
	{"route", plain(route.New)},
	{"tunnel", func(r *resolver.Resolver, st store.Store, s *settings.Settings) orch.Orchestrator {
		return tunnel.New(r, st, s.Mux.Tunnel)
	}},
	{"mux", plain(mux.New)},
	{"qosmap", plain(qosmap.New)},
	{"pfcwd", plain(pfcwd.New)},
	{"flexcounter", plain(flexcounter.New)},
}

// DomainNames lists every domain the engine knows, in dependency order.
func DomainNames() []string {
	out := make([]string, len(builders))
	for i, b := range builders {
		out[i] = b.name
	}
	return out
}

// New wires an engine. Nothing is programmed until Run.
func New(s *settings.Settings, opts ...Option) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{
		Settings: s,
		ready:    make(chan struct{}),
		log:      util.WithField("component", "engine"),
	}

	if o.store != nil {
		e.Store = o.store
	} else {
		var tc *store.TunnelConfig
		if s.SSH != nil {
			tc = &store.TunnelConfig{
				Host:     s.SSH.Host,
				Port:     s.SSH.Port,
				User:     s.SSH.User,
				Password: s.SSH.Password,
				KeyFile:  s.SSH.KeyFile,
				Remote:   s.Redis.Addr,
			}
		}
		st, err := store.DialRedis(s.Redis.Addr, s.Redis.Password, tc)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", s.Redis.Addr, err)
		}
		e.Store = st
		e.ownsStore = true
	}

	asicOpts := []sai.Option{sai.WithTimeout(s.Boundary.Timeout)}
	if len(s.Boundary.Limits) > 0 {
		limits := make(map[sai.ObjectType]int, len(s.Boundary.Limits))
		for name, n := range s.Boundary.Limits {
			t, err := sai.ParseObjectType(name)
			if err != nil {
				e.Close()
				return nil, fmt.Errorf("boundary.limits: %w", err)
			}
			limits[t] = n
		}
		asicOpts = append(asicOpts, sai.WithLimits(limits))
	}
	if s.Record.Path != "" {
		rec, err := record.NewFileRecorder(s.Record.Path, record.RotationConfig{
			MaxSize:    s.Record.MaxSize,
			MaxBackups: s.Record.MaxBackups,
		})
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("opening record %s: %w", s.Record.Path, err)
		}
		e.recorder = rec
		asicOpts = append(asicOpts, sai.WithRecorder(rec))
	}
	e.Asic = sai.NewAsicDB(e.Store, asicOpts...)
	e.Resolver = resolver.New(e.Asic, s.References.Strict)

	e.registry = o.registry
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	metrics, err := driver.NewMetrics(e.registry)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	for _, c := range []prometheus.Collector{newObjectCollector(e.Asic), newBuildInfo()} {
		if err := e.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				e.Close()
				return nil, fmt.Errorf("registering metrics: %w", err)
			}
		}
	}

	e.Driver = driver.New(e.Store, driver.Config{
		Workers:       s.Driver.Workers,
		RetryInterval: s.Driver.RetryInterval,
		BackoffBase:   s.Driver.BackoffBase,
		BackoffMax:    s.Driver.BackoffMax,
		MaxAttempts:   s.Driver.MaxAttempts,
		Clock:         o.clock,
		Metrics:       metrics,
	})
	e.Resolver.SetNotifier(e.Driver)

	for _, b := range builders {
		if !s.DomainEnabled(b.name) {
			e.log.Infof("Domain %s disabled", b.name)
			continue
		}
		e.orchs = append(e.orchs, b.build(e.Resolver, e.Store, s))
	}
	e.Driver.Add(e.orchs...)
	e.Health = health.NewChecker()
	return e, nil
}

// Orchestrators returns the enabled domain orchestrators.
func (e *Engine) Orchestrators() []orch.Orchestrator {
	return append([]orch.Orchestrator(nil), e.orchs...)
}

// Registry returns the registry the engine's metrics live on.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Ready is closed once bootstrap completed and the driver is running.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Run bootstraps the switch and reconciles until ctx ends. It must be
// called once. A fatal boundary failure stops the engine with an error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	if _, err := e.Resolver.Bootstrap(ctx, e.Settings.Switch.MAC); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	e.log.WithField("mac", e.Settings.Switch.MAC).Info("Switch bootstrapped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Driver.Run(ctx) })
	if e.Settings.Metrics.Listen != "" {
		srv := e.newServer(e.Settings.Metrics.Listen)
		g.Go(func() error { return serve(ctx, srv) })
		e.log.Infof("Serving metrics and health on %s", e.Settings.Metrics.Listen)
	}
	close(e.ready)

	return g.Wait()
}

// WaitIdle blocks until every domain drained its queue.
func (e *Engine) WaitIdle(ctx context.Context) error {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.Driver.WaitIdle(ctx)
}

// Check runs the health checks against the live engine.
func (e *Engine) Check(ctx context.Context) *health.Report {
	return e.Health.Run(ctx, &health.Target{Name: e.Settings.Switch.MAC, Store: e.Store, Driver: e.Driver})
}

// Close releases the store connection and the record file.
func (e *Engine) Close() error {
	var firstErr error
	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			firstErr = err
		}
		e.recorder = nil
	}
	if e.ownsStore && e.Store != nil {
		if err := e.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.ownsStore = false
	}
	return firstErr
}
