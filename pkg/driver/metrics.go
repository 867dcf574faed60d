package driver

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Task results as reported by the tasks counter.
const (
	ResultOK       = "ok"
	ResultDeferred = "deferred"
	ResultRetry    = "retry"
	ResultDropped  = "dropped"
	ResultInvalid  = "invalid"
	ResultFatal    = "fatal"
)

// Metrics bundles the driver's Prometheus collectors.
type Metrics struct {
	Tasks         *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec
	DeferredKeys  *prometheus.GaugeVec
	ApplyDuration *prometheus.HistogramVec
}

// NewMetrics registers the driver metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice returns the
// already registered collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tasks, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newtorch_tasks_total",
		Help: "Tasks applied, labeled by domain and result.",
	}, []string{"domain", "result"}))
	if err != nil {
		return nil, err
	}
	depth, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "newtorch_queue_depth",
		Help: "Tasks waiting in a domain queue.",
	}, []string{"domain"}))
	if err != nil {
		return nil, err
	}
	deferred, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "newtorch_deferred_keys",
		Help: "Keys waiting for a prerequisite.",
	}, []string{"domain"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newtorch_apply_duration_seconds",
		Help:    "Time spent applying one task.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}, []string{"domain"}))
	if err != nil {
		return nil, err
	}
	return &Metrics{Tasks: tasks, QueueDepth: depth, DeferredKeys: deferred, ApplyDuration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return c, err
	}
	return c, nil
}
