// Package health reports whether the switch state converged.
package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/newtron-network/newtorch/pkg/driver"
	"github.com/newtron-network/newtorch/pkg/orch/mux"
	"github.com/newtron-network/newtorch/pkg/orch/pfcwd"
	"github.com/newtron-network/newtorch/pkg/orch/port"
	"github.com/newtron-network/newtorch/pkg/store"
)

// Status is the outcome of a check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

var severity = map[Status]int{StatusOK: 0, StatusUnknown: 1, StatusWarning: 2, StatusCritical: 3}

// Result is the outcome of one check.
type Result struct {
	Check     string        `json:"check"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Details   interface{}   `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report aggregates the results of every check.
type Report struct {
	Device    string        `json:"device"`
	Timestamp time.Time     `json:"timestamp"`
	Overall   Status        `json:"overall"`
	Results   []Result      `json:"results"`
	Duration  time.Duration `json:"duration"`
}

// Target is what the checks inspect. Driver is nil when checking a switch
// from outside the daemon.
type Target struct {
	Name   string
	Store  store.Store
	Driver *driver.Driver
}

// Check is one health check.
type Check interface {
	Name() string
	Run(ctx context.Context, t *Target) Result
}

// Checker runs a set of checks.
type Checker struct {
	checks []Check
}

// NewChecker returns a checker with the default checks.
func NewChecker() *Checker {
	return &Checker{checks: []Check{
		&StoreCheck{},
		&DriverCheck{},
		&PortCheck{},
		&MuxCheck{},
		&PFCWatchdogCheck{},
	}}
}

// AddCheck registers an additional check.
func (c *Checker) AddCheck(check Check) {
	c.checks = append(c.checks, check)
}

// ListChecks returns the names of the registered checks.
func (c *Checker) ListChecks() []string {
	names := make([]string, len(c.checks))
	for i, check := range c.checks {
		names[i] = check.Name()
	}
	return names
}

// RunCheck executes the named check only.
func (c *Checker) RunCheck(ctx context.Context, t *Target, name string) (*Result, error) {
	for _, check := range c.checks {
		if check.Name() == name {
			start := time.Now()
			r := check.Run(ctx, t)
			r.Check = name
			r.Duration = time.Since(start)
			r.Timestamp = start
			return &r, nil
		}
	}
	return nil, fmt.Errorf("unknown check: %s", name)
}

// Run executes every check. The overall status is the most severe result.
func (c *Checker) Run(ctx context.Context, t *Target) *Report {
	start := time.Now()
	report := &Report{Device: t.Name, Timestamp: start, Overall: StatusOK}
	for _, check := range c.checks {
		checkStart := time.Now()
		r := check.Run(ctx, t)
		r.Check = check.Name()
		r.Duration = time.Since(checkStart)
		r.Timestamp = checkStart
		if severity[r.Status] > severity[report.Overall] {
			report.Overall = r.Status
		}
		report.Results = append(report.Results, r)
	}
	report.Duration = time.Since(start)
	return report
}

// StoreCheck verifies the databases are reachable.
type StoreCheck struct{}

func (c *StoreCheck) Name() string { return "store" }

func (c *StoreCheck) Run(ctx context.Context, t *Target) Result {
	if err := t.Store.Ping(ctx); err != nil {
		return Result{Status: StatusCritical, Message: fmt.Sprintf("store unreachable: %v", err)}
	}
	return Result{Status: StatusOK, Message: "store reachable"}
}

// DriverCheck reports keys waiting on prerequisites.
type DriverCheck struct{}

func (c *DriverCheck) Name() string { return "driver" }

func (c *DriverCheck) Run(ctx context.Context, t *Target) Result {
	if t.Driver == nil {
		return Result{Status: StatusUnknown, Message: "driver not running in this process"}
	}
	deferred := make(map[string]int)
	total, queued := 0, 0
	for name, s := range t.Driver.Stats() {
		if n := len(s.Deferred); n > 0 {
			deferred[name] = n
			total += n
		}
		queued += s.Queued + s.InFlight
	}
	if total > 0 {
		return Result{
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d keys deferred, %d tasks queued", total, queued),
			Details: deferred,
		}
	}
	return Result{Status: StatusOK, Message: fmt.Sprintf("no deferred keys, %d tasks queued", queued), Details: deferred}
}

// PortCheck verifies every configured port was created.
type PortCheck struct{}

func (c *PortCheck) Name() string { return "ports" }

func (c *PortCheck) Run(ctx context.Context, t *Target) Result {
	ports, err := t.Store.Keys(ctx, store.ConfigDB, port.ConfigTable)
	if err != nil {
		return Result{Status: StatusUnknown, Message: err.Error()}
	}
	var missing []string
	for _, p := range ports {
		st, err := t.Store.Get(ctx, store.StateDB, port.StateTable, p)
		if err != nil {
			return Result{Status: StatusUnknown, Message: err.Error()}
		}
		if st["state"] != "ok" {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	details := map[string]int{"total": len(ports), "ready": len(ports) - len(missing)}
	if len(missing) > 0 {
		return Result{Status: StatusWarning, Message: fmt.Sprintf("ports not ready: %v", missing), Details: details}
	}
	return Result{Status: StatusOK, Message: fmt.Sprintf("%d ports ready", len(ports)), Details: details}
}

// MuxCheck reports cables whose state was not published.
type MuxCheck struct{}

func (c *MuxCheck) Name() string { return "mux" }

func (c *MuxCheck) Run(ctx context.Context, t *Target) Result {
	cables, err := t.Store.Keys(ctx, store.ConfigDB, mux.CableTable)
	if err != nil {
		return Result{Status: StatusUnknown, Message: err.Error()}
	}
	details := map[string]int{"cables": len(cables)}
	for _, p := range cables {
		st, err := t.Store.Get(ctx, store.StateDB, mux.StateTable, p)
		if err != nil {
			return Result{Status: StatusUnknown, Message: err.Error()}
		}
		details[st["state"]]++
	}
	delete(details, "")
	if n := len(cables) - details["active"] - details["standby"]; n > 0 {
		return Result{Status: StatusWarning, Message: fmt.Sprintf("%d cables without state", n), Details: details}
	}
	return Result{Status: StatusOK, Message: fmt.Sprintf("%d cables", len(cables)), Details: details}
}

// PFCWatchdogCheck reports ports with stormed queues.
type PFCWatchdogCheck struct{}

func (c *PFCWatchdogCheck) Name() string { return "pfcwd" }

func (c *PFCWatchdogCheck) Run(ctx context.Context, t *Target) Result {
	ports, err := t.Store.Keys(ctx, store.ApplDB, pfcwd.InStormTable)
	if err != nil {
		return Result{Status: StatusUnknown, Message: err.Error()}
	}
	if len(ports) > 0 {
		sort.Strings(ports)
		return Result{Status: StatusWarning, Message: fmt.Sprintf("PFC storm on %v", ports), Details: map[string]int{"stormed_ports": len(ports)}}
	}
	return Result{Status: StatusOK, Message: "no PFC storm"}
}
