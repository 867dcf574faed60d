package sai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtorch/pkg/record"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// AsicStateTable is the ASIC_DB table holding programmed objects.
const AsicStateTable = "ASIC_STATE"

// DefaultTimeout bounds each boundary call.
const DefaultTimeout = 5 * time.Second

// Boundary is the hardware abstraction boundary. Calls are synchronous:
// a nil error means the object is programmed.
type Boundary interface {
	Create(ctx context.Context, t ObjectType, entry Entry, attrs Attrs) (Handle, error)
	Set(ctx context.Context, h Handle, attr, value string) error
	// Remove deletes the object. Removing an absent object is not an error.
	Remove(ctx context.Context, h Handle) error
	Get(ctx context.Context, h Handle) (Attrs, error)
}

// AsicDB programs objects by writing ASIC_STATE hashes to ASIC_DB.
type AsicDB struct {
	store    store.Store
	timeout  time.Duration
	limits   map[ObjectType]int
	recorder record.Recorder

	mu       sync.Mutex
	counters map[ObjectType]uint64
	counts   map[ObjectType]int
}

// Option configures an AsicDB boundary.
type Option func(*AsicDB)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *AsicDB) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLimits caps the number of live objects per type. Creating beyond a
// cap fails with an exhausted boundary error.
func WithLimits(limits map[ObjectType]int) Option {
	return func(a *AsicDB) {
		for t, n := range limits {
			a.limits[t] = n
		}
	}
}

// WithRecorder records every operation.
func WithRecorder(r record.Recorder) Option {
	return func(a *AsicDB) { a.recorder = r }
}

// NewAsicDB creates the ASIC_DB boundary over s.
func NewAsicDB(s store.Store, opts ...Option) *AsicDB {
	a := &AsicDB{
		store:    s,
		timeout:  DefaultTimeout,
		limits:   make(map[ObjectType]int),
		counters: make(map[ObjectType]uint64),
		counts:   make(map[ObjectType]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func asicKey(h Handle) string {
	return string(h.Type) + ":" + h.ID
}

// Create implements Boundary.
func (a *AsicDB) Create(ctx context.Context, t ObjectType, entry Entry, attrs Attrs) (Handle, error) {
	if _, ok := typeIDs[t]; !ok {
		return Handle{}, &util.BoundaryError{Op: "create", Object: string(t), Err: fmt.Errorf("unknown object type")}
	}
	if t.IsEntry() != (entry != nil) {
		return Handle{}, &util.BoundaryError{Op: "create", Object: string(t), Err: fmt.Errorf("entry key mismatch for type")}
	}

	a.mu.Lock()
	if limit, ok := a.limits[t]; ok && a.counts[t] >= limit {
		a.mu.Unlock()
		err := &util.BoundaryError{Op: "create", Object: string(t), Exhausted: true,
			Err: fmt.Errorf("table full (%d objects)", limit)}
		a.record(record.NewEvent(record.OpCreate, string(t), "").WithAttrs(attrs).WithError(err))
		return Handle{}, err
	}
	var h Handle
	if t.IsEntry() {
		h = Handle{Type: t, ID: entry.Key()}
	} else {
		a.counters[t]++
		h = Handle{Type: t, ID: formatOID(t, a.counters[t])}
	}
	a.counts[t]++
	a.mu.Unlock()

	start := time.Now()
	err := a.write(ctx, "create", h, func(ctx context.Context) error {
		if t.IsEntry() {
			existing, err := a.store.Get(ctx, store.AsicDB, AsicStateTable, asicKey(h))
			if err != nil {
				return err
			}
			if existing != nil {
				return errExists
			}
		}
		return a.store.Set(ctx, store.AsicDB, AsicStateTable, asicKey(h), attrs)
	})
	a.record(record.NewEvent(record.OpCreate, string(t), h.ID).WithAttrs(attrs).WithError(err).WithDuration(time.Since(start)))
	if err != nil {
		a.mu.Lock()
		a.counts[t]--
		a.mu.Unlock()
		return Handle{}, err
	}
	util.WithObject(string(t), h.ID).Debug("Created")
	return h, nil
}

var errExists = errors.New("object already exists")

// Set implements Boundary.
func (a *AsicDB) Set(ctx context.Context, h Handle, attr, value string) error {
	start := time.Now()
	err := a.write(ctx, "set", h, func(ctx context.Context) error {
		existing, err := a.store.Get(ctx, store.AsicDB, AsicStateTable, asicKey(h))
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", util.ErrNotFound, h)
		}
		return a.store.Set(ctx, store.AsicDB, AsicStateTable, asicKey(h), map[string]string{attr: value})
	})
	a.record(record.NewEvent(record.OpSet, string(h.Type), h.ID).
		WithAttrs(map[string]string{attr: value}).WithError(err).WithDuration(time.Since(start)))
	return err
}

// Remove implements Boundary.
func (a *AsicDB) Remove(ctx context.Context, h Handle) error {
	start := time.Now()
	existed := false
	err := a.write(ctx, "remove", h, func(ctx context.Context) error {
		existing, err := a.store.Get(ctx, store.AsicDB, AsicStateTable, asicKey(h))
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		existed = true
		return a.store.Delete(ctx, store.AsicDB, AsicStateTable, asicKey(h))
	})
	a.record(record.NewEvent(record.OpRemove, string(h.Type), h.ID).WithError(err).WithDuration(time.Since(start)))
	if err == nil && existed {
		a.mu.Lock()
		a.counts[h.Type]--
		a.mu.Unlock()
		util.WithObject(string(h.Type), h.ID).Debug("Removed")
	}
	return err
}

// Get implements Boundary.
func (a *AsicDB) Get(ctx context.Context, h Handle) (Attrs, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	fields, err := a.store.Get(ctx, store.AsicDB, AsicStateTable, asicKey(h))
	if err != nil {
		return nil, util.NewBoundaryError("get", h.String(), err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: %s", util.ErrNotFound, h)
	}
	return Attrs(store.Fields(fields)), nil
}

// write runs op under the call timeout and classifies failures. Store
// errors are transient; programming errors (unknown object, duplicate
// entry) are permanent.
func (a *AsicDB) write(ctx context.Context, opName string, h Handle, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	err := op(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errExists), errors.Is(err, util.ErrNotFound):
		return &util.BoundaryError{Op: opName, Object: h.String(), Err: err}
	default:
		return util.NewBoundaryError(opName, h.String(), err)
	}
}

func (a *AsicDB) record(e *record.Event) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.Record(e); err != nil {
		util.Warnf("Recording %s failed: %v", e, err)
	}
}

// Count returns the number of live objects of type t created through this
// boundary.
func (a *AsicDB) Count(t ObjectType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[t]
}

// Object is a programmed object as read back from ASIC_DB.
type Object struct {
	Handle Handle
	Attrs  Attrs
}

// Objects lists every programmed object of type t, sorted by ID.
func Objects(ctx context.Context, s store.Store, t ObjectType) ([]Object, error) {
	keys, err := s.Keys(ctx, store.AsicDB, AsicStateTable)
	if err != nil {
		return nil, err
	}
	prefix := string(t) + ":"
	var out []Object
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		fields, err := s.Get(ctx, store.AsicDB, AsicStateTable, k)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			continue
		}
		out = append(out, Object{
			Handle: Handle{Type: t, ID: strings.TrimPrefix(k, prefix)},
			Attrs:  Attrs(store.Fields(fields)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle.ID < out[j].Handle.ID })
	return out, nil
}
