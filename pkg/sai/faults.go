package sai

import (
	"context"
	"errors"
	"sync"

	"github.com/newtron-network/newtorch/pkg/util"
)

var errInjected = errors.New("injected fault")

// Faults wraps a boundary and fails the next Create or Remove of chosen
// object types with a transient boundary error. Harnesses use it to drive
// retry and rollback paths.
type Faults struct {
	Boundary

	mu     sync.Mutex
	create map[ObjectType]int
	remove map[ObjectType]int
}

// NewFaults wraps b with no faults armed.
func NewFaults(b Boundary) *Faults {
	return &Faults{
		Boundary: b,
		create:   make(map[ObjectType]int),
		remove:   make(map[ObjectType]int),
	}
}

// FailCreate fails the next n creates of type t.
func (f *Faults) FailCreate(t ObjectType, n int) {
	f.mu.Lock()
	f.create[t] += n
	f.mu.Unlock()
}

// FailRemove fails the next n removes of type t.
func (f *Faults) FailRemove(t ObjectType, n int) {
	f.mu.Lock()
	f.remove[t] += n
	f.mu.Unlock()
}

func (f *Faults) take(m map[ObjectType]int, t ObjectType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m[t] == 0 {
		return false
	}
	m[t]--
	return true
}

// Create implements Boundary.
func (f *Faults) Create(ctx context.Context, t ObjectType, entry Entry, attrs Attrs) (Handle, error) {
	if f.take(f.create, t) {
		return Handle{}, util.NewBoundaryError("create", string(t), errInjected)
	}
	return f.Boundary.Create(ctx, t, entry, attrs)
}

// Remove implements Boundary.
func (f *Faults) Remove(ctx context.Context, h Handle) error {
	if f.take(f.remove, h.Type) {
		return util.NewBoundaryError("remove", string(h.Type), errInjected)
	}
	return f.Boundary.Remove(ctx, h)
}
