// Package record keeps a JSON-lines trail of every operation sent across the
// hardware abstraction boundary, in the spirit of sairedis.rec.
package record

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Op is a boundary operation kind.
type Op string

const (
	OpCreate Op = "create"
	OpSet    Op = "set"
	OpRemove Op = "remove"
)

// Event is one recorded boundary operation.
type Event struct {
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Op         Op                `json:"op"`
	ObjectType string            `json:"object_type"`
	ID         string            `json:"id"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// Filter defines criteria for querying recorded events
type Filter struct {
	Op          Op
	ObjectType  string
	ID          string
	StartTime   time.Time
	EndTime     time.Time
	FailureOnly bool
	Limit       int
	Offset      int
}

var seq atomic.Uint64

// NewEvent creates an event stamped with the current time and the next
// sequence number.
func NewEvent(op Op, objectType, id string) *Event {
	return &Event{
		Seq:        seq.Add(1),
		Timestamp:  time.Now(),
		Op:         op,
		ObjectType: objectType,
		ID:         id,
	}
}

// WithAttrs sets the attributes carried by the operation
func (e *Event) WithAttrs(attrs map[string]string) *Event {
	e.Attrs = attrs
	return e
}

// WithError records the failure, if any
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets how long the operation took
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// Success reports whether the operation succeeded.
func (e *Event) Success() bool {
	return e.Error == ""
}

func (e *Event) String() string {
	status := "ok"
	if !e.Success() {
		status = "failed: " + e.Error
	}
	return fmt.Sprintf("#%d %s %s %s %s", e.Seq, e.Op, e.ObjectType, e.ID, status)
}
