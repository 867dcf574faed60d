// Package reftable counts references to shared forwarding objects.
//
// Every entry carries a value (usually a handle), a reference count and
// the set of owners holding references. An entry is created by the first
// Acquire and destroyed when its count returns to zero; the count never
// goes negative.
package reftable

import (
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtorch/pkg/util"
)

type entry[V any] struct {
	value  V
	count  int
	owners map[string]int
}

type keyLock struct {
	mu      sync.Mutex
	waiters int
}

// Table is a reference-counted object table keyed by logical key.
// Operations on one key are serialized; different keys proceed in parallel.
type Table[V any] struct {
	name   string
	strict bool
	log    *logrus.Entry

	mu      sync.Mutex
	entries map[string]*entry[V]
	locks   map[string]*keyLock
}

// New creates a table. A strict table panics on reference invariant
// violations; otherwise they are logged and returned as errors.
func New[V any](name string, strict bool) *Table[V] {
	return &Table[V]{
		name:    name,
		strict:  strict,
		log:     util.WithField("reftable", name),
		entries: make(map[string]*entry[V]),
		locks:   make(map[string]*keyLock),
	}
}

func (t *Table[V]) lock(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{}
		t.locks[key] = l
	}
	l.waiters++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

func (t *Table[V]) get(key string) *entry[V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[key]
}

// Acquire takes a reference on key for owner. When the key is unseen,
// factory creates the value; a factory error leaves the table unchanged.
func (t *Table[V]) Acquire(key, owner string, factory func() (V, error)) (V, error) {
	unlock := t.lock(key)
	defer unlock()

	if e := t.get(key); e != nil {
		t.ref(e, owner)
		return e.value, nil
	}

	v, err := factory()
	if err != nil {
		var zero V
		return zero, err
	}
	t.mu.Lock()
	t.entries[key] = &entry[V]{value: v, count: 1, owners: map[string]int{owner: 1}}
	t.mu.Unlock()
	t.log.WithFields(logrus.Fields{"key": key, "owner": owner}).Debug("Created")
	return v, nil
}

// AcquireExisting references an object some other owner created.
// An unknown key is a missing prerequisite.
func (t *Table[V]) AcquireExisting(key, owner string) (V, error) {
	unlock := t.lock(key)
	defer unlock()

	e := t.get(key)
	if e == nil {
		var zero V
		return zero, util.NewDependencyError(owner, "object", key)
	}
	t.ref(e, owner)
	return e.value, nil
}

// ref and unref change an entry under t.mu so that Count and Owners,
// which do not take key locks, see a consistent entry.
func (t *Table[V]) ref(e *entry[V], owner string) {
	t.mu.Lock()
	e.count++
	e.owners[owner]++
	t.mu.Unlock()
}

func (t *Table[V]) unref(e *entry[V], owner string) {
	t.mu.Lock()
	e.count--
	e.owners[owner]--
	if e.owners[owner] == 0 {
		delete(e.owners, owner)
	}
	t.mu.Unlock()
}

// Release drops one reference held by owner. It returns the value and true
// when the count reached zero and the entry was removed.
func (t *Table[V]) Release(key, owner string) (V, bool, error) {
	var released V
	last := false
	err := t.ReleaseFunc(key, owner, func(v V) error {
		released = v
		last = true
		return nil
	})
	return released, last, err
}

// ReleaseFunc drops one reference held by owner. When it is the last
// reference, destroy runs under the key lock before the entry is removed;
// if destroy fails the reference is kept and the error returned.
func (t *Table[V]) ReleaseFunc(key, owner string, destroy func(V) error) error {
	unlock := t.lock(key)
	defer unlock()

	e := t.get(key)
	if e == nil {
		return t.violation(key, owner, "release of unknown key")
	}
	t.mu.Lock()
	held, last := e.owners[owner], e.count == 1
	t.mu.Unlock()
	if held == 0 {
		return t.violation(key, owner, "release by non-owner")
	}

	if last {
		if destroy != nil {
			if err := destroy(e.value); err != nil {
				return err
			}
		}
		t.mu.Lock()
		delete(t.entries, key)
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{"key": key, "owner": owner}).Debug("Destroyed")
		return nil
	}

	t.unref(e, owner)
	return nil
}

func (t *Table[V]) violation(key, owner, reason string) error {
	err := &util.ReferenceError{Key: key, Owner: owner, Reason: reason}
	if t.strict {
		panic(err)
	}
	t.log.WithFields(logrus.Fields{"key": key, "owner": owner}).Error(err)
	return err
}

// Lookup returns the value for key without taking a reference.
func (t *Table[V]) Lookup(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Count returns the number of references held on key (0 when absent).
func (t *Table[V]) Count(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.count
	}
	return 0
}

// Owners returns a copy of the per-owner reference counts for key.
func (t *Table[V]) Owners(key string) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	out := make(map[string]int, len(e.owners))
	for o, n := range e.owners {
		out[o] = n
	}
	return out
}

// Keys lists the keys with the given prefix, sorted.
func (t *Table[V]) Keys(prefix string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var keys []string
	for k := range t.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Name returns the table name.
func (t *Table[V]) Name() string {
	return t.name
}
