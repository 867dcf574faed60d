package store

import (
	"context"
	"sort"
	"sync"
)

type tableID struct {
	db    DB
	table string
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.Mutex
	tables map[tableID]map[string]map[string]string
	subs   map[tableID]map[*feed]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[tableID]map[string]map[string]string),
		subs:   make(map[tableID]map[*feed]struct{}),
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, db DB, table, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyFields(m.tables[tableID{db, table}][key]), nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, db DB, table, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(db, table, key, fields)
	return nil
}

func (m *Memory) set(db DB, table, key string, fields map[string]string) {
	id := tableID{db, table}
	t := m.tables[id]
	if t == nil {
		t = make(map[string]map[string]string)
		m.tables[id] = t
	}
	entry := t[key]
	if entry == nil {
		entry = make(map[string]string)
		t[key] = entry
	}
	if len(fields) == 0 {
		entry[NullField] = NullField
	}
	for k, v := range fields {
		entry[k] = v
	}
	m.publish(Event{DB: db, Table: table, Key: key, Fields: entry})
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, db DB, table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delete(db, table, key)
	return nil
}

func (m *Memory) delete(db DB, table, key string) {
	id := tableID{db, table}
	if _, ok := m.tables[id][key]; !ok {
		return
	}
	delete(m.tables[id], key)
	m.publish(Event{DB: db, Table: table, Key: key})
}

// DeleteFields implements Store. Removing the last field removes the entry.
func (m *Memory) DeleteFields(_ context.Context, db DB, table, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := tableID{db, table}
	entry, ok := m.tables[id][key]
	if !ok {
		return nil
	}
	changed := false
	for _, f := range fields {
		if _, ok := entry[f]; ok {
			delete(entry, f)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if len(entry) == 0 {
		delete(m.tables[id], key)
		m.publish(Event{DB: db, Table: table, Key: key})
		return nil
	}
	m.publish(Event{DB: db, Table: table, Key: key, Fields: entry})
	return nil
}

// Keys implements Store. The table-level hash (empty key) is not listed.
func (m *Memory) Keys(_ context.Context, db DB, table string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.tables[tableID{db, table}] {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply implements Store.
func (m *Memory) Apply(_ context.Context, db DB, changes []Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range changes {
		if c.Fields == nil {
			m.delete(db, c.Table, c.Key)
		} else {
			m.set(db, c.Table, c.Key, c.Fields)
		}
	}
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, db DB, table string) (<-chan Event, error) {
	id := tableID{db, table}
	f := newFeed()

	m.mu.Lock()
	keys := make([]string, 0, len(m.tables[id]))
	for k := range m.tables[id] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.push(Event{DB: db, Table: table, Key: k, Fields: copyFields(m.tables[id][k])})
	}
	if m.subs[id] == nil {
		m.subs[id] = make(map[*feed]struct{})
	}
	m.subs[id][f] = struct{}{}
	m.mu.Unlock()

	go f.run(ctx, func() {
		m.mu.Lock()
		delete(m.subs[id], f)
		m.mu.Unlock()
	})
	return f.out, nil
}

// publish must be called with m.mu held.
func (m *Memory) publish(e Event) {
	subs := m.subs[tableID{e.DB, e.Table}]
	if len(subs) == 0 {
		return
	}
	e.Fields = copyFields(e.Fields)
	for f := range subs {
		f.push(e)
	}
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Table returns a copy of every entry of a table, keyed by entry key.
func (m *Memory) Table(db DB, table string) map[string]map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]string)
	for k, v := range m.tables[tableID{db, table}] {
		out[k] = copyFields(v)
	}
	return out
}

// Tables lists the non-empty tables of a database.
func (m *Memory) Tables(db DB) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for id, t := range m.tables {
		if id.db == db && len(t) > 0 {
			names = append(names, id.table)
		}
	}
	sort.Strings(names)
	return names
}
