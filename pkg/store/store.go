// Package store is the state store adapter: keyed hashes grouped into
// SONiC databases and tables, with change subscription.
//
// Two implementations are provided. Redis talks to the switch databases
// through go-redis and keyspace notifications; Memory keeps everything in
// process and is used by tests and dry runs.
package store

import (
	"context"
	"fmt"
	"strings"
)

// DB identifies a SONiC Redis database.
type DB int

// SONiC database numbers
const (
	ApplDB        DB = 0
	AsicDB        DB = 1
	CountersDB    DB = 2
	ConfigDB      DB = 4
	FlexCounterDB DB = 5
	StateDB       DB = 6
)

// NullField is written when an entry has no fields so that the hash exists.
const NullField = "NULL"

var dbNames = map[DB]string{
	ApplDB:        "APPL_DB",
	AsicDB:        "ASIC_DB",
	CountersDB:    "COUNTERS_DB",
	ConfigDB:      "CONFIG_DB",
	FlexCounterDB: "FLEX_COUNTER_DB",
	StateDB:       "STATE_DB",
}

func (d DB) String() string {
	if n, ok := dbNames[d]; ok {
		return n
	}
	return fmt.Sprintf("DB%d", int(d))
}

// Separator returns the table/key separator used by the database.
// CONFIG_DB and STATE_DB use "|", the others ":".
func (d DB) Separator() string {
	if d == ConfigDB || d == StateDB {
		return "|"
	}
	return ":"
}

// ParseDB accepts a database name ("CONFIG_DB", "config") or number.
func ParseDB(name string) (DB, error) {
	upper := strings.ToUpper(name)
	for db, n := range dbNames {
		if upper == n || upper+"_DB" == n || name == fmt.Sprint(int(db)) {
			return db, nil
		}
	}
	if upper == "APP_DB" || upper == "APP" {
		return ApplDB, nil
	}
	return 0, fmt.Errorf("unknown database %q", name)
}

// RedisKey joins a table and key with the database separator.
// An empty key addresses a table-level hash (COUNTERS_PORT_NAME_MAP).
func RedisKey(db DB, table, key string) string {
	if key == "" {
		return table
	}
	return table + db.Separator() + key
}

// SplitRedisKey is the inverse of RedisKey for keys of a known table.
func SplitRedisKey(db DB, redisKey string) (table, key string) {
	sep := db.Separator()
	i := strings.Index(redisKey, sep)
	if i < 0 {
		return redisKey, ""
	}
	return redisKey[:i], redisKey[i+len(sep):]
}

// Event is a change notification for one entry.
// Fields holds the full entry after the change; nil marks a deletion.
type Event struct {
	DB     DB
	Table  string
	Key    string
	Fields map[string]string
}

// Deleted reports whether the event is a tombstone.
func (e Event) Deleted() bool {
	return e.Fields == nil
}

func (e Event) String() string {
	op := "SET"
	if e.Deleted() {
		op = "DEL"
	}
	return fmt.Sprintf("%s %s %s", op, e.DB, RedisKey(e.DB, e.Table, e.Key))
}

// Change is one entry of a batch write. Nil Fields deletes the entry.
type Change struct {
	Table  string
	Key    string
	Fields map[string]string
}

// Store is the persistent table store.
type Store interface {
	// Get returns the entry's fields, or nil (and no error) when absent.
	Get(ctx context.Context, db DB, table, key string) (map[string]string, error)
	// Set merges fields into the entry. Empty fields write the NULL sentinel.
	Set(ctx context.Context, db DB, table, key string, fields map[string]string) error
	// Delete removes the entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, db DB, table, key string) error
	// DeleteFields removes individual fields of an entry.
	DeleteFields(ctx context.Context, db DB, table, key string, fields ...string) error
	// Keys lists the entry keys of a table (without the table prefix).
	Keys(ctx context.Context, db DB, table string) ([]string, error)
	// Apply writes a batch of changes atomically.
	Apply(ctx context.Context, db DB, changes []Change) error
	// Subscribe delivers a snapshot of every existing entry of the table as
	// set events, followed by live changes. The channel closes when ctx ends.
	Subscribe(ctx context.Context, db DB, table string) (<-chan Event, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// IsNullEntry reports whether fields only hold the NULL sentinel.
func IsNullEntry(fields map[string]string) bool {
	if len(fields) != 1 {
		return false
	}
	_, ok := fields[NullField]
	return ok
}

// Fields returns a copy of fields with the NULL sentinel removed.
func Fields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == NullField {
			continue
		}
		out[k] = v
	}
	return out
}

func copyFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
