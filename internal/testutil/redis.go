//go:build integration || e2e

package testutil

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/newtron-network/newtorch/pkg/store"
)

// testDBs are the databases the engine touches; each test starts with
// all of them empty.
var testDBs = []store.DB{
	store.ApplDB, store.AsicDB, store.CountersDB,
	store.ConfigDB, store.FlexCounterDB, store.StateDB,
}

// RedisStore returns a store.Redis on the test container with every
// engine database flushed. Keyspace notifications are enabled so that
// Subscribe sees changes.
func RedisStore(t *testing.T) *store.Redis {
	t.Helper()
	SkipIfNoRedis(t)

	ctx := context.Background()
	admin := rawClient(t, store.ApplDB)
	if err := admin.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		t.Fatalf("enabling keyspace notifications: %v", err)
	}
	for _, db := range testDBs {
		FlushDB(t, db)
	}

	st := store.NewRedis(RedisAddr(), "")
	t.Cleanup(func() { st.Close() })
	return st
}

// FlushDB flushes a specific Redis database.
func FlushDB(t *testing.T, db store.DB) {
	t.Helper()

	if err := rawClient(t, db).FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing %s: %v", db, err)
	}
}

// SeedStore loads a JSON seed file into one database of st.
// The JSON format is: { "TABLE": { "key": { "field": "value", ... }, ... }, ... }
// An entry with no fields is written as a NULL hash.
func SeedStore(t *testing.T, st store.Store, db store.DB, seedFile string) {
	t.Helper()

	data, err := os.ReadFile(seedFile)
	if err != nil {
		t.Fatalf("reading seed file %s: %v", seedFile, err)
	}

	var tables map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &tables); err != nil {
		t.Fatalf("parsing seed file %s: %v", seedFile, err)
	}

	ctx := context.Background()
	for table, entries := range tables {
		changes := make([]store.Change, 0, len(entries))
		for key, fields := range entries {
			changes = append(changes, store.Change{Table: table, Key: key, Fields: fields})
		}
		if err := st.Apply(ctx, db, changes); err != nil {
			t.Fatalf("seeding %s %s: %v", db, table, err)
		}
	}
}

// RawEntry reads a hash straight from Redis, bypassing the store.
func RawEntry(t *testing.T, db store.DB, table, key string) map[string]string {
	t.Helper()

	vals, err := rawClient(t, db).HGetAll(context.Background(), store.RedisKey(db, table, key)).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", store.RedisKey(db, table, key), err)
	}
	return vals
}
