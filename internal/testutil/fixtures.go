//go:build integration || e2e

package testutil

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtorch/pkg/store"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// Must returns val, failing the test if err is not nil.
func Must[T any](t *testing.T, val T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return val
}

// AssertEntry compares a whole entry read through st with want.
func AssertEntry(t *testing.T, st store.Store, db store.DB, table, key string, want map[string]string) {
	t.Helper()
	got, err := st.Get(context.Background(), db, table, key)
	if err != nil {
		t.Fatalf("reading %s: %v", store.RedisKey(db, table, key), err)
	}
	if diff := cmp.Diff(want, map[string]string(got)); diff != "" {
		t.Errorf("%s mismatch (-want +got):\n%s", store.RedisKey(db, table, key), diff)
	}
}
