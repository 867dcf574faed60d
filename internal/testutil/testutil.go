//go:build integration || e2e

// Package testutil holds helpers for tests that need a real Redis.
//
// The Redis is found through NEWTORCH_TEST_REDIS_ADDR, or else by asking
// docker for the address of the newtorch-test-redis container:
//
//	docker run -d --name newtorch-test-redis redis:7
package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtorch/pkg/store"
)

const containerName = "newtorch-test-redis"

var (
	addrOnce sync.Once
	addr     string
)

// RedisAddr returns host:port of the test Redis, or "" when none is known.
func RedisAddr() string {
	addrOnce.Do(func() {
		if a := os.Getenv("NEWTORCH_TEST_REDIS_ADDR"); a != "" {
			addr = a
			return
		}
		out, err := exec.Command("docker", "inspect",
			"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
			containerName).Output()
		if ip := strings.TrimSpace(string(out)); err == nil && ip != "" {
			addr = ip + ":6379"
		}
	})
	return addr
}

// SkipIfNoRedis skips t unless the test Redis answers a ping through
// the store layer.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	a := RedisAddr()
	if a == "" {
		t.Skipf("test Redis not available: docker run -d --name %s redis:7", containerName)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := store.NewRedis(a, "")
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", a, err)
	}
}

// SeedPath returns the absolute path of a file under testdata/seed.
func SeedPath(name string) string {
	if dir := os.Getenv("NEWTORCH_SEED_DIR"); dir != "" {
		return filepath.Join(dir, name)
	}
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "testdata", "seed", name)
}

// Context returns a 30s context cancelled on test cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// rawClient is a go-redis client on one database, for the assertions
// that must bypass the store (NULL placeholders, key counts).
func rawClient(t *testing.T, db store.DB) *redis.Client {
	t.Helper()
	a := RedisAddr()
	if a == "" {
		t.Fatal("test Redis not available")
	}
	client := redis.NewClient(&redis.Options{Addr: a, DB: int(db)})
	t.Cleanup(func() { client.Close() })
	return client
}

// KeyCount returns the number of keys in db.
func KeyCount(t *testing.T, db store.DB) int {
	t.Helper()

	n, err := rawClient(t, db).DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("DBSIZE on %s: %v", db, err)
	}
	return int(n)
}
