//go:build integration

package store_test

import (
	"testing"
	"time"

	"github.com/newtron-network/newtorch/internal/testutil"
	"github.com/newtron-network/newtorch/pkg/store"
)

func TestRedisSeparators(t *testing.T) {
	st := testutil.RedisStore(t)
	ctx := testutil.Context(t)

	testutil.AssertNoError(t, st.Set(ctx, store.ConfigDB, "PORT", "Ethernet0", map[string]string{"mtu": "9100"}), "config set")
	testutil.AssertNoError(t, st.Set(ctx, store.ApplDB, "ROUTE_TABLE", "10.0.0.0/24", map[string]string{"nexthop": "10.0.0.1"}), "appl set")

	if got := testutil.RawEntry(t, store.ConfigDB, "PORT", "Ethernet0"); got["mtu"] != "9100" {
		t.Errorf("CONFIG_DB PORT|Ethernet0 = %v", got)
	}
	if got := testutil.RawEntry(t, store.ApplDB, "ROUTE_TABLE", "10.0.0.0/24"); got["nexthop"] != "10.0.0.1" {
		t.Errorf("APPL_DB ROUTE_TABLE:10.0.0.0/24 = %v", got)
	}
}

func TestRedisMergeAndNull(t *testing.T) {
	st := testutil.RedisStore(t)
	ctx := testutil.Context(t)

	testutil.AssertNoError(t, st.Set(ctx, store.ConfigDB, "PORT", "Ethernet0", map[string]string{"mtu": "9100"}), "set mtu")
	testutil.AssertNoError(t, st.Set(ctx, store.ConfigDB, "PORT", "Ethernet0", map[string]string{"admin_status": "up"}), "set admin")
	testutil.AssertEntry(t, st, store.ConfigDB, "PORT", "Ethernet0", map[string]string{"mtu": "9100", "admin_status": "up"})

	testutil.AssertNoError(t, st.Set(ctx, store.ConfigDB, "INTERFACE", "Ethernet8|fc00::1/126", nil), "set null")
	raw := testutil.RawEntry(t, store.ConfigDB, "INTERFACE", "Ethernet8|fc00::1/126")
	if !store.IsNullEntry(raw) {
		t.Errorf("raw entry = %v, want NULL placeholder", raw)
	}

	testutil.AssertNoError(t, st.DeleteFields(ctx, store.ConfigDB, "PORT", "Ethernet0", "mtu"), "delete field")
	got := testutil.Must(t, st.Get(ctx, store.ConfigDB, "PORT", "Ethernet0"))
	if _, ok := got["mtu"]; ok {
		t.Errorf("mtu survived DeleteFields: %v", got)
	}
}

func TestRedisSubscribe(t *testing.T) {
	st := testutil.RedisStore(t)
	ctx := testutil.Context(t)

	testutil.SeedStore(t, st, store.ConfigDB, testutil.SeedPath("configdb.json"))
	if n := testutil.KeyCount(t, store.ConfigDB); n == 0 {
		t.Fatal("seed wrote no keys")
	}

	events := testutil.Must(t, st.Subscribe(ctx, store.ConfigDB, "MUX_CABLE"))
	select {
	case e := <-events:
		if e.Key != "Ethernet0" || e.Deleted() {
			t.Errorf("snapshot event = %v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot event")
	}

	testutil.AssertNoError(t, st.Delete(ctx, store.ConfigDB, "MUX_CABLE", "Ethernet0"), "delete")
	for {
		select {
		case e := <-events:
			if e.Key == "Ethernet0" && e.Deleted() {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no delete event")
		}
	}
}

func TestWaitForOnRedis(t *testing.T) {
	st := testutil.RedisStore(t)
	ctx := testutil.Context(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		st.Set(ctx, store.StateDB, "PORT_TABLE", "Ethernet0", map[string]string{"state": "ok"})
	}()
	testutil.AssertNoError(t,
		store.WaitFor(ctx, st, store.StateDB, "PORT_TABLE", "Ethernet0", map[string]string{"state": "ok"}),
		"WaitFor")
}
