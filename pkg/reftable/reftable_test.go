package reftable

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtorch/pkg/util"
)

func counter() (func() (string, error), *int) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("oid:0x%d", n), nil
	}, &n
}

func TestAcquireRelease(t *testing.T) {
	tbl := New[string]("test", true)
	factory, created := counter()

	v1, err := tbl.Acquire("rif:Ethernet8", "intf", factory)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := tbl.Acquire("rif:Ethernet8", "route", factory)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 || *created != 1 {
		t.Errorf("second acquire must reuse the object: %s %s created=%d", v1, v2, *created)
	}
	if tbl.Count("rif:Ethernet8") != 2 {
		t.Errorf("Count() = %d", tbl.Count("rif:Ethernet8"))
	}
	if diff := cmp.Diff(map[string]int{"intf": 1, "route": 1}, tbl.Owners("rif:Ethernet8")); diff != "" {
		t.Errorf("Owners() mismatch (-want +got):\n%s", diff)
	}

	if _, last, err := tbl.Release("rif:Ethernet8", "route"); last || err != nil {
		t.Errorf("first release: last=%v err=%v", last, err)
	}
	v, last, err := tbl.Release("rif:Ethernet8", "intf")
	if !last || err != nil || v != v1 {
		t.Errorf("final release = %s, %v, %v", v, last, err)
	}
	if _, ok := tbl.Lookup("rif:Ethernet8"); ok {
		t.Error("entry should be gone after the last release")
	}
	if tbl.Count("rif:Ethernet8") != 0 {
		t.Error("count of a removed entry is zero")
	}
}

func TestFactoryErrorLeavesTableUnchanged(t *testing.T) {
	tbl := New[string]("test", true)
	boom := errors.New("boom")
	_, err := tbl.Acquire("nh:Ethernet0:10.0.0.1", "route", func() (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Acquire() = %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d after failed factory", tbl.Len())
	}
}

func TestAcquireExisting(t *testing.T) {
	tbl := New[string]("test", true)

	_, err := tbl.AcquireExisting("port:Ethernet0", "intf")
	if !errors.Is(err, util.ErrMissingPrerequisite) {
		t.Fatalf("AcquireExisting of unknown key = %v", err)
	}

	factory, _ := counter()
	tbl.Acquire("port:Ethernet0", "port", factory)
	if _, err := tbl.AcquireExisting("port:Ethernet0", "intf"); err != nil {
		t.Fatal(err)
	}
	if tbl.Count("port:Ethernet0") != 2 {
		t.Errorf("Count() = %d", tbl.Count("port:Ethernet0"))
	}
}

func TestReleaseFuncKeepsReferenceOnFailure(t *testing.T) {
	tbl := New[string]("test", true)
	factory, _ := counter()
	tbl.Acquire("nhg:10.0.0.0/24", "route", factory)

	boom := errors.New("still referenced by hardware")
	if err := tbl.ReleaseFunc("nhg:10.0.0.0/24", "route", func(string) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("ReleaseFunc() = %v", err)
	}
	if tbl.Count("nhg:10.0.0.0/24") != 1 {
		t.Fatalf("failed destroy must keep the reference, count=%d", tbl.Count("nhg:10.0.0.0/24"))
	}

	destroyed := ""
	if err := tbl.ReleaseFunc("nhg:10.0.0.0/24", "route", func(v string) error { destroyed = v; return nil }); err != nil {
		t.Fatal(err)
	}
	if destroyed == "" || tbl.Len() != 0 {
		t.Errorf("destroy not called or entry kept: %q len=%d", destroyed, tbl.Len())
	}
}

func TestDestroyOnlyOnLastReference(t *testing.T) {
	tbl := New[string]("test", true)
	factory, _ := counter()
	tbl.Acquire("tunnel-nh:MuxTunnel0:10.1.0.33", "neigh", factory)
	tbl.Acquire("tunnel-nh:MuxTunnel0:10.1.0.33", "route", factory)

	calls := 0
	destroy := func(string) error { calls++; return nil }
	tbl.ReleaseFunc("tunnel-nh:MuxTunnel0:10.1.0.33", "neigh", destroy)
	if calls != 0 {
		t.Error("destroy ran while references remained")
	}
	tbl.ReleaseFunc("tunnel-nh:MuxTunnel0:10.1.0.33", "route", destroy)
	if calls != 1 {
		t.Errorf("destroy calls = %d, want 1", calls)
	}
}

func TestViolations(t *testing.T) {
	t.Run("lenient unknown key", func(t *testing.T) {
		tbl := New[string]("test", false)
		_, _, err := tbl.Release("rif:Ethernet8", "intf")
		if !errors.Is(err, util.ErrReferenceInvariant) {
			t.Errorf("Release() = %v", err)
		}
	})

	t.Run("lenient non-owner", func(t *testing.T) {
		tbl := New[string]("test", false)
		factory, _ := counter()
		tbl.Acquire("rif:Ethernet8", "intf", factory)
		_, _, err := tbl.Release("rif:Ethernet8", "route")
		if !errors.Is(err, util.ErrReferenceInvariant) {
			t.Errorf("Release() = %v", err)
		}
		if tbl.Count("rif:Ethernet8") != 1 {
			t.Error("violation must not change the count")
		}
	})

	t.Run("strict double free panics", func(t *testing.T) {
		tbl := New[string]("test", true)
		factory, _ := counter()
		tbl.Acquire("rif:Ethernet8", "intf", factory)
		tbl.Release("rif:Ethernet8", "intf")

		defer func() {
			r := recover()
			err, ok := r.(error)
			if !ok || !errors.Is(err, util.ErrReferenceInvariant) {
				t.Errorf("expected reference panic, got %v", r)
			}
		}()
		tbl.Release("rif:Ethernet8", "intf")
	})
}

func TestKeys(t *testing.T) {
	tbl := New[string]("test", true)
	factory, _ := counter()
	for _, k := range []string{"nh:Vlan1000:192.168.0.2", "rif:Vlan1000", "nh:Vlan1000:192.168.0.3"} {
		tbl.Acquire(k, "o", factory)
	}
	want := []string{"nh:Vlan1000:192.168.0.2", "nh:Vlan1000:192.168.0.3"}
	if diff := cmp.Diff(want, tbl.Keys("nh:")); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	tbl := New[int]("test", true)
	var mu sync.Mutex
	creates, destroys := 0, 0
	factory := func() (int, error) {
		mu.Lock()
		defer mu.Unlock()
		creates++
		return creates, nil
	}
	destroy := func(int) error {
		mu.Lock()
		defer mu.Unlock()
		destroys++
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("owner%d", i)
			for j := 0; j < 100; j++ {
				if _, err := tbl.Acquire("shared", owner, factory); err != nil {
					t.Error(err)
					return
				}
				if err := tbl.ReleaseFunc("shared", owner, destroy); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if tbl.Count("shared") != 0 {
		t.Errorf("Count() = %d after balanced acquire/release", tbl.Count("shared"))
	}
	if creates != destroys {
		t.Errorf("creates=%d destroys=%d", creates, destroys)
	}
}

func TestConcurrentReadersSeeConsistentOwners(t *testing.T) {
	tbl := New[string]("rif", true)
	if _, err := tbl.Acquire("rif:Ethernet0", "intf/INTERFACE|Ethernet0", func() (string, error) { return "oid:0x6000000000001", nil }); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func(i int) {
			defer writers.Done()
			for j := 0; j < 200; j++ {
				owner := fmt.Sprintf("neigh/Ethernet0:10.0.0.%d", (i*200+j)%7)
				if _, err := tbl.AcquireExisting("rif:Ethernet0", owner); err != nil {
					t.Error(err)
					return
				}
				if _, _, err := tbl.Release("rif:Ethernet0", owner); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			owners := tbl.Owners("rif:Ethernet0")
			if owners["intf/INTERFACE|Ethernet0"] != 1 {
				t.Errorf("creator reference lost: %v", owners)
				return
			}
			total := 0
			for _, n := range owners {
				total += n
			}
			if total < 1 || tbl.Count("rif:Ethernet0") < 1 {
				t.Errorf("owners %v sum to %d", owners, total)
				return
			}
		}
	}()

	writers.Wait()
	close(stop)
	readers.Wait()

	if diff := cmp.Diff(map[string]int{"intf/INTERFACE|Ethernet0": 1}, tbl.Owners("rif:Ethernet0")); diff != "" {
		t.Errorf("Owners() mismatch (-want +got):\n%s", diff)
	}
}
