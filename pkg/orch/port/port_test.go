package port

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/orch/orchtest"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

func newHarness(t *testing.T) (*orchtest.Harness, *Orch) {
	h := orchtest.New(t)
	o := New(h.R, h.Store)
	h.Add(o)
	return h, o
}

func TestPortCreate(t *testing.T) {
	h, o := newHarness(t)
	if err := h.Set(store.ConfigDB, ConfigTable, "Ethernet0", map[string]string{
		"lanes": "1,2,3,4", "speed": "100000", "mtu": "9100", "admin_status": "up",
	}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	want := sai.Attrs{
		sai.PortAttrLanes:      "4:1,2,3,4",
		sai.PortAttrSpeed:      "100000",
		sai.PortAttrMTU:        "9122",
		sai.PortAttrAdminState: "true",
	}
	if diff := cmp.Diff(want, h.Attrs(resolver.PortKey("Ethernet0"))); diff != "" {
		t.Errorf("port attrs mismatch (-want +got):\n%s", diff)
	}
	// CPU port from bootstrap plus Ethernet0.
	if got := len(h.Objects(sai.TypePort)); got != 2 {
		t.Errorf("ports = %d, want 2", got)
	}
	if got := len(h.Objects(sai.TypeQueue)); got != QueuesPerPort {
		t.Errorf("queues = %d, want %d", got, QueuesPerPort)
	}
	q3 := h.Attrs(resolver.QueueKey("Ethernet0", 3))
	if q3[sai.QueueAttrIndex] != "3" || q3[sai.QueueAttrType] != sai.QueueTypeUnicast {
		t.Errorf("queue 3 attrs = %v", q3)
	}

	if got := h.Get(store.StateDB, StateTable, "Ethernet0"); got["state"] != "ok" {
		t.Errorf("STATE PORT_TABLE = %v", got)
	}
	appl := h.Get(store.ApplDB, ApplTable, "Ethernet0")
	if appl["admin_status"] != "up" || appl["mtu"] != "9100" {
		t.Errorf("APPL PORT_TABLE = %v", appl)
	}
	ph, _ := h.R.Handle(resolver.PortKey("Ethernet0"))
	if got := h.Get(store.CountersDB, CountersPortNameMap, ""); got["Ethernet0"] != ph.ID {
		t.Errorf("COUNTERS_PORT_NAME_MAP = %v, want Ethernet0=%s", got, ph.ID)
	}
	queues := o.Queues("Ethernet0")
	if got := h.Get(store.CountersDB, CountersQueueNameMap, ""); got["Ethernet0:7"] != queues[7] {
		t.Errorf("COUNTERS_QUEUE_NAME_MAP = %v", got)
	}

	link, ok := h.R.Link("Ethernet0")
	if !ok || !link.Ready || !link.AdminUp || link.MTU != 9100 {
		t.Errorf("Link() = %+v, %v", link, ok)
	}
}

func TestPortUpdate(t *testing.T) {
	h, _ := newHarness(t)
	h.AddPorts("Ethernet0")

	if err := h.Set(store.ConfigDB, ConfigTable, "Ethernet0", map[string]string{"mtu": "1500", "admin_status": "down"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	attrs := h.Attrs(resolver.PortKey("Ethernet0"))
	if attrs[sai.PortAttrMTU] != "1522" || attrs[sai.PortAttrAdminState] != "false" {
		t.Errorf("port attrs = %v", attrs)
	}
	if got := len(h.Objects(sai.TypeQueue)); got != QueuesPerPort {
		t.Errorf("queues = %d after update, want %d", got, QueuesPerPort)
	}
	if link, _ := h.R.Link("Ethernet0"); link.MTU != 1500 || link.AdminUp {
		t.Errorf("Link() = %+v", link)
	}
}

func TestPortLagMemberKeepsMTU(t *testing.T) {
	h, _ := newHarness(t)
	h.AddPorts("Ethernet0")

	h.R.UpdateLink("Ethernet0", func(l *resolver.LinkInfo) { l.Lag = "PortChannel1" })
	if err := h.R.SetAttr(h.Ctx(), resolver.PortKey("Ethernet0"), sai.PortAttrMTU, "1522"); err != nil {
		t.Fatalf("SetAttr() error = %v", err)
	}
	if err := h.Set(store.ConfigDB, ConfigTable, "Ethernet0", map[string]string{"mtu": "9000"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := h.Attrs(resolver.PortKey("Ethernet0"))[sai.PortAttrMTU]; got != "1522" {
		t.Errorf("member MTU = %s, want the LAG's 1522", got)
	}

	// Leaving the LAG restores the port's own MTU.
	h.R.UpdateLink("Ethernet0", func(l *resolver.LinkInfo) { l.Lag = "" })
	h.Drain()
	if got := h.Attrs(resolver.PortKey("Ethernet0"))[sai.PortAttrMTU]; got != "9022" {
		t.Errorf("MTU after leaving LAG = %s, want 9022", got)
	}
}

func TestPortDelete(t *testing.T) {
	h, o := newHarness(t)
	h.AddPorts("Ethernet0", "Ethernet4")

	if err := h.Del(store.ConfigDB, ConfigTable, "Ethernet0"); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	if h.R.Exists(resolver.PortKey("Ethernet0")) {
		t.Error("port:Ethernet0 still exists")
	}
	if got := len(h.Objects(sai.TypeQueue)); got != QueuesPerPort {
		t.Errorf("queues = %d, want %d", got, QueuesPerPort)
	}
	if got := h.Get(store.StateDB, StateTable, "Ethernet0"); got != nil {
		t.Errorf("STATE PORT_TABLE = %v, want removed", got)
	}
	if got := h.Get(store.CountersDB, CountersPortNameMap, ""); got["Ethernet0"] != "" || got["Ethernet4"] == "" {
		t.Errorf("COUNTERS_PORT_NAME_MAP = %v", got)
	}
	if _, ok := h.R.Link("Ethernet0"); ok {
		t.Error("link Ethernet0 still published")
	}
	if o.Queues("Ethernet0") != nil {
		t.Error("queues still tracked")
	}
}

func TestPortCreateRetriesAfterFailedRollback(t *testing.T) {
	h, o := newHarness(t)
	h.Faults.FailCreate(sai.TypeQueue, 1)
	h.Faults.FailRemove(sai.TypePort, 1)
	err := h.Set(store.ConfigDB, ConfigTable, "Ethernet0", map[string]string{"lanes": "1,2,3,4", "speed": "100000"})
	if !errors.Is(err, util.ErrBoundaryFailure) {
		t.Fatalf("Set() error = %v, want boundary failure", err)
	}
	if !h.R.Exists(resolver.PortKey("Ethernet0")) || len(h.Objects(sai.TypeQueue)) != 0 {
		t.Fatal("want the port without queues after the failed create")
	}

	h.Requeue("port", orch.TaskID(ConfigTable, "Ethernet0"))
	h.Drain()
	if len(h.Errors) > 0 {
		t.Fatalf("errors while draining: %v", h.Errors)
	}
	if got := len(o.Queues("Ethernet0")); got != QueuesPerPort {
		t.Errorf("queues = %d after retry, want %d", got, QueuesPerPort)
	}

	if err := h.Del(store.ConfigDB, ConfigTable, "Ethernet0"); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	if h.R.Exists(resolver.PortKey("Ethernet0")) || len(h.Objects(sai.TypeQueue)) != 0 {
		t.Error("port objects survive delete")
	}
}

func TestPortDeleteWaitsForUsers(t *testing.T) {
	h, _ := newHarness(t)
	h.AddPorts("Ethernet0")

	user := resolver.NewBinding("test/user")
	if _, err := h.R.Resolve(h.Ctx(), user, resolver.Ref(resolver.PortKey("Ethernet0"))); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	err := h.Del(store.ConfigDB, ConfigTable, "Ethernet0")
	if !errors.Is(err, util.ErrInUse) {
		t.Fatalf("Del() error = %v, want in use", err)
	}
	if !h.R.Exists(resolver.PortKey("Ethernet0")) {
		t.Fatal("port removed while in use")
	}

	// The release wakes the pending removal.
	if err := h.R.Release(h.Ctx(), user); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	h.Drain()
	if h.R.Exists(resolver.PortKey("Ethernet0")) {
		t.Error("port not removed after its last user released it")
	}
}

func TestPortInvalid(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		fields map[string]string
	}{
		{"bad mtu", "Ethernet0", map[string]string{"mtu": "jumbo"}},
		{"mtu too large", "Ethernet0", map[string]string{"mtu": "20000"}},
		{"bad lane", "Ethernet0", map[string]string{"lanes": "1,x"}},
		{"bad admin", "Ethernet0", map[string]string{"admin_status": "sideways"}},
		{"not a port", "Vlan100", map[string]string{"mtu": "9100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHarness(t)
			err := h.Set(store.ConfigDB, ConfigTable, tt.key, tt.fields)
			if !errors.Is(err, util.ErrInvalidIntent) {
				t.Fatalf("Set() error = %v, want invalid intent", err)
			}
			if got := len(h.Objects(sai.TypePort)); got != 1 {
				t.Errorf("ports = %d, want only the CPU port", got)
			}
		})
	}
}
