package mux

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtorch/pkg/orch/orchtest"
	"github.com/newtron-network/newtorch/pkg/orch/port"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

func newHarness(t *testing.T) *orchtest.Harness {
	h := orchtest.New(t)
	h.Add(port.New(h.R, h.Store), New(h.R, h.Store))
	h.AddPorts("Ethernet0", "Ethernet4", "Ethernet8")
	for p, server := range map[string]string{"Ethernet0": "192.168.0.2/32", "Ethernet4": "192.168.0.3/32"} {
		if err := h.Set(store.ConfigDB, CableTable, p, map[string]string{"server_ipv4": server}); err != nil {
			t.Fatalf("Set(%s) error = %v", p, err)
		}
	}
	return h
}

func setState(t *testing.T, h *orchtest.Harness, port, state string) {
	t.Helper()
	if err := h.Set(store.ApplDB, StateTable, port, map[string]string{"state": state}); err != nil {
		t.Fatalf("Set(%s %s) error = %v", port, state, err)
	}
}

func portOIDs(h *orchtest.Harness, ports ...string) string {
	var oids []string
	for _, p := range ports {
		hd, _ := h.R.Handle(resolver.PortKey(p))
		oids = append(oids, hd.ID)
	}
	return sai.OIDList(oids...)
}

func TestStandbyDropRule(t *testing.T) {
	h := newHarness(t)

	if got := len(h.Objects(sai.TypeAclEntry)); got != 0 {
		t.Fatalf("ACL entries with every port active = %d", got)
	}

	steps := []struct {
		port, state string
		standby     []string
	}{
		{"Ethernet0", resolver.MuxStandby, []string{"Ethernet0"}},
		{"Ethernet4", resolver.MuxStandby, []string{"Ethernet0", "Ethernet4"}},
		{"Ethernet0", resolver.MuxActive, []string{"Ethernet4"}},
		{"Ethernet4", resolver.MuxActive, nil},
	}
	for _, s := range steps {
		setState(t, h, s.port, s.state)
		if got := h.Get(store.StateDB, StateTable, s.port)["state"]; got != s.state {
			t.Errorf("STATE %s|%s = %q, want %q", StateTable, s.port, got, s.state)
		}
		entries := h.Objects(sai.TypeAclEntry)
		if len(s.standby) == 0 {
			if len(entries) != 0 {
				t.Errorf("after %s %s: %d ACL entries, want none", s.port, s.state, len(entries))
			}
			continue
		}
		if len(entries) != 1 {
			t.Fatalf("after %s %s: %d ACL entries, want 1", s.port, s.state, len(entries))
		}
		got := entries[0].Attrs
		if got[sai.AclEntryAttrPriority] != AclPriority || got[sai.AclEntryAttrAction] != sai.PacketActionDrop {
			t.Errorf("rule attrs = %v", got)
		}
		if diff := cmp.Diff(portOIDs(h, s.standby...), got[sai.AclEntryAttrInPorts]); diff != "" {
			t.Errorf("after %s %s: IN_PORTS mismatch (-want +got):\n%s", s.port, s.state, diff)
		}
	}
	if h.R.Exists(resolver.AclTableKey(aclTableName)) {
		t.Error("ACL table outlived the last standby port")
	}
}

func TestStandbyPortKeepsPort(t *testing.T) {
	h := newHarness(t)
	setState(t, h, "Ethernet0", resolver.MuxStandby)

	if err := h.Del(store.ConfigDB, port.ConfigTable, "Ethernet0"); !errors.Is(err, util.ErrInUse) {
		t.Fatalf("Del(port) error = %v, want in use", err)
	}
	// Removing the cable drops the rule and lets the port go.
	if err := h.Del(store.ConfigDB, CableTable, "Ethernet0"); err != nil {
		t.Fatalf("Del(cable) error = %v", err)
	}
	if got := len(h.Objects(sai.TypeAclEntry)); got != 0 {
		t.Errorf("ACL entries = %d, want 0", got)
	}
	if h.R.Exists(resolver.PortKey("Ethernet0")) {
		t.Error("Ethernet0 still exists")
	}
}

func TestMuxStateInvalid(t *testing.T) {
	h := newHarness(t)
	for _, state := range []string{"", "init", "unknown"} {
		err := h.Set(store.ApplDB, StateTable, "Ethernet0", map[string]string{"state": state})
		if !errors.Is(err, util.ErrInvalidIntent) {
			t.Errorf("Set(state=%q) error = %v, want invalid intent", state, err)
		}
	}
	if err := h.Set(store.ConfigDB, CableTable, "Ethernet8", map[string]string{"server_ipv4": "fc00::2"}); !errors.Is(err, util.ErrInvalidIntent) {
		t.Errorf("Set(cable) error = %v, want invalid intent", err)
	}
}

func TestFdbOwnership(t *testing.T) {
	h := newHarness(t)
	mux := h.R.Mux()
	mux.SetNeighbor("Vlan1000", "192.168.0.100", "00:aa:bb:cc:dd:ee")

	if p, _ := mux.OwningPort("Vlan1000", "192.168.0.100"); p != "" {
		t.Fatalf("OwningPort() = %q before the MAC is learned", p)
	}
	if err := h.Set(store.ApplDB, FdbTable, "Vlan1000:00-AA-BB-CC-DD-EE", map[string]string{"port": "Ethernet4", "type": "dynamic"}); err != nil {
		t.Fatalf("Set(fdb) error = %v", err)
	}
	if p, mac := mux.OwningPort("Vlan1000", "192.168.0.100"); p != "Ethernet4" || mac != "00:aa:bb:cc:dd:ee" {
		t.Errorf("OwningPort() = %q, %q", p, mac)
	}
	// A server address beats the learned MAC.
	if p, _ := mux.OwningPort("Vlan1000", "192.168.0.2"); p != "Ethernet0" {
		t.Errorf("OwningPort(server) = %q, want Ethernet0", p)
	}

	if err := h.Del(store.ApplDB, FdbTable, "Vlan1000:00-AA-BB-CC-DD-EE"); err != nil {
		t.Fatalf("Del(fdb) error = %v", err)
	}
	if p, _ := mux.OwningPort("Vlan1000", "192.168.0.100"); p != "" {
		t.Errorf("OwningPort() = %q after the MAC aged out", p)
	}
	if err := h.Set(store.ApplDB, FdbTable, "Vlan1000", map[string]string{"port": "Ethernet4"}); !errors.Is(err, util.ErrInvalidIntent) {
		t.Errorf("Set(bad key) error = %v, want invalid intent", err)
	}
}
