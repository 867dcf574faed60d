package neigh

import (
	"errors"
	"testing"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/orch/intf"
	"github.com/newtron-network/newtorch/pkg/orch/mux"
	"github.com/newtron-network/newtorch/pkg/orch/orchtest"
	"github.com/newtron-network/newtorch/pkg/orch/port"
	"github.com/newtron-network/newtorch/pkg/orch/tunnel"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

func newHarness(t *testing.T) *orchtest.Harness {
	h := orchtest.New(t)
	h.Add(
		port.New(h.R, h.Store),
		intf.New(h.R, h.Store),
		tunnel.New(h.R, h.Store, ""),
		mux.New(h.R, h.Store),
		New(h.R, h.Store),
	)
	return h
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// dualToR configures Ethernet0 as a routed mux port whose peer switch is
// reachable through the IP-in-IP tunnel.
func dualToR(t *testing.T, h *orchtest.Harness) {
	t.Helper()
	h.AddPorts("Ethernet0")
	must(t, h.Set(store.ConfigDB, intf.InterfaceTable, "Ethernet0", map[string]string{}))
	must(t, h.Set(store.ConfigDB, intf.InterfaceTable, "Ethernet0|192.168.0.1/24", map[string]string{}))
	must(t, h.Set(store.ConfigDB, intf.InterfaceTable, "Ethernet0|fc02:1000::1/64", map[string]string{}))
	must(t, h.Set(store.ConfigDB, mux.CableTable, "Ethernet0", map[string]string{
		"server_ipv4": "192.168.0.100/32",
		"server_ipv6": "fc02:1000::100/128",
	}))
	must(t, h.Set(store.ApplDB, tunnel.DecapTable, tunnel.DefaultMuxTunnel, map[string]string{
		"tunnel_type": "IPINIP",
		"dst_ip":      "10.1.0.32",
	}))
	must(t, h.Set(store.ConfigDB, tunnel.PeerSwitchTable, "peer", map[string]string{"address_ipv4": "10.1.0.33"}))
}

func setMux(t *testing.T, h *orchtest.Harness, state string) {
	t.Helper()
	must(t, h.Set(store.ApplDB, mux.StateTable, "Ethernet0", map[string]string{"state": state}))
}

func TestMuxNeighborTransitions(t *testing.T) {
	tests := []struct {
		name   string
		ip     string
		family string
		host   string
	}{
		{"ipv4", "192.168.0.100", util.FamilyIPv4, "192.168.0.100/32"},
		{"ipv6", "fc02:1000::100", util.FamilyIPv6, "fc02:1000::100/128"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			dualToR(t, h)
			key := "Ethernet0:" + tt.ip
			must(t, h.Set(store.ApplDB, ApplTable, key, map[string]string{"neigh": "00:00:00:00:00:01", "family": tt.family}))

			neighKey := resolver.NeighKey("Ethernet0", tt.ip)
			routeKey := resolver.RouteKey(resolver.DefaultVRF, tt.host)
			if !h.R.Exists(neighKey) || !h.R.Exists(resolver.NextHopKey("Ethernet0", tt.ip)) {
				t.Fatal("active neighbor not programmed")
			}

			setMux(t, h, resolver.MuxStandby)
			if h.R.Exists(neighKey) {
				t.Error("standby neighbor entry still programmed")
			}
			if !h.R.Exists(routeKey) {
				t.Fatalf("no tunnel route for %s", tt.host)
			}
			tnh, ok := h.R.Handle(resolver.TunnelNextHopKey("peer:peer", "10.1.0.33"))
			if !ok {
				t.Fatal("no tunnel next-hop")
			}
			if got := h.Attrs(routeKey)[sai.RouteAttrNextHop]; got != tnh.ID {
				t.Errorf("route NEXT_HOP_ID = %s, want tunnel next-hop %s", got, tnh.ID)
			}

			setMux(t, h, resolver.MuxActive)
			if !h.R.Exists(neighKey) {
				t.Fatal("neighbor entry not restored")
			}
			if h.R.Exists(routeKey) || h.R.Exists(resolver.TunnelNextHopKey("peer:peer", "10.1.0.33")) {
				t.Error("standby route still programmed")
			}
			if got := len(h.Objects(sai.TypeNeighborEntry)); got != 1 {
				t.Errorf("neighbor entries = %d, want 1", got)
			}

			must(t, h.Del(store.ApplDB, ApplTable, key))
			if h.R.Exists(neighKey) || h.R.Exists(resolver.NextHopKey("Ethernet0", tt.ip)) {
				t.Error("neighbor objects survive delete")
			}
			if len(h.Errors) > 0 {
				t.Errorf("errors while draining: %v", h.Errors)
			}
		})
	}
}

func TestStandbyWithoutPeer(t *testing.T) {
	h := newHarness(t)
	h.AddPorts("Ethernet0")
	must(t, h.Set(store.ConfigDB, intf.InterfaceTable, "Ethernet0", map[string]string{}))
	must(t, h.Set(store.ConfigDB, intf.InterfaceTable, "Ethernet0|192.168.0.1/24", map[string]string{}))
	must(t, h.Set(store.ConfigDB, mux.CableTable, "Ethernet0", map[string]string{"server_ipv4": "192.168.0.100/32"}))
	setMux(t, h, resolver.MuxStandby)

	err := h.Set(store.ApplDB, ApplTable, "Ethernet0:192.168.0.100", map[string]string{"neigh": "00:00:00:00:00:01"})
	if !errors.Is(err, util.ErrMissingPrerequisite) {
		t.Fatalf("Set() error = %v, want missing prerequisite", err)
	}
	if got := len(h.Objects(sai.TypeNeighborEntry)); got != 0 {
		t.Errorf("neighbor entries = %d, want 0", got)
	}

	// The peer tunnel arriving completes the standby path.
	must(t, h.Set(store.ApplDB, tunnel.DecapTable, tunnel.DefaultMuxTunnel, map[string]string{"tunnel_type": "IPINIP", "dst_ip": "10.1.0.32"}))
	must(t, h.Set(store.ConfigDB, tunnel.PeerSwitchTable, "peer", map[string]string{"address_ipv4": "10.1.0.33"}))
	if !h.R.Exists(resolver.RouteKey("", "192.168.0.100/32")) {
		t.Error("standby route not programmed once the peer tunnel exists")
	}
}

func TestNeighborWaitsForInterface(t *testing.T) {
	h := newHarness(t)
	h.AddPorts("Ethernet8")

	err := h.Set(store.ApplDB, ApplTable, "Ethernet8:10.0.0.1", map[string]string{"neigh": "52:54:00:12:34:56", "family": util.FamilyIPv4})
	if !util.IsDeferrable(err) {
		t.Fatalf("Set() error = %v, want deferrable", err)
	}
	must(t, h.Set(store.ConfigDB, intf.InterfaceTable, "Ethernet8", map[string]string{}))

	attrs := h.Attrs(resolver.NeighKey("Ethernet8", "10.0.0.1"))
	if attrs[sai.NeighborAttrDstMAC] != "52:54:00:12:34:56" {
		t.Errorf("DST_MAC = %s", attrs[sai.NeighborAttrDstMAC])
	}

	// A MAC change updates the entry in place.
	must(t, h.Set(store.ApplDB, ApplTable, "Ethernet8:10.0.0.1", map[string]string{"neigh": "52:54:00:12:34:57", "family": util.FamilyIPv4}))
	if got := h.Attrs(resolver.NeighKey("Ethernet8", "10.0.0.1"))[sai.NeighborAttrDstMAC]; got != "52:54:00:12:34:57" {
		t.Errorf("DST_MAC = %s after update", got)
	}

	// The interface cannot go while the neighbor uses it.
	if err := h.Del(store.ConfigDB, intf.InterfaceTable, "Ethernet8"); !errors.Is(err, util.ErrInUse) {
		t.Fatalf("Del(interface) error = %v, want in use", err)
	}
	must(t, h.Del(store.ApplDB, ApplTable, "Ethernet8:10.0.0.1"))
	if h.R.Exists(resolver.RifKey("Ethernet8")) {
		t.Error("router interface survives its last neighbor")
	}
}

func TestNeighborCompletesAfterFailedRollback(t *testing.T) {
	h := newHarness(t)
	h.AddPorts("Ethernet8")
	must(t, h.Set(store.ConfigDB, intf.InterfaceTable, "Ethernet8", map[string]string{}))

	// The next-hop create fails, and so does removing the neighbor entry
	// created just before it.
	h.Faults.FailCreate(sai.TypeNextHop, 1)
	h.Faults.FailRemove(sai.TypeNeighborEntry, 1)
	key := "Ethernet8:10.0.0.1"
	err := h.Set(store.ApplDB, ApplTable, key, map[string]string{"neigh": "52:54:00:12:34:56"})
	if !errors.Is(err, util.ErrBoundaryFailure) {
		t.Fatalf("Set() error = %v, want boundary failure", err)
	}
	if !h.R.Exists(resolver.NeighKey("Ethernet8", "10.0.0.1")) || h.R.Exists(resolver.NextHopKey("Ethernet8", "10.0.0.1")) {
		t.Fatal("want a neighbor entry without its next-hop")
	}

	h.Requeue("neigh", orch.TaskID(ApplTable, key))
	h.Drain()
	if len(h.Errors) > 0 {
		t.Fatalf("errors while draining: %v", h.Errors)
	}
	if !h.R.Exists(resolver.NextHopKey("Ethernet8", "10.0.0.1")) {
		t.Error("next-hop not programmed on retry")
	}
	if got := len(h.Objects(sai.TypeNeighborEntry)); got != 1 {
		t.Errorf("neighbor entries = %d, want 1", got)
	}

	must(t, h.Del(store.ApplDB, ApplTable, key))
	if h.R.Exists(resolver.NeighKey("Ethernet8", "10.0.0.1")) || len(h.Objects(sai.TypeNextHop)) != 0 {
		t.Error("neighbor objects survive delete")
	}
}

func TestNeighborInvalid(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		fields map[string]string
	}{
		{"broadcast", "Ethernet0:10.0.0.1", map[string]string{"neigh": "ff:ff:ff:ff:ff:ff"}},
		{"multicast", "Ethernet0:10.0.0.1", map[string]string{"neigh": "01:00:5e:00:00:01"}},
		{"zero", "Ethernet0:10.0.0.1", map[string]string{"neigh": "00:00:00:00:00:00"}},
		{"link-local", "Ethernet0:fe80::1", map[string]string{"neigh": "52:54:00:12:34:56"}},
		{"family", "Ethernet0:10.0.0.1", map[string]string{"neigh": "52:54:00:12:34:56", "family": util.FamilyIPv6}},
		{"no address", "Ethernet0", map[string]string{"neigh": "52:54:00:12:34:56"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if err := h.Set(store.ApplDB, ApplTable, tt.key, tt.fields); !errors.Is(err, util.ErrInvalidIntent) {
				t.Errorf("Set() error = %v, want invalid intent", err)
			}
		})
	}
}
