package tunnel

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtorch/pkg/orch/orchtest"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

func decapFields(dst string) map[string]string {
	return map[string]string{
		"tunnel_type": "IPINIP",
		"dst_ip":      dst,
		"dscp_mode":   "uniform",
		"ecn_mode":    "copy_from_outer",
		"ttl_mode":    "pipe",
	}
}

func TestDecapTunnel(t *testing.T) {
	h := orchtest.New(t)
	h.Add(New(h.R, h.Store, ""))

	if err := h.Set(store.ApplDB, DecapTable, "IPINIP_TUNNEL", decapFields("10.1.0.32,10.1.0.33")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	overlay, _ := h.R.Handle(overlayKey("IPINIP_TUNNEL"))
	underlay, _ := h.R.Handle(resolver.LoopbackRifKey)
	want := sai.Attrs{
		sai.TunnelAttrType:      sai.TunnelTypeIPinIP,
		sai.TunnelAttrOverlay:   overlay.ID,
		sai.TunnelAttrUnderlay:  underlay.ID,
		sai.TunnelAttrDecapECN:  sai.TunnelECNCopyFromOuter,
		sai.TunnelAttrDecapDSCP: sai.TunnelDSCPUniform,
		sai.TunnelAttrDecapTTL:  sai.TunnelTTLPipe,
	}
	if diff := cmp.Diff(want, h.Attrs(resolver.TunnelKey("IPINIP_TUNNEL"))); diff != "" {
		t.Errorf("tunnel attrs mismatch (-want +got):\n%s", diff)
	}
	if got := len(h.Objects(sai.TypeTunnelTermEntry)); got != 2 {
		t.Fatalf("term entries = %d, want 2", got)
	}
	tunnel, _ := h.R.Handle(resolver.TunnelKey("IPINIP_TUNNEL"))
	term := h.Attrs(resolver.TermKey("IPINIP_TUNNEL", "10.1.0.32"))
	if term[sai.TermAttrType] != sai.TermTypeP2MP || term[sai.TermAttrTunnel] != tunnel.ID || term[sai.TermAttrDstIP] != "10.1.0.32" {
		t.Errorf("term entry attrs = %v", term)
	}

	// Changing the address list adds before it removes.
	if err := h.Set(store.ApplDB, DecapTable, "IPINIP_TUNNEL", decapFields("10.1.0.33,10.1.0.34")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	for ip, want := range map[string]bool{"10.1.0.32": false, "10.1.0.33": true, "10.1.0.34": true} {
		if got := h.R.Exists(resolver.TermKey("IPINIP_TUNNEL", ip)); got != want {
			t.Errorf("term %s exists = %v, want %v", ip, got, want)
		}
	}

	fields := decapFields("10.1.0.33,10.1.0.34")
	fields["dscp_mode"] = "pipe"
	if err := h.Set(store.ApplDB, DecapTable, "IPINIP_TUNNEL", fields); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := h.Attrs(resolver.TunnelKey("IPINIP_TUNNEL"))[sai.TunnelAttrDecapDSCP]; got != sai.TunnelDSCPPipe {
		t.Errorf("DSCP mode = %s, want pipe", got)
	}

	if err := h.Del(store.ApplDB, DecapTable, "IPINIP_TUNNEL"); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	for _, typ := range []sai.ObjectType{sai.TypeTunnel, sai.TypeTunnelTermEntry} {
		if got := len(h.Objects(typ)); got != 0 {
			t.Errorf("%s objects = %d after delete", typ.Short(), got)
		}
	}
	if h.R.Exists(overlayKey("IPINIP_TUNNEL")) {
		t.Error("overlay interface still exists")
	}
}

func TestDecapInvalid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"gre", map[string]string{"tunnel_type": "GRE", "dst_ip": "10.1.0.32"}},
		{"no destination", map[string]string{"tunnel_type": "IPINIP"}},
		{"bad destination", map[string]string{"tunnel_type": "IPINIP", "dst_ip": "10.1.0"}},
		{"bad ecn", map[string]string{"tunnel_type": "IPINIP", "dst_ip": "10.1.0.32", "ecn_mode": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := orchtest.New(t)
			h.Add(New(h.R, h.Store, ""))
			if err := h.Set(store.ApplDB, DecapTable, "T0", tt.fields); !errors.Is(err, util.ErrInvalidIntent) {
				t.Errorf("Set() error = %v, want invalid intent", err)
			}
		})
	}
}

func TestPeerSwitch(t *testing.T) {
	h := orchtest.New(t)
	h.Add(New(h.R, h.Store, ""))

	// The peer waits for the mux decap tunnel that sources its packets.
	err := h.Set(store.ConfigDB, PeerSwitchTable, "switch-b", map[string]string{"address_ipv4": "10.1.0.33"})
	if !errors.Is(err, util.ErrMissingPrerequisite) {
		t.Fatalf("Set() error = %v, want missing prerequisite", err)
	}
	if _, _, ok := h.R.MuxTunnel(); ok {
		t.Fatal("mux tunnel registered before the peer tunnel exists")
	}

	if err := h.Set(store.ApplDB, DecapTable, DefaultMuxTunnel, decapFields("10.1.0.32")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	name, peer, ok := h.R.MuxTunnel()
	if !ok || name != "peer:switch-b" || peer != "10.1.0.33" {
		t.Fatalf("MuxTunnel() = %s, %s, %v", name, peer, ok)
	}
	attrs := h.Attrs(resolver.TunnelKey("peer:switch-b"))
	if len(attrs) != 8 {
		t.Errorf("peer tunnel has %d attributes, want 8: %v", len(attrs), attrs)
	}
	if attrs[sai.TunnelAttrEncapSrcIP] != "10.1.0.32" || attrs[sai.TunnelAttrEncapDstIP] != "10.1.0.33" {
		t.Errorf("encap addresses = %s -> %s", attrs[sai.TunnelAttrEncapSrcIP], attrs[sai.TunnelAttrEncapDstIP])
	}
	if attrs[sai.TunnelAttrPeerMode] != sai.TunnelPeerModeP2P {
		t.Errorf("peer mode = %s", attrs[sai.TunnelAttrPeerMode])
	}

	// The decap tunnel outlives its peer.
	if err := h.Del(store.ApplDB, DecapTable, DefaultMuxTunnel); !errors.Is(err, util.ErrInUse) {
		t.Fatalf("Del() error = %v, want in use", err)
	}
	if err := h.Set(store.ConfigDB, PeerSwitchTable, "switch-b", map[string]string{"address_ipv4": "10.1.0.34"}); !errors.Is(err, util.ErrInvalidIntent) {
		t.Errorf("Set() error = %v, want invalid intent", err)
	}
	if err := h.Del(store.ConfigDB, PeerSwitchTable, "switch-b"); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	if _, _, ok := h.R.MuxTunnel(); ok {
		t.Error("mux tunnel still registered")
	}
	if got := len(h.Objects(sai.TypeTunnel)); got != 0 {
		t.Errorf("tunnels = %d, want 0", got)
	}
}
