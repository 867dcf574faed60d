package vlan

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
	h.AddPorts("Ethernet0", "Ethernet4")
	return h
}

func TestVlanAndMembers(t *testing.T) {
	h := newHarness(t)

	// Members configured first wait for their VLAN.
	err := h.Set(store.ConfigDB, MemberConfigTable, "Vlan100|Ethernet0", map[string]string{"tagging_mode": "tagged"})
	if !util.IsDeferrable(err) {
		t.Fatalf("Set(VLAN_MEMBER) error = %v, want deferred", err)
	}
	if err := h.Set(store.ConfigDB, ConfigTable, "Vlan100", map[string]string{"vlanid": "100"}); err != nil {
		t.Fatalf("Set(VLAN) error = %v", err)
	}
	if err := h.Set(store.ConfigDB, MemberConfigTable, "Vlan100|Ethernet4", map[string]string{}); err != nil {
		t.Fatalf("Set(VLAN_MEMBER) error = %v", err)
	}

	if got := h.Attrs(resolver.VlanKey("Vlan100"))[sai.VlanAttrVlanID]; got != "100" {
		t.Errorf("VLAN_ID = %s, want 100", got)
	}
	vh, _ := h.R.Handle(resolver.VlanKey("Vlan100"))
	ph, _ := h.R.Handle(resolver.PortKey("Ethernet0"))
	want := sai.Attrs{
		sai.VlanMemberAttrVlan:    vh.ID,
		sai.VlanMemberAttrPort:    ph.ID,
		sai.VlanMemberAttrTagging: sai.VlanTaggingTagged,
	}
	if diff := cmp.Diff(want, h.Attrs(resolver.VlanMemberKey("Vlan100", "Ethernet0"))); diff != "" {
		t.Errorf("member attrs mismatch (-want +got):\n%s", diff)
	}
	if got := h.Attrs(resolver.VlanMemberKey("Vlan100", "Ethernet4"))[sai.VlanMemberAttrTagging]; got != sai.VlanTaggingUntagged {
		t.Errorf("Ethernet4 tagging = %s, want untagged", got)
	}
	if got := h.Get(store.StateDB, MemberStateTable, "Vlan100|Ethernet0"); got["state"] != "ok" {
		t.Errorf("STATE VLAN_MEMBER_TABLE = %v", got)
	}
	if link, ok := h.R.Link("Vlan100"); !ok || !link.Ready || link.MTU != 9100 {
		t.Errorf("Link(Vlan100) = %+v, %v", link, ok)
	}

	// Changing the tagging mode updates the member in place.
	if err := h.Set(store.ConfigDB, MemberConfigTable, "Vlan100|Ethernet4", map[string]string{"tagging_mode": "tagged"}); err != nil {
		t.Fatalf("Set(VLAN_MEMBER) error = %v", err)
	}
	if got := h.Attrs(resolver.VlanMemberKey("Vlan100", "Ethernet4"))[sai.VlanMemberAttrTagging]; got != sai.VlanTaggingTagged {
		t.Errorf("Ethernet4 tagging = %s, want tagged", got)
	}
	if got := len(h.Objects(sai.TypeVlanMember)); got != 2 {
		t.Errorf("vlan members = %d, want 2", got)
	}
}

func TestVlanDeleteWaitsForMembers(t *testing.T) {
	h := newHarness(t)
	if err := h.Set(store.ConfigDB, ConfigTable, "Vlan100", map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if err := h.Set(store.ConfigDB, MemberConfigTable, "Vlan100|Ethernet0", map[string]string{}); err != nil {
		t.Fatal(err)
	}

	if err := h.Del(store.ConfigDB, ConfigTable, "Vlan100"); !errors.Is(err, util.ErrInUse) {
		t.Fatalf("Del(VLAN) error = %v, want in use", err)
	}
	if err := h.Del(store.ConfigDB, MemberConfigTable, "Vlan100|Ethernet0"); err != nil {
		t.Fatalf("Del(VLAN_MEMBER) error = %v", err)
	}
	if h.R.Exists(resolver.VlanKey("Vlan100")) {
		t.Error("VLAN not removed after its last member left")
	}
	if _, ok := h.R.Link("Vlan100"); ok {
		t.Error("Vlan100 link still published")
	}
}

func TestVlanInvalid(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		table  string
		key    string
		fields map[string]string
	}{
		{"vlan name", ConfigTable, "Vlan", map[string]string{}},
		{"vlan id out of range", ConfigTable, "Vlan5000", map[string]string{}},
		{"mismatched vlanid", ConfigTable, "Vlan100", map[string]string{"vlanid": "200"}},
		{"member tagging", MemberConfigTable, "Vlan100|Ethernet0", map[string]string{"tagging_mode": "priority"}},
		{"member kind", MemberConfigTable, "Vlan100|Loopback0", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.Set(store.ConfigDB, tt.table, tt.key, tt.fields); !errors.Is(err, util.ErrInvalidIntent) {
				t.Errorf("Set(%s|%s) error = %v, want invalid intent", tt.table, tt.key, err)
			}
		})
	}
}
