package util

import "testing"

func TestInterfaceKind(t *testing.T) {
	tests := []struct {
		alias string
		want  string
	}{
		{"Ethernet8", KindPort},
		{"PortChannel0001", KindPortChannel},
		{"Vlan1000", KindVlan},
		{"Loopback0", KindLoopback},
		{"eth0", KindUnknown},
	}
	for _, tt := range tests {
		if got := InterfaceKind(tt.alias); got != tt.want {
			t.Errorf("InterfaceKind(%q) = %q, want %q", tt.alias, got, tt.want)
		}
	}
}

func TestSplitSubInterface(t *testing.T) {
	tests := []struct {
		name       string
		wantParent string
		wantVlan   int
		wantErr    bool
	}{
		{name: "Ethernet0.10", wantParent: "Ethernet0", wantVlan: 10},
		{name: "Eth64.10", wantParent: "Ethernet64", wantVlan: 10},
		{name: "Po0001.20", wantParent: "PortChannel0001", wantVlan: 20},
		{name: "PortChannel0001.20", wantParent: "PortChannel0001", wantVlan: 20},
		{name: "Ethernet0", wantErr: true},
		{name: "Ethernet0.5000", wantErr: true},
		{name: "Vlan10.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, vlan, err := SplitSubInterface(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitSubInterface(%q) error = %v", tt.name, err)
			}
			if parent != tt.wantParent || vlan != tt.wantVlan {
				t.Errorf("SplitSubInterface(%q) = %q, %d", tt.name, parent, vlan)
			}
		})
	}
}

func TestVlanIDFromAlias(t *testing.T) {
	id, err := VlanIDFromAlias("Vlan1000")
	if err != nil || id != 1000 {
		t.Errorf("VlanIDFromAlias() = %d, %v", id, err)
	}
	if _, err := VlanIDFromAlias("Ethernet0"); err == nil {
		t.Error("expected error for non-VLAN alias")
	}
}
