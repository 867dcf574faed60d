package util

import "testing"

func TestSplitCommaSeparated(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"Ethernet0", 1},
		{"Ethernet0,Ethernet4", 2},
		{"Ethernet0, Ethernet4, Ethernet8", 3},
		{"192.168.0.2,,192.168.0.3", 2},
	}

	for _, tt := range tests {
		got := SplitCommaSeparated(tt.input)
		if len(got) != tt.want {
			t.Errorf("SplitCommaSeparated(%q) = %v (len %d), want len %d", tt.input, got, len(got), tt.want)
		}
	}
}

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key, sep    string
		left, right string
		ok          bool
	}{
		{"Ethernet8|fc00::1/126", "|", "Ethernet8", "fc00::1/126", true},
		{"Vlan1000:fc02:1000::100", ":", "Vlan1000", "fc02:1000::100", true},
		{"Ethernet8", "|", "Ethernet8", "", false},
	}
	for _, tt := range tests {
		l, r, ok := SplitKey(tt.key, tt.sep)
		if l != tt.left || r != tt.right || ok != tt.ok {
			t.Errorf("SplitKey(%q, %q) = (%q, %q, %v)", tt.key, tt.sep, l, r, ok)
		}
	}
}
