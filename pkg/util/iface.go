package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var parseInterfaceRegexp = regexp.MustCompile(`^([a-zA-Z]+)(\d+(?:/\d+)*)$`)

// Interface kinds recognized by name prefix
const (
	KindPort        = "port"
	KindPortChannel = "portchannel"
	KindVlan        = "vlan"
	KindLoopback    = "loopback"
	KindUnknown     = ""
)

// ParseInterfaceName extracts interface type and number
// Returns (type, number, subinterface) e.g., ("Ethernet", "0", "100") for Ethernet0.100
func ParseInterfaceName(name string) (ifType string, num string, subintf string) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 {
		subintf = parts[1]
		name = parts[0]
	}

	matches := parseInterfaceRegexp.FindStringSubmatch(name)
	if len(matches) == 3 {
		return matches[1], matches[2], subintf
	}

	return name, "", subintf
}

// InterfaceKind classifies a SONiC interface alias.
func InterfaceKind(alias string) string {
	ifType, _, _ := ParseInterfaceName(alias)
	switch ifType {
	case "Ethernet", "Eth":
		return KindPort
	case "PortChannel", "Po":
		return KindPortChannel
	case "Vlan":
		return KindVlan
	case "Loopback", "lo":
		return KindLoopback
	}
	return KindUnknown
}

// SplitSubInterface splits "Ethernet0.10" or "Eth0.10" into the parent alias
// and the VLAN ID. Short parent names are expanded (Eth -> Ethernet,
// Po -> PortChannel).
func SplitSubInterface(name string) (parent string, vlan int, err error) {
	ifType, num, sub := ParseInterfaceName(name)
	if sub == "" || num == "" {
		return "", 0, fmt.Errorf("%s is not a sub-interface name", name)
	}
	switch ifType {
	case "Eth":
		ifType = "Ethernet"
	case "Po":
		ifType = "PortChannel"
	case "Ethernet", "PortChannel":
	default:
		return "", 0, fmt.Errorf("%s: unsupported parent type %s", name, ifType)
	}
	vlan, err = strconv.Atoi(sub)
	if err != nil {
		return "", 0, fmt.Errorf("%s: invalid VLAN id %q", name, sub)
	}
	if err := ValidateVLANID(vlan); err != nil {
		return "", 0, fmt.Errorf("%s: %w", name, err)
	}
	return ifType + num, vlan, nil
}

// VlanIDFromAlias returns 1000 for "Vlan1000".
func VlanIDFromAlias(alias string) (int, error) {
	ifType, num, sub := ParseInterfaceName(alias)
	if ifType != "Vlan" || num == "" || sub != "" {
		return 0, fmt.Errorf("%s is not a VLAN interface", alias)
	}
	id, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("%s is not a VLAN interface", alias)
	}
	return id, ValidateVLANID(id)
}
