package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address families as published in INTF_TABLE and NEIGH_TABLE
const (
	FamilyIPv4 = "IPv4"
	FamilyIPv6 = "IPv6"
)

// ParseIPWithMask parses an IP address with CIDR notation
// Returns the IP, mask length, and any error
func ParseIPWithMask(cidr string) (net.IP, int, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid CIDR notation: %s", cidr)
	}
	ones, _ := ipNet.Mask.Size()
	return ip, ones, nil
}

// SplitIPMask splits a CIDR notation into IP and mask length
// Returns the IP (without mask) and mask length
func SplitIPMask(cidr string) (string, int) {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return cidr, 0 // Return as-is if no mask
	}
	maskLen, err := strconv.Atoi(parts[1])
	if err != nil {
		return parts[0], 0
	}
	return parts[0], maskLen
}

// NetworkPrefix returns the subnet of an interface address.
// "fc00::1/126" -> "fc00::/126", "10.0.0.1/31" -> "10.0.0.0/31"
func NetworkPrefix(cidr string) (string, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", fmt.Errorf("invalid CIDR notation: %s", cidr)
	}
	return ipNet.String(), nil
}

// HostPrefix returns the full-length prefix for a single address.
// "10.0.0.1" -> "10.0.0.1/32", "fc00::1" -> "fc00::1/128"
func HostPrefix(ipStr string) (string, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", ipStr)
	}
	if ip.To4() != nil {
		return ip.To4().String() + "/32", nil
	}
	return ip.String() + "/128", nil
}

// StripHostMask removes a /32 or /128 suffix; other masks are rejected.
func StripHostMask(s string) (string, error) {
	if !strings.Contains(s, "/") {
		if net.ParseIP(s) == nil {
			return "", fmt.Errorf("invalid IP address: %s", s)
		}
		return s, nil
	}
	ip, mask, err := ParseIPWithMask(s)
	if err != nil {
		return "", err
	}
	if (ip.To4() != nil && mask != 32) || (ip.To4() == nil && mask != 128) {
		return "", fmt.Errorf("%s is not a host address", s)
	}
	return ip.String(), nil
}

// IPFamily returns FamilyIPv4 or FamilyIPv6 for an address or prefix.
func IPFamily(s string) string {
	ipStr, _ := SplitIPMask(s)
	ip := net.ParseIP(ipStr)
	if ip != nil && ip.To4() != nil {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// IsLinkLocal reports whether an address is link-local unicast.
func IsLinkLocal(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	return ip != nil && ip.IsLinkLocalUnicast()
}

// IsValidIP checks if a string is a valid IPv4 or IPv6 address
func IsValidIP(ipStr string) bool {
	return net.ParseIP(ipStr) != nil
}

// ValidateVLANID checks if a VLAN ID is within 1-4094
func ValidateVLANID(id int) error {
	if id < 1 || id > 4094 {
		return fmt.Errorf("VLAN ID must be between 1 and 4094, got %d", id)
	}
	return nil
}

// NormalizeMAC parses a MAC in colon or dash notation and returns it
// lowercase with colons. FDB_TABLE keys use dashes.
func NormalizeMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.ReplaceAll(s, "-", ":"))
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address: %s", s)
	}
	return hw.String(), nil
}

// IsUnicastMAC reports whether a normalized MAC is a usable neighbor
// address (not zero, not broadcast, not multicast).
func IsUnicastMAC(mac string) bool {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return false
	}
	if hw[0]&0x01 != 0 {
		return false
	}
	for _, b := range hw {
		if b != 0 {
			return true
		}
	}
	return false
}
