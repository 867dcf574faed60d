package resolver

import "fmt"

// Well-known logical keys created at switch bootstrap.
const (
	SwitchKey      = "switch"
	DefaultVRF     = "default"
	CPUPortKey     = "port:CPU"
	LoopbackRifKey = "rif:loopback"
)

// Logical key constructors. Keys name objects independently of their
// hardware handles so that owners in different domains can share them.

func VRKey(vrf string) string {
	if vrf == "" {
		vrf = DefaultVRF
	}
	return "vr:" + vrf
}

func PortKey(alias string) string            { return "port:" + alias }
func LagKey(alias string) string             { return "lag:" + alias }
func LagMemberKey(port string) string        { return "lagmember:" + port }
func VlanKey(alias string) string            { return "vlan:" + alias }
func VlanMemberKey(vlan, port string) string { return "vlanmember:" + vlan + ":" + port }
func RifKey(alias string) string             { return "rif:" + alias }
func NeighKey(alias, ip string) string       { return "neigh:" + alias + ":" + ip }
func NextHopKey(alias, ip string) string     { return "nh:" + alias + ":" + ip }
func TunnelKey(name string) string           { return "tunnel:" + name }
func TermKey(tunnel, ip string) string       { return "tunnel-term:" + tunnel + ":" + ip }
func AclTableKey(name string) string         { return "acl-table:" + name }
func AclKey(name string) string              { return "acl:" + name }
func QueueKey(port string, index int) string { return fmt.Sprintf("queue:%s:%d", port, index) }

func TunnelNextHopKey(tunnel, peer string) string {
	return "tunnel-nh:" + tunnel + ":" + peer
}

func RouteKey(vrf, prefix string) string {
	if vrf == "" {
		vrf = DefaultVRF
	}
	return "route:" + vrf + ":" + prefix
}

func NextHopGroupKey(vrf, prefix string) string {
	if vrf == "" {
		vrf = DefaultVRF
	}
	return "nhg:" + vrf + ":" + prefix
}

// NextHopGroupMemberKey names an ECMP member by the configured next-hop and
// the key of the next-hop object it currently points at.
func NextHopGroupMemberKey(vrf, prefix, nexthop, target string) string {
	if vrf == "" {
		vrf = DefaultVRF
	}
	return "nhgm:" + vrf + ":" + prefix + ":" + nexthop + "@" + target
}

func QosMapKey(mapType, name string) string { return "qosmap:" + mapType + ":" + name }
