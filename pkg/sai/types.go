// Package sai models forwarding objects behind the hardware abstraction
// boundary and provides the ASIC_DB implementation of that boundary.
package sai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ObjectType is a SAI object type name as used in ASIC_STATE keys.
type ObjectType string

// Forwarding object types
const (
	TypePort               ObjectType = "SAI_OBJECT_TYPE_PORT"
	TypeLag                ObjectType = "SAI_OBJECT_TYPE_LAG"
	TypeVirtualRouter      ObjectType = "SAI_OBJECT_TYPE_VIRTUAL_ROUTER"
	TypeNextHop            ObjectType = "SAI_OBJECT_TYPE_NEXT_HOP"
	TypeNextHopGroup       ObjectType = "SAI_OBJECT_TYPE_NEXT_HOP_GROUP"
	TypeRouterInterface    ObjectType = "SAI_OBJECT_TYPE_ROUTER_INTERFACE"
	TypeAclTable           ObjectType = "SAI_OBJECT_TYPE_ACL_TABLE"
	TypeAclEntry           ObjectType = "SAI_OBJECT_TYPE_ACL_ENTRY"
	TypeQosMap             ObjectType = "SAI_OBJECT_TYPE_QOS_MAP"
	TypeQueue              ObjectType = "SAI_OBJECT_TYPE_QUEUE"
	TypeLagMember          ObjectType = "SAI_OBJECT_TYPE_LAG_MEMBER"
	TypeSwitch             ObjectType = "SAI_OBJECT_TYPE_SWITCH"
	TypeNeighborEntry      ObjectType = "SAI_OBJECT_TYPE_NEIGHBOR_ENTRY"
	TypeRouteEntry         ObjectType = "SAI_OBJECT_TYPE_ROUTE_ENTRY"
	TypeVlan               ObjectType = "SAI_OBJECT_TYPE_VLAN"
	TypeVlanMember         ObjectType = "SAI_OBJECT_TYPE_VLAN_MEMBER"
	TypeTunnel             ObjectType = "SAI_OBJECT_TYPE_TUNNEL"
	TypeTunnelTermEntry    ObjectType = "SAI_OBJECT_TYPE_TUNNEL_TERM_TABLE_ENTRY"
	TypeNextHopGroupMember ObjectType = "SAI_OBJECT_TYPE_NEXT_HOP_GROUP_MEMBER"
)

// typeIDs are the SAI enum values, encoded in the top 16 bits of each OID.
var typeIDs = map[ObjectType]uint64{
	TypePort:               1,
	TypeLag:                2,
	TypeVirtualRouter:      3,
	TypeNextHop:            4,
	TypeNextHopGroup:       5,
	TypeRouterInterface:    6,
	TypeAclTable:           7,
	TypeAclEntry:           8,
	TypeQosMap:             20,
	TypeQueue:              21,
	TypeLagMember:          27,
	TypeSwitch:             33,
	TypeNeighborEntry:      36,
	TypeRouteEntry:         37,
	TypeVlan:               38,
	TypeVlanMember:         39,
	TypeTunnel:             42,
	TypeTunnelTermEntry:    43,
	TypeNextHopGroupMember: 45,
}

// ParseObjectType accepts "SAI_OBJECT_TYPE_ROUTE_ENTRY" or "ROUTE_ENTRY".
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(strings.ToUpper(s))
	if !strings.HasPrefix(string(t), "SAI_OBJECT_TYPE_") {
		t = "SAI_OBJECT_TYPE_" + t
	}
	if _, ok := typeIDs[t]; !ok {
		return "", fmt.Errorf("unknown object type %q", s)
	}
	return t, nil
}

// ObjectTypes lists every known type, sorted by name.
func ObjectTypes() []ObjectType {
	out := make([]ObjectType, 0, len(typeIDs))
	for t := range typeIDs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsEntry reports whether objects of this type are identified by a
// structured entry key rather than an allocated OID.
func (t ObjectType) IsEntry() bool {
	return t == TypeRouteEntry || t == TypeNeighborEntry
}

// Short returns the type without the SAI_OBJECT_TYPE_ prefix.
func (t ObjectType) Short() string {
	return strings.TrimPrefix(string(t), "SAI_OBJECT_TYPE_")
}

// Handle identifies a forwarding object. ID is "oid:0x..." for allocated
// objects and the canonical JSON entry key for route and neighbor entries.
type Handle struct {
	Type ObjectType
	ID   string
}

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

func (h Handle) String() string {
	return string(h.Type) + ":" + h.ID
}

// TypeOfOID decodes the object type tag of an allocated OID.
func TypeOfOID(oid string) (ObjectType, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(oid, "oid:0x"), 16, 64)
	if err != nil || !strings.HasPrefix(oid, "oid:0x") {
		return "", fmt.Errorf("malformed oid %q", oid)
	}
	id := v >> 48
	for t, tid := range typeIDs {
		if tid == id {
			return t, nil
		}
	}
	return "", fmt.Errorf("oid %s has unknown type tag %d", oid, id)
}

func formatOID(t ObjectType, counter uint64) string {
	return fmt.Sprintf("oid:0x%x", typeIDs[t]<<48|counter)
}

// Attrs is the attribute mapping of a forwarding object.
type Attrs map[string]string

// Clone returns a copy of a.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Entry holds the fields identifying a route or neighbor entry.
type Entry map[string]string

// Key renders the canonical entry key: JSON with sorted keys and no
// whitespace, as written by sairedis.
func (e Entry) Key() string {
	b, _ := json.Marshal(map[string]string(e))
	return string(b)
}

// RouteEntry identifies a route by destination prefix within a virtual router.
func RouteEntry(switchID, vr, dest string) Entry {
	return Entry{"dest": dest, "switch_id": switchID, "vr": vr}
}

// NeighborEntry identifies a neighbor by IP on a router interface.
func NeighborEntry(switchID, rif, ip string) Entry {
	return Entry{"ip": ip, "rif": rif, "switch_id": switchID}
}

// ParseEntry decodes an entry key.
func ParseEntry(key string) (Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(key), &e); err != nil {
		return nil, fmt.Errorf("malformed entry key %q: %w", key, err)
	}
	return e, nil
}

// OIDList renders an object list attribute value: "<count>:<oid>,<oid>".
func OIDList(oids ...string) string {
	return fmt.Sprintf("%d:%s", len(oids), strings.Join(oids, ","))
}

// ParseOIDList is the inverse of OIDList.
func ParseOIDList(v string) ([]string, error) {
	count, list, ok := strings.Cut(v, ":")
	if !ok {
		return nil, fmt.Errorf("malformed object list %q", v)
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return nil, fmt.Errorf("malformed object list %q", v)
	}
	if n == 0 {
		return nil, nil
	}
	items := strings.Split(list, ",")
	if len(items) != n {
		return nil, fmt.Errorf("object list %q declares %d items, has %d", v, n, len(items))
	}
	return items, nil
}

// Bool renders a SAI boolean attribute value.
func Bool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
