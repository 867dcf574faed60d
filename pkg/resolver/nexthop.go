package resolver

import (
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/util"
)

// MuxTunnelSubject is notified when the mux tunnel identity changes.
const MuxTunnelSubject = "mux-tunnel"

type muxTunnel struct {
	name string
	peer string
}

// SetMuxTunnel registers the tunnel used to reach the peer switch for
// standby neighbors.
func (r *Resolver) SetMuxTunnel(name, peer string) {
	r.mu.Lock()
	changed := r.muxTunnel != muxTunnel{name: name, peer: peer}
	r.muxTunnel = muxTunnel{name: name, peer: peer}
	r.mu.Unlock()
	if changed {
		r.Notify(MuxTunnelSubject)
	}
}

// ClearMuxTunnel forgets the mux tunnel.
func (r *Resolver) ClearMuxTunnel(name string) {
	r.mu.Lock()
	changed := r.muxTunnel.name == name
	if changed {
		r.muxTunnel = muxTunnel{}
	}
	r.mu.Unlock()
	if changed {
		r.Notify(MuxTunnelSubject)
	}
}

// MuxTunnel returns the registered mux tunnel name and peer address.
func (r *Resolver) MuxTunnel() (name, peer string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.muxTunnel.name, r.muxTunnel.peer, r.muxTunnel.name != ""
}

// NextHop is the resolution of a (interface, address) next-hop.
type NextHop struct {
	Node *Node
	// Tunnel is set when the owning mux port is standby and the node is
	// the shared tunnel next-hop.
	Tunnel bool
	// Port is the owning mux port, if any.
	Port string
	// Subjects are the transitions that may change this resolution.
	Subjects []string
}

// NextHopFor selects the next-hop for neighbor ip on alias: the shared
// tunnel next-hop when the owning mux port is standby, otherwise the
// neighbor next-hop. The returned Subjects are valid even on error so the
// caller can watch for the missing prerequisite.
func (r *Resolver) NextHopFor(alias, ip string) (NextHop, error) {
	ip = normalizeIP(ip)
	port, mac := r.mux.OwningPort(alias, ip)
	nh := NextHop{Port: port, Subjects: []string{"nbr:" + alias + ":" + ip}}
	if mac != "" {
		nh.Subjects = append(nh.Subjects, "mac:"+alias+"|"+mac)
	}
	if port != "" {
		nh.Subjects = append(nh.Subjects, "port:"+port)
	}

	if port != "" && r.mux.IsStandby(port) {
		nh.Subjects = append(nh.Subjects, MuxTunnelSubject)
		name, peer, ok := r.MuxTunnel()
		if !ok {
			return nh, util.NewDependencyError(NextHopKey(alias, ip), "mux tunnel", "peer switch")
		}
		nh.Node = TunnelNextHopNode(name, peer)
		nh.Tunnel = true
		return nh, nil
	}

	if _, ok := r.mux.Neighbor(alias, ip); !ok {
		return nh, util.NewDependencyError(NextHopKey(alias, ip), "neighbor", alias+":"+ip)
	}
	nh.Node = NeighborNextHopNode(alias, ip)
	return nh, nil
}

// NeighborNextHopNode is the IP next-hop toward a resolved neighbor. Either
// the neighbor or a route may be first to create it.
func NeighborNextHopNode(alias, ip string) *Node {
	rif := Ref(RifKey(alias))
	neigh := Ref(NeighKey(alias, ip))
	return &Node{
		Key:      NextHopKey(alias, ip),
		Type:     sai.TypeNextHop,
		Requires: []*Node{rif, neigh},
		Build: func(d Deps) (sai.Attrs, error) {
			return sai.Attrs{
				sai.NextHopAttrType: sai.NextHopTypeIP,
				sai.NextHopAttrIP:   ip,
				sai.NextHopAttrRif:  d.OID(rif.Key),
			}, nil
		},
	}
}

// TunnelNextHopNode is the shared tunnel-encapsulation next-hop toward the
// peer switch. It exists while at least one standby path uses it.
func TunnelNextHopNode(tunnel, peer string) *Node {
	t := Ref(TunnelKey(tunnel))
	return &Node{
		Key:      TunnelNextHopKey(tunnel, peer),
		Type:     sai.TypeNextHop,
		Requires: []*Node{t},
		Build: func(d Deps) (sai.Attrs, error) {
			return sai.Attrs{
				sai.NextHopAttrType:   sai.NextHopTypeTunnelEncap,
				sai.NextHopAttrIP:     peer,
				sai.NextHopAttrTunnel: d.OID(t.Key),
			}, nil
		},
	}
}

// RouteNode builds a route entry in vrf whose attributes come from build.
// The route requires only its virtual router; next-hops are held in
// separate bindings so they can be swapped in place.
func (r *Resolver) RouteNode(vrf, prefix string, build func() (sai.Attrs, error)) *Node {
	vr := Ref(VRKey(vrf))
	return &Node{
		Key:      RouteKey(vrf, prefix),
		Type:     sai.TypeRouteEntry,
		Requires: []*Node{vr},
		Entry: func(d Deps) sai.Entry {
			return sai.RouteEntry(r.SwitchID(), d.OID(vr.Key), prefix)
		},
		Build: func(Deps) (sai.Attrs, error) { return build() },
	}
}

// RouteViaNode builds a route in vrf forwarding to the object of via: a
// router interface, the CPU port, or a fixed next-hop. The route holds via
// for as long as it exists.
func (r *Resolver) RouteViaNode(vrf, prefix string, via *Node) *Node {
	vr := Ref(VRKey(vrf))
	return &Node{
		Key:      RouteKey(vrf, prefix),
		Type:     sai.TypeRouteEntry,
		Requires: []*Node{vr, via},
		Entry: func(d Deps) sai.Entry {
			return sai.RouteEntry(r.SwitchID(), d.OID(vr.Key), prefix)
		},
		Build: func(d Deps) (sai.Attrs, error) {
			return sai.Attrs{sai.RouteAttrNextHop: d.OID(via.Key)}, nil
		},
	}
}
