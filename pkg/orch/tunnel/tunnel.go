// Package tunnel converges IP-in-IP decapsulation tunnels and the
// peer-switch tunnel used by mux standby paths.
package tunnel

import (
	"context"
	"net"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Tables
const (
	DecapTable      = "TUNNEL_DECAP_TABLE"
	PeerSwitchTable = "PEER_SWITCH"
)

// DefaultMuxTunnel is the decap tunnel whose address sources peer-switch
// encapsulation.
const DefaultMuxTunnel = "MuxTunnel0"

var (
	ecnModes = map[string]string{
		"standard":        sai.TunnelECNStandard,
		"copy_from_outer": sai.TunnelECNCopyFromOuter,
	}
	dscpModes = map[string]string{
		"pipe":    sai.TunnelDSCPPipe,
		"uniform": sai.TunnelDSCPUniform,
	}
	ttlModes = map[string]string{
		"pipe":    sai.TunnelTTLPipe,
		"uniform": sai.TunnelTTLUniform,
	}
)

func modeNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type decapConfig struct {
	dstIPs []string
	srcIP  string
	ecn    string
	dscp   string
	ttl    string
}

type decap struct {
	cfg     decapConfig
	binding *resolver.Binding
	// terms maps each programmed dst_ip to its term entry key.
	terms map[string]string
}

type peer struct {
	address string
	binding *resolver.Binding
}

// Orch is the tunnel orchestrator.
type Orch struct {
	*orch.Base
	muxTunnel string
	decaps    *orch.Entities[decap]
	peers     *orch.Entities[peer]
}

// New creates the tunnel orchestrator. muxTunnel names the decap tunnel
// shared with the peer switch; empty selects DefaultMuxTunnel.
func New(r *resolver.Resolver, st store.Store, muxTunnel string) *Orch {
	if muxTunnel == "" {
		muxTunnel = DefaultMuxTunnel
	}
	return &Orch{
		Base:      orch.NewBase("tunnel", r, st),
		muxTunnel: muxTunnel,
		decaps:    orch.NewEntities[decap](),
		peers:     orch.NewEntities[peer](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{
		{DB: store.ApplDB, Table: DecapTable},
		{DB: store.ConfigDB, Table: PeerSwitchTable},
	}
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return orch.Handlers{
		DecapTable: func(ctx context.Context, t orch.Task) error {
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updateDecap,
				Reconcile:  o.reconcileDecap,
				Remove:     o.removeDecap,
				Known:      o.decaps.Has,
				Programmed: func(k string) bool { return !o.decaps.Get(k).binding.Empty() },
				Forget:     o.decaps.Delete,
			})
		},
		PeerSwitchTable: func(ctx context.Context, t orch.Task) error {
			return o.Run(ctx, t, orch.Lifecycle{
				Update:     o.updatePeer,
				Reconcile:  o.reconcilePeer,
				Remove:     o.removePeer,
				Known:      o.peers.Has,
				Programmed: func(k string) bool { return !o.peers.Get(k).binding.Empty() },
				Forget:     o.peers.Delete,
			})
		},
	}.Apply(ctx, t)
}

func overlayKey(name string) string { return resolver.RifKey("overlay:" + name) }

func (o *Orch) updateDecap(name string, fields map[string]string) error {
	f := orch.NewFields(fields)
	f.OneOf("tunnel_type", "IPINIP", "IPINIP")
	cfg := decapConfig{
		srcIP: f.String("src_ip", ""),
		ecn:   f.OneOf("ecn_mode", "standard", modeNames(ecnModes)...),
		dscp:  f.OneOf("dscp_mode", "uniform", modeNames(dscpModes)...),
		ttl:   f.OneOf("ttl_mode", "pipe", modeNames(ttlModes)...),
	}
	for _, ip := range f.List("dst_ip") {
		parsed := net.ParseIP(ip)
		f.Check(parsed != nil, "dst_ip: %q is not an address", ip)
		if parsed != nil {
			cfg.dstIPs = append(cfg.dstIPs, parsed.String())
		}
	}
	f.Check(f.Has("dst_ip"), "dst_ip is required")
	f.Check(cfg.srcIP == "" || util.IsValidIP(cfg.srcIP), "src_ip: %q is not an address", cfg.srcIP)
	if err := f.Err(DecapTable, name); err != nil {
		return err
	}
	if cur := o.decaps.Get(name); cur != nil && !cur.binding.Empty() && cur.cfg.srcIP != cfg.srcIP {
		return util.InvalidIntentf(DecapTable, name, "src_ip of a live tunnel cannot change")
	}
	e := o.decaps.GetOrCreate(name, func() *decap {
		return &decap{
			binding: resolver.NewBinding(o.Owner(orch.TaskID(DecapTable, name))),
			terms:   make(map[string]string),
		}
	})
	e.cfg = cfg
	return nil
}

func decapAttrs(cfg decapConfig) sai.Attrs {
	return sai.Attrs{
		sai.TunnelAttrDecapECN:  ecnModes[cfg.ecn],
		sai.TunnelAttrDecapDSCP: dscpModes[cfg.dscp],
		sai.TunnelAttrDecapTTL:  ttlModes[cfg.ttl],
	}
}

func (o *Orch) reconcileDecap(ctx context.Context, id, name string) error {
	e := o.decaps.Get(name)
	tunnelKey := resolver.TunnelKey(name)
	if e.binding.Empty() {
		vr := resolver.Ref(resolver.VRKey(""))
		overlay := &resolver.Node{
			Key:      overlayKey(name),
			Type:     sai.TypeRouterInterface,
			Requires: []*resolver.Node{vr},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.RifAttrType: sai.RifTypeLoopback,
					sai.RifAttrVR:   d.OID(vr.Key),
				}, nil
			},
		}
		underlay := resolver.Ref(resolver.LoopbackRifKey)
		cfg := e.cfg
		tunnel := &resolver.Node{
			Key:      tunnelKey,
			Type:     sai.TypeTunnel,
			Requires: []*resolver.Node{overlay, underlay},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				attrs := decapAttrs(cfg)
				attrs[sai.TunnelAttrType] = sai.TunnelTypeIPinIP
				attrs[sai.TunnelAttrOverlay] = d.OID(overlay.Key)
				attrs[sai.TunnelAttrUnderlay] = d.OID(underlay.Key)
				if cfg.srcIP != "" {
					attrs[sai.TunnelAttrEncapSrcIP] = cfg.srcIP
				}
				return attrs, nil
			},
		}
		if _, err := o.R.Resolve(ctx, e.binding, tunnel); err != nil {
			return o.Defer(id, err)
		}
		o.Log.WithField("tunnel", name).Infof("Decap tunnel created")
	} else if _, err := o.R.Converge(ctx, tunnelKey, decapAttrs(e.cfg)); err != nil {
		return err
	}

	if err := o.syncTerms(ctx, name, e); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	return nil
}

// syncTerms adds a P2MP term entry for every new dst_ip, then removes the
// entries of addresses no longer listed.
func (o *Orch) syncTerms(ctx context.Context, name string, e *decap) error {
	want := make(map[string]bool, len(e.cfg.dstIPs))
	for _, ip := range e.cfg.dstIPs {
		want[ip] = true
		if _, ok := e.terms[ip]; ok {
			continue
		}
		vr := resolver.Ref(resolver.VRKey(""))
		tunnel := resolver.Ref(resolver.TunnelKey(name))
		dst := ip
		term := &resolver.Node{
			Key:      resolver.TermKey(name, ip),
			Type:     sai.TypeTunnelTermEntry,
			Requires: []*resolver.Node{vr, tunnel},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.TermAttrVR:         d.OID(vr.Key),
					sai.TermAttrType:       sai.TermTypeP2MP,
					sai.TermAttrTunnelType: sai.TunnelTypeIPinIP,
					sai.TermAttrTunnel:     d.OID(tunnel.Key),
					sai.TermAttrDstIP:      dst,
				}, nil
			},
		}
		// Each term entry gets its own binding so that it can be released
		// alone; its keys are then merged into the tunnel's.
		tb := resolver.NewBinding(e.binding.Owner)
		if _, err := o.R.Resolve(ctx, tb, term); err != nil {
			return err
		}
		o.R.Adopt(e.binding, tb)
		e.terms[ip] = term.Key
	}

	var stale []string
	for ip := range e.terms {
		if !want[ip] {
			stale = append(stale, ip)
		}
	}
	sort.Strings(stale)
	for _, ip := range stale {
		key := e.terms[ip]
		if err := o.R.ReleaseKeys(ctx, e.binding, key, resolver.TunnelKey(name), resolver.VRKey("")); err != nil {
			return err
		}
		delete(e.terms, ip)
	}
	return nil
}

func (o *Orch) removeDecap(ctx context.Context, id, name string) error {
	e := o.decaps.Get(name)
	if err := o.R.CheckUnused(resolver.TunnelKey(name), e.binding.Owner); err != nil {
		return o.Defer(id, err)
	}
	if err := o.R.Release(ctx, e.binding); err != nil {
		return err
	}
	o.decaps.Delete(name)
	o.Forgotten(id)
	o.Log.WithField("tunnel", name).Infof("Decap tunnel removed")
	return nil
}

// peerTunnelName names the P2P tunnel toward a peer switch.
func peerTunnelName(name string) string { return "peer:" + name }

func (o *Orch) updatePeer(name string, fields map[string]string) error {
	f := orch.NewFields(fields)
	addr := f.String("address_ipv4", "")
	ip := net.ParseIP(addr)
	f.Check(ip != nil && ip.To4() != nil, "address_ipv4: %q is not an IPv4 address", addr)
	if err := f.Err(PeerSwitchTable, name); err != nil {
		return err
	}
	if cur := o.peers.Get(name); cur != nil && !cur.binding.Empty() && cur.address != ip.String() {
		return util.InvalidIntentf(PeerSwitchTable, name, "address of a live peer cannot change")
	}
	e := o.peers.GetOrCreate(name, func() *peer {
		return &peer{binding: resolver.NewBinding(o.Owner(orch.TaskID(PeerSwitchTable, name)))}
	})
	e.address = ip.String()
	return nil
}

func (o *Orch) reconcilePeer(ctx context.Context, id, name string) error {
	e := o.peers.Get(name)
	tunnelName := peerTunnelName(name)
	if e.binding.Empty() {
		d := o.decaps.Get(o.muxTunnel)
		if d == nil || d.binding.Empty() || len(d.cfg.dstIPs) == 0 {
			return o.Defer(id, util.NewDependencyError(name, "object", resolver.TunnelKey(o.muxTunnel)))
		}
		src := d.cfg.dstIPs[0]
		decapRef := resolver.Ref(resolver.TunnelKey(o.muxTunnel))
		overlay := resolver.Ref(overlayKey(o.muxTunnel))
		underlay := resolver.Ref(resolver.LoopbackRifKey)
		dst := e.address
		n := &resolver.Node{
			Key:      resolver.TunnelKey(tunnelName),
			Type:     sai.TypeTunnel,
			Requires: []*resolver.Node{decapRef, overlay, underlay},
			Build: func(d resolver.Deps) (sai.Attrs, error) {
				return sai.Attrs{
					sai.TunnelAttrType:           sai.TunnelTypeIPinIP,
					sai.TunnelAttrEncapSrcIP:     src,
					sai.TunnelAttrEncapDstIP:     dst,
					sai.TunnelAttrPeerMode:       sai.TunnelPeerModeP2P,
					sai.TunnelAttrOverlay:        d.OID(overlay.Key),
					sai.TunnelAttrUnderlay:       d.OID(underlay.Key),
					sai.TunnelAttrEncapTTL:       sai.TunnelTTLPipe,
					sai.TunnelAttrLoopbackAction: sai.PacketActionDrop,
				}, nil
			},
		}
		if _, err := o.R.Resolve(ctx, e.binding, n); err != nil {
			return o.Defer(id, err)
		}
		o.Unwatch(id)
		o.Log.WithFields(logrus.Fields{"peer": name, "address": dst}).Infof("Peer switch tunnel created")
	}
	o.R.SetMuxTunnel(tunnelName, e.address)
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) removePeer(ctx context.Context, id, name string) error {
	e := o.peers.Get(name)
	tunnelName := peerTunnelName(name)
	o.R.ClearMuxTunnel(tunnelName)
	if err := o.R.CheckUnused(resolver.TunnelKey(tunnelName), e.binding.Owner); err != nil {
		return o.Defer(id, err)
	}
	if err := o.R.Release(ctx, e.binding); err != nil {
		return err
	}
	o.peers.Delete(name)
	o.Forgotten(id)
	o.Log.WithField("peer", name).Infof("Peer switch tunnel removed")
	return nil
}
