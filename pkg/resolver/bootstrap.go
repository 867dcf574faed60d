package resolver

import (
	"context"
	"fmt"

	"github.com/newtron-network/newtorch/pkg/sai"
)

// BootstrapOwner owns the objects created at switch initialization.
const BootstrapOwner = "engine"

// Bootstrap creates the switch, the default virtual router, the CPU port
// and the underlay loopback router interface. The returned binding keeps
// them alive for the lifetime of the engine.
func (r *Resolver) Bootstrap(ctx context.Context, mac string) (*Binding, error) {
	b := NewBinding(BootstrapOwner)

	sw := &Node{
		Key:  SwitchKey,
		Type: sai.TypeSwitch,
		Build: func(Deps) (sai.Attrs, error) {
			return sai.Attrs{
				sai.SwitchAttrInitSwitch: sai.Bool(true),
				sai.SwitchAttrSrcMAC:     mac,
			}, nil
		},
	}
	if _, err := r.Resolve(ctx, b, sw); err != nil {
		return nil, fmt.Errorf("creating switch: %w", err)
	}

	cpu := &Node{
		Key:      CPUPortKey,
		Type:     sai.TypePort,
		Requires: []*Node{Ref(SwitchKey)},
		Build: func(Deps) (sai.Attrs, error) {
			return sai.Attrs{sai.PortAttrType: sai.PortTypeCPU}, nil
		},
	}
	vr := &Node{
		Key:      VRKey(DefaultVRF),
		Type:     sai.TypeVirtualRouter,
		Requires: []*Node{Ref(SwitchKey)},
		Build: func(Deps) (sai.Attrs, error) {
			return sai.Attrs{sai.VirtualRouterAttrSrcMAC: mac}, nil
		},
	}
	lo := &Node{
		Key:      LoopbackRifKey,
		Type:     sai.TypeRouterInterface,
		Requires: []*Node{vr},
		Build: func(d Deps) (sai.Attrs, error) {
			return sai.Attrs{
				sai.RifAttrType: sai.RifTypeLoopback,
				sai.RifAttrVR:   d.OID(vr.Key),
			}, nil
		},
	}
	for _, n := range []*Node{cpu, lo} {
		if _, err := r.Resolve(ctx, b, n); err != nil {
			if rerr := r.Release(ctx, b); rerr != nil {
				r.log.WithError(rerr).Error("Releasing partial bootstrap failed")
			}
			return nil, fmt.Errorf("bootstrapping %s: %w", n.Key, err)
		}
	}

	swh, _ := r.Handle(SwitchKey)
	vrh, _ := r.Handle(vr.Key)
	cpuh, _ := r.Handle(CPUPortKey)
	for attr, v := range map[string]string{
		sai.SwitchAttrDefaultVR: vrh.ID,
		sai.SwitchAttrCPUPort:   cpuh.ID,
	} {
		if err := r.boundary.Set(ctx, swh, attr, v); err != nil {
			return nil, fmt.Errorf("bootstrapping switch: %w", err)
		}
	}
	r.mu.Lock()
	r.mac = mac
	r.mu.Unlock()
	r.log.WithField("mac", mac).Infof("Switch %s bootstrapped", swh.ID)
	return b, nil
}
