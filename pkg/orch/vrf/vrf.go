// Package vrf converges CONFIG_DB VRF into SAI virtual routers.
package vrf

import (
	"context"
	"strings"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Tables
const (
	ConfigTable = "VRF"
	ApplTable   = "VRF_TABLE"
	StateTable  = "VRF_TABLE"
)

// Prefix is required of every user VRF name.
const Prefix = "Vrf"

type config struct {
	v4 bool
	v6 bool
}

type entity struct {
	cfg     config
	binding *resolver.Binding
}

// Orch is the VRF orchestrator.
type Orch struct {
	*orch.Base
	vrfs *orch.Entities[entity]
}

// New creates the VRF orchestrator.
func New(r *resolver.Resolver, st store.Store) *Orch {
	return &Orch{
		Base: orch.NewBase("vrf", r, st),
		vrfs: orch.NewEntities[entity](),
	}
}

// Sources implements orch.Orchestrator.
func (o *Orch) Sources() []orch.Source {
	return []orch.Source{{DB: store.ConfigDB, Table: ConfigTable}}
}

// Apply implements orch.Orchestrator.
func (o *Orch) Apply(ctx context.Context, t orch.Task) error {
	return o.Run(ctx, t, orch.Lifecycle{
		Update:     o.update,
		Reconcile:  o.reconcile,
		Remove:     o.remove,
		Known:      o.vrfs.Has,
		Programmed: func(k string) bool { return !o.vrfs.Get(k).binding.Empty() },
		Forget:     o.vrfs.Delete,
	})
}

func (o *Orch) update(name string, fields map[string]string) error {
	if !strings.HasPrefix(name, Prefix) || name == Prefix {
		return util.InvalidIntentf(ConfigTable, name, "VRF name must start with %q", Prefix)
	}
	f := orch.NewFields(fields)
	cfg := config{
		v4: f.OneOf("v4", "true", "true", "false") == "true",
		v6: f.OneOf("v6", "true", "true", "false") == "true",
	}
	if err := f.Err(ConfigTable, name); err != nil {
		return err
	}
	e := o.vrfs.GetOrCreate(name, func() *entity {
		return &entity{binding: resolver.NewBinding(o.Owner(orch.TaskID(ConfigTable, name)))}
	})
	e.cfg = cfg
	return nil
}

func (o *Orch) wantAttrs(cfg config) sai.Attrs {
	return sai.Attrs{
		sai.VirtualRouterAttrV4State: sai.Bool(cfg.v4),
		sai.VirtualRouterAttrV6State: sai.Bool(cfg.v6),
	}
}

func (o *Orch) reconcile(ctx context.Context, id, name string) error {
	e := o.vrfs.Get(name)
	want := o.wantAttrs(e.cfg)
	if e.binding.Empty() {
		mac := o.R.SwitchMAC()
		n := &resolver.Node{
			Key:      resolver.VRKey(name),
			Type:     sai.TypeVirtualRouter,
			Requires: []*resolver.Node{resolver.Ref(resolver.SwitchKey)},
			Build: func(resolver.Deps) (sai.Attrs, error) {
				attrs := want.Clone()
				attrs[sai.VirtualRouterAttrSrcMAC] = mac
				return attrs, nil
			},
		}
		if _, err := o.R.Resolve(ctx, e.binding, n); err != nil {
			return o.Defer(id, err)
		}
		o.Log.WithField("vrf", name).Infof("VRF created")
	} else if _, err := o.R.Converge(ctx, resolver.VRKey(name), want); err != nil {
		return err
	}

	if err := o.Publish(ctx, store.ApplDB, ApplTable, name, map[string]string{
		"v4": sai.Bool(e.cfg.v4),
		"v6": sai.Bool(e.cfg.v6),
	}); err != nil {
		return err
	}
	if err := o.Publish(ctx, store.StateDB, StateTable, name, map[string]string{"state": "ok"}); err != nil {
		return err
	}
	o.SetState(id, orch.Active)
	return nil
}

func (o *Orch) remove(ctx context.Context, id, name string) error {
	e := o.vrfs.Get(name)
	if err := o.R.CheckUnused(resolver.VRKey(name), e.binding.Owner); err != nil {
		return o.Defer(id, err)
	}
	if err := o.R.Release(ctx, e.binding); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.ApplDB, ApplTable, name); err != nil {
		return err
	}
	if err := o.Unpublish(ctx, store.StateDB, StateTable, name); err != nil {
		return err
	}
	o.vrfs.Delete(name)
	o.Forgotten(id)
	o.Log.WithField("vrf", name).Infof("VRF removed")
	return nil
}
