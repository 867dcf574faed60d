package orch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtorch/pkg/orch"
	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
	"github.com/newtron-network/newtorch/pkg/util"
)

func newBase(t *testing.T) *orch.Base {
	t.Helper()
	st := store.NewMemory()
	r := resolver.New(sai.NewAsicDB(st), true)
	return orch.NewBase("test", r, st)
}

func TestTaskID(t *testing.T) {
	id := orch.TaskID("INTERFACE", "Ethernet8|fc00::1/126")
	if id != "INTERFACE|Ethernet8|fc00::1/126" {
		t.Fatalf("TaskID() = %q", id)
	}
	table, key := orch.ParseTaskID(id)
	if table != "INTERFACE" || key != "Ethernet8|fc00::1/126" {
		t.Errorf("ParseTaskID(%q) = %q, %q", id, table, key)
	}

	tests := []struct {
		task orch.Task
		want string
	}{
		{orch.Task{Table: "PORT", Key: "Ethernet0", Fields: map[string]string{"mtu": "9100"}}, "set PORT|Ethernet0"},
		{orch.Task{Table: "PORT", Key: "Ethernet0"}, "del PORT|Ethernet0"},
		{orch.Task{Table: "PORT", Key: "Ethernet0", Resync: true}, "resync PORT|Ethernet0"},
	}
	for _, tt := range tests {
		if got := tt.task.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFields(t *testing.T) {
	f := orch.NewFields(map[string]string{
		"mtu":          "9216",
		"admin_status": "up",
		"action":       "drop",
		"dst_ip":       "10.1.0.32, 10.1.0.33",
	})
	if got := f.Int("mtu", orch.DefaultMTU, 68, 9216); got != 9216 {
		t.Errorf("Int(mtu) = %d", got)
	}
	if got := f.Int("speed", 100000, 1, 400000); got != 100000 {
		t.Errorf("Int(absent) = %d, want default", got)
	}
	if !f.Admin("admin_status", orch.AdminDown) {
		t.Error("Admin(admin_status) = down")
	}
	if got := f.OneOf("action", "drop", "drop", "forward", "alert"); got != "drop" {
		t.Errorf("OneOf(action) = %q", got)
	}
	if diff := cmp.Diff([]string{"10.1.0.32", "10.1.0.33"}, f.List("dst_ip")); diff != "" {
		t.Errorf("List(dst_ip) mismatch (-want +got):\n%s", diff)
	}
	if err := f.Err("PORT", "Ethernet0"); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	bad := orch.NewFields(map[string]string{"mtu": "jumbo", "action": "shout", "detection_time": "5"})
	bad.Int("mtu", orch.DefaultMTU, 68, 9216)
	bad.OneOf("action", "drop", "drop", "forward")
	bad.Int("detection_time", 200, 100, 5000)
	bad.Check(bad.Has("restoration_time"), "restoration_time is required")
	err := bad.Err("PFC_WD", "Ethernet0")
	if !errors.Is(err, util.ErrInvalidIntent) {
		t.Fatalf("Err() = %v, want invalid intent", err)
	}
	var ve *util.ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 4 {
		t.Errorf("validation errors = %v, want 4", ve)
	}
}

func TestWaitSubjects(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"missing object", util.NewDependencyError("route", "object", "rif:Ethernet8"), []string{"obj:rif:Ethernet8"}},
		{"missing link", util.NewDependencyError("Ethernet8", "link", "Ethernet8"), nil},
		{"in use", util.NewInUseError("lag:PortChannel1", "lagmember:Ethernet0"), []string{"ref:lag:PortChannel1"}},
		{"other", errors.New("boom"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, orch.WaitSubjects(tt.err)); diff != "" {
				t.Errorf("WaitSubjects() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefer(t *testing.T) {
	b := newBase(t)
	id := orch.TaskID("INTERFACE", "Ethernet8")
	err := util.NewDependencyError("Ethernet8", "object", "vr:Vrf1")

	if got := b.Defer(id, err, "link:Ethernet8", "link:Ethernet8"); got != err {
		t.Errorf("Defer() returned %v, want the input error", got)
	}
	if b.State(id) != orch.Pending {
		t.Errorf("State() = %v, want pending", b.State(id))
	}
	want := []string{"link:Ethernet8", "obj:vr:Vrf1"}
	if diff := cmp.Diff(want, b.R.Watching("test", id)); diff != "" {
		t.Errorf("watched subjects mismatch (-want +got):\n%s", diff)
	}

	b.SetState(id, orch.Active)
	b.Defer(id, err)
	if b.State(id) != orch.Active {
		t.Errorf("Defer() moved an active entity to %v", b.State(id))
	}
}

// lifecycle records calls against a single-entity intent table.
type lifecycle struct {
	intents    *orch.Entities[string]
	programmed map[string]bool
	calls      []string
}

func (l *lifecycle) hooks() orch.Lifecycle {
	return orch.Lifecycle{
		Update: func(key string, fields map[string]string) error {
			v := fields["value"]
			l.intents.GetOrCreate(key, func() *string { return &v })
			l.calls = append(l.calls, "update "+key)
			return nil
		},
		Reconcile: func(ctx context.Context, id, key string) error {
			l.programmed[key] = true
			l.calls = append(l.calls, "reconcile "+key)
			return nil
		},
		Remove: func(ctx context.Context, id, key string) error {
			delete(l.programmed, key)
			l.intents.Delete(key)
			l.calls = append(l.calls, "remove "+key)
			return nil
		},
		Known:      l.intents.Has,
		Programmed: func(key string) bool { return l.programmed[key] },
		Forget:     l.intents.Delete,
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("set then delete", func(t *testing.T) {
		b := newBase(t)
		l := &lifecycle{intents: orch.NewEntities[string](), programmed: map[string]bool{}}
		set := orch.Task{Table: "VRF", Key: "Vrf1", Fields: map[string]string{"value": "x"}}
		del := orch.Task{Table: "VRF", Key: "Vrf1"}

		for _, task := range []orch.Task{set, del, del} {
			if err := b.Run(ctx, task, l.hooks()); err != nil {
				t.Fatalf("Run(%v) error = %v", task, err)
			}
		}
		want := []string{"update Vrf1", "reconcile Vrf1", "remove Vrf1"}
		if diff := cmp.Diff(want, l.calls); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("delete of pending entity is forgotten", func(t *testing.T) {
		b := newBase(t)
		l := &lifecycle{intents: orch.NewEntities[string](), programmed: map[string]bool{}}
		v := "x"
		l.intents.GetOrCreate("Vrf2", func() *string { return &v })
		id := orch.TaskID("VRF", "Vrf2")
		b.Defer(id, util.NewDependencyError("Vrf2", "object", "switch"))

		if err := b.Run(ctx, orch.Task{Table: "VRF", Key: "Vrf2"}, l.hooks()); err != nil {
			t.Fatal(err)
		}
		if len(l.calls) != 0 {
			t.Errorf("pending delete touched the entity: %v", l.calls)
		}
		if l.intents.Has("Vrf2") || b.State(id) != orch.Absent {
			t.Error("pending entity was not forgotten")
		}
		if w := b.R.Watching("test", id); len(w) != 0 {
			t.Errorf("forgotten entity still watches %v", w)
		}
	})

	t.Run("resync of unknown key is ignored", func(t *testing.T) {
		b := newBase(t)
		l := &lifecycle{intents: orch.NewEntities[string](), programmed: map[string]bool{}}
		if err := b.Run(ctx, orch.Task{Table: "VRF", Key: "Vrf3", Resync: true}, l.hooks()); err != nil {
			t.Fatal(err)
		}
		if len(l.calls) != 0 {
			t.Errorf("calls = %v, want none", l.calls)
		}
	})
}

func TestHandlers(t *testing.T) {
	var got string
	h := orch.Handlers{
		"PORT": func(ctx context.Context, t orch.Task) error { got = t.Key; return nil },
	}
	if err := h.Apply(context.Background(), orch.Task{Table: "PORT", Key: "Ethernet4", Fields: map[string]string{}}); err != nil || got != "Ethernet4" {
		t.Errorf("Apply(PORT) = %v, handled %q", err, got)
	}
	if err := h.Apply(context.Background(), orch.Task{Table: "VLAN", Key: "Vlan10"}); err == nil {
		t.Error("Apply(VLAN) should fail without a handler")
	}
}

func TestEntitiesKeys(t *testing.T) {
	e := orch.NewEntities[int]()
	for _, k := range []string{"Ethernet8", "Ethernet0", "Ethernet4"} {
		k := k
		e.GetOrCreate(k, func() *int { n := len(k); return &n })
	}
	if diff := cmp.Diff([]string{"Ethernet0", "Ethernet4", "Ethernet8"}, e.Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}
