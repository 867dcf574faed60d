package driver

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/newtorch/pkg/orch"
)

func set(key, v string) orch.Task {
	return orch.Task{Table: "T", Key: key, Fields: map[string]string{"v": v}}
}

func del(key string) orch.Task { return orch.Task{Table: "T", Key: key} }

func resync(key string) orch.Task { return orch.Task{Table: "T", Key: key, Resync: true} }

func drain(q *keyQueue) []string {
	var out []string
	for {
		t, ok := q.pop()
		if !ok {
			return out
		}
		out = append(out, describe(t))
		q.done(t.ID())
	}
}

func describe(t orch.Task) string {
	switch {
	case t.Resync:
		return "resync " + t.Key
	case t.Deleted():
		return "del " + t.Key
	}
	return "set " + t.Key + "=" + t.Fields["v"]
}

func TestKeyQueue(t *testing.T) {
	tests := []struct {
		name string
		in   []orch.Task
		want []string
	}{
		{"sets coalesce", []orch.Task{set("a", "1"), set("a", "2"), set("a", "3")}, []string{"set a=3"}},
		{"delete cancels pending create", []orch.Task{set("a", "1"), del("a")}, []string{"del a"}},
		{"set after delete keeps order", []orch.Task{set("a", "1"), del("a"), set("a", "2")}, []string{"del a", "set a=2"}},
		{"resync dropped behind queued work", []orch.Task{set("a", "1"), resync("a")}, []string{"set a=1"}},
		{"set replaces resync", []orch.Task{resync("a"), set("a", "1")}, []string{"set a=1"}},
		{"keys in arrival order", []orch.Task{set("b", "1"), set("a", "1"), set("b", "2")}, []string{"set b=2", "set a=1"}},
		{"double delete", []orch.Task{del("a"), del("a")}, []string{"del a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newKeyQueue()
			for _, in := range tt.in {
				q.push(in)
			}
			got := drain(q)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKeyQueueInFlight(t *testing.T) {
	q := newKeyQueue()
	q.push(set("a", "1"))
	q.push(set("b", "1"))

	first, _ := q.pop()
	if first.Key != "a" {
		t.Fatalf("pop() = %s, want a", first.Key)
	}
	// A delete for the in-flight key waits for it; a delete discards only
	// what is still queued.
	q.push(set("a", "2"))
	q.push(del("a"))
	second, _ := q.pop()
	if second.Key != "b" {
		t.Fatalf("pop() = %s, want b while a is in flight", second.Key)
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop() handed out a second task for an in-flight key")
	}
	if !q.busy() || q.depth() != 1 {
		t.Errorf("busy() = %v depth() = %d, want true 1", q.busy(), q.depth())
	}

	q.done("T|a")
	q.done("T|b")
	if diff := cmp.Diff([]string{"del a"}, drain(q)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if q.busy() {
		t.Error("busy() after drain")
	}
}
