// Package resolver resolves forwarding objects together with everything
// they depend on.
//
// A Node describes one object: its logical key, its type, the nodes it
// requires, and how to compute its attributes once those are resolved.
// Resolve walks the requirements depth first and acquires each node through
// the reference table before the node itself, recording the acquisition in
// a Binding. Every binding holds its full dependency closure, so an object
// is always released before the objects it depends on.
//
// The resolver also owns the cross-domain state the orchestrators share:
// mux link state, the mux tunnel identity, link attributes, and the
// watch/notify registry used to requeue dependents.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtorch/pkg/reftable"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/util"
)

// Deps maps required node keys to their resolved handles.
type Deps map[string]sai.Handle

// OID returns the object id of a resolved requirement.
func (d Deps) OID(key string) string {
	return d[key].ID
}

// Node describes a forwarding object to resolve.
type Node struct {
	Key      string
	Type     sai.ObjectType
	Requires []*Node
	// Entry builds the entry key of route and neighbor entries.
	Entry func(deps Deps) sai.Entry
	// Build computes the creation attributes.
	Build func(deps Deps) (sai.Attrs, error)
	// External nodes are created by another owner and only referenced.
	External bool
}

// Ref returns an external node for key.
func Ref(key string) *Node {
	return &Node{Key: key, External: true}
}

// Binding is the ordered list of keys acquired on behalf of one owner.
type Binding struct {
	Owner string
	keys  []string
}

// NewBinding creates an empty binding.
func NewBinding(owner string) *Binding {
	return &Binding{Owner: owner}
}

// Keys returns the acquired keys in acquisition order.
func (b *Binding) Keys() []string {
	if b == nil {
		return nil
	}
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Empty reports whether the binding holds nothing.
func (b *Binding) Empty() bool {
	return b == nil || len(b.keys) == 0
}

// Holds reports whether the binding acquired key.
func (b *Binding) Holds(key string) bool {
	if b == nil {
		return false
	}
	for _, k := range b.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Notifier requeues a dependent after a transition it watches.
type Notifier interface {
	Requeue(domain, key string)
}

// Resolver resolves nodes against the reference table and the boundary.
type Resolver struct {
	boundary sai.Boundary
	refs     *reftable.Table[sai.Handle]
	mux      *MuxView
	links    *linkRegistry
	watch    *watchRegistry
	log      *logrus.Entry

	mu        sync.RWMutex
	notifier  Notifier
	muxTunnel muxTunnel
	mac       string
}

// New creates a resolver.
func New(b sai.Boundary, strictRefs bool) *Resolver {
	return &Resolver{
		boundary: b,
		refs:     reftable.New[sai.Handle]("objects", strictRefs),
		mux:      newMuxView(),
		links:    newLinkRegistry(),
		watch:    newWatchRegistry(),
		log:      util.WithField("component", "resolver"),
	}
}

// SetNotifier installs the dependent requeue hook (the driver).
func (r *Resolver) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// Boundary returns the hardware boundary.
func (r *Resolver) Boundary() sai.Boundary { return r.boundary }

// Refs returns the reference table.
func (r *Resolver) Refs() *reftable.Table[sai.Handle] { return r.refs }

// Mux returns the mux link state view.
func (r *Resolver) Mux() *MuxView { return r.mux }

// Resolve acquires n and its requirements for b.Owner. On failure every
// key acquired by this call is released in reverse order and b is left
// unchanged, unless a release fails: the keys not yet released are then
// appended to b so that releasing b later frees them.
func (r *Resolver) Resolve(ctx context.Context, b *Binding, n *Node) (sai.Handle, error) {
	var acquired []string
	h, err := r.resolve(ctx, b.Owner, n, map[string]bool{}, &acquired)
	if err != nil {
		for i := len(acquired) - 1; i >= 0; i-- {
			if rerr := r.releaseKey(ctx, b.Owner, acquired[i]); rerr != nil {
				// Keep what is still held so the owner's Release retries it.
				r.log.WithError(rerr).WithField("key", acquired[i]).Error("Rollback failed")
				b.keys = append(b.keys, acquired[:i+1]...)
				break
			}
		}
		return sai.Handle{}, err
	}
	b.keys = append(b.keys, acquired...)
	return h, nil
}

func (r *Resolver) resolve(ctx context.Context, owner string, n *Node, visiting map[string]bool, acquired *[]string) (sai.Handle, error) {
	if visiting[n.Key] {
		return sai.Handle{}, util.InvalidIntentf("dependency", n.Key, "dependency cycle through %s", n.Key)
	}
	visiting[n.Key] = true
	defer delete(visiting, n.Key)

	if n.External {
		h, err := r.refs.AcquireExisting(n.Key, owner)
		if err != nil {
			return sai.Handle{}, err
		}
		*acquired = append(*acquired, n.Key)
		return h, nil
	}

	deps := make(Deps, len(n.Requires))
	for _, req := range n.Requires {
		h, err := r.resolve(ctx, owner, req, visiting, acquired)
		if err != nil {
			return sai.Handle{}, err
		}
		deps[req.Key] = h
	}

	created := false
	h, err := r.refs.Acquire(n.Key, owner, func() (sai.Handle, error) {
		var attrs sai.Attrs
		if n.Build != nil {
			var err error
			if attrs, err = n.Build(deps); err != nil {
				return sai.Handle{}, err
			}
		}
		var entry sai.Entry
		if n.Entry != nil {
			entry = n.Entry(deps)
		}
		h, err := r.boundary.Create(ctx, n.Type, entry, attrs)
		if err != nil {
			return sai.Handle{}, fmt.Errorf("creating %s: %w", n.Key, err)
		}
		created = true
		return h, nil
	})
	if err != nil {
		return sai.Handle{}, err
	}
	*acquired = append(*acquired, n.Key)
	if created {
		r.Notify("obj:" + n.Key)
	}
	return h, nil
}

// Release releases b in reverse acquisition order, removing objects whose
// count reaches zero. It stops at the first failure; the keys not yet
// released stay in b so that a later Release can finish the job.
func (r *Resolver) Release(ctx context.Context, b *Binding) error {
	if b == nil {
		return nil
	}
	for len(b.keys) > 0 {
		key := b.keys[len(b.keys)-1]
		if err := r.releaseKey(ctx, b.Owner, key); err != nil {
			return err
		}
		b.keys = b.keys[:len(b.keys)-1]
	}
	return nil
}

// ReleaseKeys releases the last occurrence of each key from b, in the
// given order.
func (r *Resolver) ReleaseKeys(ctx context.Context, b *Binding, keys ...string) error {
	for _, key := range keys {
		idx := -1
		for i := len(b.keys) - 1; i >= 0; i-- {
			if b.keys[i] == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		if err := r.releaseKey(ctx, b.Owner, key); err != nil {
			return err
		}
		b.keys = append(b.keys[:idx], b.keys[idx+1:]...)
	}
	return nil
}

// Adopt moves every key of src to the end of dst. Both must have the same
// owner.
func (r *Resolver) Adopt(dst, src *Binding) {
	dst.keys = append(dst.keys, src.keys...)
	src.keys = nil
}

func (r *Resolver) releaseKey(ctx context.Context, owner, key string) error {
	err := r.refs.ReleaseFunc(key, owner, func(h sai.Handle) error {
		if err := r.boundary.Remove(ctx, h); err != nil {
			return fmt.Errorf("removing %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.Notify("ref:" + key)
	return nil
}

// Handle returns the handle of a live object.
func (r *Resolver) Handle(key string) (sai.Handle, bool) {
	return r.refs.Lookup(key)
}

// Exists reports whether key names a live object.
func (r *Resolver) Exists(key string) bool {
	_, ok := r.refs.Lookup(key)
	return ok
}

// Users returns the owners other than owner that hold key.
func (r *Resolver) Users(key, owner string) []string {
	var users []string
	for o := range r.refs.Owners(key) {
		if o != owner {
			users = append(users, o)
		}
	}
	return users
}

// CheckUnused returns an InUse error when owners other than owner hold key.
func (r *Resolver) CheckUnused(key, owner string) error {
	if users := r.Users(key, owner); len(users) > 0 {
		return util.NewInUseError(key, users...)
	}
	return nil
}

// SetAttr updates one attribute of a live object.
func (r *Resolver) SetAttr(ctx context.Context, key, attr, value string) error {
	h, ok := r.refs.Lookup(key)
	if !ok {
		return util.NewDependencyError(key, "object", key)
	}
	return r.boundary.Set(ctx, h, attr, value)
}

// Converge reads the live attributes of key and pushes those in want
// that differ. It returns the number of attributes written.
func (r *Resolver) Converge(ctx context.Context, key string, want sai.Attrs) (int, error) {
	h, ok := r.refs.Lookup(key)
	if !ok {
		return 0, util.NewDependencyError(key, "object", key)
	}
	have, err := r.boundary.Get(ctx, h)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, attr := range sortedAttrs(want) {
		if cur, ok := have[attr]; ok && cur == want[attr] {
			continue
		}
		if err := r.boundary.Set(ctx, h, attr, want[attr]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func sortedAttrs(a sai.Attrs) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SwitchMAC returns the router MAC the switch was bootstrapped with.
func (r *Resolver) SwitchMAC() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mac
}

// SwitchID returns the switch object id used in entry keys.
func (r *Resolver) SwitchID() string {
	h, _ := r.refs.Lookup(SwitchKey)
	return h.ID
}

// Watch registers dep's interest in subjects, replacing earlier ones.
func (r *Resolver) Watch(domain, key string, subjects ...string) {
	r.watch.set(Dependent{Domain: domain, Key: key}, subjects)
}

// Unwatch drops every subscription of dep.
func (r *Resolver) Unwatch(domain, key string) {
	r.watch.set(Dependent{Domain: domain, Key: key}, nil)
}

// Notify requeues every dependent watching one of subjects.
func (r *Resolver) Notify(subjects ...string) {
	deps := r.watch.dependents(subjects)
	if len(deps) == 0 {
		return
	}
	r.mu.RLock()
	n := r.notifier
	r.mu.RUnlock()
	if n == nil {
		return
	}
	for _, d := range deps {
		n.Requeue(d.Domain, d.Key)
	}
}
