package resolver

import (
	"sort"
	"sync"
)

// Dependent identifies an intent that must be re-resolved after a
// transition it depends on.
type Dependent struct {
	Domain string
	Key    string
}

// watchRegistry maps subjects such as port:<p>, nbr:<alias>:<ip>,
// obj:<key> or ref:<key> to dependents. A dependent's subjects are
// replaced as a whole on every set.
type watchRegistry struct {
	mu     sync.Mutex
	bySubj map[string]map[Dependent]struct{}
	byDep  map[Dependent][]string
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{
		bySubj: make(map[string]map[Dependent]struct{}),
		byDep:  make(map[Dependent][]string),
	}
}

func (w *watchRegistry) set(dep Dependent, subjects []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range w.byDep[dep] {
		if deps := w.bySubj[s]; deps != nil {
			delete(deps, dep)
			if len(deps) == 0 {
				delete(w.bySubj, s)
			}
		}
	}
	if len(subjects) == 0 {
		delete(w.byDep, dep)
		return
	}
	w.byDep[dep] = append([]string(nil), subjects...)
	for _, s := range subjects {
		deps := w.bySubj[s]
		if deps == nil {
			deps = make(map[Dependent]struct{})
			w.bySubj[s] = deps
		}
		deps[dep] = struct{}{}
	}
}

func (w *watchRegistry) dependents(subjects []string) []Dependent {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[Dependent]struct{})
	for _, s := range subjects {
		for d := range w.bySubj[s] {
			seen[d] = struct{}{}
		}
	}
	out := make([]Dependent, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Watching returns the subjects dep currently watches.
func (r *Resolver) Watching(domain, key string) []string {
	r.watch.mu.Lock()
	defer r.watch.mu.Unlock()
	return append([]string(nil), r.watch.byDep[Dependent{Domain: domain, Key: key}]...)
}
