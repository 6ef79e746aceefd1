package deferred

import (
	"sort"
	"sync"
)

// registry maps a key to the handle currently owning it.
//
// The mutex only guards the map; nobody waits on a timer while holding it.
type registry struct {
	name string

	mu sync.Mutex
	m  map[string]*Handle
}

func newRegistry(name string) *registry {
	return &registry{name: name, m: make(map[string]*Handle)}
}

// replace installs h under key and cancels the previous owner in the same
// critical section, so two live entries for one key can never coexist.
func (r *registry) replace(key string, h *Handle) (prev *Handle) {
	r.mu.Lock()
	prev = r.m[key]
	r.m[key] = h
	if prev != nil {
		prev.Cancel()
	}
	r.mu.Unlock()
	return prev
}

// release removes key only while it is still owned by h.
func (r *registry) release(key string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[key]; ok && cur == h {
		delete(r.m, key)
		return true
	}
	return false
}

func (r *registry) get(key string) *Handle {
	r.mu.Lock()
	h := r.m[key]
	r.mu.Unlock()
	return h
}

// cancel removes the entry for key and cancels it. It reports whether the
// callback was prevented from running.
func (r *registry) cancel(key string) bool {
	r.mu.Lock()
	h, ok := r.m[key]
	if ok {
		delete(r.m, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h.Cancel()
}

// cancelAll empties the registry and returns how many entries it cancelled.
func (r *registry) cancelAll() int {
	r.mu.Lock()
	old := r.m
	r.m = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range old {
		h.Cancel()
	}
	return len(old)
}

func (r *registry) len() int {
	r.mu.Lock()
	n := len(r.m)
	r.mu.Unlock()
	return n
}

func (r *registry) keys() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}
