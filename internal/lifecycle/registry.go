package lifecycle

import (
	"sort"
	"sync"

	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/region"
)

type op string

const (
	opEnsure op = "ensure"
	opReset  op = "reset"
	opLoad   op = "load"
	opUnload op = "unload"
	opExit   op = "exit"
)

// shares reports whether a request for o with source and spec may take the
// outcome of f instead of running itself. Any creation satisfies an ensure.
// A reset only shares another reset of the same region, so it never returns
// a tree that was copied before it was asked for.
func (f *flight) shares(o op, source string, spec region.Spec) bool {
	switch o {
	case opEnsure:
		return f.op == opEnsure || f.op == opReset
	case opReset:
		return f.op == opReset && f.source == source && f.spec == spec
	}
	return false
}

// flight is the single in-progress transition for one identity.
type flight struct {
	identity string
	owner    string
	// source is replaced with the recorded origin when an ensure loads an
	// existing clone; a reset keeps the one it was asked for.
	source string
	op     op
	spec   region.Spec
	future *Future

	// job is set once the copy starts; guarded by Registry.mu.
	job *copier.Job
}

// Registry tracks in-flight transitions, which owner holds which loaded
// clone, and where each clone was copied from. All state is guarded by one
// mutex that is never held across I/O.
type Registry struct {
	mu      sync.Mutex
	closed  bool
	active  map[string]*flight
	owners  map[string]string
	origins map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		active:  make(map[string]*flight),
		owners:  make(map[string]string),
		origins: make(map[string]string),
	}
}

// claim returns the active flight for identity, or registers a new one.
// fresh is true when the caller owns the returned flight and must finish it.
// A closed registry returns nil.
func (r *Registry) claim(identity, owner, source string, o op, spec region.Spec) (f *flight, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}
	if cur, ok := r.active[identity]; ok {
		return cur, false
	}
	f = &flight{
		identity: identity,
		owner:    owner,
		source:   source,
		op:       o,
		spec:     spec,
		future:   newFuture(),
	}
	r.active[identity] = f
	return f, true
}

func (r *Registry) setJob(f *flight, job *copier.Job) {
	r.mu.Lock()
	f.job = job
	r.mu.Unlock()
}

// land removes f from the active set and, when owned, records that owner
// now holds the clone.
func (r *Registry) land(f *flight, owned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[f.identity] == f {
		delete(r.active, f.identity)
	}
	if owned {
		r.owners[f.owner] = f.identity
		if f.source != "" {
			r.origins[f.identity] = f.source
		}
	}
}

func (r *Registry) disown(owner string) {
	r.mu.Lock()
	delete(r.owners, owner)
	r.mu.Unlock()
}

func (r *Registry) setOrigin(identity, source string) {
	r.mu.Lock()
	r.origins[identity] = source
	r.mu.Unlock()
}

func (r *Registry) forget(identity string) {
	r.mu.Lock()
	delete(r.origins, identity)
	r.mu.Unlock()
}

// close rejects further claims and returns the futures of every flight
// still running.
func (r *Registry) close() []*Future {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	out := make([]*Future, 0, len(r.active))
	for _, f := range r.active {
		out = append(out, f.future)
	}
	return out
}

// drain empties the ownership table and returns the identities it held,
// sorted.
func (r *Registry) drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.owners))
	for _, id := range r.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	r.owners = make(map[string]string)
	r.origins = make(map[string]string)
	return ids
}

// Owned returns the identity owner currently holds.
func (r *Registry) Owned(owner string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.owners[owner]
	return id, ok
}

// Origin returns the source world identity was copied from.
func (r *Registry) Origin(identity string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.origins[identity]
	return src, ok
}

// InFlight returns the running copy job for identity, if any. A transition
// that has not reached its copy yet reports ok with a nil job.
func (r *Registry) InFlight(identity string) (job *copier.Job, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.active[identity]
	if !ok {
		return nil, false
	}
	return f.job, true
}

// ActiveCount is the number of identities with a transition in progress.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
