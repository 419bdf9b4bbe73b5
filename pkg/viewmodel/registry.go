package viewmodel

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds the declared views and the live viewmodels opened from them.
type Registry struct {
	newID  func() string
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	views map[string]View
	live  map[string]*Viewmodel
}

type RegistryOption func(*Registry)

// WithIDGenerator replaces the uuid v7 generator used for viewmodel and widget ids.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) { r.newID = fn }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = fn }
}

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
		now:    time.Now,
		logger: slog.Default(),
		views:  make(map[string]View),
		live:   make(map[string]*Viewmodel),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(v View) error {
	if v.Name == "" {
		return fmt.Errorf("view name is required")
	}
	if v.New == nil {
		return fmt.Errorf("view %s has no constructor", v.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[v.Name]; ok {
		return fmt.Errorf("view %s already registered", v.Name)
	}
	r.views[v.Name] = v
	return nil
}

// Open builds a new viewmodel of viewName.
func (r *Registry) Open(viewName string) (*Viewmodel, error) {
	r.mu.RLock()
	v, ok := r.views[viewName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, viewName)
	}

	vm, err := newViewmodel(r.newID(), v.Name, v.New(), r.newID, r.now, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open view %s: %w", viewName, err)
	}
	r.mu.Lock()
	r.live[vm.ID] = vm
	r.mu.Unlock()
	r.logger.Info("opened viewmodel", "view", viewName, "viewmodel", vm.ID, "widgets", len(vm.order))
	return vm, nil
}

func (r *Registry) Lookup(id string) (*Viewmodel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vm, ok := r.live[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return vm, nil
}

// Range calls fn on every live viewmodel, ordered by id, until fn returns false.
func (r *Registry) Range(fn func(*Viewmodel) bool) {
	r.mu.RLock()
	vms := make([]*Viewmodel, 0, len(r.live))
	for _, vm := range r.live {
		vms = append(vms, vm)
	}
	r.mu.RUnlock()
	sort.Slice(vms, func(i, j int) bool { return vms[i].ID < vms[j].ID })
	for _, vm := range vms {
		if !fn(vm) {
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Evict removes viewmodels unused for longer than idle. A busy viewmodel is
// kept. Evicted viewmodels have their Done channel closed and refuse Acquire,
// so a request that looked one up before eviction can not change it.
func (r *Registry) Evict(idle time.Duration) []*Viewmodel {
	cutoff := r.now().Add(-idle)
	var evicted []*Viewmodel

	r.mu.Lock()
	for id, vm := range r.live {
		if vm.LastUsed().After(cutoff) {
			continue
		}
		if !vm.busy.TryLock() {
			continue
		}
		delete(r.live, id)
		vm.close()
		vm.busy.Unlock()
		evicted = append(evicted, vm)
	}
	r.mu.Unlock()

	for _, vm := range evicted {
		r.logger.Info("evicted viewmodel", "viewmodel", vm.ID, "last_used", vm.LastUsed())
	}
	return evicted
}
