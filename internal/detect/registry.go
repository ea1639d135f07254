package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type LifecycleState string

const (
	StateRegistered LifecycleState = "registered"
	StateLoading    LifecycleState = "loading"
	StateLoaded     LifecycleState = "loaded"
	StateLoadFailed LifecycleState = "load_failed"
	StateShutdown   LifecycleState = "shutdown"
)

var ErrDetectorNotFound = errors.New("detector not found")

// Descriptor is the registry's view of a detector: identity, declared
// capabilities, and lifecycle flags. It is mutated only through registry
// operations.
type Descriptor struct {
	Name         string         `json:"name"`
	Type         DetectorType   `json:"type"`
	Capabilities []Capability   `json:"capabilities"`
	Enabled      bool           `json:"enabled"`
	State        LifecycleState `json:"state"`
}

type entry struct {
	detector Detector
	desc     Descriptor
}

// Registry holds the set of available detectors. One logical instance exists
// per process; it is constructed explicitly and passed to whoever needs it
// rather than living in package state. Safe for concurrent registration and
// concurrent reads during in-flight scans.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

func (r *Registry) Register(d Detector) error {
	if d == nil {
		return errors.New("nil detector")
	}
	name := d.Name()
	if name == "" {
		return errors.New("detector has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("detector %s already registered", name)
	}
	r.entries[name] = &entry{
		detector: d,
		desc: Descriptor{
			Name:         name,
			Type:         d.Type(),
			Capabilities: d.Capabilities(),
			Enabled:      true,
			State:        StateRegistered,
		},
	}
	slog.Info("detector registered", "name", name, "type", d.Type())
	return nil
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.detector, true
}

func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

func (r *Registry) GetByType(dtype DetectorType) []Detector {
	return r.filter(func(e *entry) bool {
		return e.desc.Enabled && e.desc.Type == dtype
	})
}

func (r *Registry) GetByCapability(cap Capability) []Detector {
	return r.filter(func(e *entry) bool {
		if !e.desc.Enabled {
			return false
		}
		for _, c := range e.desc.Capabilities {
			if c == cap {
				return true
			}
		}
		return false
	})
}

func (r *Registry) GetEnabled() []Detector {
	return r.filter(func(e *entry) bool { return e.desc.Enabled })
}

func (r *Registry) filter(keep func(*entry) bool) []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if keep(e) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]Detector, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].detector)
	}
	return out
}

func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDetectorNotFound, name)
	}
	e.desc.Enabled = enabled
	return nil
}

// Load runs the detector's LoadModel hook once. A failed load marks the
// detector disabled so the orchestrator never probes it per call.
func (r *Registry) Load(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDetectorNotFound, name)
	}
	if e.desc.State == StateLoaded {
		r.mu.Unlock()
		return nil
	}
	e.desc.State = StateLoading
	d := e.detector
	r.mu.Unlock()

	err := d.LoadModel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		e.desc.State = StateLoadFailed
		e.desc.Enabled = false
		slog.Warn("detector load failed, disabled", "name", name, "error", err)
		return fmt.Errorf("load detector %s: %w", name, err)
	}
	e.desc.State = StateLoaded
	return nil
}

// LoadAll loads every registered detector, collecting failures without
// aborting the remaining loads.
func (r *Registry) LoadAll(ctx context.Context) error {
	var errs []error
	for _, d := range r.snapshot() {
		if err := r.Load(ctx, d.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) HealthCheckAll() []Health {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	detectors := make([]Detector, 0, len(names))
	descs := make([]Descriptor, 0, len(names))
	for _, name := range names {
		detectors = append(detectors, r.entries[name].detector)
		descs = append(descs, r.entries[name].desc)
	}
	r.mu.RUnlock()

	out := make([]Health, 0, len(detectors))
	for i, d := range detectors {
		h := d.HealthCheck()
		h.Enabled = descs[i].Enabled
		h.Loaded = descs[i].State == StateLoaded
		out = append(out, h)
	}
	return out
}

// ShutdownAll waits for every detector's shutdown hook to complete,
// collecting failures without aborting the remaining shutdowns.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	detectors := r.snapshot()

	var wg sync.WaitGroup
	errCh := make(chan error, len(detectors))
	for _, d := range detectors {
		wg.Add(1)
		go func(d Detector) {
			defer wg.Done()
			if err := d.Shutdown(ctx); err != nil {
				errCh <- fmt.Errorf("shutdown %s: %w", d.Name(), err)
			}
		}(d)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	r.mu.Lock()
	for _, e := range r.entries {
		e.desc.State = StateShutdown
		e.desc.Enabled = false
	}
	r.mu.Unlock()
	return errors.Join(errs...)
}

func (r *Registry) snapshot() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Detector, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].detector)
	}
	return out
}

// Reset clears all entries. Test isolation only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[string]*entry{}
}
