// Package registry maps connector types to factories and tracks the source
// connector instances created from them.
//
// Registration is explicit: RegisterAll is called once at process start and
// lists every known connector. Nothing registers itself on import.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/logger"
)

// Factory builds a source connector for one run.
type Factory func(cfg *core.ConnectorConfig, syncCfg config.SyncConfig) (core.SourceConnector, error)

// Descriptor describes a registered connector type. Immutable once registered.
type Descriptor struct {
	Type        core.ConnectorType  `json:"type"`
	Version     string              `json:"version"`
	Description string              `json:"description"`
	Spec        core.ConnectionSpec `json:"spec"`
	Factory     Factory             `json:"-"`
}

// Instance is a connector created through the registry and not yet released.
type Instance struct {
	Key       string               `json:"key"`
	Type      core.ConnectorType   `json:"type"`
	CreatedAt time.Time            `json:"created_at"`
	Connector core.SourceConnector `json:"-"`
}

// Registry manages connector registration and instantiation
type Registry struct {
	mu          sync.RWMutex
	descriptors map[core.ConnectorType]Descriptor
	instances   map[string]*Instance
	logger      *zap.Logger
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[core.ConnectorType]Descriptor),
		instances:   make(map[string]*Instance),
		logger:      logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register adds a connector type. Registering a type twice is a config error.
func (r *Registry) Register(desc Descriptor) error {
	if err := desc.Type.Validate(); err != nil {
		return err
	}
	if desc.Factory == nil {
		return errors.Newf(errors.ErrorTypeConfig, "connector %s registered without a factory", desc.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[desc.Type]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "connector %s already registered", desc.Type)
	}
	r.descriptors[desc.Type] = desc
	r.logger.Debug("connector registered",
		zap.String("type", string(desc.Type)),
		zap.String("version", desc.Version))
	return nil
}

// Create builds a connector for cfg and tracks it until Release. An
// unregistered type fails with an unknown_connector error.
func (r *Registry) Create(cfg *core.ConnectorConfig, syncCfg config.SyncConfig) (*Instance, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "connector config is required")
	}
	if err := cfg.Type.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	desc, ok := r.descriptors[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeUnknownConnector, "no factory registered for connector type %q", cfg.Type)
	}

	conn, err := desc.Factory(cfg, syncCfg)
	if err != nil {
		return nil, err
	}

	id := cfg.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	inst := &Instance{
		Key:       InstanceKey(cfg.Type, id),
		Type:      cfg.Type,
		CreatedAt: time.Now().UTC(),
		Connector: conn,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[inst.Key]; exists {
		_ = conn.Close()
		return nil, errors.Newf(errors.ErrorTypeAlreadyRunning, "connector instance %s is already active", inst.Key)
	}
	r.instances[inst.Key] = inst
	return inst, nil
}

// Release closes a tracked connector and forgets it.
func (r *Registry) Release(key string) error {
	r.mu.Lock()
	inst, ok := r.instances[key]
	delete(r.instances, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return inst.Connector.Close()
}

// Instance returns the tracked instance with key.
func (r *Registry) Instance(key string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[key]
	return inst, ok
}

// Instances returns the tracked instances sorted by key.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Descriptor returns the registration for t.
func (r *Registry) Descriptor(t core.ConnectorType) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[t]
	return d, ok
}

// List returns the registered connectors sorted by type.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Has checks if a connector type is registered
func (r *Registry) Has(t core.ConnectorType) bool {
	_, ok := r.Descriptor(t)
	return ok
}

// InstanceKey names a connector instance as <type>_<id>.
func InstanceKey(t core.ConnectorType, id string) string {
	return fmt.Sprintf("%s_%s", t, id)
}
