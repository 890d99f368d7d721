package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/errs"
	"github.com/and161185/portal-keeper/internal/importer"
	"github.com/and161185/portal-keeper/internal/sessioncache"
)

// Deps are the collaborators handed to every factory.
type Deps struct {
	Log       *zap.Logger
	Cache     sessioncache.Cache
	Importers importer.Set
}

// Factory builds a connector for one portal type.
type Factory func(Deps) (Connector, error)

// Registry maps portal types to factories.
type Registry struct {
	mu        sync.RWMutex
	deps      Deps
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = sessioncache.Nop{}
	}
	return &Registry{deps: deps, factories: map[string]Factory{}}
}

// Register adds a factory. Registering a portal type twice panics.
func (r *Registry) Register(portalType string, f Factory) {
	key := normalize(portalType)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		panic(fmt.Sprintf("connector: duplicate registration for %q", portalType))
	}
	r.factories[key] = f
}

// Lookup builds the connector for portalType.
func (r *Registry) Lookup(portalType string) (Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(portalType)]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Configf(errs.ErrUnknownPortalType, fmt.Sprintf("%q", portalType))
	}
	c, err := f(r.deps)
	if err != nil {
		return nil, fmt.Errorf("build %s connector: %w", portalType, err)
	}
	return c, nil
}

// Types lists registered portal types in order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
