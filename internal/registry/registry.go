package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/switchboard/internal/store"
)

// Descriptor identifies a registered remote agent eligible for dispatch.
type Descriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	OwnerID     string   `json:"owner_id"`
	Visibility  string   `json:"visibility"`
	Categories  []string `json:"categories"`
	Description string   `json:"description"`
	PublicKey   string   `json:"public_key,omitempty"`
}

// Registry is the read path the engine depends on: all public agents matching
// the category plus the caller's own private agents matching it. An empty
// result is a valid outcome, not an error.
type Registry interface {
	Find(ctx context.Context, category string, callerID string) ([]Descriptor, error)
}

// FromStore converts a stored agent row to a dispatch descriptor.
func FromStore(a store.Agent) Descriptor {
	return Descriptor{
		ID:          a.ID,
		Name:        a.Name,
		URL:         a.URL,
		OwnerID:     a.OwnerID,
		Visibility:  a.Visibility,
		Categories:  a.Categories,
		Description: a.Description,
		PublicKey:   a.PublicKey,
	}
}

// StoreRegistry reads descriptors from Postgres.
type StoreRegistry struct {
	St *store.Store
}

func (r *StoreRegistry) Find(ctx context.Context, category string, callerID string) ([]Descriptor, error) {
	agents, err := r.St.FindAgentsByCategory(ctx, category, callerID)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(agents))
	for _, a := range agents {
		out = append(out, FromStore(a))
	}
	return out, nil
}

// StaticRegistry is an in-memory registry used in dev mode and tests.
type StaticRegistry struct {
	mu     sync.RWMutex
	agents map[string]Descriptor
}

func NewStaticRegistry(descs ...Descriptor) *StaticRegistry {
	r := &StaticRegistry{agents: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		r.agents[strings.ToLower(d.ID)] = d
	}
	return r
}

func (r *StaticRegistry) Add(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[strings.ToLower(d.ID)] = d
}

func (r *StaticRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, strings.ToLower(id))
}

func (r *StaticRegistry) Find(ctx context.Context, category string, callerID string) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, d := range r.agents {
		if !hasCategory(d.Categories, category) {
			continue
		}
		if d.Visibility != store.VisibilityPublic && d.OwnerID != callerID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func hasCategory(categories []string, category string) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}
