// Package resources defines the backend collections and the registry the
// CLI resolves them from.
package resources

import (
	"context"
	"sort"

	"github.com/briangreenhill/killerwiki/crud"
	"github.com/briangreenhill/killerwiki/models"
)

// Resource is a collection the CLI can list, show and save
type Resource interface {
	// Name returns the path segment, e.g. "serial-killers"
	Name() string

	// List renders one page of the collection as markdown
	List(ctx context.Context, page int) (string, error)

	// Get renders one entity as markdown
	Get(ctx context.Context, id string) (string, error)

	// Save creates or updates an entity. A validation failure is returned
	// as a value.
	Save(ctx context.Context, payload crud.Payload) (string, *models.ValidationError, error)
}

// Registry manages the available resources
type Registry struct {
	resources map[string]Resource
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]Resource),
	}
}

// Register adds a resource, replacing any with the same name
func (r *Registry) Register(res Resource) {
	r.resources[res.Name()] = res
}

// GetResource retrieves a resource by name
func (r *Registry) GetResource(name string) (Resource, bool) {
	res, exists := r.resources[name]
	return res, exists
}

// List returns all registered resource names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
