// Package capability defines the static catalog of chat capabilities the
// intent router can dispatch to. The registry is populated once at startup
// and read-only afterwards, so concurrent reads need no locking.
package capability

import (
	"fmt"
)

// Context is the slice of request context a capability precondition can see.
type Context struct {
	Plan         string
	PageContext  string
	MentionCount int
}

// Schema describes a capability's parameters in the JSON-schema subset the
// generation oracle understands for function calling.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property is a single schema parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Descriptor declares a capability: its identity, the function name exposed
// to the oracle, and the precondition re-checked independently of whatever
// the oracle claims.
type Descriptor struct {
	// ID is the intent identifier surfaced to callers ("test", "flashcard",
	// "course_search").
	ID string

	// FunctionName is the name in the oracle's function declarations.
	FunctionName string

	Description string
	Keywords    []string
	Examples    []string

	// Parameters is the oracle-facing argument schema, nil when the
	// capability takes none.
	Parameters *Schema

	// Validate checks the capability's precondition against the actual
	// request context. A non-nil error forces the decision to "none" with
	// the error text as reasoning.
	Validate func(args map[string]string, rc Context) error
}

// FunctionDeclaration is the wire form of a descriptor sent to the oracle
// and exposed on the documentation endpoint.
type FunctionDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Registry holds the fixed capability set for a deployment.
type Registry struct {
	byID       map[string]*Descriptor
	byFunction map[string]*Descriptor
	order      []string // registration order, kept stable for declarations
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*Descriptor),
		byFunction: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor. Call only during startup; the set is fixed
// per deployment.
func (r *Registry) Register(d *Descriptor) error {
	if d.ID == "" || d.FunctionName == "" {
		return fmt.Errorf("capability: id and function name are required")
	}
	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("capability: duplicate id %q", d.ID)
	}
	if _, exists := r.byFunction[d.FunctionName]; exists {
		return fmt.Errorf("capability: duplicate function name %q", d.FunctionName)
	}
	r.byID[d.ID] = d
	r.byFunction[d.FunctionName] = d
	r.order = append(r.order, d.ID)
	return nil
}

// Get returns the descriptor with the given id, or nil.
func (r *Registry) Get(id string) *Descriptor {
	return r.byID[id]
}

// GetByFunction returns the descriptor whose oracle function name matches,
// or nil.
func (r *Registry) GetByFunction(name string) *Descriptor {
	return r.byFunction[name]
}

// IDs returns the registered capability ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// FunctionDeclarations compiles the descriptor set into the schema contract
// the oracle expects. The same output backs the read-only capabilities
// endpoint; the registry is the single source of truth for both.
func (r *Registry) FunctionDeclarations() []FunctionDeclaration {
	decls := make([]FunctionDeclaration, 0, len(r.order))
	for _, id := range r.order {
		d := r.byID[id]
		decls = append(decls, FunctionDeclaration{
			Name:        d.FunctionName,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return decls
}
