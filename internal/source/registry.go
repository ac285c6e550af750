package source

import (
	"fmt"
	"strings"
)

// Registry holds the available clients by name so the fallback order can come from configuration.
type Registry struct {
	clients map[string]Client
}

// NewRegistry registers clients under their Name().
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[strings.ToLower(c.Name())] = c
	}
	return r
}

// Ordered returns the clients named in order. Unknown or repeated names are an error.
func (r *Registry) Ordered(order []string) ([]Client, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("provider order is empty")
	}
	seen := make(map[string]bool, len(order))
	out := make([]Client, 0, len(order))
	for _, name := range order {
		key := strings.ToLower(strings.TrimSpace(name))
		c, ok := r.clients[key]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		if seen[key] {
			return nil, fmt.Errorf("provider %q listed twice", name)
		}
		seen[key] = true
		out = append(out, c)
	}
	return out, nil
}

// Resolver builds a Resolver over the named clients.
func (r *Registry) Resolver(order []string) (*Resolver, error) {
	clients, err := r.Ordered(order)
	if err != nil {
		return nil, err
	}
	return NewResolver(clients...), nil
}
