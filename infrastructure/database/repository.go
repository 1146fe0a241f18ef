// Package database provides the durable-tier storage client for the entity store.
package database

import "context"

// Repository wraps a Client with the exported Request method that
// domain-specific stores (see entity.DurableStore) build on via GenericOps.
type Repository struct {
	client *Client
}

// NewRepository creates a new repository around an already-configured Client.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// Request makes an HTTP request to the underlying PostgREST-compatible API.
// Exported so that domain-specific stores can issue table-level queries
// through the generic CRUD helpers in generic_repository.go.
func (r *Repository) Request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error) {
	return r.client.request(ctx, method, table, body, query)
}

// HealthCheck verifies connectivity with the underlying durable store by
// issuing a lightweight, side-effect-free query.
func (r *Repository) HealthCheck(ctx context.Context) error {
	if r == nil || r.client == nil {
		return ErrDatabaseError
	}
	_, err := r.client.request(ctx, "GET", "entities", nil, "select=uuid&limit=1")
	if err != nil {
		return err
	}
	return nil
}
