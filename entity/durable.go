package entity

import (
	"context"
	"time"

	"github.com/legacy-lands/aspectrt/infrastructure/database"
	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
)

// entitiesTable is the single table name backing the durable tier; every
// service shares it, keyed by uuid, rather than the teacher's
// table-per-domain-type layout.
const entitiesTable = "entities"

// durableRecord is the persisted-entity JSON schema used by the document
// store row.
type durableRecord struct {
	UUID             string                 `json:"uuid"`
	Type             string                 `json:"type"`
	Attributes       map[string]interface{} `json:"attributes"`
	Relationships    map[string][]string    `json:"relationships"`
	Version          int64                  `json:"version"`
	LastModifiedTime time.Time              `json:"last_modified_time"`
}

// DurableStore wraps the adapted document-store repository, generalized
// from the teacher's table-per-domain-type CRUD to a single entities table.
type DurableStore struct {
	repo *database.Repository
}

func NewDurableStore(repo *database.Repository) *DurableStore {
	return &DurableStore{repo: repo}
}

// Get fetches one entity by uuid, returning rterrors.CacheMiss-shaped
// semantics are not applicable here; a missing row returns (nil, nil).
func (d *DurableStore) Get(ctx context.Context, uuid string) (*Entity, error) {
	rec, err := database.GenericGetByField[durableRecord](d.repo, ctx, entitiesTable, "uuid", uuid)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, nil
		}
		return nil, rterrors.Unavailable("durable-store", err)
	}
	return &Entity{
		UUID: rec.UUID, Type: rec.Type, Attributes: rec.Attributes, Relationships: rec.Relationships,
		Version: rec.Version, LastModifiedTime: rec.LastModifiedTime,
	}, nil
}

// Upsert writes one entity, creating the row on first write and updating it
// on every subsequent write for the same uuid.
func (d *DurableStore) Upsert(ctx context.Context, e *Entity) error {
	rec := durableRecord{
		UUID: e.UUID, Type: e.Type, Attributes: e.Attributes, Relationships: e.Relationships,
		Version: e.Version, LastModifiedTime: e.LastModifiedTime,
	}

	existing, err := d.Get(ctx, e.UUID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := database.GenericCreate(d.repo, ctx, entitiesTable, &rec, nil); err != nil {
			return rterrors.Unavailable("durable-store", err)
		}
		return nil
	}
	if err := database.GenericUpdate(d.repo, ctx, entitiesTable, "uuid", e.UUID, &rec); err != nil {
		return rterrors.Unavailable("durable-store", err)
	}
	return nil
}

// UpsertBatch persists a batch of entities for a single write-behind cycle.
func (d *DurableStore) UpsertBatch(ctx context.Context, entities []*Entity) error {
	var firstErr error
	for _, e := range entities {
		if err := d.Upsert(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
