// Package entity implements the tiered entity store (C6): an in-process L1
// cache, a shared L2 Redis cache, and a durable document store, reconciled
// under version-monotonicity rules driven by inbound stream updates.
package entity

import "time"

// Entity is the persisted-entity schema shared by all three tiers. Identity
// is the (uuid, type) pair, though equality between two in-memory handles is
// by uuid alone: type is immutable metadata set at creation, never part of a
// lookup key.
type Entity struct {
	UUID             string                 `json:"uuid"`
	Type             string                 `json:"type"`
	Attributes       map[string]interface{} `json:"attributes"`
	Relationships    map[string][]string    `json:"relationships"`
	Version          int64                  `json:"version"`
	LastModifiedTime time.Time              `json:"last_modified_time"`
}

// Clone returns a deep copy safe to hand to a caller without sharing the
// Attributes or Relationships maps with the store's internal state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	attrs := make(map[string]interface{}, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	rels := make(map[string][]string, len(e.Relationships))
	for k, v := range e.Relationships {
		cp := make([]string, len(v))
		copy(cp, v)
		rels[k] = cp
	}
	return &Entity{
		UUID: e.UUID, Type: e.Type, Attributes: attrs, Relationships: rels,
		Version: e.Version, LastModifiedTime: e.LastModifiedTime,
	}
}

// SanitizeRelationships drops the owning uuid from every relationship set
// and discards sets left empty by that filter, enforcing the invariant that
// relationships never contain the owning uuid.
func SanitizeRelationships(uuid string, rel map[string][]string) map[string][]string {
	if rel == nil {
		return nil
	}
	out := make(map[string][]string, len(rel))
	for relType, uuids := range rel {
		filtered := make([]string, 0, len(uuids))
		for _, u := range uuids {
			if u != uuid {
				filtered = append(filtered, u)
			}
		}
		if len(filtered) > 0 {
			out[relType] = filtered
		}
	}
	return out
}

// SyncPayload is the JSON wire format carried by stream-bus sync and update
// messages: enough of the persisted-entity schema to apply Reconcile on
// receipt.
type SyncPayload struct {
	UUID             string                 `json:"uuid"`
	Type             string                 `json:"type"`
	Version          int64                  `json:"version"`
	Attributes       map[string]interface{} `json:"attributes"`
	Relationships    map[string][]string    `json:"relationships"`
	LastModifiedTime time.Time              `json:"last_modified_time"`
}

// Reconcile applies the inbound-update version rules from section 4.6 to the
// local entity, returning the merged result and whether local state needs
// re-publication (remote lagged and local had to hold ground).
func Reconcile(local *Entity, remoteVersion int64, remoteAttrs map[string]interface{}, remoteRelationships map[string][]string, remoteTime time.Time) (merged *Entity, needsRepublish bool) {
	if local == nil {
		return &Entity{
			Attributes: remoteAttrs, Relationships: SanitizeRelationships("", remoteRelationships),
			Version: remoteVersion, LastModifiedTime: remoteTime,
		}, false
	}

	switch {
	case remoteVersion > local.Version:
		next := local.Clone()
		next.Attributes = remoteAttrs
		next.Relationships = SanitizeRelationships(local.UUID, remoteRelationships)
		next.Version = remoteVersion
		next.LastModifiedTime = remoteTime
		return next, false

	case remoteVersion < local.Version:
		// Merge only fields and relationships that do not regress local
		// state: keep the local value for any key the remote also sets. A
		// merge that adds anything bumps the local version.
		next := local.Clone()
		changed := false
		for k, v := range remoteAttrs {
			if _, present := next.Attributes[k]; !present {
				next.Attributes[k] = v
				changed = true
			}
		}
		if mergeRelationships(next, remoteRelationships) {
			changed = true
		}
		if changed {
			next.Version++
		}
		return next, changed

	default: // equal versions: last-write-wins by timestamp
		next := local.Clone()
		if remoteTime.After(local.LastModifiedTime) {
			changed := attributesDiffer(local.Attributes, remoteAttrs) || relationshipsDiffer(local.Relationships, remoteRelationships)
			next.Attributes = remoteAttrs
			next.Relationships = SanitizeRelationships(local.UUID, remoteRelationships)
			if changed {
				next.LastModifiedTime = remoteTime
				next.Version++
			}
		}
		return next, false
	}
}

// mergeRelationships adds any remote relationship entry missing locally,
// without touching relationship types or members the local entity already
// has, and reports whether it changed anything.
func mergeRelationships(next *Entity, remote map[string][]string) bool {
	if len(remote) == 0 {
		return false
	}
	if next.Relationships == nil {
		next.Relationships = make(map[string][]string)
	}
	changed := false
	for relType, uuids := range remote {
		existing := make(map[string]struct{}, len(next.Relationships[relType]))
		for _, u := range next.Relationships[relType] {
			existing[u] = struct{}{}
		}
		for _, u := range uuids {
			if u == next.UUID {
				continue
			}
			if _, present := existing[u]; present {
				continue
			}
			next.Relationships[relType] = append(next.Relationships[relType], u)
			existing[u] = struct{}{}
			changed = true
		}
	}
	return changed
}

func attributesDiffer(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return true
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return true
		}
	}
	return false
}

func relationshipsDiffer(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return true
	}
	for relType, uuidsA := range a {
		uuidsB, ok := b[relType]
		if !ok || len(uuidsA) != len(uuidsB) {
			return true
		}
		for i, u := range uuidsA {
			if uuidsB[i] != u {
				return true
			}
		}
	}
	return false
}
