// Package dynamicconfig models the dynamic-config service contract from
// section 1 at the interface level, independent of any particular backing
// file format or store.
package dynamicconfig

// Service is the dynamic-config contract: typed lookups plus a live-reload
// callback, satisfied by staticconfig.Static in the reference binary.
type Service interface {
	// Get returns the raw string value for key, and whether it was set.
	Get(key string) (string, bool)
	// GetBool parses key as a boolean, and whether it was set and valid.
	GetBool(key string) (bool, bool)
	// GetInt parses key as an integer, and whether it was set and valid.
	GetInt(key string) (int, bool)
	// Watch registers fn to run whenever key's value changes. Implementations
	// that never change after construction (pure env snapshots) may treat
	// this as a no-op registration that is simply never invoked.
	Watch(key string, fn func(newValue string))
}
