// Package staticconfig is the reference dynamicconfig.Service backing: a
// snapshot of the process environment, optionally overlaid with a flat
// YAML file of string keys. Edits to that file reach a running instance only
// when LoadYAMLOverlay is called again, which then fires Watch callbacks for
// the changed keys.
package staticconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/legacy-lands/aspectrt/infrastructure/dynamicconfig"
)

var _ dynamicconfig.Service = (*Static)(nil)

// Static is a mutable snapshot of configuration values, safe for concurrent
// reads and overlay reloads.
type Static struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[string][]func(string)
}

// FromEnv builds a Static snapshot of os.Environ().
func FromEnv() *Static {
	s := &Static{values: make(map[string]string), watchers: make(map[string][]func(string))}
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			s.values[key] = value
		}
	}
	return s
}

func (s *Static) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Static) GetBool(key string) (bool, bool) {
	raw, ok := s.Get(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}

func (s *Static) GetInt(key string) (int, bool) {
	raw, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Watch registers fn to run whenever a LoadYAMLOverlay call changes key's
// value. Multiple watchers on the same key all run, in registration order.
func (s *Static) Watch(key string, fn func(newValue string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[key] = append(s.watchers[key], fn)
}

// LoadYAMLOverlay merges a flat string-keyed YAML file's entries on top of
// the current snapshot, firing Watch callbacks for every key whose value
// actually changed. Safe to call repeatedly, e.g. from a file-watcher.
func (s *Static) LoadYAMLOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay map[string]string
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("staticconfig: parsing %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range overlay {
		if previous, existed := s.values[key]; existed && previous == value {
			continue
		}
		s.values[key] = value
		for _, fn := range s.watchers[key] {
			fn(value)
		}
	}
	return nil
}
