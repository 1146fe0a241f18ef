package staticconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_SnapshotsProcessEnvironment(t *testing.T) {
	t.Setenv("ASPECTRT_STATICCONFIG_TEST", "hello")
	s := FromEnv()

	v, ok := s.Get("ASPECTRT_STATICCONFIG_TEST")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestGetBool_ParsesOrReportsAbsence(t *testing.T) {
	t.Setenv("ASPECTRT_STATICCONFIG_BOOL", "true")
	s := FromEnv()

	b, ok := s.GetBool("ASPECTRT_STATICCONFIG_BOOL")
	require.True(t, ok)
	assert.True(t, b)

	_, ok = s.GetBool("ASPECTRT_STATICCONFIG_MISSING")
	assert.False(t, ok)
}

func TestGetInt_ParsesOrReportsAbsence(t *testing.T) {
	t.Setenv("ASPECTRT_STATICCONFIG_INT", "42")
	s := FromEnv()

	n, ok := s.GetInt("ASPECTRT_STATICCONFIG_INT")
	require.True(t, ok)
	assert.Equal(t, 42, n)

	t.Setenv("ASPECTRT_STATICCONFIG_NOTANINT", "abc")
	s = FromEnv()
	_, ok = s.GetInt("ASPECTRT_STATICCONFIG_NOTANINT")
	assert.False(t, ok)
}

func TestLoadYAMLOverlay_MergesAndFiresWatchersOnChange(t *testing.T) {
	s := &Static{values: map[string]string{"ENTITY_L1_MAX_SIZE": "10000"}, watchers: map[string][]func(string){}}

	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ENTITY_L1_MAX_SIZE: \"20000\"\nNEW_KEY: \"v\"\n"), 0o644))

	var seen string
	s.Watch("ENTITY_L1_MAX_SIZE", func(v string) { seen = v })

	require.NoError(t, s.LoadYAMLOverlay(path))

	v, ok := s.Get("ENTITY_L1_MAX_SIZE")
	require.True(t, ok)
	assert.Equal(t, "20000", v)
	assert.Equal(t, "20000", seen, "watcher must fire with the new value")

	newV, ok := s.Get("NEW_KEY")
	require.True(t, ok)
	assert.Equal(t, "v", newV)
}

func TestLoadYAMLOverlay_NoWatcherFireWhenValueUnchanged(t *testing.T) {
	s := &Static{values: map[string]string{"KEY": "same"}, watchers: map[string][]func(string){}}

	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("KEY: \"same\"\n"), 0o644))

	fired := false
	s.Watch("KEY", func(string) { fired = true })

	require.NoError(t, s.LoadYAMLOverlay(path))
	assert.False(t, fired, "watcher must not fire when the overlay value matches the existing value")
}

func TestLoadYAMLOverlay_MissingFileReturnsError(t *testing.T) {
	s := FromEnv()
	err := s.LoadYAMLOverlay("/nonexistent/path/overlay.yaml")
	assert.Error(t, err)
}
