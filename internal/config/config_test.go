package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 3454, cfg.Server.Port)
	assert.Equal(t, "./data/lancedb_jive", cfg.Storage.Path)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, "default", cfg.Namespace.Default)
	assert.Equal(t, 100, cfg.Limits.MaxConcurrentRequests)
	assert.Equal(t, 10, cfg.Limits.DependencyHops)
	assert.False(t, cfg.Hierarchy.Strict)
}

func TestValidate(t *testing.T) {
	good, err := Load()
	require.NoError(t, err)

	bad := *good
	bad.Server.Port = -1
	assert.Error(t, validate(&bad))

	bad = *good
	bad.Storage.Path = ""
	assert.Error(t, validate(&bad))

	bad = *good
	bad.Embedding.Dimension = 0
	assert.Error(t, validate(&bad))

	bad = *good
	bad.Namespace.Default = ""
	assert.Error(t, validate(&bad))

	bad = *good
	bad.Limits.MaxConcurrentRequests = 0
	assert.Error(t, validate(&bad))
}

func TestDatabaseFile(t *testing.T) {
	c := StorageConfig{Path: "/tmp/jive"}
	assert.Equal(t, "/tmp/jive/jive.db", c.DatabaseFile())
}
