package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, RoleHybrid, cfg.NodeRole)
	assert.Equal(t, 1024, cfg.EmbeddingDim)
	assert.NotEmpty(t, cfg.Providers["openai"].ChatModel)
}

func TestLoadRejectsBadRole(t *testing.T) {
	t.Setenv("NODE_ROLE", "observer")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NODE_ROLE")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ATHENEUM_PORT", "9999")
	t.Setenv("EMBEDDING_DIM", "768")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 768, cfg.EmbeddingDim)
}

func TestDefaultsForUnknownProvider(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	d := cfg.DefaultsFor("no-such-vendor")
	assert.Empty(t, d.ChatModel)
	// Lookup is case-insensitive.
	assert.Equal(t, cfg.Providers["zhipu"], cfg.DefaultsFor("Zhipu"))
}
