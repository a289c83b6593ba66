package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedSystem(t *testing.T) {
	shared := "You write short directory descriptions for hotels.\n\nRespond with JSON only."

	blocks := CachedSystem(shared)
	require.Len(t, blocks, 1)
	assert.Equal(t, shared, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestCachedSystem_ExtrasStayUncached(t *testing.T) {
	blocks := CachedSystem("Score restaurant listings.", "Locality: Austin, TX", "  ", "")

	require.Len(t, blocks, 2)
	assert.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "Locality: Austin, TX", blocks[1].Text)
	assert.Nil(t, blocks[1].CacheControl)
}
