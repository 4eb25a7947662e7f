package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claim-enricher/internal/storage"
)

func TestStore_SetGetAttribute(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.SetAttribute("user-1", "roles", []string{"admin"}))

	values, err := store.GetAttribute("user-1", "roles")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, values)
}

func TestStore_GetAttribute_Missing(t *testing.T) {
	store := NewStore()

	values, err := store.GetAttribute("user-1", "missing")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestStore_SetAttribute_CopiesInput(t *testing.T) {
	store := NewStore()

	input := []string{"a", "b"}
	require.NoError(t, store.SetAttribute("user-1", "groups", input))
	input[0] = "mutated"

	values, err := store.GetAttribute("user-1", "groups")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, values)
}

func TestStore_GetIdentity_Unknown(t *testing.T) {
	store := NewStore()

	identity, err := store.GetIdentity("nobody")
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestStore_UpsertIdentity(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.UpsertIdentity(&storage.Identity{
		ID:       "user-1",
		Username: "jdoe",
	}))
	require.NoError(t, store.UpsertIdentity(&storage.Identity{
		ID:       "user-1",
		Username: "updated",
	}))

	identity, err := store.GetIdentity("user-1")
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "updated", identity.Username)
}
