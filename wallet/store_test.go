package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok, "fresh store must be empty")

	require.NoError(t, store.Save([]byte(`{"phase":"active","token":"tok"}`)))
	blob, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"phase":"active","token":"tok"}`, string(blob))

	require.NoError(t, store.Clear())
	_, ok, err = store.Load()
	require.NoError(t, err)
	require.False(t, ok, "cleared store must be empty")
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save([]byte("blob")))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	blob, ok, err := reopened.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "blob", string(blob))
}
