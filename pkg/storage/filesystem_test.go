package storage

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, size, err := store.Save("certificates/log-1.pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	assert.Equal(t, "certificates/log-1.pdf", name)
	assert.EqualValues(t, 8, size)

	f, info, err := store.Open(name)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "%PDF-1.3", string(data))
	assert.EqualValues(t, 8, info.Size())

	require.NoError(t, store.Delete(name))
	_, _, err = store.Open(name)
	assert.Error(t, err)
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Save("../outside.pdf", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, _, err = store.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
