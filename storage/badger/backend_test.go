package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/embedvector/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectors")
	backend, err := OpenBackend(dir, false, nil)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := OpenBackend(path, false, nil)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
	require.NoError(t, backend.Close())

	err = backend.WithTx(func(tx *badger.Txn) error { return nil }, false)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestWriteEach(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	keys := [][]byte{[]byte("k:1"), []byte("k:2"), []byte("k:3")}
	err = backend.WriteEach(len(keys), func(tx *badger.Txn, i int) error {
		return tx.Set(keys[i], []byte{byte(i)})
	})
	require.NoError(t, err)

	var seen []string
	err = backend.WithTx(func(tx *badger.Txn) error {
		return forEachKey(tx, []byte("k:"), func(key []byte) error {
			seen = append(seen, string(key))
			return nil
		})
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"k:1", "k:2", "k:3"}, seen)
}

func TestKeyPrefixesDoNotOverlap(t *testing.T) {
	job := makeEmbeddingTypePrefix("job")
	assert.NotContains(t, string(makeEmbeddingKey(keyOf("1", "jobs"))), string(job))
	assert.NotContains(t, string(makeSyncRequiredKey(keyOf("1", "job"))), string(job))
	assert.Equal(t, "emb:job:42", string(makeEmbeddingKey(keyOf("42", "job"))))
}
