package screenshots

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStore_PutGet(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("fake png bytes")
	ref, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Len(t, ref, 64)

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFilesystemStore_ContentAddressed(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref1, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)
	ref2, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	ref3, err := store.Put(ctx, []byte("different"))
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref3)
}

func TestFilesystemStore_GetNotFound(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), contentRef([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemStore_Delete(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("to delete"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, ref))
	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, ref))
}

func TestFilesystemStore_RejectsTraversalRefs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFilesystemStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	for _, ref := range []string{"", "ab", "../../etc/passwd", "ab/cd", "ab.cd"} {
		_, err := store.Get(ctx, ref)
		assert.Error(t, err, "ref %q", ref)
		assert.NotErrorIs(t, err, ErrNotFound)
	}
}

func TestFilesystemStore_FansOutDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFilesystemStore(dir)
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), []byte("fanned"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, ref[:2], ref[2:]))
	assert.NoError(t, err)
}
