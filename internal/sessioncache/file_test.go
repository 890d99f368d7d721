package sessioncache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := NewFile(t.TempDir(), 0)
	require.NoError(t, err)
	id := uuid.Must(uuid.NewV4())

	_, err = c.Load(ctx, id)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Save(ctx, id, []byte(`{"cookies":[]}`)))
	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"cookies":[]}`, string(got))

	st, err := os.Stat(c.path(id))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	assert.Equal(t, "portal-auth-"+id.String()+".json", filepath.Base(c.path(id)))

	require.NoError(t, c.Delete(ctx, id))
	_, err = c.Load(ctx, id)
	require.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, c.Delete(ctx, id))
}

func TestFileCache_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	c, err := NewFile(t.TempDir(), 0)
	require.NoError(t, err)
	id := uuid.Must(uuid.NewV4())

	require.NoError(t, c.Save(ctx, id, []byte("one")))
	require.NoError(t, c.Save(ctx, id, []byte("two")))
	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	tmps, err := filepath.Glob(filepath.Join(c.dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmps)
}

func TestFileCache_MaxAge(t *testing.T) {
	ctx := context.Background()
	c, err := NewFile(t.TempDir(), time.Hour)
	require.NoError(t, err)
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, c.Save(ctx, id, []byte("state")))

	_, err = c.Load(ctx, id)
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = c.Load(ctx, id)
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestFileCache_EmptyFileIsMiss(t *testing.T) {
	c, err := NewFile(t.TempDir(), 0)
	require.NoError(t, err)
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, os.WriteFile(c.path(id), nil, 0o600))

	_, err = c.Load(context.Background(), id)
	require.ErrorIs(t, err, ErrCacheMiss)
}
