package sessioncache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/gofrs/uuid/v5"
)

const lockRetry = 50 * time.Millisecond

// FileCache keeps one JSON file per credential under dir. A sibling lock file
// serializes writers across processes.
type FileCache struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

// NewFile creates dir if needed. maxAge > 0 makes older entries read as misses.
func NewFile(dir string, maxAge time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session cache dir: %w", err)
	}
	return &FileCache{dir: dir, maxAge: maxAge, now: time.Now}, nil
}

func (c *FileCache) path(id uuid.UUID) string {
	return filepath.Join(c.dir, "portal-auth-"+id.String()+".json")
}

func (c *FileCache) lock(ctx context.Context, id uuid.UUID, shared bool) (*flock.Flock, error) {
	fl := flock.New(c.path(id) + ".lock")
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(ctx, lockRetry)
	} else {
		ok, err = fl.TryLockContext(ctx, lockRetry)
	}
	if err != nil {
		return nil, fmt.Errorf("lock session cache: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock session cache: %w", ctx.Err())
	}
	return fl, nil
}

// Load implements Cache.
func (c *FileCache) Load(ctx context.Context, id uuid.UUID) ([]byte, error) {
	fl, err := c.lock(ctx, id, true)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()

	p := c.path(id)
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if c.maxAge > 0 && c.now().Sub(st.ModTime()) > c.maxAge {
		return nil, ErrCacheMiss
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrCacheMiss
	}
	return data, nil
}

// Save implements Cache. The file is replaced atomically with mode 0600.
func (c *FileCache) Save(ctx context.Context, id uuid.UUID, data []byte) error {
	fl, err := c.lock(ctx, id, false)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	tmp, err := os.CreateTemp(c.dir, "portal-auth-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, c.path(id))
}

// Delete implements Cache.
func (c *FileCache) Delete(ctx context.Context, id uuid.UUID) error {
	fl, err := c.lock(ctx, id, false)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	if err := os.Remove(c.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
