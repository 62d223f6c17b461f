package disk

import (
	"errors"
	"os"
	"path/filepath"
)

// path maps a block key digest to its file.
func (c *BlockCache) path(name string) string {
	if c.shardLen == 0 {
		return filepath.Join(c.dir, name)
	}
	return filepath.Join(c.dir, name[:min(c.shardLen, len(name))], name)
}

// load reads a stored block. A file of the wrong length is a torn or stale
// write; it is removed and reported as a miss.
func (c *BlockCache) load(path string, length int64) ([]byte, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a digest under the cache root
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	case int64(len(data)) != length:
		if os.Remove(path) == nil {
			c.used.Add(-int64(len(data)))
		}
		return nil, false, nil
	}
	return data, true, nil
}

// store writes data to path through a temporary file and a rename, so
// readers never observe a partial block.
func (c *BlockCache) store(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if !c.reserve(int64(len(data))) {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		if _, statErr := os.Stat(path); statErr == nil {
			// another writer won
			return nil
		}
		return err
	}
	c.used.Add(int64(len(data)))
	return nil
}

// reserve makes room for need bytes, evicting old blocks when the cache is
// full. It reports false when the block should not be stored.
func (c *BlockCache) reserve(need int64) bool {
	if c.maxBytes == 0 {
		return true
	}
	if need > c.maxBytes {
		return false
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		c.logger.Debug("block cache prune failed", "dir", c.dir, "error", err)
		return false
	}
	return c.SizeBytes()+need <= c.maxBytes
}
