package disk

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	tempPrefix            = "block-"
)

type cachedFile struct {
	path    string
	size    int64
	modTime time.Time
	temp    bool
}

type cachedFiles []cachedFile

func (files cachedFiles) total() int64 {
	var n int64
	for _, f := range files {
		n += f.size
	}
	return n
}

// scan lists the regular files under root. A missing root is empty.
func scan(root string) (cachedFiles, error) {
	var files cachedFiles
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, cachedFile{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
			temp:    strings.HasPrefix(d.Name(), tempPrefix),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return files, err
}

// Prune evicts blocks until at most targetBytes remain. Leftovers of
// interrupted writes go first, then blocks from oldest to newest.
func (c *BlockCache) Prune(targetBytes int64) (int64, error) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes)
	if err != nil {
		return 0, err
	}
	c.used.Store(remaining)
	if freed > 0 {
		c.logger.Debug("pruned block cache", "dir", c.dir, "freed", freed, "remaining", remaining)
	}
	return freed, nil
}

func pruneDir(root string, targetBytes int64) (freed, remaining int64, err error) {
	files, err := scan(root)
	if err != nil {
		return 0, 0, err
	}
	remaining = files.total()
	targetBytes = max(targetBytes, 0)

	slices.SortFunc(files, func(a, b cachedFile) int {
		if a.temp != b.temp {
			if a.temp {
				return -1
			}
			return 1
		}
		return cmp.Or(a.modTime.Compare(b.modTime), strings.Compare(a.path, b.path))
	})
	for _, f := range files {
		if remaining <= targetBytes {
			break
		}
		err := os.Remove(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return freed, remaining, err
		}
		remaining -= f.size
		freed += f.size
	}
	return freed, remaining, nil
}
