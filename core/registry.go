package nested

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultRegistry is the process-wide registry used by callers that do not
// need isolated file systems.
var DefaultRegistry = NewRegistry()

// Registry maps container paths to open file systems. A container has at most
// one file system per registry. File systems stay registered until they are
// closed; nothing is released implicitly.
type Registry struct {
	cfg config

	mu      sync.Mutex
	systems map[string]*FileSystem
	pending map[string]struct{}
	group   singleflight.Group
}

// NewRegistry returns an empty registry. The options configure every
// container the registry opens.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		cfg:     newConfig(opts),
		systems: make(map[string]*FileSystem),
		pending: make(map[string]struct{}),
	}
}

func registryKey(loc Location) (string, error) {
	if loc.Path == "" || !filepath.IsAbs(loc.Path) {
		return "", fmt.Errorf("%w: container path %q is not absolute", ErrInvalidLocation, loc.Path)
	}
	return filepath.Clean(loc.Path), nil
}

// NewFileSystem opens the container of loc and registers a file system for
// it. It fails with ErrAlreadyExists when the container already has one,
// including one that is still being opened.
func (r *Registry) NewFileSystem(loc Location) (*FileSystem, error) {
	key, err := registryKey(loc)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	_, open := r.systems[key]
	_, opening := r.pending[key]
	if open || opening {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", key, ErrAlreadyExists)
	}
	r.pending[key] = struct{}{}
	r.mu.Unlock()

	fsys, err := newFileSystem(r, Location{Path: key}, r.cfg)

	r.mu.Lock()
	delete(r.pending, key)
	if err == nil {
		r.systems[key] = fsys
	}
	r.mu.Unlock()
	if err != nil {
		return nil, annotate(err, "mount", key, "")
	}
	r.cfg.log().Debug("mounted nested file system", "path", key, "entries", fsys.index.Len())
	return fsys, nil
}

// FileSystem returns the open file system for the container of loc, or
// ErrFileSystemNotFound.
func (r *Registry) FileSystem(loc Location) (*FileSystem, error) {
	key, err := registryKey(loc)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fsys, ok := r.systems[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrFileSystemNotFound)
	}
	return fsys, nil
}

// Path parses a nested URI and returns its path, opening the container's
// file system if none is registered yet. Concurrent calls for the same
// container open it once.
func (r *Registry) Path(uri string) (*Path, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	fsys, err := r.fileSystemFor(loc)
	if err != nil {
		return nil, err
	}
	return fsys.Path(loc.Entry)
}

func (r *Registry) fileSystemFor(loc Location) (*FileSystem, error) {
	if fsys, err := r.FileSystem(loc); err == nil {
		return fsys, nil
	}
	key, err := registryKey(loc)
	if err != nil {
		return nil, err
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		if fsys, err := r.FileSystem(loc); err == nil {
			return fsys, nil
		}
		fsys, err := r.NewFileSystem(loc)
		if errors.Is(err, ErrAlreadyExists) {
			return r.FileSystem(loc)
		}
		return fsys, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*FileSystem), nil
}

// Len returns the number of registered file systems.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.systems)
}

// Close closes every registered file system.
func (r *Registry) Close() error {
	r.mu.Lock()
	systems := make([]*FileSystem, 0, len(r.systems))
	for _, fsys := range r.systems {
		systems = append(systems, fsys)
	}
	r.mu.Unlock()

	var errs []error
	for _, fsys := range systems {
		if err := fsys.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) unmount(f *FileSystem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.systems[f.loc.Path] == f {
		delete(r.systems, f.loc.Path)
		r.cfg.log().Debug("unmounted nested file system", "path", f.loc.Path)
	}
}
