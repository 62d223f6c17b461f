package nested

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	fscore "github.com/jmgilman/go/fs/core"

	"github.com/meigma/nested/core/internal/zipfmt"
)

// FileSystem exposes the entries of one container as nested paths. It owns
// one open container and its index, which every path and channel it hands
// out shares. File systems are created through a Registry and stay open until
// Close.
//
// The read side implements fscore.ReadFS with entry names as file names;
// listing directories and every mutation are unsupported.
type FileSystem struct {
	registry  *Registry
	loc       Location
	container *Container
	index     *Index
	logger    *slog.Logger

	mu     sync.Mutex
	nested map[string]*Index

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var (
	_ fscore.ReadFS   = (*FileSystem)(nil)
	_ fscore.WriteFS  = (*FileSystem)(nil)
	_ fscore.ManageFS = (*FileSystem)(nil)
)

func newFileSystem(reg *Registry, loc Location, cfg config) (*FileSystem, error) {
	c, err := openContainer(loc.Path, &cfg)
	if err != nil {
		return nil, err
	}
	idx, err := buildIndex(c, "", cfg.log())
	if err != nil {
		c.Close()
		return nil, err
	}
	return &FileSystem{
		registry:  reg,
		loc:       loc.Container(),
		container: c,
		index:     idx,
		logger:    cfg.log(),
		nested:    make(map[string]*Index),
	}, nil
}

// Location returns the location of the container.
func (f *FileSystem) Location() Location {
	return f.loc
}

// IsOpen reports whether Close has not been called.
func (f *FileSystem) IsOpen() bool {
	return !f.closed.Load()
}

func (f *FileSystem) checkOpen() error {
	if f.closed.Load() {
		return ErrUseAfterClose
	}
	return nil
}

// Path returns the path of entry inside the container. An empty entry
// addresses the container itself.
func (f *FileSystem) Path(entry string) (*Path, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	return &Path{fsys: f, entry: entry}, nil
}

// Index returns the index of the container, or of the named nested archive
// or directory. Nested indexes are built once and reused.
func (f *FileSystem) Index(entry string) (*Index, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if entry == "" {
		return f.index, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx, ok := f.nested[entry]; ok {
		return idx, nil
	}
	idx, err := f.index.Nested(entry)
	if err != nil {
		return nil, err
	}
	f.nested[entry] = idx
	return idx, nil
}

// NewByteChannel opens a read-only channel over the bytes p addresses: the
// whole container, the raw bytes of a stored entry, or a synthesized archive
// of a directory entry.
func (f *FileSystem) NewByteChannel(p *Path) (*ByteChannel, error) {
	if p.fsys != f {
		return nil, fmt.Errorf("%w: %s belongs to another file system", ErrInvalidLocation, p)
	}
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	name := p.URI()
	if p.entry == "" {
		info := dirlessInfo{name: filepath.Base(f.loc.Path), size: f.container.Size()}
		return newByteChannel(f, name, f.container, 0, f.container.Size(), info), nil
	}

	e, ok := f.index.Lookup("", p.entry)
	if !ok && !f.isImpliedDir(p.entry) {
		return nil, &fs.PathError{Op: "open", Path: p.entry, Err: ErrEntryNotFound}
	}
	if !ok || e.IsDir() {
		idx, err := f.Index(p.entry)
		if err != nil {
			return nil, err
		}
		v, err := idx.VirtualData()
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: p.entry, Err: err}
		}
		info := dirlessInfo{name: path.Base(p.entry), size: v.Size()}
		return newByteChannel(f, name, v, 0, v.Size(), info), nil
	}
	if e.Method != zipfmt.MethodStored {
		return nil, &fs.PathError{Op: "open", Path: p.entry, Err: ErrCompressedNestedEntry}
	}
	r, err := f.index.RawRange(e)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p.entry, Err: err}
	}
	info := dirlessInfo{name: path.Base(p.entry), size: r.Length, modTime: e.Modified}
	return newByteChannel(f, name, f.container, r.Offset, r.Length, info), nil
}

func (f *FileSystem) isImpliedDir(entry string) bool {
	return strings.HasSuffix(entry, "/") && f.index.hasPrefix(entry)
}

func (f *FileSystem) pathFor(name string) *Path {
	if name == "." {
		name = ""
	}
	return &Path{fsys: f, entry: name}
}

// Open opens a channel over the named entry. "" and "." name the container.
func (f *FileSystem) Open(name string) (fs.File, error) {
	return f.NewByteChannel(f.pathFor(name))
}

// Stat describes the named entry as a channel would see it.
func (f *FileSystem) Stat(name string) (fs.FileInfo, error) {
	ch, err := f.NewByteChannel(f.pathFor(name))
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	return ch.Stat()
}

// ReadDir is not supported.
func (f *FileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrUnsupportedOperation}
}

// ReadFile returns the bytes a channel over the named entry would read.
func (f *FileSystem) ReadFile(name string) ([]byte, error) {
	ch, err := f.NewByteChannel(f.pathFor(name))
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	buf := make([]byte, ch.size)
	if err := readFull(ch, buf, 0); err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return buf, nil
}

// Exists reports whether the named entry exists.
func (f *FileSystem) Exists(name string) (bool, error) {
	if err := f.checkOpen(); err != nil {
		return false, err
	}
	p := f.pathFor(name)
	if p.entry == "" {
		return true, nil
	}
	_, ok := f.index.Lookup("", p.entry)
	return ok || f.isImpliedDir(p.entry), nil
}

// Create is not supported.
func (f *FileSystem) Create(name string) (fscore.File, error) {
	return nil, &fs.PathError{Op: "create", Path: name, Err: ErrUnsupportedOperation}
}

// OpenFile opens the named entry read-only. Any other flag is unsupported.
func (f *FileSystem) OpenFile(name string, flag int, _ fs.FileMode) (fscore.File, error) {
	if flag != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrUnsupportedOperation}
	}
	return f.NewByteChannel(f.pathFor(name))
}

// WriteFile is not supported.
func (f *FileSystem) WriteFile(name string, _ []byte, _ fs.FileMode) error {
	return &fs.PathError{Op: "write", Path: name, Err: ErrUnsupportedOperation}
}

// Mkdir is not supported.
func (f *FileSystem) Mkdir(name string, _ fs.FileMode) error {
	return &fs.PathError{Op: "mkdir", Path: name, Err: ErrUnsupportedOperation}
}

// MkdirAll is not supported.
func (f *FileSystem) MkdirAll(name string, _ fs.FileMode) error {
	return &fs.PathError{Op: "mkdir", Path: name, Err: ErrUnsupportedOperation}
}

// Remove is not supported.
func (f *FileSystem) Remove(name string) error {
	return &fs.PathError{Op: "remove", Path: name, Err: ErrUnsupportedOperation}
}

// RemoveAll is not supported.
func (f *FileSystem) RemoveAll(name string) error {
	return &fs.PathError{Op: "remove", Path: name, Err: ErrUnsupportedOperation}
}

// Rename is not supported.
func (f *FileSystem) Rename(oldpath, newpath string) error {
	return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrUnsupportedOperation}
}

// Close unmounts the file system and closes its container. Paths and
// channels handed out fail with ErrUseAfterClose afterwards.
func (f *FileSystem) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		if f.registry != nil {
			f.registry.unmount(f)
		}
		f.closeErr = f.container.Close()
		f.logger.Debug("closed nested file system", "path", f.loc.Path)
	})
	return f.closeErr
}

// dirlessInfo describes the bytes behind a channel.
type dirlessInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (i dirlessInfo) Name() string       { return i.name }
func (i dirlessInfo) Size() int64        { return i.size }
func (i dirlessInfo) Mode() fs.FileMode  { return 0o444 }
func (i dirlessInfo) ModTime() time.Time { return i.modTime }
func (i dirlessInfo) IsDir() bool        { return false }
func (i dirlessInfo) Sys() any           { return nil }
