package nested

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"
)

// FS returns a read-only view of the reader as an fs.FS. Directories are
// synthesized from entry names, so archives without directory records still
// walk. Files resolve through Entry: in multi-release archives a base name
// opens the versioned content.
func (r *Reader) FS() fs.FS {
	return &readerFS{r: r}
}

var errIsDir = errors.New("is a directory")

type readerFS struct {
	r    *Reader
	once sync.Once
	dirs map[string]map[string]fs.DirEntry
}

var (
	_ fs.StatFS     = (*readerFS)(nil)
	_ fs.ReadFileFS = (*readerFS)(nil)
	_ fs.ReadDirFS  = (*readerFS)(nil)
)

func (f *readerFS) tree() map[string]map[string]fs.DirEntry {
	f.once.Do(func() {
		f.dirs = map[string]map[string]fs.DirEntry{".": {}}
		var ensureDir func(dir string)
		ensureDir = func(dir string) {
			if _, ok := f.dirs[dir]; ok {
				return
			}
			f.dirs[dir] = map[string]fs.DirEntry{}
			parent := path.Dir(dir)
			ensureDir(parent)
			f.dirs[parent][path.Base(dir)] = fs.FileInfoToDirEntry(dirInfo{name: path.Base(dir)})
		}
		for _, e := range f.r.index.entries {
			name := strings.TrimSuffix(e.Name, "/")
			if name == "" || !fs.ValidPath(name) {
				continue
			}
			if e.IsDir() {
				ensureDir(name)
				continue
			}
			parent := path.Dir(name)
			ensureDir(parent)
			if _, isDir := f.dirs[name]; isDir {
				continue
			}
			f.dirs[parent][path.Base(name)] = fs.FileInfoToDirEntry(fileInfo{entry: e, name: path.Base(name)})
		}
	})
	return f.dirs
}

func (f *readerFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if err := f.r.res.checkOpen(); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if children, ok := f.tree()[name]; ok {
		return &dirFile{info: dirInfo{name: path.Base(name)}, entries: sortedEntries(children)}, nil
	}
	e, err := f.r.Entry(name)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	rc, err := f.r.Open(e)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return &entryFile{ReadCloser: rc, info: fileInfo{entry: e, name: path.Base(name)}}, nil
}

func (f *readerFS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if err := f.r.res.checkOpen(); err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	if _, ok := f.tree()[name]; ok {
		return dirInfo{name: path.Base(name)}, nil
	}
	e, err := f.r.Entry(name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	return fileInfo{entry: e, name: path.Base(name)}, nil
}

func (f *readerFS) ReadFile(name string) ([]byte, error) {
	file, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if _, ok := file.(*dirFile); ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: errIsDir}
	}
	return io.ReadAll(file)
}

func (f *readerFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	if err := f.r.res.checkOpen(); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	children, ok := f.tree()[name]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return sortedEntries(children), nil
}

// pathErr keeps existing path errors and wraps everything else.
func pathErr(op, name string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

func sortedEntries(m map[string]fs.DirEntry) []fs.DirEntry {
	out := make([]fs.DirEntry, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}

type fileInfo struct {
	entry Entry
	name  string
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(fi.entry.UncompressedSize) } //nolint:gosec // sizes above MaxInt64 are not real
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return fi.entry.Modified }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return fi.entry }

type dirInfo struct {
	name string
}

func (di dirInfo) Name() string       { return di.name }
func (di dirInfo) Size() int64        { return 0 }
func (di dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di dirInfo) ModTime() time.Time { return time.Time{} }
func (di dirInfo) IsDir() bool        { return true }
func (di dirInfo) Sys() any           { return nil }

type entryFile struct {
	io.ReadCloser
	info fileInfo
}

func (f *entryFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

type dirFile struct {
	info    dirInfo
	entries []fs.DirEntry
	offset  int
}

var _ fs.ReadDirFile = (*dirFile)(nil)

func (d *dirFile) Stat() (fs.FileInfo, error) {
	return d.info, nil
}

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: errIsDir}
}

func (d *dirFile) Close() error {
	return nil
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	remaining := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return slices.Clone(remaining), nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(remaining))
	d.offset += n
	return slices.Clone(remaining[:n]), nil
}
