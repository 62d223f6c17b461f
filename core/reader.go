package nested

import (
	"fmt"
	"io"
	"io/fs"
	"iter"
	"runtime"
	"strings"
	"sync"

	"github.com/meigma/nested/core/internal/zipfmt"
)

// Reader reads the entries of one archive: a container on disk, a source, or
// an entry nested inside one of those.
//
// A Reader is safe for concurrent use. Close releases the container, pooled
// inflaters and every stream still open. A Reader that becomes unreachable
// without Close is released by a cleanup on a best effort basis; callers
// should not rely on it.
type Reader struct {
	res   *resources
	index *Index
	name  string
	cfg   config

	cleanup runtime.Cleanup

	// Single-slot lookup cache, guarded by res.mu.
	lastPrefix string
	lastName   string
	lastEntry  Entry
	lastFound  bool
	lastValid  bool

	manifestMu     sync.Mutex
	manifest       *Manifest
	manifestLoaded bool
}

// Open opens the archive at path.
func Open(path string, opts ...Option) (*Reader, error) {
	return OpenNested(path, "", opts...)
}

// OpenNested opens the archive stored as nestedEntryName inside the archive
// at path. An empty nestedEntryName opens the outer archive; a directory
// entry opens a view of that directory.
func OpenNested(path, nestedEntryName string, opts ...Option) (*Reader, error) {
	cfg := newConfig(opts)
	c, err := openContainer(path, &cfg)
	if err != nil {
		return nil, annotate(err, "open", path, nestedEntryName)
	}
	r, err := newReader(c, nestedEntryName, readerName(path, nestedEntryName), cfg)
	if err != nil {
		c.Close()
		return nil, annotate(err, "open", path, nestedEntryName)
	}
	return r, nil
}

// OpenLocation opens the archive addressed by loc.
func OpenLocation(loc Location, opts ...Option) (*Reader, error) {
	return OpenNested(loc.Path, loc.Entry, opts...)
}

// OpenSource opens the archive in src, optionally scoped to a nested entry.
// If src implements io.Closer it is closed with the reader.
func OpenSource(src ByteSource, nestedEntryName string, opts ...Option) (*Reader, error) {
	cfg := newConfig(opts)
	closer, _ := src.(io.Closer)
	c := NewContainer(src, closer)
	r, err := newReader(c, nestedEntryName, readerName(src.SourceID(), nestedEntryName), cfg)
	if err != nil {
		c.Close()
		return nil, annotate(err, "open", src.SourceID(), nestedEntryName)
	}
	return r, nil
}

func newReader(c *Container, nestedEntryName, name string, cfg config) (*Reader, error) {
	idx, err := buildIndex(c, nestedEntryName, cfg.log())
	if err != nil {
		return nil, err
	}
	r := &Reader{
		res:   newResources(c, cfg.log()),
		index: idx,
		name:  name,
		cfg:   cfg,
	}
	r.cleanup = runtime.AddCleanup(r, releaseUnclosed, r.res)
	cfg.log().Debug("opened reader", "name", name, "entries", idx.Len())
	return r, nil
}

func releaseUnclosed(res *resources) {
	if !res.closing.CompareAndSwap(false, true) {
		return
	}
	if err := res.releaseAll(); err != nil {
		res.logger.Warn("releasing unclosed reader", "error", err)
	}
}

// Name returns the container path, or path[entry] for nested readers.
func (r *Reader) Name() string {
	return r.name
}

// Index returns the archive index.
func (r *Reader) Index() (*Index, error) {
	if err := r.res.checkOpen(); err != nil {
		return nil, err
	}
	return r.index, nil
}

// Len returns the number of entries.
func (r *Reader) Len() (int, error) {
	if err := r.res.checkOpen(); err != nil {
		return 0, err
	}
	return r.index.Len(), nil
}

// Comment returns the archive comment.
func (r *Reader) Comment() (string, error) {
	if err := r.res.checkOpen(); err != nil {
		return "", err
	}
	return r.index.Comment(), nil
}

// HasSignatureFile reports whether the archive carries a signature file.
func (r *Reader) HasSignatureFile() (bool, error) {
	if err := r.res.checkOpen(); err != nil {
		return false, err
	}
	return r.index.HasSignatureFile(), nil
}

// Entries returns every entry in central directory order. The sequence can
// be iterated more than once.
func (r *Reader) Entries() (iter.Seq[Entry], error) {
	if err := r.res.checkOpen(); err != nil {
		return nil, err
	}
	return r.index.Entries(), nil
}

// VersionedEntries returns one entry per distinct base name, as Entry would
// resolve it. For multi-release archives, versioned copies above the runtime
// version or below the base version are skipped and the highest applicable
// version wins. Other archives yield every entry.
func (r *Reader) VersionedEntries() (iter.Seq[Entry], error) {
	m, err := r.Manifest()
	if err != nil {
		return nil, err
	}
	if !m.MultiRelease() {
		return r.index.Entries(), nil
	}
	versions := r.index.Versions(r.cfg.baseVersion)
	runtimeVersion, baseVersion := r.cfg.runtimeVersion, r.cfg.baseVersion
	return func(yield func(Entry) bool) {
		seen := make(map[string]struct{}, r.index.Len())
		for _, e := range r.index.entries {
			name := e.Name
			if strings.HasPrefix(name, versionsRoot) {
				v, rest, ok := splitVersioned(name)
				if !ok || rest == "" || v > runtimeVersion || v < baseVersion {
					continue
				}
				name = rest
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			resolved, ok := versions.Resolve(name, runtimeVersion)
			if !ok {
				if resolved, ok = r.index.Lookup("", name); !ok {
					continue
				}
			}
			if !yield(resolved) {
				return
			}
		}
	}, nil
}

// Entry returns the entry addressed by name. For multi-release archives the
// highest version directory at or below the runtime version that holds name
// wins over the base entry; the returned entry keeps name as its Name.
func (r *Reader) Entry(name string) (Entry, error) {
	if err := r.res.checkOpen(); err != nil {
		return Entry{}, err
	}
	if !strings.HasPrefix(name, metaInf) {
		e, ok, err := r.versionedEntry(name)
		if err != nil {
			return Entry{}, err
		}
		if ok {
			return e, nil
		}
	}
	e, ok, err := r.lookup("", name)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, &fs.PathError{Op: "entry", Path: name, Err: ErrEntryNotFound}
	}
	return e, nil
}

func (r *Reader) versionedEntry(name string) (Entry, bool, error) {
	m, err := r.Manifest()
	if err != nil || !m.MultiRelease() {
		return Entry{}, false, err
	}
	var lookupErr error
	e, ok := r.index.Versions(r.cfg.baseVersion).resolve(name, r.cfg.runtimeVersion, func(prefix, n string) (Entry, bool) {
		if lookupErr != nil {
			return Entry{}, false
		}
		e, found, err := r.lookup(prefix, n)
		lookupErr = err
		return e, found
	})
	if lookupErr != nil {
		return Entry{}, false, lookupErr
	}
	return e, ok, nil
}

// lookup consults the single-slot cache before the index.
func (r *Reader) lookup(prefix, name string) (Entry, bool, error) {
	r.res.mu.Lock()
	defer r.res.mu.Unlock()
	if err := r.res.checkOpen(); err != nil {
		return Entry{}, false, err
	}
	if r.lastValid && r.lastPrefix == prefix && r.lastName == name {
		return r.lastEntry, r.lastFound, nil
	}
	e, ok := r.index.Lookup(prefix, name)
	r.lastPrefix, r.lastName = prefix, name
	r.lastEntry, r.lastFound, r.lastValid = e, ok, true
	return e, ok, nil
}

// Open returns a stream of the entry's uncompressed content. Directory
// entries yield an empty stream. The stream must be closed; closing the
// Reader closes it too.
func (r *Reader) Open(e Entry) (io.ReadCloser, error) {
	if err := r.res.checkOpen(); err != nil {
		return nil, err
	}
	if e.IsDir() {
		return emptyStream(), nil
	}
	if e.Method != zipfmt.MethodStored && e.Method != zipfmt.MethodDeflated {
		return nil, &fs.PathError{
			Op:   "open",
			Path: e.Name,
			Err:  fmt.Errorf("%w: method %d", ErrUnsupportedCompression, e.Method),
		}
	}
	rng, err := r.index.RawRange(e)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: e.Name, Err: err}
	}

	r.res.mu.Lock()
	defer r.res.mu.Unlock()
	if err := r.res.checkOpen(); err != nil {
		return nil, err
	}
	s := &entryStream{
		res:       r.res,
		owner:     r,
		name:      e.Name,
		src:       r.res.container,
		off:       rng.Offset,
		remaining: rng.Length,
	}
	if e.Method == zipfmt.MethodDeflated {
		inf, err := r.res.acquireInflaterLocked(rawReader{s: s})
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: e.Name, Err: err}
		}
		s.inf = inf
	}
	r.res.trackLocked(s)
	return s, nil
}

// Manifest returns the parsed META-INF/MANIFEST.MF, or nil if the archive has
// none. The manifest is parsed once per reader.
func (r *Reader) Manifest() (*Manifest, error) {
	if err := r.res.checkOpen(); err != nil {
		return nil, err
	}
	r.manifestMu.Lock()
	defer r.manifestMu.Unlock()
	if r.manifestLoaded {
		return r.manifest, nil
	}

	e, ok, err := r.lookup("", manifestName)
	if err != nil {
		return nil, err
	}
	if ok {
		rc, err := r.Open(e)
		if err != nil {
			return nil, err
		}
		m, err := ParseManifest(rc)
		rc.Close()
		if err != nil {
			return nil, &fs.PathError{Op: "manifest", Path: r.name, Err: err}
		}
		r.manifest = m
	}
	r.manifestLoaded = true
	return r.manifest, nil
}

// EntryAttributes returns the manifest attributes of the entry's section, or
// nil.
func (r *Reader) EntryAttributes(e Entry) (Attributes, error) {
	m, err := r.Manifest()
	if err != nil {
		return nil, err
	}
	return m.Attributes(e.Name), nil
}

// Close releases the reader. Calling Close more than once is safe.
func (r *Reader) Close() error {
	if !r.res.closing.CompareAndSwap(false, true) {
		return nil
	}
	r.cleanup.Stop()
	return r.res.releaseAll()
}
