package nested

import (
	"fmt"
	"io/fs"
)

// Path is a single-segment, absolute path naming one entry of a file system
// (or the container itself). Nested paths cannot be navigated: they have no
// parent and do not resolve against other paths.
type Path struct {
	fsys  *FileSystem
	entry string
}

// FileSystem returns the file system the path belongs to.
func (p *Path) FileSystem() *FileSystem {
	return p.fsys
}

// Location returns the container path and entry name.
func (p *Path) Location() Location {
	return Location{Path: p.fsys.loc.Path, Entry: p.entry}
}

// Entry returns the entry name, or "" for the container itself.
func (p *Path) Entry() string {
	return p.entry
}

// IsAbsolute is always true.
func (p *Path) IsAbsolute() bool {
	return true
}

// Root always returns nil.
func (p *Path) Root() *Path {
	return nil
}

// Parent always returns nil.
func (p *Path) Parent() *Path {
	return nil
}

// FileName returns p.
func (p *Path) FileName() *Path {
	return p
}

// NameCount is always 1.
func (p *Path) NameCount() int {
	return 1
}

// Name returns p for index 0.
func (p *Path) Name(i int) (*Path, error) {
	if i != 0 {
		return nil, fmt.Errorf("name index %d: %w", i, fs.ErrInvalid)
	}
	return p, nil
}

// Resolve is not supported.
func (p *Path) Resolve(string) (*Path, error) {
	return nil, fmt.Errorf("resolve %s: %w", p, ErrUnsupportedOperation)
}

// Relativize is not supported.
func (p *Path) Relativize(*Path) (*Path, error) {
	return nil, fmt.Errorf("relativize %s: %w", p, ErrUnsupportedOperation)
}

// Equal reports whether both paths address the same location.
func (p *Path) Equal(other *Path) bool {
	return other != nil && p.Location() == other.Location()
}

// URI formats the path as a nested URI.
func (p *Path) URI() string {
	return p.Location().URI()
}

func (p *Path) String() string {
	return p.URI()
}

// Open opens a read-only channel over the bytes the path addresses.
func (p *Path) Open() (*ByteChannel, error) {
	return p.fsys.NewByteChannel(p)
}
