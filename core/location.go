package nested

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const (
	// Scheme is the URI scheme of nested locations.
	Scheme = "nested"

	// Separator divides the container path from the entry name in a nested URI.
	Separator = "/!"
)

// Location addresses an entry inside a container: the absolute path of the
// container file and the entry name. An empty Entry addresses the container
// itself. Locations are comparable with ==.
type Location struct {
	Path  string
	Entry string
}

// NewLocation returns the location of entry inside the container at path.
// The path must be absolute; it is cleaned.
func NewLocation(path, entry string) (Location, error) {
	if path == "" {
		return Location{}, fmt.Errorf("%w: empty container path", ErrInvalidLocation)
	}
	if !filepath.IsAbs(path) {
		return Location{}, fmt.Errorf("%w: container path %q is not absolute", ErrInvalidLocation, path)
	}
	return Location{Path: filepath.Clean(path), Entry: entry}, nil
}

// ParseLocation parses nested:<path>/!<entry>. The container path and entry
// are split at the last "/!" and each is percent-decoded. A URI without a
// separator addresses the container itself.
func ParseLocation(uri string) (Location, error) {
	rest, ok := cutScheme(uri)
	if !ok {
		return Location{}, fmt.Errorf("%w: %q does not use the %s scheme", ErrInvalidLocation, uri, Scheme)
	}
	rawPath, rawEntry := rest, ""
	if i := strings.LastIndex(rest, Separator); i >= 0 {
		rawPath, rawEntry = rest[:i], rest[i+len(Separator):]
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: %w", ErrInvalidLocation, uri, err)
	}
	entry, err := url.PathUnescape(rawEntry)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: %w", ErrInvalidLocation, uri, err)
	}
	return NewLocation(filepath.FromSlash(path), entry)
}

func cutScheme(uri string) (string, bool) {
	if len(uri) <= len(Scheme) || uri[len(Scheme)] != ':' || !strings.EqualFold(uri[:len(Scheme)], Scheme) {
		return "", false
	}
	return uri[len(Scheme)+1:], true
}

// URI formats the location as nested:<path>/!<entry>. Only '%' and '!' are
// escaped, which keeps the separator unambiguous.
func (l Location) URI() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteByte(':')
	b.WriteString(escapeComponent(filepath.ToSlash(l.Path)))
	if l.Entry != "" {
		b.WriteString(Separator)
		b.WriteString(escapeComponent(l.Entry))
	}
	return b.String()
}

func (l Location) String() string {
	return l.URI()
}

// IsNested reports whether the location names an entry rather than the
// container itself.
func (l Location) IsNested() bool {
	return l.Entry != ""
}

// Container returns the location of the container itself.
func (l Location) Container() Location {
	return Location{Path: l.Path}
}

var componentEscaper = strings.NewReplacer("%", "%25", "!", "%21")

func escapeComponent(s string) string {
	return componentEscaper.Replace(s)
}
