package nested

import (
	"fmt"
	"path/filepath"
	"strings"

	nestedcore "github.com/meigma/nested/core"
)

type targetKind int

const (
	targetLocal targetKind = iota
	targetHTTP
	targetS3
	targetOCI
)

func (k targetKind) String() string {
	switch k {
	case targetHTTP:
		return "http"
	case targetS3:
		return "s3"
	case targetOCI:
		return "oci"
	default:
		return "local"
	}
}

// target is a parsed Open argument.
type target struct {
	kind targetKind

	// path is the local container path, the URL, or the OCI reference.
	path string

	// bucket and key address s3 objects.
	bucket string
	key    string

	// entry is the nested entry carried by a nested: URI.
	entry string
}

func parseTarget(s string) (target, error) {
	switch {
	case s == "":
		return target{}, fmt.Errorf("%w: empty target", ErrUnsupportedTarget)
	case strings.HasPrefix(s, "nested:"):
		loc, err := nestedcore.ParseLocation(s)
		if err != nil {
			return target{}, err
		}
		return target{kind: targetLocal, path: loc.Path, entry: loc.Entry}, nil
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return target{kind: targetHTTP, path: s}, nil
	case strings.HasPrefix(s, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(s, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return target{}, fmt.Errorf("%w: %q needs s3://bucket/key", ErrUnsupportedTarget, s)
		}
		return target{kind: targetS3, bucket: bucket, key: key}, nil
	case strings.HasPrefix(s, "oci://"):
		ref := strings.TrimPrefix(s, "oci://")
		if ref == "" {
			return target{}, fmt.Errorf("%w: %q has no reference", ErrUnsupportedTarget, s)
		}
		return target{kind: targetOCI, path: ref}, nil
	case strings.Contains(s, "://"):
		return target{}, fmt.Errorf("%w: %q", ErrUnsupportedTarget, s)
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return target{}, fmt.Errorf("resolve %s: %w", s, err)
	}
	return target{kind: targetLocal, path: abs}, nil
}

// nestedEntry merges the entry of a nested: URI with an explicit one.
func (t target) nestedEntry(entry string) (string, error) {
	switch {
	case entry == "":
		return t.entry, nil
	case t.entry == "":
		return entry, nil
	}
	return "", fmt.Errorf("%w: entry %q given alongside %q", ErrInvalidLocation, entry, t.entry)
}
