package nested

import (
	"slices"
	"strconv"
	"strings"
)

// VersionSet is the set of multi-release version directories of an archive
// at or above a base version, in ascending order.
type VersionSet struct {
	idx      *Index
	versions []int
}

// Versions returns the version directories of the archive that are at least
// base. The archive is scanned once; later calls filter the memoized result.
func (idx *Index) Versions(base int) VersionSet {
	idx.versionsOnce.Do(idx.scanVersions)
	i, _ := slices.BinarySearch(idx.versions, base)
	return VersionSet{idx: idx, versions: idx.versions[i:]}
}

// scanVersions collects every integer N with an entry below
// META-INF/versions/N/. Directory placeholder records and non-numeric
// segments are ignored.
func (idx *Index) scanVersions() {
	seen := make(map[int]struct{})
	for _, e := range idx.entries {
		if v, rest, ok := splitVersioned(e.Name); ok && rest != "" {
			seen[v] = struct{}{}
		}
	}
	versions := make([]int, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	idx.versions = versions
}

// splitVersioned splits META-INF/versions/N/rest into N and rest.
func splitVersioned(name string) (int, string, bool) {
	tail, ok := strings.CutPrefix(name, versionsRoot)
	if !ok {
		return 0, "", false
	}
	segment, rest, ok := strings.Cut(tail, "/")
	if !ok || segment == "" {
		return 0, "", false
	}
	v, err := strconv.Atoi(segment)
	if err != nil || v < 0 {
		return 0, "", false
	}
	return v, rest, true
}

// Versions returns the versions in ascending order.
func (s VersionSet) Versions() []int {
	return slices.Clone(s.versions)
}

// Len returns the number of versions.
func (s VersionSet) Len() int {
	return len(s.versions)
}

// Directory returns the entry prefix for version v.
func (s VersionSet) Directory(v int) string {
	return versionDirectory(v)
}

func versionDirectory(v int) string {
	return versionsRoot + strconv.Itoa(v) + "/"
}

// Resolve finds the highest version at or below runtime that contains name
// and returns that entry, addressed by name. META-INF names never resolve.
func (s VersionSet) Resolve(name string, runtime int) (Entry, bool) {
	return s.resolve(name, runtime, s.idx.Lookup)
}

func (s VersionSet) resolve(name string, runtime int, lookup func(prefix, name string) (Entry, bool)) (Entry, bool) {
	if strings.HasPrefix(name, metaInf) {
		return Entry{}, false
	}
	for i := len(s.versions) - 1; i >= 0; i-- {
		v := s.versions[i]
		if v > runtime {
			continue
		}
		if e, ok := lookup(versionDirectory(v), name); ok {
			e.Name = name
			return e, true
		}
	}
	return Entry{}, false
}
