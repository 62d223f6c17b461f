package nested

import nestedcore "github.com/meigma/nested/core"

// --- Re-exports from core ---

// Reader reads the entries of one archive.
type Reader = nestedcore.Reader

// Entry describes one central directory record.
type Entry = nestedcore.Entry

// Index is the parsed central directory of one archive.
type Index = nestedcore.Index

// Location addresses a container or an entry inside one.
type Location = nestedcore.Location

// Manifest is a parsed META-INF/MANIFEST.MF.
type Manifest = nestedcore.Manifest

// ByteSource provides random access to container bytes.
type ByteSource = nestedcore.ByteSource

// EntryFilter selects entries by include and exclude patterns.
type EntryFilter = nestedcore.EntryFilter

// ReaderOption configures readers.
type ReaderOption = nestedcore.Option

// Multi-release defaults.
const (
	DefaultRuntimeVersion = nestedcore.DefaultRuntimeVersion
	DefaultBaseVersion    = nestedcore.DefaultBaseVersion
)

// Reader options re-exported from core.
var (
	WithRuntimeVersion = nestedcore.WithRuntimeVersion
	WithBaseVersion    = nestedcore.WithBaseVersion
	WithMmap           = nestedcore.WithMmap
)

// ParseLocation parses a nested:<path>/!<entry> URI.
var ParseLocation = nestedcore.ParseLocation

// NewEntryFilter compiles include and exclude patterns.
var NewEntryFilter = nestedcore.NewEntryFilter

// FilterEntries yields the entries of seq that f matches.
var FilterEntries = nestedcore.FilterEntries
