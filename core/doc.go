// Package nested reads zip-format containers and the stored containers nested
// inside them without extracting anything to disk.
//
// # Indexes
//
// An [Index] is the parsed central directory of one archive. [Build] indexes
// a [ByteSource]; given a nested entry name it indexes the raw bytes of that
// stored entry as an archive of its own, or, for a directory entry, a view of
// the entries below it. Archives with bytes prefixed to them (launch scripts)
// and zip64 archives are supported.
//
// # Readers
//
// A [Reader] adds streams over entry content, multi-release resolution and
// manifest access to an index:
//
//	r, err := nested.OpenNested("/srv/app.jar", "BOOT-INF/lib/lib.jar")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	e, err := r.Entry("com/example/Widget.class")
//	if err != nil {
//		return err
//	}
//	rc, err := r.Open(e)
//
// Entries are STORED or DEFLATE; other methods fail with
// [ErrUnsupportedCompression]. Streams and pooled inflaters are released by
// [Reader.Close]; operations after Close fail with [ErrUseAfterClose].
//
// # Nested paths
//
// A [Location] addresses an entry as nested:<path>/!<entry>. A [Registry]
// keeps one [FileSystem] per container and hands out [Path] values whose
// [ByteChannel] reads the raw bytes of a stored entry, or a synthesized
// archive for a directory entry.
package nested
