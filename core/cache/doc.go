// Package cache provides block-level caching of container bytes.
//
// Reading a nested archive touches the same few regions of its container over
// and over: the end records, the central directory, and the local headers of
// the entries being opened. When the container lives behind a network (an
// HTTP server, an object store or an OCI registry) every one of those reads is
// a round trip. A BlockCache wraps such a source and keeps fixed-size blocks
// of it, keyed by the source's SourceID, so repeated opens of the same
// container are served locally.
//
// The disk subpackage provides a persistent implementation.
package cache
