// Package oras wraps the ORAS library with the few OCI operations needed to
// store archives as registry artifacts and read them back lazily: resolving
// references, moving manifests and blobs, and building authenticated HTTP
// clients for ranged blob reads.
package oras
