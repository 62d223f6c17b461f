// Package registry publishes archives as OCI artifacts and opens them again
// straight from the registry.
//
// An archive is pushed as a single layer of an image manifest with an empty
// config. Opening a reference resolves the manifest, picks the archive layer
// and reads it with HTTP range requests against the registry's blob
// endpoint, so only the central directory and the entries actually read are
// transferred:
//
//	c := registry.New(registry.WithORASOptions(oras.WithDockerConfig()))
//	r, err := c.Open(ctx, "ghcr.io/acme/app:1.4.2", "BOOT-INF/lib/core.jar")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
// Reads of the returned reader are bound to the context passed to Open.
package registry
