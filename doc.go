// Package nested opens zip-format archives, and the archives stored inside
// them, wherever they live.
//
// [Client] accepts one target syntax for every source:
//
//	/srv/app.jar                      local file
//	nested:/srv/app.jar/!lib/core.jar nested location URI
//	https://cdn.example.com/app.jar   HTTP server with range support
//	s3://artifacts/app.jar            S3 or MinIO object
//	oci://ghcr.io/acme/app:1.4.2      OCI artifact pushed with Push
//
// Remote archives are read lazily with ranged reads; only the end records,
// the central directory and the entries actually opened are fetched.
//
// # Quick Start
//
//	c, err := nested.NewClient(
//	    nested.WithDockerConfig(),
//	    nested.WithCacheDir("/var/cache/nested"),
//	)
//	if err != nil {
//	    return err
//	}
//	r, err := c.Open(ctx, "oci://ghcr.io/acme/app:1.4.2", "BOOT-INF/lib/core.jar")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
// For archive internals without any remote access, use the [core] subpackage.
//
// [core]: https://pkg.go.dev/github.com/meigma/nested/core
package nested
