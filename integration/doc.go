//go:build integration

// Package integration provides end-to-end tests for nested archive access.
//
// These tests require Docker. They start a real OCI registry and a MinIO
// server using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
