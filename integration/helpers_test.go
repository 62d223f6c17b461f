//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/nested"
	"github.com/meigma/nested/core/testutil"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
	minioBucket   = "jars"
)

func skipWithoutDocker(tb testing.TB) {
	tb.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}
	if testing.Short() {
		tb.Skip("skipping integration test in short mode")
	}
}

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
// The container is shared across all tests for performance.
func getRegistry(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	registryOnce.Do(func() {
		registryAddr, registryErr = startRegistryContainer(context.Background())
	})
	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}
	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	// Container cleanup is handled by the testcontainers reaper.
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- MinIO Container Setup ---

var (
	minioOnce     sync.Once
	minioEndpoint string
	minioErr      error
)

// getMinIO returns the shared MinIO endpoint with the test bucket created.
func getMinIO(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	minioOnce.Do(func() {
		minioEndpoint, minioErr = startMinIOContainer(context.Background())
	})
	if minioErr != nil {
		tb.Fatalf("start minio container: %v", minioErr)
	}
	return minioEndpoint
}

func startMinIOContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioUser,
			"MINIO_ROOT_PASSWORD": minioPassword,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start minio container: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		return "", fmt.Errorf("resolve minio endpoint: %w", err)
	}

	client, err := newMinIOClient(endpoint)
	if err != nil {
		return "", err
	}
	if err := client.MakeBucket(ctx, minioBucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := client.BucketExists(ctx, minioBucket)
		if !exists || existsErr != nil {
			return "", fmt.Errorf("create bucket: %w", err)
		}
	}
	return endpoint, nil
}

func newMinIOClient(endpoint string) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(minioUser, minioPassword, ""),
		Secure:       false,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// uploadObject stores data under key in the test bucket.
func uploadObject(tb testing.TB, endpoint, key string, data []byte) {
	tb.Helper()
	client, err := newMinIOClient(endpoint)
	require.NoError(tb, err)
	_, err = client.PutObject(context.Background(), minioBucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/java-archive"})
	require.NoError(tb, err)
}

// --- Test Client Factory ---

// newTestClient creates a client configured for the local test containers.
func newTestClient(tb testing.TB, opts ...nested.Option) *nested.Client {
	tb.Helper()
	allOpts := append([]nested.Option{nested.WithPlainHTTP(true), nested.WithAnonymous()}, opts...)
	client, err := nested.NewClient(allOpts...)
	require.NoError(tb, err, "create test client")
	return client
}

// testRef generates a unique reference for a test to avoid collisions.
func testRef(registryAddr, testName string) string {
	name := strings.ToLower(strings.ReplaceAll(testName, "/", "-"))
	return fmt.Sprintf("%s/test/%s:latest", registryAddr, name)
}

// --- Test Data Helpers ---

// bootJar builds an executable-style jar: a launch script prefix, stored
// nested libraries, a classes directory and a multi-release library.
func bootJar(tb testing.TB) []byte {
	tb.Helper()
	lib := testutil.NewZip().
		StoreString("META-INF/MANIFEST.MF", "Manifest-Version: 1.0\r\nMulti-Release: true\r\n\r\n").
		StoreString("com/example/Widget.class", "widget base").
		StoreString("META-INF/versions/17/com/example/Widget.class", "widget 17").
		Deflate("com/example/data.bin", testutil.Pattern(256<<10)).
		MustBuild(tb)
	return testutil.NewZip().
		Prefix([]byte("#!/bin/sh\nexec java -jar \"$0\" \"$@\"\n")).
		StoreString("META-INF/MANIFEST.MF", "Manifest-Version: 1.0\r\nMain-Class: org.example.Launcher\r\n\r\n").
		Dir("BOOT-INF/").
		Dir("BOOT-INF/classes/").
		StoreString("BOOT-INF/classes/app/Main.class", "main class").
		Store("BOOT-INF/lib/widgets.jar", lib).
		MustBuild(tb)
}

func readEntry(tb testing.TB, r *nested.Reader, name string) []byte {
	tb.Helper()
	e, err := r.Entry(name)
	require.NoError(tb, err)
	rc, err := r.Open(e)
	require.NoError(tb, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(tb, err)
	return data
}
