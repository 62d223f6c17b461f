package oras

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const (
	// DefaultUserAgent is sent when WithUserAgent is not used.
	DefaultUserAgent = "nested/1.0"

	// maxManifestSize bounds manifest downloads when the descriptor has no size.
	maxManifestSize = 4 << 20
)

// Client runs the registry operations archives need. Every repository it
// touches shares one auth client, so bearer tokens are fetched once per
// scope and reused for blob range reads.
type Client struct {
	plainHTTP  bool
	anonymous  bool
	userAgent  string
	httpClient *http.Client
	keys       keychain
	logger     *slog.Logger
	deferred   []func(*slog.Logger)

	auth *auth.Client
}

// New creates a client with the given options.
func New(opts ...Option) *Client {
	c := &Client{userAgent: DefaultUserAgent, httpClient: retry.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	for _, fn := range c.deferred {
		fn(c.logger)
	}
	c.deferred = nil

	c.auth = &auth.Client{
		Client:     c.httpClient,
		Cache:      auth.NewCache(),
		Credential: c.credential,
		Header:     http.Header{"User-Agent": []string{c.userAgent}},
	}
	return c
}

func (c *Client) credential(ctx context.Context, hostport string) (auth.Credential, error) {
	if c.anonymous || c.keys.empty() {
		return auth.EmptyCredential, nil
	}
	return c.keys.credential(ctx, hostport)
}

// repo opens the remote repository of ref with the shared auth client.
func (c *Client) repo(ref string) (*remote.Repository, error) {
	r, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidReference, ref, err)
	}
	r.PlainHTTP = c.plainHTTP
	r.Client = c.auth
	return r, nil
}

func parseRef(ref string) (registry.Reference, error) {
	r, err := registry.ParseReference(ref)
	if err != nil {
		return registry.Reference{}, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	return r, nil
}

// Resolve resolves a tag or digest of repoRef's repository to a manifest
// descriptor.
func (c *Client) Resolve(ctx context.Context, repoRef, ref string) (ocispec.Descriptor, error) {
	r, err := c.repo(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc, err := r.Resolve(ctx, ref)
	if err != nil {
		return ocispec.Descriptor{}, mapError("resolve", repoRef, err)
	}
	c.logger.Debug("resolved reference", "ref", repoRef, "digest", desc.Digest.String(), "size", desc.Size)
	return desc, nil
}

// FetchManifest downloads the image manifest expected describes and checks
// it against the descriptor's digest.
func (c *Client) FetchManifest(ctx context.Context, repoRef string, expected *ocispec.Descriptor) (ocispec.Manifest, error) {
	if err := validateDescriptor(expected); err != nil {
		return ocispec.Manifest{}, err
	}
	if mt := expected.MediaType; mt != "" && mt != ocispec.MediaTypeImageManifest {
		return ocispec.Manifest{}, fmt.Errorf("%w: media type %s is not an image manifest", ErrManifestInvalid, mt)
	}
	r, err := c.repo(repoRef)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	_, body, err := r.FetchReference(ctx, expected.Digest.String())
	if err != nil {
		return ocispec.Manifest{}, mapError("fetch manifest", repoRef, err)
	}
	defer body.Close()

	raw, err := readManifest(body, expected)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}
	return m, nil
}

func readManifest(body io.Reader, expected *ocispec.Descriptor) ([]byte, error) {
	limit := expected.Size
	if limit <= 0 {
		limit = maxManifestSize
	}
	raw, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if got := expected.Digest.Algorithm().FromBytes(raw); got != expected.Digest {
		return nil, fmt.Errorf("%w: digest %s, want %s", ErrManifestInvalid, got, expected.Digest)
	}
	return raw, nil
}

// PushBlob uploads a blob the repository does not have yet. content must
// yield exactly desc.Size bytes.
func (c *Client) PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, content io.Reader) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("%w: content reader is nil", ErrInvalidDescriptor)
	}
	r, err := c.repo(repoRef)
	if err != nil {
		return err
	}
	if exists, err := r.Exists(ctx, *desc); err == nil && exists {
		c.logger.Debug("blob already present", "ref", repoRef, "digest", desc.Digest.String())
		return nil
	}
	if err := r.Push(ctx, *desc, content); err != nil {
		return mapError("push blob", repoRef, err)
	}
	c.logger.Debug("pushed blob", "ref", repoRef, "digest", desc.Digest.String(), "size", desc.Size)
	return nil
}

// PushManifest uploads m and tags it.
func (c *Client) PushManifest(ctx context.Context, repoRef, tag string, m *ocispec.Manifest) (ocispec.Descriptor, error) {
	if m == nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: manifest is nil", ErrManifestInvalid)
	}
	r, err := c.repo(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("encode manifest: %w", err)
	}
	desc := ocispec.Descriptor{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: m.ArtifactType,
		Digest:       digest.FromBytes(raw),
		Size:         int64(len(raw)),
	}
	if err := r.PushReference(ctx, desc, bytes.NewReader(raw), tag); err != nil {
		return ocispec.Descriptor{}, mapError("push manifest", repoRef, err)
	}
	return desc, nil
}

// BlobURL returns <scheme>://<registry>/v2/<repository>/blobs/<digest>.
func (c *Client) BlobURL(repoRef, dgst string) (string, error) {
	ref, err := parseRef(repoRef)
	if err != nil {
		return "", err
	}
	scheme := "https"
	if c.plainHTTP {
		scheme = "http"
	}
	return scheme + "://" + ref.Host() + "/v2/" + ref.Repository + "/blobs/" + dgst, nil
}

// AuthClient returns an HTTP client whose requests carry repoRef's pull
// credentials, for ranged reads of its blobs.
func (c *Client) AuthClient(repoRef string) (*http.Client, error) {
	ref, err := parseRef(repoRef)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: pullTransport{auth: c.auth, ref: ref}}, nil
}

// pullTransport hands each request to the auth client scoped to pulling
// from one repository, which takes care of token exchange.
type pullTransport struct {
	auth *auth.Client
	ref  registry.Reference
}

func (t pullTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := auth.AppendRepositoryScope(req.Context(), t.ref, auth.ActionPull)
	return t.auth.Do(req.Clone(ctx))
}

func validateDescriptor(desc *ocispec.Descriptor) error {
	switch {
	case desc == nil:
		return fmt.Errorf("%w: descriptor is nil", ErrInvalidDescriptor)
	case desc.Size < 0:
		return fmt.Errorf("%w: negative size %d", ErrInvalidDescriptor, desc.Size)
	}
	if err := desc.Digest.Validate(); err != nil {
		return fmt.Errorf("%w: digest %q: %w", ErrInvalidDescriptor, desc.Digest, err)
	}
	return nil
}
