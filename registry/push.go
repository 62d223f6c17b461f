package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	nested "github.com/meigma/nested/core"
)

// DefaultTitle is the layer title annotation used when none is given.
const DefaultTitle = "archive.jar"

type pushConfig struct {
	mediaType   string
	title       string
	annotations map[string]string
}

// PushOption configures Push.
type PushOption func(*pushConfig)

// WithMediaType sets the archive layer media type.
// The default is MediaTypeArchive.
func WithMediaType(mediaType string) PushOption {
	return func(cfg *pushConfig) {
		cfg.mediaType = mediaType
	}
}

// WithTitle sets the org.opencontainers.image.title annotation of the layer.
func WithTitle(title string) PushOption {
	return func(cfg *pushConfig) {
		cfg.title = title
	}
}

// WithAnnotations adds manifest annotations.
func WithAnnotations(annotations map[string]string) PushOption {
	return func(cfg *pushConfig) {
		if cfg.annotations == nil {
			cfg.annotations = make(map[string]string, len(annotations))
		}
		maps.Copy(cfg.annotations, annotations)
	}
}

// Push publishes the archive in src under ref, which must carry a tag. The
// archive is indexed first so that only readable archives are published.
// Push returns the descriptor of the pushed manifest.
func (c *Client) Push(ctx context.Context, ref string, src nested.ByteSource, opts ...PushOption) (ocispec.Descriptor, error) {
	cfg := pushConfig{
		mediaType: MediaTypeArchive,
		title:     DefaultTitle,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r, err := parseRef(ref)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if isDigest(r) {
		return ocispec.Descriptor{}, fmt.Errorf("%w: push needs a tag, got digest %s", ErrInvalidReference, r.Reference)
	}

	idx, err := nested.NewIndex(src)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("index archive: %w", err)
	}

	dgst, err := digest.FromReader(io.NewSectionReader(src, 0, src.Size()))
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("digest archive: %w", err)
	}
	layer := ocispec.Descriptor{
		MediaType: cfg.mediaType,
		Digest:    dgst,
		Size:      src.Size(),
	}
	if cfg.title != "" {
		layer.Annotations = map[string]string{ocispec.AnnotationTitle: cfg.title}
	}

	config := ocispec.DescriptorEmptyJSON
	if err := c.oci.PushBlob(ctx, ref, &config, bytes.NewReader(config.Data)); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push config: %w", mapOCIError(err))
	}
	body := io.NewSectionReader(src, 0, src.Size())
	if err := c.oci.PushBlob(ctx, ref, &layer, body); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push archive layer: %w", mapOCIError(err))
	}

	manifest := ocispec.Manifest{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       config,
		Layers:       []ocispec.Descriptor{layer},
		Annotations:  cfg.annotations,
	}
	manifest.SchemaVersion = 2

	desc, err := c.oci.PushManifest(ctx, ref, r.Reference, &manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push manifest: %w", mapOCIError(err))
	}
	c.logger.Debug("pushed archive",
		"ref", ref,
		"manifest", desc.Digest.String(),
		"layer", dgst.String(),
		"entries", idx.Len())
	return desc, nil
}
