package registry

import (
	"context"
	"fmt"
	"slices"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	nested "github.com/meigma/nested/core"
	nestedhttp "github.com/meigma/nested/core/http"
)

// Layer resolves ref and returns the descriptor of its archive layer.
func (c *Client) Layer(ctx context.Context, ref string) (ocispec.Descriptor, error) {
	r, err := parseRef(ref)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	var desc ocispec.Descriptor
	if isDigest(r) {
		desc, err = descriptorFromDigest(r.Reference)
	} else {
		desc, err = c.oci.Resolve(ctx, ref, r.Reference)
	}
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("resolve %s: %w", ref, mapOCIError(err))
	}

	manifest, err := c.oci.FetchManifest(ctx, ref, &desc)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("fetch manifest %s: %w", ref, mapOCIError(err))
	}
	layer, err := c.selectLayer(&manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%s: %w", ref, err)
	}
	c.logger.Debug("selected archive layer",
		"ref", ref,
		"manifest", desc.Digest.String(),
		"layer", layer.Digest.String(),
		"media_type", layer.MediaType,
		"size", layer.Size)
	return layer, nil
}

// selectLayer picks the layer whose media type ranks first among the
// accepted media types. Ties go to the earlier layer.
func (c *Client) selectLayer(manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	best, bestRank := -1, len(c.mediaTypes)
	for i, layer := range manifest.Layers {
		rank := slices.Index(c.mediaTypes, layer.MediaType)
		if rank < 0 || rank >= bestRank {
			continue
		}
		best, bestRank = i, rank
	}
	if best < 0 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %d layers, accepted %v", ErrLayerNotFound, len(manifest.Layers), c.mediaTypes)
	}
	layer := manifest.Layers[best]
	if err := layer.Digest.Validate(); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: layer digest %q: %v", ErrInvalidManifest, layer.Digest, err)
	}
	if layer.Size <= 0 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: layer size %d", ErrInvalidManifest, layer.Size)
	}
	return layer, nil
}

// Source returns a range-read source over the archive layer of ref. Reads
// are bound to ctx. The source is block cached when the client has a
// BlockCache. Callers must close the source when it implements io.Closer.
func (c *Client) Source(ctx context.Context, ref string) (nested.ByteSource, error) {
	layer, err := c.Layer(ctx, ref)
	if err != nil {
		return nil, err
	}

	url, err := c.oci.BlobURL(ref, layer.Digest.String())
	if err != nil {
		return nil, fmt.Errorf("build blob URL: %w", mapOCIError(err))
	}
	httpClient, err := c.oci.AuthClient(ref)
	if err != nil {
		return nil, fmt.Errorf("get auth client: %w", mapOCIError(err))
	}

	opts := append([]nestedhttp.Option{
		nestedhttp.WithClient(httpClient),
		nestedhttp.WithContext(ctx),
		nestedhttp.WithLogger(c.logger),
		nestedhttp.WithSourceID("oci:" + layer.Digest.String()),
	}, c.httpOpts...)
	src, err := nestedhttp.NewSource(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("open layer %s: %w", layer.Digest, err)
	}
	if src.Size() != layer.Size {
		src.Close()
		return nil, fmt.Errorf("%w: blob has %d bytes, descriptor %d", ErrSizeMismatch, src.Size(), layer.Size)
	}

	if c.blockCache == nil {
		return src, nil
	}
	cached, err := c.blockCache.Wrap(src)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrap block cache: %w", err)
	}
	return cached, nil
}

// Open opens the archive published at ref. A non-empty nestedEntryName
// opens the stored archive or directory with that name inside it.
func (c *Client) Open(ctx context.Context, ref, nestedEntryName string, opts ...nested.Option) (*nested.Reader, error) {
	src, err := c.Source(ctx, ref)
	if err != nil {
		return nil, err
	}
	readerOpts := append([]nested.Option{nested.WithLogger(c.logger)}, c.readerOpts...)
	return nested.OpenSource(src, nestedEntryName, append(readerOpts, opts...)...)
}
