package registry

// ArtifactType identifies manifests pushed by this package.
const ArtifactType = "application/vnd.meigma.nested.archive.v1"

// Layer media types recognized as archives.
const (
	// MediaTypeJar is the media type for Java archives.
	MediaTypeJar = "application/java-archive"

	// MediaTypeZip is the media type for plain zip archives.
	MediaTypeZip = "application/zip"

	// MediaTypeArchive is the layer media type used when none is given at push.
	MediaTypeArchive = "application/vnd.meigma.nested.archive.layer.v1+zip"
)

// DefaultLayerMediaTypes are the layer media types Open accepts, in order of
// preference.
var DefaultLayerMediaTypes = []string{MediaTypeArchive, MediaTypeJar, MediaTypeZip}
