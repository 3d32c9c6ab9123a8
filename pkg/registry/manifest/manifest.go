// Package manifest models container image manifests as served by the Docker
// Registry HTTP API V2 and the OCI distribution spec. It covers the legacy
// schema 1 layout (fsLayers), schema 2 and OCI single-architecture manifests
// (layers), and multi-architecture manifest lists/indexes (manifests), and
// builds the registry URLs they are fetched from.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/nicholas-fedor/imagemeta/pkg/reference"
)

// Manifest media types, in the client's preferred order.
const (
	// Schema1MediaType is the legacy Docker schema 1 manifest.
	Schema1MediaType = "application/vnd.docker.distribution.manifest.v1+json"
	// Schema1SignedMediaType is the JWS-signed variant of schema 1.
	Schema1SignedMediaType = "application/vnd.docker.distribution.manifest.v1+prettyjws"
	// Schema2MediaType is the Docker schema 2 single-architecture manifest.
	Schema2MediaType = "application/vnd.docker.distribution.manifest.v2+json"
	// Schema2ListMediaType is the Docker schema 2 multi-architecture list.
	Schema2ListMediaType = "application/vnd.docker.distribution.manifest.list.v2+json"
	// OCIManifestMediaType is the OCI single-architecture image manifest.
	OCIManifestMediaType = ocispec.MediaTypeImageManifest
	// OCIIndexMediaType is the OCI multi-architecture image index.
	OCIIndexMediaType = ocispec.MediaTypeImageIndex
)

// Errors for manifest handling.
var (
	// ErrInvalid indicates a response body that is not valid manifest JSON.
	ErrInvalid = errors.New("invalid manifest")
	// ErrUnsupportedContentType indicates a manifest content type outside the
	// supported single- and multi-architecture media types.
	ErrUnsupportedContentType = errors.New("unsupported manifest content type")
)

// FSLayer is one entry of a schema 1 manifest's layer-hash list.
type FSLayer struct {
	BlobSum digest.Digest `json:"blobSum"`
}

// Manifest is a parsed manifest body of any supported schema. Only the fields
// relevant for identity operations (comparison and containment) are modeled;
// the raw body is retained for callers that need the full document.
type Manifest struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType,omitempty"`
	Config        *ocispec.Descriptor  `json:"config,omitempty"`
	FSLayers      []FSLayer            `json:"fsLayers,omitempty"`
	Layers        []ocispec.Descriptor `json:"layers,omitempty"`
	Manifests     []ocispec.Descriptor `json:"manifests,omitempty"`

	raw json.RawMessage
}

// Parse decodes a manifest response body. It fails with ErrInvalid when the
// body is not valid manifest JSON.
func Parse(body []byte) (*Manifest, error) {
	parsed := &Manifest{}
	if err := json.Unmarshal(body, parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	parsed.raw = json.RawMessage(body)

	return parsed, nil
}

// Raw returns the manifest body as served by the registry.
func (m *Manifest) Raw() []byte {
	return []byte(m.raw)
}

// IsZero reports whether the manifest is empty, i.e. carries none of the
// fields any supported schema requires.
func (m *Manifest) IsZero() bool {
	return m == nil || (m.SchemaVersion == 0 && m.MediaType == "" &&
		len(m.FSLayers) == 0 && len(m.Layers) == 0 && len(m.Manifests) == 0)
}

// IsSingleArch reports whether the content type names a single-architecture
// manifest.
func IsSingleArch(contentType string) bool {
	return contentType == Schema2MediaType || contentType == OCIManifestMediaType
}

// IsMultiArch reports whether the content type names a multi-architecture
// manifest list or index.
func IsMultiArch(contentType string) bool {
	return contentType == Schema2ListMediaType || contentType == OCIIndexMediaType
}

// AcceptHeader returns the Accept header value enumerating all supported
// manifest media types in preference order.
func AcceptHeader() string {
	return strings.Join([]string{
		Schema1MediaType,
		Schema1SignedMediaType,
		Schema2MediaType,
		Schema2ListMediaType,
		OCIManifestMediaType,
		OCIIndexMediaType,
	}, ",")
}

// BuildURL constructs the manifest endpoint URL for a reference:
// "{api}/v2/[{repository}/]{image}/manifests/{tag-or-digest}". By-digest
// references address the manifest directly without any prior network call.
func BuildURL(ref reference.Reference) string {
	target := ref.Tag
	if target == "" {
		target = ref.Digest.String()
	}

	return fmt.Sprintf("%s/v2/%s/manifests/%s", ref.APIBase(), pathOf(ref), target)
}

// BuildTagsURL constructs the paginated tag-listing endpoint URL for a
// reference with the given page size.
func BuildTagsURL(ref reference.Reference, pageSize int) string {
	return fmt.Sprintf("%s/v2/%s/tags/list?n=%d", ref.APIBase(), pathOf(ref), pageSize)
}

func pathOf(ref reference.Reference) string {
	if ref.Repository != "" {
		return ref.Repository + "/" + ref.Image
	}

	return ref.Image
}

// Compare reports whether two manifests describe the same image content.
// Schema 1 manifests compare by their layer-hash lists; schema 2 and OCI
// manifests additionally require matching content types and compare their
// layer or manifest-list entries. Mismatched schema versions are unequal.
func Compare(local, other *Manifest, localType, otherType string) (bool, error) {
	if local.SchemaVersion != other.SchemaVersion {
		return false, nil
	}

	if local.SchemaVersion == 1 {
		return fsLayersMatch(local.FSLayers, other.FSLayers), nil
	}

	if localType != otherType {
		return false, nil
	}

	switch {
	case IsSingleArch(localType):
		return descriptorsMatch(local.Layers, other.Layers), nil
	case IsMultiArch(localType):
		return descriptorsMatch(local.Manifests, other.Manifests), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedContentType, localType)
	}
}

// IsFrom reports whether every layer of base appears among child's layers,
// meaning base could have served as the child's base image. Schema 1
// manifests contribute their fsLayers blob sums, schema 2 and OCI manifests
// their layer digests; a manifest without layers, such as a manifest list,
// fails with ErrUnsupportedContentType.
func IsFrom(child, base *Manifest) (bool, error) {
	childLayers, err := layerDigests(child)
	if err != nil {
		return false, err
	}

	baseLayers, err := layerDigests(base)
	if err != nil {
		return false, err
	}

	present := make(map[digest.Digest]bool, len(childLayers))
	for _, layer := range childLayers {
		present[layer] = true
	}

	for _, layer := range baseLayers {
		if !present[layer] {
			return false, nil
		}
	}

	return true, nil
}

// layerDigests flattens a manifest's layer identities regardless of schema.
func layerDigests(m *Manifest) ([]digest.Digest, error) {
	switch {
	case len(m.FSLayers) > 0:
		layers := make([]digest.Digest, 0, len(m.FSLayers))
		for _, layer := range m.FSLayers {
			layers = append(layers, layer.BlobSum)
		}

		return layers, nil
	case len(m.Layers) > 0:
		layers := make([]digest.Digest, 0, len(m.Layers))
		for _, layer := range m.Layers {
			layers = append(layers, layer.Digest)
		}

		return layers, nil
	default:
		return nil, fmt.Errorf("%w: manifest carries no layers", ErrUnsupportedContentType)
	}
}

// fsLayersMatch compares two schema 1 layer-hash lists for identity.
func fsLayersMatch(local, other []FSLayer) bool {
	if len(local) != len(other) {
		return false
	}

	for i := range local {
		if local[i].BlobSum != other[i].BlobSum {
			return false
		}
	}

	return true
}

// descriptorsMatch compares two descriptor lists entry by entry on media
// type, digest, and size.
func descriptorsMatch(local, other []ocispec.Descriptor) bool {
	if len(local) != len(other) {
		return false
	}

	for i := range local {
		if local[i].MediaType != other[i].MediaType ||
			local[i].Digest != other[i].Digest ||
			local[i].Size != other[i].Size {
			return false
		}
	}

	return true
}
