// Package reference implements parsing of container image reference strings
// into their structured components. It accepts the transport-style grammar
//
//	[scheme://][registry[:port]/][repository/]image[@digest|:tag]
//
// filling in the conventional defaults (docker:// transport, the docker.io
// registry and its "library" repository, the "latest" tag) for components
// that are absent. The grammar is closed: a string that does not match it is
// rejected rather than guessed at.
package reference

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Defaults applied to components absent from a reference string.
const (
	DefaultScheme   = "docker://"
	DefaultRegistry = "docker.io"
	// DefaultRepository is assumed only for the default registry; other
	// registries leave the repository absent.
	DefaultRepository = "library"
	DefaultTag        = "latest"
)

// dockerHubAPI is the API endpoint serving the docker.io registry.
const dockerHubAPI = "https://registry-1.docker.io"

// Errors for reference parsing and rendering.
var (
	// ErrInvalidReference indicates a reference string that does not match
	// the accepted grammar.
	ErrInvalidReference = errors.New("invalid image reference")
	// ErrNoTag indicates a tag-dependent operation on a by-digest reference,
	// for which no unique tag exists.
	ErrNoTag = errors.New("no unique tag for by-digest image reference")
)

// Component grammars. The registry is additionally required to be host-like
// (contain a dot or a colon) before the leading segment is treated as one.
var (
	schemeRegex   = regexp.MustCompile(`^[a-zA-Z][\w+-]*://`)
	registryRegex = regexp.MustCompile(`^[a-zA-Z0-9][\w.-]*(:[0-9]+)?$`)
	segmentRegex  = regexp.MustCompile(`^[\w.-]+$`)
	tagRegex      = regexp.MustCompile(`^[\w][\w.-]*$`)
	digestRegex   = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

// Reference is a parsed image reference. It is a plain value; all fields are
// filled at parse time and never mutated afterwards. Exactly one of Tag and
// Digest is set.
type Reference struct {
	Scheme     string        // Transport indicator, e.g. "docker://".
	Registry   string        // Registry host, optionally with port.
	Repository string        // Namespace; empty when the registry has none.
	Image      string        // Image path, possibly multi-segment.
	Tag        string        // Tag; empty for by-digest references.
	Digest     digest.Digest // Digest; empty for by-tag references.
}

// Parse splits an image reference string into its components, applying the
// documented defaults. It is pure and deterministic; strings outside the
// grammar fail with ErrInvalidReference.
func Parse(image string) (Reference, error) {
	if image == "" {
		return Reference{}, fmt.Errorf("%w: empty string", ErrInvalidReference)
	}

	ref := Reference{Scheme: DefaultScheme}
	rest := image

	if scheme := schemeRegex.FindString(rest); scheme != "" {
		ref.Scheme = scheme
		rest = rest[len(scheme):]
	}

	// The digest is anchored to the end of the string, so a trailing ":tag"
	// after it fails the match and is rejected here.
	if at := strings.Index(rest, "@"); at >= 0 {
		rawDigest := rest[at+1:]
		if !digestRegex.MatchString(rawDigest) {
			return Reference{}, fmt.Errorf(
				"%w: malformed digest in %q",
				ErrInvalidReference,
				image,
			)
		}

		ref.Digest = digest.Digest(rawDigest)
		rest = rest[:at]
	}

	segments := strings.Split(rest, "/")
	for _, segment := range segments {
		if segment == "" {
			return Reference{}, fmt.Errorf(
				"%w: empty path segment in %q",
				ErrInvalidReference,
				image,
			)
		}
	}

	// A leading segment is a registry only when it is host-like.
	if len(segments) > 1 && strings.ContainsAny(segments[0], ".:") {
		if !registryRegex.MatchString(segments[0]) {
			return Reference{}, fmt.Errorf(
				"%w: malformed registry in %q",
				ErrInvalidReference,
				image,
			)
		}

		ref.Registry = segments[0]
		segments = segments[1:]
	} else {
		ref.Registry = DefaultRegistry
	}

	// The tag lives in the last path segment. Ports were consumed with the
	// registry above, so any remaining colon marks a tag.
	last := len(segments) - 1
	if colon := strings.LastIndex(segments[last], ":"); colon >= 0 {
		if ref.Digest != "" {
			return Reference{}, fmt.Errorf(
				"%w: both tag and digest in %q",
				ErrInvalidReference,
				image,
			)
		}

		ref.Tag = segments[last][colon+1:]
		segments[last] = segments[last][:colon]

		if !tagRegex.MatchString(ref.Tag) {
			return Reference{}, fmt.Errorf(
				"%w: malformed tag in %q",
				ErrInvalidReference,
				image,
			)
		}
	}

	for _, segment := range segments {
		if !segmentRegex.MatchString(segment) {
			return Reference{}, fmt.Errorf(
				"%w: malformed path segment %q in %q",
				ErrInvalidReference,
				segment,
				image,
			)
		}
	}

	// First path segment is the repository, the remainder the image. A lone
	// segment is the image; the repository then falls back to the registry
	// default, which only docker.io has.
	if len(segments) == 1 {
		ref.Image = segments[0]
		if ref.Registry == DefaultRegistry {
			ref.Repository = DefaultRepository
		}
	} else {
		ref.Repository = segments[0]
		ref.Image = strings.Join(segments[1:], "/")
	}

	if ref.Tag == "" && ref.Digest == "" {
		ref.Tag = DefaultTag
	}

	return ref, nil
}

// Name returns the reference without scheme, tag, or digest:
// "registry[/repository]/image".
func (r Reference) Name() string {
	name := r.Registry
	if r.Repository != "" {
		name += "/" + r.Repository
	}

	return name + "/" + r.Image
}

// TagURL returns the reference in "registry[/repository]/image:tag" form.
// It fails with ErrNoTag for by-digest references, since more than one tag
// may point at a given digest.
func (r Reference) TagURL() (string, error) {
	if r.Tag == "" {
		return "", fmt.Errorf("%w: %s", ErrNoTag, r.Name())
	}

	return r.Name() + ":" + r.Tag, nil
}

// DigestURL returns the reference in "registry[/repository]/image@digest"
// form using the digest carried by the reference itself. It fails with
// ErrInvalidReference when the reference was constructed by tag.
func (r Reference) DigestURL() (string, error) {
	if r.Digest == "" {
		return "", fmt.Errorf("%w: no digest known for %s", ErrInvalidReference, r.Name())
	}

	return r.Name() + "@" + r.Digest.String(), nil
}

// APIBase returns the registry API base URL serving this reference. The
// docker.io registry is served by registry-1.docker.io; every other registry
// is addressed directly over HTTPS.
func (r Reference) APIBase() string {
	if r.Registry == DefaultRegistry {
		return dockerHubAPI
	}

	return "https://" + r.Registry
}

// WithTag returns a copy of the reference pointing at the given tag, clearing
// any digest.
func (r Reference) WithTag(tag string) Reference {
	r.Tag = tag
	r.Digest = ""

	return r
}

// String renders the canonical form, using the digest form whenever no tag
// is present.
func (r Reference) String() string {
	if r.Tag == "" {
		if url, err := r.DigestURL(); err == nil {
			return r.Scheme + url
		}

		return r.Scheme + r.Name()
	}

	url, _ := r.TagURL()

	return r.Scheme + url
}
