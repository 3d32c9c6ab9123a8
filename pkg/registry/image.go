package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docker/go-connections/tlsconfig"
	"github.com/opencontainers/go-digest"

	"github.com/nicholas-fedor/imagemeta/pkg/metrics"
	"github.com/nicholas-fedor/imagemeta/pkg/reference"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/auth"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/cache"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/manifest"
	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// Image is a client for one image reference on a registry. It resolves the
// reference's manifest, digest, content type, and tag list over the Docker
// Registry HTTP API V2, negotiating bearer tokens lazily on 401 challenges
// and consulting a shared response cache when one is configured.
//
// Each accessor is computed at most once per instance and memoized. An Image
// performs synchronous, blocking calls and is not safe for concurrent use;
// callers wanting parallelism fan out over independent Images (see pkg/pool).
// A shared response cache may be handed to all of them, as the store is
// safe for concurrent use.
type Image struct {
	ref         reference.Reference
	credentials types.RegistryCredentials
	authServer  string
	authToken   string

	client     *http.Client
	timeout    time.Duration
	insecure   bool
	retryDelay time.Duration

	responseCache *cache.Store
	cacheHits     int
	cacheMisses   int

	manifestFetched bool
	manifestValue   *manifest.Manifest
	contentType     string
	imageDigest     digest.Digest
	tagsFetched     bool
	tagsValue       []string
}

// Option configures an Image during construction.
type Option func(*Image)

// WithTagOverride points the image at tag instead of the tag (or digest)
// carried by the reference string.
func WithTagOverride(tag string) Option {
	return func(i *Image) {
		i.ref = i.ref.WithTag(tag)
	}
}

// WithCredentials sets the basic auth credentials offered to the registry
// and its token endpoint.
func WithCredentials(username, password string) Option {
	return func(i *Image) {
		i.credentials = types.RegistryCredentials{Username: username, Password: password}
	}
}

// WithAuthServer restricts the configured credentials to one registry host.
// When the image's registry differs, the credentials are discarded rather
// than leaked to a foreign host.
func WithAuthServer(host string) Option {
	return func(i *Image) {
		i.authServer = host
	}
}

// WithAuthToken seeds the bearer token, e.g. one inherited from a related
// Image; it is replaced on the next 401 challenge.
func WithAuthToken(token string) Option {
	return func(i *Image) {
		i.authToken = token
	}
}

// WithResponseCache attaches a shared response cache. The store is used by
// reference, so related Images handed the same store revalidate against each
// other's fetches.
func WithResponseCache(store *cache.Store) Option {
	return func(i *Image) {
		i.responseCache = store
	}
}

// WithTimeout sets the per-request timeout on the underlying transport.
func WithTimeout(timeout time.Duration) Option {
	return func(i *Image) {
		i.timeout = timeout
	}
}

// WithInsecureSkipVerify disables TLS certificate verification for the
// registry connection.
func WithInsecureSkipVerify() Option {
	return func(i *Image) {
		i.insecure = true
	}
}

// WithHTTPClient replaces the HTTP client, overriding the timeout and TLS
// options. Intended for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Image) {
		i.client = client
	}
}

// WithRetryDelay overrides the base delay of the transport's linear retry
// backoff. The default is one second.
func WithRetryDelay(delay time.Duration) Option {
	return func(i *Image) {
		i.retryDelay = delay
	}
}

// New parses an image reference string and returns a client for it. A
// reference with a digest part has its digest available immediately, without
// any network round trip.
func New(imageURL string, opts ...Option) (*Image, error) {
	ref, err := reference.Parse(imageURL)
	if err != nil {
		return nil, err
	}

	img := &Image{
		ref:        ref,
		retryDelay: time.Second,
	}

	for _, opt := range opts {
		opt(img)
	}

	// When an auth server restriction is set and does not match the
	// registry, the credentials are withheld entirely.
	if img.authServer != "" && img.authServer != img.ref.Registry {
		logrus.WithFields(logrus.Fields{
			"image":       img.ref.Name(),
			"auth_server": img.authServer,
		}).Debug("Auth server does not match registry, withholding credentials")

		img.credentials = types.RegistryCredentials{}
	}

	if img.ref.Digest != "" {
		img.imageDigest = img.ref.Digest
	}

	if img.client == nil {
		img.client = newHTTPClient(img.timeout, img.insecure)
	}

	return img, nil
}

// newHTTPClient builds the transport honoring the timeout and TLS options.
func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	tlsConfig := tlsconfig.ClientDefault()
	tlsConfig.InsecureSkipVerify = insecure

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
			Proxy:           http.ProxyFromEnvironment,
		},
	}
}

// Reference returns the parsed reference the image was constructed from,
// including any tag override.
func (i *Image) Reference() reference.Reference {
	return i.ref
}

// WithTag derives a new Image for the same registry, repository, and image
// path pointing at tag. The derived image carries the credentials, auth
// server restriction, current auth token, and the shared response cache, but
// starts with fresh memoization state and counters.
func (i *Image) WithTag(tag string) *Image {
	return &Image{
		ref:           i.ref.WithTag(tag),
		credentials:   i.credentials,
		authServer:    i.authServer,
		authToken:     i.authToken,
		client:        i.client,
		retryDelay:    i.retryDelay,
		responseCache: i.responseCache,
	}
}

// Manifest retrieves and parses the image manifest, caching the result along
// with the response's content type and digest headers. Subsequent calls,
// including through ContentType and Digest, perform no further network
// requests.
func (i *Image) Manifest(ctx context.Context) (*manifest.Manifest, error) {
	if i.manifestFetched {
		return i.manifestValue, nil
	}

	entry, err := i.fetchManifestEntry(ctx)
	if err != nil {
		return nil, err
	}

	parsed, err := manifest.Parse(entry.Body)
	if err != nil {
		return nil, err
	}

	i.manifestValue = parsed
	i.manifestFetched = true
	i.contentType = entry.Header.Get("Content-Type")

	if rawDigest := entry.Digest(); rawDigest != "" {
		i.imageDigest = digest.Digest(rawDigest)
	}

	return i.manifestValue, nil
}

// Digest returns the image's manifest digest. For by-digest references it is
// known up front; otherwise the manifest is retrieved and the digest read
// from the Docker-Content-Digest header, failing with an HTTPError when the
// registry omits it.
func (i *Image) Digest(ctx context.Context) (digest.Digest, error) {
	if i.imageDigest != "" {
		return i.imageDigest, nil
	}

	if _, err := i.Manifest(ctx); err != nil {
		return "", err
	}

	if i.imageDigest == "" {
		return "", &HTTPError{Reason: types.ContentDigestHeader + " header not found"}
	}

	return i.imageDigest, nil
}

// ContentType returns the Content-Type header from the manifest retrieval,
// failing with an HTTPError when the registry omits it.
func (i *Image) ContentType(ctx context.Context) (string, error) {
	if i.contentType != "" {
		return i.contentType, nil
	}

	if _, err := i.Manifest(ctx); err != nil {
		return "", err
	}

	if i.contentType == "" {
		return "", &HTTPError{Reason: "Content-Type header not found"}
	}

	return i.contentType, nil
}

// Tags lists all tags of the image's repository, walking the paginated
// endpoint to completion. Listing is best-effort: any error degrades to an
// empty list, since tag enumeration is advisory and never required for the
// identity operations.
func (i *Image) Tags(ctx context.Context) []string {
	if i.tagsFetched {
		return i.tagsValue
	}

	tags, err := i.fetchTags(ctx)
	if err != nil {
		logrus.WithError(err).WithField("image", i.ref.Name()).
			Warn("Failed to list tags, returning empty list")

		tags = []string{}
	}

	i.tagsValue = tags
	i.tagsFetched = true

	return i.tagsValue
}

// HasTag reports whether tag is among the repository's tags.
func (i *Image) HasTag(ctx context.Context, tag string) bool {
	for _, t := range i.Tags(ctx) {
		if t == tag {
			return true
		}
	}

	return false
}

// Exists reports whether the image's manifest is fetchable and non-empty.
// HTTP-level failures (including failed token negotiation) yield false; only
// non-HTTP failures, such as an unparseable manifest body, are returned as
// errors.
func (i *Image) Exists(ctx context.Context) (bool, error) {
	m, err := i.Manifest(ctx)
	if err != nil {
		httpErr := &HTTPError{}
		if errors.As(err, &httpErr) || errors.Is(err, auth.ErrTokenRequest) {
			return false, nil
		}

		return false, err
	}

	return !m.IsZero(), nil
}

// Equal reports whether both images resolve to the same manifest content, as
// defined by manifest.Compare. It fails with ErrImageComparison when either
// manifest cannot be retrieved or carries an unsupported content type; a
// failed comparison is never coerced to false.
func (i *Image) Equal(ctx context.Context, other *Image) (bool, error) {
	localManifest, err := i.Manifest(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrImageComparison, err)
	}

	otherManifest, err := other.Manifest(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrImageComparison, err)
	}

	equal, err := manifest.Compare(localManifest, otherManifest, i.contentType, other.contentType)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrImageComparison, err)
	}

	return equal, nil
}

// IsPartOf reports whether this image's digest appears among the entries of
// a multi-architecture collection. The image must be a single-architecture
// manifest and the collection a manifest list or index; any other pairing is
// a usage error failing with ErrImageContains.
func (i *Image) IsPartOf(ctx context.Context, collection *Image) (bool, error) {
	memberType, err := i.ContentType(ctx)
	if err != nil {
		return false, err
	}

	if !manifest.IsSingleArch(memberType) {
		return false, fmt.Errorf(
			"%w: unsupported member content type %q",
			ErrImageContains,
			memberType,
		)
	}

	collectionType, err := collection.ContentType(ctx)
	if err != nil {
		return false, err
	}

	if !manifest.IsMultiArch(collectionType) {
		return false, fmt.Errorf(
			"%w: unsupported collection content type %q",
			ErrImageContains,
			collectionType,
		)
	}

	memberDigest, err := i.Digest(ctx)
	if err != nil {
		return false, err
	}

	collectionManifest, err := collection.Manifest(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range collectionManifest.Manifests {
		if entry.Digest == memberDigest {
			return true, nil
		}
	}

	return false, nil
}

// IsFrom reports whether base served as this image's base image, by checking
// that every one of base's layers appears in this image's manifest. It fails
// with ErrImageComparison when either manifest cannot be retrieved or
// carries no layers.
func (i *Image) IsFrom(ctx context.Context, base *Image) (bool, error) {
	childManifest, err := i.Manifest(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrImageComparison, err)
	}

	baseManifest, err := base.Manifest(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrImageComparison, err)
	}

	isFrom, err := manifest.IsFrom(childManifest, baseManifest)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrImageComparison, err)
	}

	return isFrom, nil
}

// TagURL returns the image in "registry[/repository]/image:tag" form. It
// fails with reference.ErrNoTag for by-digest references.
func (i *Image) TagURL() (string, error) {
	return i.ref.TagURL()
}

// DigestURL returns the image in "registry[/repository]/image@digest" form,
// retrieving the manifest first when the digest is not yet known.
func (i *Image) DigestURL(ctx context.Context) (string, error) {
	imageDigest, err := i.Digest(ctx)
	if err != nil {
		return "", err
	}

	return i.ref.Name() + "@" + imageDigest.String(), nil
}

// CacheHits returns how many manifest retrievals this instance served from
// the shared response cache. Meaningful only when a cache was supplied.
func (i *Image) CacheHits() int {
	return i.cacheHits
}

// CacheMisses returns how many manifest retrievals this instance fetched
// from the registry despite a cache being available.
func (i *Image) CacheMisses() int {
	return i.cacheMisses
}

// String renders the canonical reference, using the digest form when no tag
// is present.
func (i *Image) String() string {
	return i.ref.String()
}

// fetchManifestEntry retrieves the manifest response, applying the
// registry's revalidation strategy against the shared cache when one is
// configured. Without a cache every fetch is an unconditional GET with no
// hit/miss accounting.
func (i *Image) fetchManifestEntry(ctx context.Context) (*cache.Entry, error) {
	manifestURL := manifest.BuildURL(i.ref)

	if i.responseCache == nil {
		return i.request(ctx, http.MethodGet, manifestURL, nil)
	}

	strategy := cache.ForHost(i.ref.Registry)
	key := cache.Key{URL: manifestURL, Username: i.credentials.Username}
	cached, hasCached := i.responseCache.Get(key)

	fields := logrus.Fields{
		"image":    i.ref.Name(),
		"strategy": strategy.String(),
	}

	switch {
	case strategy == cache.StrategyDigestComparison && hasCached:
		head, err := i.request(ctx, http.MethodHead, manifestURL, nil)
		if err == nil && head.Digest() != "" && head.Digest() == cached.Digest() {
			logrus.WithFields(fields).Debug("Cached manifest digest unchanged")

			return i.recordCacheHit(cached), nil
		}

		if err != nil {
			logrus.WithError(err).WithFields(fields).
				Debug("HEAD revalidation failed, fetching manifest")
		}
	case strategy == cache.StrategyConditional && hasCached:
		entry, err := i.request(ctx, http.MethodGet, manifestURL, cached)
		if err != nil {
			return nil, err
		}

		if entry.StatusCode == http.StatusNotModified {
			logrus.WithFields(fields).Debug("Cached manifest not modified")

			return i.recordCacheHit(cached), nil
		}

		return i.recordCacheMiss(strategy, key, entry), nil
	}

	entry, err := i.request(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}

	return i.recordCacheMiss(strategy, key, entry), nil
}

// recordCacheHit counts a revalidated cache entry as a hit.
func (i *Image) recordCacheHit(entry *cache.Entry) *cache.Entry {
	i.cacheHits++
	metrics.Default().RegisterCacheHit()

	return entry
}

// recordCacheMiss counts a registry fetch as a miss and stores the fresh
// response when the strategy can revalidate it later.
func (i *Image) recordCacheMiss(
	strategy cache.Strategy,
	key cache.Key,
	entry *cache.Entry,
) *cache.Entry {
	i.cacheMisses++
	metrics.Default().RegisterCacheMiss()

	if cache.Cacheable(strategy, entry) {
		i.responseCache.Set(key, entry)
	}

	return entry
}
