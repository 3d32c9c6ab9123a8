// Package registry_test provides tests for the registry image client,
// covering manifest retrieval and memoization, digest resolution, bearer-token
// negotiation, tag pagination, response-cache revalidation strategies, and
// the image identity operations.
package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/nicholas-fedor/imagemeta/internal/util"
	"github.com/nicholas-fedor/imagemeta/pkg/pool"
	"github.com/nicholas-fedor/imagemeta/pkg/registry"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/auth"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/cache"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/manifest"
)

// TestRegistry executes the registry client test suite using the Ginkgo
// testing framework.
func TestRegistry(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Registry Suite")
}

const (
	testManifestDigest = "sha256:b5b2b2c507a0944348e0303114d8d93aaaa081732b86451d9bce1f432a537bc7"
	otherLayerDigest   = "sha256:7c01e1e132b4a4b1e5c9c0c9b84ee15a1b65e7c848e4d1a2b8846e1c0f1014c1"
)

// singleArchBody builds a schema 2 manifest body with the given layer digest.
func singleArchBody(layerDigest string) string {
	return fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"layers": [{"mediaType": "application/vnd.docker.image.rootfs.diff.tar.gzip", "size": 1024, "digest": %q}]
	}`, manifest.Schema2MediaType, layerDigest)
}

// layeredBody builds a schema 2 manifest body with the given layer digests.
func layeredBody(layerDigests ...string) string {
	layers := make([]string, 0, len(layerDigests))
	for _, d := range layerDigests {
		layers = append(layers, fmt.Sprintf(
			`{"mediaType": "application/vnd.docker.image.rootfs.diff.tar.gzip", "size": 1024, "digest": %q}`,
			d,
		))
	}

	return fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"layers": [%s]
	}`, manifest.Schema2MediaType, strings.Join(layers, ","))
}

// manifestListBody builds a schema 2 manifest list whose entries carry the
// given manifest digests.
func manifestListBody(digests ...string) string {
	entries := make([]string, 0, len(digests))
	for _, d := range digests {
		entries = append(entries, fmt.Sprintf(
			`{"mediaType": %q, "size": 528, "digest": %q, "platform": {"architecture": "amd64", "os": "linux"}}`,
			manifest.Schema2MediaType, d,
		))
	}

	return fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"manifests": [%s]
	}`, manifest.Schema2ListMediaType, strings.Join(entries, ","))
}

// registryServer is a minimal manifest endpoint backed by httptest. Requests
// are counted per method, guarded for handlers hit from parallel clients.
type registryServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests map[string]int
	handler  func(w http.ResponseWriter, r *http.Request)
}

// newRegistryServer starts a TLS test server counting requests by method.
func newRegistryServer(handler func(w http.ResponseWriter, r *http.Request)) *registryServer {
	rs := &registryServer{requests: map[string]int{}, handler: handler}
	rs.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.requests[r.Method]++
		rs.mu.Unlock()

		rs.handler(w, r)
	}))

	return rs
}

// count returns how many requests the server saw for the given method.
func (rs *registryServer) count(method string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return rs.requests[method]
}

// host returns the server's host:port, usable as a reference registry.
func (rs *registryServer) host() string {
	parsed, _ := url.Parse(rs.server.URL)

	return parsed.Host
}

// image builds an Image pointed at this server for the given repository path
// and tag, wired with the server's TLS-trusting client and a fast retry delay.
func (rs *registryServer) image(path string, opts ...registry.Option) *registry.Image {
	base := []registry.Option{
		registry.WithHTTPClient(rs.server.Client()),
		registry.WithRetryDelay(time.Millisecond),
	}

	img, err := registry.New(rs.host()+"/"+path, append(base, opts...)...)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	return img
}

// serveManifest writes a manifest response with content type and digest
// headers.
func serveManifest(w http.ResponseWriter, contentType, digestHeader, body string) {
	w.Header().Set("Content-Type", contentType)
	if digestHeader != "" {
		w.Header().Set("Docker-Content-Digest", digestHeader)
	}

	fmt.Fprint(w, body)
}

var _ = ginkgo.Describe("the registry image client", func() {
	ginkgo.Describe("Manifest", func() {
		ginkgo.It("should retrieve and parse the manifest", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				gomega.Expect(r.URL.Path).To(gomega.Equal("/v2/app/service/manifests/v1"))
				gomega.Expect(r.Header.Get("Accept")).To(gomega.Equal(manifest.AcceptHeader()))
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")

			m, err := img.Manifest(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(m.SchemaVersion).To(gomega.Equal(2))
			gomega.Expect(m.Layers).To(gomega.HaveLen(1))
		})

		ginkgo.It("should memoize the manifest across accessors", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")
			ctx := context.Background()

			_, err := img.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			imageDigest, err := img.Digest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(imageDigest.String()).To(gomega.Equal(testManifestDigest))

			contentType, err := img.ContentType(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(contentType).To(gomega.Equal(manifest.Schema2MediaType))

			_, err = img.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(1))
		})

		ginkgo.It("should fail on an unparseable manifest body", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, "text/html", "", "<html>not a manifest</html>")
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")

			_, err := img.Manifest(context.Background())
			gomega.Expect(err).To(gomega.MatchError(manifest.ErrInvalid))
		})

		ginkgo.It("should surface registry error messages on a final failure", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"errors":[{"code":"MANIFEST_UNKNOWN","message":"manifest unknown"}]}`)
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")

			_, err := img.Manifest(context.Background())
			gomega.Expect(err).To(gomega.HaveOccurred())

			httpErr := &registry.HTTPError{}
			gomega.Expect(errors.As(err, &httpErr)).To(gomega.BeTrue())
			gomega.Expect(httpErr.StatusCode).To(gomega.Equal(http.StatusNotFound))
			gomega.Expect(httpErr.Messages).To(gomega.ContainElement("manifest unknown"))
		})
	})

	ginkgo.Describe("Digest", func() {
		ginkgo.It("should answer by-digest references without any network call", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})
			defer rs.server.Close()

			img := rs.image("app/service@" + testManifestDigest)

			imageDigest, err := img.Digest(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(imageDigest.String()).To(gomega.Equal(testManifestDigest))
			gomega.Expect(rs.requests).To(gomega.BeEmpty())
		})

		ginkgo.It("should fail when the registry omits the digest header", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, manifest.Schema2MediaType, "", singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")

			_, err := img.Digest(context.Background())
			gomega.Expect(err).To(gomega.HaveOccurred())

			httpErr := &registry.HTTPError{}
			gomega.Expect(errors.As(err, &httpErr)).To(gomega.BeTrue())
			gomega.Expect(httpErr.Reason).To(gomega.ContainSubstring("Docker-Content-Digest"))
		})
	})

	ginkgo.Describe("token negotiation", func() {
		ginkgo.It("should negotiate a bearer token on a 401 challenge and retry", func() {
			var rs *registryServer

			tokenRequests := 0

			rs = newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/token" {
					tokenRequests++
					fmt.Fprint(w, `{"token":"fresh-token"}`)

					return
				}

				if r.Header.Get("Authorization") != "Bearer fresh-token" {
					w.Header().Set("WWW-Authenticate",
						fmt.Sprintf(`Bearer realm="https://%s/token",service="test"`, rs.host()))
					w.WriteHeader(http.StatusUnauthorized)

					return
				}

				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")

			_, err := img.Manifest(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(tokenRequests).To(gomega.Equal(1))
			// One 401, one token request, one authorized retry.
			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(3))
		})

		ginkgo.It("should fail without a challenge header on 401", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")

			_, err := img.Manifest(context.Background())
			gomega.Expect(err).To(gomega.HaveOccurred())

			httpErr := &registry.HTTPError{}
			gomega.Expect(errors.As(err, &httpErr)).To(gomega.BeTrue())
			gomega.Expect(httpErr.StatusCode).To(gomega.Equal(http.StatusUnauthorized))
		})

		ginkgo.It("should propagate token endpoint failures", func() {
			var rs *registryServer

			rs = newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/token" {
					w.WriteHeader(http.StatusForbidden)

					return
				}

				w.Header().Set("WWW-Authenticate",
					fmt.Sprintf(`Bearer realm="https://%s/token"`, rs.host()))
				w.WriteHeader(http.StatusUnauthorized)
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")

			_, err := img.Manifest(context.Background())
			gomega.Expect(err).To(gomega.MatchError(auth.ErrTokenRequest))
		})
	})

	ginkgo.Describe("Tags", func() {
		ginkgo.It("should walk the paginated endpoint to completion", func() {
			page := func(start, count int) []string {
				tags := make([]string, 0, count)
				for i := range count {
					tags = append(tags, fmt.Sprintf("v%d", start+i))
				}

				return tags
			}

			pages := [][]string{page(0, 50), page(50, 50), page(100, 12)}
			served := 0

			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				gomega.Expect(r.URL.Path).To(gomega.Equal("/v2/app/service/tags/list"))

				body := map[string]any{"name": "app/service", "tags": pages[served]}
				if served < len(pages)-1 {
					w.Header().Set("Link",
						fmt.Sprintf(`</v2/app/service/tags/list?last=v%d&n=50>; rel="next"`, (served+1)*50-1))
				}

				served++

				gomega.Expect(json.NewEncoder(w).Encode(body)).To(gomega.Succeed())
			})
			defer rs.server.Close()

			img := rs.image("app/service:latest")

			tags := img.Tags(context.Background())
			gomega.Expect(tags).To(gomega.HaveLen(112))
			gomega.Expect(tags[0]).To(gomega.Equal("v0"))
			gomega.Expect(tags[111]).To(gomega.Equal("v111"))
			gomega.Expect(served).To(gomega.Equal(3))

			// Memoized: no further requests.
			gomega.Expect(img.Tags(context.Background())).To(gomega.HaveLen(112))
			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(3))
		})

		ginkgo.It("should stop after a short page even with a next link", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Link", `</v2/app/service/tags/list?last=v1&n=50>; rel="next"`)
				fmt.Fprint(w, `{"name":"app/service","tags":["v1","v2"]}`)
			})
			defer rs.server.Close()

			img := rs.image("app/service:latest")

			gomega.Expect(img.Tags(context.Background())).To(gomega.Equal([]string{"v1", "v2"}))
			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(1))
		})

		ginkgo.It("should degrade to an empty list on listing failures", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})
			defer rs.server.Close()

			img := rs.image("app/service:latest")

			gomega.Expect(img.Tags(context.Background())).To(gomega.BeEmpty())
		})

		ginkgo.It("should report tag membership through HasTag", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"name":"app/service","tags":["latest","v1.2.3"]}`)
			})
			defer rs.server.Close()

			img := rs.image("app/service:latest")
			ctx := context.Background()

			gomega.Expect(img.HasTag(ctx, "v1.2.3")).To(gomega.BeTrue())
			gomega.Expect(img.HasTag(ctx, "v9.9.9")).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("Exists", func() {
		ginkgo.It("should report true for a fetchable manifest", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			exists, err := rs.image("app/service:v1").Exists(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(exists).To(gomega.BeTrue())
		})

		ginkgo.It("should report false without error on a 404", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			})
			defer rs.server.Close()

			exists, err := rs.image("app/service:gone").Exists(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(exists).To(gomega.BeFalse())
		})

		ginkgo.It("should surface non-HTTP failures", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, "text/html", "", "not json")
			})
			defer rs.server.Close()

			_, err := rs.image("app/service:v1").Exists(context.Background())
			gomega.Expect(err).To(gomega.MatchError(manifest.ErrInvalid))
		})
	})

	ginkgo.Describe("Equal", func() {
		ginkgo.It("should match images with identical manifests", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			repo := "app/" + util.RandName()

			equal, err := rs.image(repo+":v1").
				Equal(context.Background(), rs.image(repo+":v1-copy"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(equal).To(gomega.BeTrue())
		})

		ginkgo.It("should reject images with different layers", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				layer := otherLayerDigest
				if strings.HasSuffix(r.URL.Path, "/other") {
					layer = util.GenerateRandomPrefixedSHA256()
				}

				serveManifest(w, manifest.Schema2MediaType, "", singleArchBody(layer))
			})
			defer rs.server.Close()

			equal, err := rs.image("app/service:v1").
				Equal(context.Background(), rs.image("app/service:other"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(equal).To(gomega.BeFalse())
		})

		ginkgo.It("should fail with ErrImageComparison when a manifest is unavailable", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/gone") {
					w.WriteHeader(http.StatusNotFound)

					return
				}

				serveManifest(w, manifest.Schema2MediaType, "", singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			_, err := rs.image("app/service:v1").
				Equal(context.Background(), rs.image("app/service:gone"))
			gomega.Expect(err).To(gomega.MatchError(registry.ErrImageComparison))
		})
	})

	ginkgo.Describe("IsPartOf", func() {
		ginkgo.It("should find a member digest in a manifest list", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/multi") {
					serveManifest(w, manifest.Schema2ListMediaType, "sha256:list",
						manifestListBody("sha256:unrelated", testManifestDigest))

					return
				}

				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			member := rs.image("app/service:v1-amd64")
			collection := rs.image("app/service:multi")

			contained, err := member.IsPartOf(context.Background(), collection)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(contained).To(gomega.BeTrue())
		})

		ginkgo.It("should report false for an absent member digest", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/multi") {
					serveManifest(w, manifest.Schema2ListMediaType, "sha256:list",
						manifestListBody("sha256:unrelated"))

					return
				}

				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			contained, err := rs.image("app/service:v1-amd64").
				IsPartOf(context.Background(), rs.image("app/service:multi"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(contained).To(gomega.BeFalse())
		})

		ginkgo.It("should reject a multi-arch member", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, manifest.Schema2ListMediaType, "sha256:list",
					manifestListBody(testManifestDigest))
			})
			defer rs.server.Close()

			_, err := rs.image("app/service:multi").
				IsPartOf(context.Background(), rs.image("app/service:multi2"))
			gomega.Expect(err).To(gomega.MatchError(registry.ErrImageContains))
		})

		ginkgo.It("should reject a single-arch collection", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			_, err := rs.image("app/service:v1").
				IsPartOf(context.Background(), rs.image("app/service:v2"))
			gomega.Expect(err).To(gomega.MatchError(registry.ErrImageContains))
		})
	})

	ginkgo.Describe("IsFrom", func() {
		baseLayer := util.GenerateRandomPrefixedSHA256()

		ginkgo.It("should recognize the base image of a derived image", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/base") {
					serveManifest(w, manifest.Schema2MediaType, "", layeredBody(baseLayer))

					return
				}

				serveManifest(w, manifest.Schema2MediaType, "", layeredBody(baseLayer, otherLayerDigest))
			})
			defer rs.server.Close()

			isFrom, err := rs.image("app/service:v1").
				IsFrom(context.Background(), rs.image("app/base-image:base"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(isFrom).To(gomega.BeTrue())
		})

		ginkgo.It("should report false when the base layers are absent", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/base") {
					serveManifest(w, manifest.Schema2MediaType, "",
						layeredBody(util.GenerateRandomPrefixedSHA256()))

					return
				}

				serveManifest(w, manifest.Schema2MediaType, "", layeredBody(baseLayer, otherLayerDigest))
			})
			defer rs.server.Close()

			isFrom, err := rs.image("app/service:v1").
				IsFrom(context.Background(), rs.image("app/base-image:base"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(isFrom).To(gomega.BeFalse())
		})

		ginkgo.It("should fail with ErrImageComparison for a manifest list participant", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/multi") {
					serveManifest(w, manifest.Schema2ListMediaType, "sha256:list",
						manifestListBody(testManifestDigest))

					return
				}

				serveManifest(w, manifest.Schema2MediaType, "", layeredBody(baseLayer))
			})
			defer rs.server.Close()

			_, err := rs.image("app/service:v1").
				IsFrom(context.Background(), rs.image("app/service:multi"))
			gomega.Expect(err).To(gomega.MatchError(registry.ErrImageComparison))
		})
	})

	ginkgo.Describe("response cache", func() {
		ginkgo.It("should revalidate by digest with a HEAD request", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			cache.HostStrategies[rs.host()] = cache.StrategyDigestComparison
			defer delete(cache.HostStrategies, rs.host())

			store := cache.NewStore()
			ctx := context.Background()

			first := rs.image("app/service:v1", registry.WithResponseCache(store))
			_, err := first.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(first.CacheHits()).To(gomega.Equal(0))
			gomega.Expect(first.CacheMisses()).To(gomega.Equal(1))

			second := rs.image("app/service:v1", registry.WithResponseCache(store))
			_, err = second.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(second.CacheHits()).To(gomega.Equal(1))
			gomega.Expect(second.CacheMisses()).To(gomega.Equal(0))

			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(1))
			gomega.Expect(rs.count(http.MethodHead)).To(gomega.Equal(1))
		})

		ginkgo.It("should refetch when the digest changed", func() {
			currentDigest := testManifestDigest

			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				serveManifest(w, manifest.Schema2MediaType, currentDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			cache.HostStrategies[rs.host()] = cache.StrategyDigestComparison
			defer delete(cache.HostStrategies, rs.host())

			store := cache.NewStore()
			ctx := context.Background()

			_, err := rs.image("app/service:v1", registry.WithResponseCache(store)).Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			currentDigest = util.GenerateRandomPrefixedSHA256()

			second := rs.image("app/service:v1", registry.WithResponseCache(store))
			_, err = second.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(second.CacheHits()).To(gomega.Equal(0))
			gomega.Expect(second.CacheMisses()).To(gomega.Equal(1))
			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(2))
		})

		ginkgo.It("should revalidate conditionally and reuse the entry on 304", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("If-None-Match") == `"manifest-rev-1"` {
					w.WriteHeader(http.StatusNotModified)

					return
				}

				w.Header().Set("ETag", `"manifest-rev-1"`)
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			cache.HostStrategies[rs.host()] = cache.StrategyConditional
			defer delete(cache.HostStrategies, rs.host())

			store := cache.NewStore()
			ctx := context.Background()

			_, err := rs.image("app/service:v1", registry.WithResponseCache(store)).Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			second := rs.image("app/service:v1", registry.WithResponseCache(store))

			m, err := second.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(m.Layers).To(gomega.HaveLen(1))
			gomega.Expect(second.CacheHits()).To(gomega.Equal(1))
			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(2))
		})

		ginkgo.It("should count misses without storing for unrecognized hosts", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("ETag", `"manifest-rev-1"`)
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			store := cache.NewStore()
			ctx := context.Background()

			first := rs.image("app/service:v1", registry.WithResponseCache(store))
			_, err := first.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(first.CacheMisses()).To(gomega.Equal(1))
			gomega.Expect(store.Len()).To(gomega.BeZero())
		})

		ginkgo.It("should serve parallel lookups sharing one store", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("If-None-Match") == `"manifest-rev-1"` {
					w.WriteHeader(http.StatusNotModified)

					return
				}

				w.Header().Set("ETag", `"manifest-rev-1"`)
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			cache.HostStrategies[rs.host()] = cache.StrategyConditional
			defer delete(cache.HostStrategies, rs.host())

			store := cache.NewStore()
			images := make([]string, 64)
			for i := range images {
				images[i] = "app/service:v1"
			}

			digests, err := pool.Map(
				context.Background(),
				10,
				images,
				func(ctx context.Context, path string) (string, error) {
					defer ginkgo.GinkgoRecover()

					img := rs.image(path, registry.WithResponseCache(store))

					imageDigest, err := img.Digest(ctx)
					if err != nil {
						return "", err
					}

					return imageDigest.String(), nil
				})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			for _, d := range digests {
				gomega.Expect(d).To(gomega.Equal(testManifestDigest))
			}

			gomega.Expect(store.Len()).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("credentials", func() {
		ginkgo.It("should offer basic auth until a token is negotiated", func() {
			var gotUser string

			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _, _ = r.BasicAuth()
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1", registry.WithCredentials("robot", "hunter2"))

			_, err := img.Manifest(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(gotUser).To(gomega.Equal("robot"))
		})

		ginkgo.It("should withhold credentials when the auth server does not match", func() {
			var gotBasic bool

			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				_, _, gotBasic = r.BasicAuth()
				serveManifest(w, manifest.Schema2MediaType, testManifestDigest, singleArchBody(otherLayerDigest))
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1",
				registry.WithCredentials("robot", "hunter2"),
				registry.WithAuthServer("quay.io"))

			_, err := img.Manifest(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(gotBasic).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("WithTag", func() {
		ginkgo.It("should derive an image with fresh memoization", func() {
			rs := newRegistryServer(func(w http.ResponseWriter, r *http.Request) {
				layer := otherLayerDigest
				if strings.HasSuffix(r.URL.Path, "/v2-tag") {
					layer = "sha256:ffffe1e132b4a4b1e5c9c0c9b84ee15a1b65e7c848e4d1a2b8846e1c0f1014c1"
				}

				serveManifest(w, manifest.Schema2MediaType, "", singleArchBody(layer))
			})
			defer rs.server.Close()

			img := rs.image("app/service:v1")
			ctx := context.Background()

			_, err := img.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			derived := img.WithTag("v2-tag")
			gomega.Expect(derived.Reference().Tag).To(gomega.Equal("v2-tag"))

			m, err := derived.Manifest(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(m.Layers[0].Digest.String()).
				To(gomega.Equal("sha256:ffffe1e132b4a4b1e5c9c0c9b84ee15a1b65e7c848e4d1a2b8846e1c0f1014c1"))
			gomega.Expect(rs.count(http.MethodGet)).To(gomega.Equal(2))
		})
	})

	ginkgo.Describe("construction", func() {
		ginkgo.It("should apply a tag override", func() {
			img, err := registry.New("quay.io/app-sre/ubi8-ubi:latest", registry.WithTagOverride("8.6"))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(img.Reference().Tag).To(gomega.Equal("8.6"))
		})

		ginkgo.It("should reject an invalid reference", func() {
			_, err := registry.New("quay.io//bad-reference")
			gomega.Expect(err).To(gomega.HaveOccurred())
		})

		ginkgo.It("should render tag and digest URL forms", func() {
			img, err := registry.New("quay.io/app-sre/ubi8-ubi@" + testManifestDigest)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			_, err = img.TagURL()
			gomega.Expect(err).To(gomega.HaveOccurred())

			digestURL, err := img.DigestURL(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(digestURL).
				To(gomega.Equal("quay.io/app-sre/ubi8-ubi@" + testManifestDigest))
		})
	})
})
