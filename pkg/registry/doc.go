// Package registry implements the client for the Docker Registry HTTP API V2
// / OCI distribution spec, centered on the Image type.
//
// Key components:
//   - Image: Per-reference client exposing manifest, digest, content type,
//     and tag accessors, all memoized per instance.
//   - Equal / IsPartOf / IsFrom / Exists: Manifest-based identity operations.
//   - request: The single transport primitive handling Accept negotiation,
//     bearer-token challenges, and linear-backoff retries.
//   - ConfigCredentials: Docker config file credential lookup.
//
// Usage example:
//
//	img, err := registry.New("quay.io/app-sre/qontract-reconcile:latest",
//	    registry.WithResponseCache(cache.NewStore()))
//	if err != nil {
//	    logrus.WithError(err).Fatal("Bad reference")
//	}
//	dgst, err := img.Digest(ctx)
//
// Subpackages provide the challenge negotiation (auth), the manifest model
// (manifest), and the response cache with its per-registry revalidation
// strategies (cache).
package registry
