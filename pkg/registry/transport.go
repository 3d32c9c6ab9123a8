package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagemeta/pkg/metrics"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/auth"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/cache"
	"github.com/nicholas-fedor/imagemeta/pkg/registry/manifest"
	"github.com/nicholas-fedor/imagemeta/pkg/retry"
	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// maxRequestAttempts bounds transport retries: transient connection failures
// and HTTP errors are retried up to five attempts with linearly increasing
// backoff before propagating.
const maxRequestAttempts = 5

// UserAgent is the User-Agent header value sent with registry requests. It
// can be set at build time via linker flags (e.g. -ldflags "-X ...").
var UserAgent = "imagemeta/unknown"

// request is the single low-level primitive all network operations route
// through. Each attempt attaches the full manifest Accept list and the
// current auth state; a 401 response triggers one token negotiation followed
// by a retry of the same request with the fresh token. Any final status
// >= 400 is an HTTPError carrying the registry's error messages. Failures
// are retried sequentially with linear backoff up to the attempt budget.
func (i *Image) request(
	ctx context.Context,
	method string,
	requestURL string,
	cached *cache.Entry,
) (*cache.Entry, error) {
	var entry *cache.Entry

	err := retry.Do(ctx, retry.Options{
		MaxAttempts: maxRequestAttempts,
		Delay:       i.retryDelay,
		OnRetry: func(_ int, _ error) {
			metrics.Default().RegisterRetry()
		},
	}, func() error {
		result, err := i.attempt(ctx, method, requestURL, cached)
		if err != nil {
			return err
		}

		entry = result

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// attempt performs one logical request, including the 401 renegotiation.
func (i *Image) attempt(
	ctx context.Context,
	method string,
	requestURL string,
	cached *cache.Entry,
) (*cache.Entry, error) {
	entry, challengeHeader, err := i.send(ctx, method, requestURL, cached)
	if err != nil {
		return nil, err
	}

	// Unauthorized means the token (if any) is stale; negotiate a fresh one
	// from the challenge and try again.
	if entry.StatusCode == http.StatusUnauthorized {
		if challengeHeader == "" {
			return nil, newHTTPError(
				entry.StatusCode,
				http.StatusText(entry.StatusCode),
				requestURL,
				entry.Body,
			)
		}

		challenge, err := auth.ParseChallenge(challengeHeader)
		if err != nil {
			return nil, err
		}

		token, err := auth.Negotiate(ctx, i.client, challenge, i.credentials)
		if err != nil {
			return nil, err
		}

		i.authToken = token
		metrics.Default().RegisterAuthNegotiation()

		entry, _, err = i.send(ctx, method, requestURL, cached)
		if err != nil {
			return nil, err
		}
	}

	if entry.StatusCode >= http.StatusBadRequest {
		httpErr := newHTTPError(
			entry.StatusCode,
			http.StatusText(entry.StatusCode),
			requestURL,
			entry.Body,
		)
		logrus.WithFields(logrus.Fields{
			"image": i.ref.Name(),
			"url":   requestURL,
		}).Debug(httpErr.Error())

		return nil, httpErr
	}

	return entry, nil
}

// send issues a single HTTP request and drains the response into an Entry.
// It returns the challenge header separately so attempt can renegotiate.
func (i *Image) send(
	ctx context.Context,
	method string,
	requestURL string,
	cached *cache.Entry,
) (*cache.Entry, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", manifest.AcceptHeader())
	req.Header.Set("User-Agent", UserAgent)

	if cached != nil {
		cached.SetConditionalHeaders(req)
	}

	// A bearer token takes precedence; basic auth is offered only until the
	// first challenge supplies one.
	if i.authToken != "" {
		req.Header.Set("Authorization", i.authToken)
	} else if i.credentials.IsSet() {
		req.SetBasicAuth(i.credentials.Username, i.credentials.Password)
	}

	logrus.WithFields(logrus.Fields{
		"method": method,
		"url":    requestURL,
	}).Debug("Sending registry request")
	metrics.Default().RegisterRequest(method)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	entry := &cache.Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}

	return entry, resp.Header.Get(types.ChallengeHeader), nil
}
