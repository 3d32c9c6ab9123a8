// Package auth implements the bearer-token negotiation flow of the Docker
// Registry HTTP API V2. It parses WWW-Authenticate challenge headers into
// their auth-params and exchanges them for a token at the realm's endpoint,
// trying the configured credentials first and falling back to anonymous
// token issuance for public pull scopes.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// Static errors for token negotiation failures.
var (
	// ErrInvalidChallenge indicates a challenge header outside the RFC6750
	// auth-param grammar or one missing the realm.
	ErrInvalidChallenge = errors.New("invalid authentication challenge")
	// ErrTokenRequest indicates the realm request itself failed after both
	// the credentialed and the anonymous attempt.
	ErrTokenRequest = errors.New("unable to retrieve auth token")
)

// authParamRegex captures the key="value" auth-params following the challenge
// scheme, per the RFC6750 grammar.
var authParamRegex = regexp.MustCompile(`([^ ,=]+)="([^"]*)"`)

// Challenge is a parsed WWW-Authenticate header.
type Challenge struct {
	Scheme string            // Challenge scheme, e.g. "Bearer".
	Realm  string            // Token endpoint URL.
	Params map[string]string // Remaining auth-params (service, scope, ...).
}

// ParseChallenge splits a WWW-Authenticate header value into its scheme and
// auth-params. The scheme must be followed by at least a realm param.
func ParseChallenge(header string) (Challenge, error) {
	scheme, rawParams, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || scheme == "" {
		return Challenge{}, fmt.Errorf("%w: %q", ErrInvalidChallenge, header)
	}

	challenge := Challenge{Scheme: scheme, Params: map[string]string{}}

	for _, match := range authParamRegex.FindAllStringSubmatch(rawParams, -1) {
		if match[1] == "realm" {
			challenge.Realm = match[2]

			continue
		}

		challenge.Params[match[1]] = match[2]
	}

	if challenge.Realm == "" {
		return Challenge{}, fmt.Errorf("%w: missing realm in %q", ErrInvalidChallenge, header)
	}

	return challenge, nil
}

// URL builds the token endpoint URL, attaching the remaining auth-params as
// the query string.
func (c Challenge) URL() (string, error) {
	endpoint, err := url.Parse(c.Realm)
	if err != nil {
		return "", fmt.Errorf("%w: bad realm %q: %w", ErrInvalidChallenge, c.Realm, err)
	}

	query := endpoint.Query()
	for key, value := range c.Params {
		query.Set(key, value)
	}

	endpoint.RawQuery = query.Encode()

	return endpoint.String(), nil
}

// Negotiate exchanges a parsed challenge for an Authorization header value of
// the form "{scheme} {token}". The token endpoint is queried with basic auth
// first when credentials are set; a 401 triggers a single anonymous retry,
// which public registries use for pull-only scopes.
func Negotiate(
	ctx context.Context,
	client *http.Client,
	challenge Challenge,
	credentials types.RegistryCredentials,
) (string, error) {
	endpoint, err := challenge.URL()
	if err != nil {
		return "", err
	}

	fields := logrus.Fields{
		"realm":  challenge.Realm,
		"scheme": challenge.Scheme,
	}
	logrus.WithFields(fields).Debug("Negotiating registry token")

	resp, err := requestToken(ctx, client, endpoint, credentials)
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusUnauthorized && credentials.IsSet() {
		resp.Body.Close()
		logrus.WithFields(fields).Debug("Credentialed token request rejected, retrying anonymously")

		resp, err = requestToken(ctx, client, endpoint, types.RegistryCredentials{})
		if err != nil {
			return "", err
		}
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf(
			"%w from %s: (%d) %s",
			ErrTokenRequest,
			endpoint,
			resp.StatusCode,
			http.StatusText(resp.StatusCode),
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w from %s: %w", ErrTokenRequest, endpoint, err)
	}

	tokenResponse := types.TokenResponse{}
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return "", fmt.Errorf("%w from %s: %w", ErrTokenRequest, endpoint, err)
	}

	logrus.WithFields(fields).Debug("Acquired registry token")

	return challenge.Scheme + " " + tokenResponse.BearerToken(), nil
}

// requestToken issues a single GET against the token endpoint, attaching the
// credentials as basic auth when present.
func requestToken(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	credentials types.RegistryCredentials,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %w", ErrTokenRequest, endpoint, err)
	}

	req.Header.Set("Accept", "application/json")

	if credentials.IsSet() {
		req.SetBasicAuth(credentials.Username, credentials.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %w", ErrTokenRequest, endpoint, err)
	}

	return resp, nil
}
