package types

// TokenResponse is the JSON body returned by a registry token endpoint.
// Most registries use the "token" key; some (e.g. ACR) also mirror it under
// "access_token", which is accepted as a fallback.
type TokenResponse struct {
	Token       string `json:"token"`        // Bearer token issued by the endpoint.
	AccessToken string `json:"access_token"` // Alternative key used by some registries.
}

// BearerToken returns the issued token, preferring the "token" key.
func (t TokenResponse) BearerToken() string {
	if t.Token != "" {
		return t.Token
	}

	return t.AccessToken
}
