package types

// RegistryCredentials holds basic auth credentials.
type RegistryCredentials struct {
	Username string `json:"username"` // Registry username.
	Password string `json:"password"` // Registry token or password.
}

// IsSet reports whether both a username and a password are present.
func (c RegistryCredentials) IsSet() bool {
	return c.Username != "" && c.Password != ""
}
