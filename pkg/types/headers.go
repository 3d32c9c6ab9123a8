package types

// HTTP header names consumed from registry responses.
const (
	// ContentDigestHeader carries the manifest digest (e.g. "sha256:abc...").
	ContentDigestHeader = "Docker-Content-Digest"
	// ChallengeHeader carries bearer-token challenge instructions on a 401.
	ChallengeHeader = "WWW-Authenticate"
	// LinkHeader carries the RFC5988 pagination link on tag listings.
	LinkHeader = "Link"
)
