// Package cache implements the manifest response cache shared between Image
// instances and the per-registry revalidation strategies that decide whether
// a stored response may be reused. Entries are keyed by request URL and
// username so that lookups made with different credentials never share a
// cache entry. The store is safe for concurrent use, so one store can back
// any number of clients resolved in parallel.
package cache

import (
	"net/http"
	"sync"

	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// MaxEntrySize caps the body size of cacheable responses. Most manifests are
// in the 10-15KB range, so 50KB leaves room for large instances while keeping
// a shared cache from growing unbounded.
const MaxEntrySize = 50 * 1024

// Key identifies a cached response. The username component keeps entries
// fetched with different credentials apart, so a cache shared between
// differently-privileged clients cannot leak a response across them.
type Key struct {
	URL      string
	Username string
}

// Entry is a stored manifest response.
type Entry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Digest returns the content digest the response was served with, or the
// empty string when the registry supplied none.
func (e *Entry) Digest() string {
	return e.Header.Get(types.ContentDigestHeader)
}

// SetConditionalHeaders copies the entry's validators onto an outgoing
// request as If-None-Match / If-Modified-Since, enabling a conditional GET.
func (e *Entry) SetConditionalHeaders(req *http.Request) {
	if etag := e.Header.Get("ETag"); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	if lastModified := e.Header.Get("Last-Modified"); lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
}

// Store maps keys to stored responses, guarded by a lock so it can be shared
// across goroutines. Eviction is the owner's concern; the registry client
// only ever reads and inserts.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// NewStore returns an empty response store.
func NewStore() *Store {
	return &Store{entries: map[Key]*Entry{}}
}

// Get looks up the entry stored under key.
func (s *Store) Get(key Key) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]

	return entry, ok
}

// Set stores an entry under key, replacing any previous one.
func (s *Store) Set(key Key, entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Strategy selects how a cached manifest response is revalidated against a
// registry.
type Strategy int

const (
	// StrategyNone disables caching; every fetch is an unconditional GET.
	StrategyNone Strategy = iota
	// StrategyDigestComparison revalidates with a HEAD request, comparing
	// the returned content digest against the cached one. Used for hosts
	// that do not honor conditional requests but serve cheap HEADs.
	StrategyDigestComparison
	// StrategyConditional revalidates with a conditional GET carrying the
	// cached ETag / Last-Modified validators, reusing the entry on a 304.
	StrategyConditional
)

// String returns the strategy name for logging.
func (s Strategy) String() string {
	switch s {
	case StrategyDigestComparison:
		return "digest-comparison"
	case StrategyConditional:
		return "conditional"
	default:
		return "none"
	}
}

// HostStrategies maps registry hosts to their revalidation strategy. Hosts
// not listed are not cached. The map may be extended by callers before
// clients are created.
var HostStrategies = map[string]Strategy{
	"quay.io":              StrategyDigestComparison,
	"docker.io":            StrategyConditional,
	"registry-1.docker.io": StrategyConditional,
	"ghcr.io":              StrategyConditional,
	"gcr.io":               StrategyConditional,
}

// ForHost returns the revalidation strategy configured for a registry host,
// defaulting to StrategyNone for unrecognized hosts.
func ForHost(host string) Strategy {
	return HostStrategies[host]
}

// Cacheable reports whether a response may be stored for later revalidation
// under the given strategy. Digest comparison needs the content-digest
// header; conditional requests need at least one validator. Oversized bodies
// are never cached.
func Cacheable(strategy Strategy, entry *Entry) bool {
	if entry == nil || len(entry.Body) >= MaxEntrySize {
		return false
	}

	switch strategy {
	case StrategyDigestComparison:
		return entry.Digest() != ""
	case StrategyConditional:
		return entry.Header.Get("ETag") != "" || entry.Header.Get("Last-Modified") != ""
	default:
		return false
	}
}
