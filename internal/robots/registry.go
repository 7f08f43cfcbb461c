package robots

import "sync"

// Registry owns one Session and DirectiveCache per site ID. The pair is built
// on first request and reused for the life of the registry.
type Registry struct {
	sessions      *SessionFactory
	newDirectives func(*Session) *DirectiveCache

	mu      sync.Mutex
	entries map[string]registryEntry
}

type registryEntry struct {
	session    *Session
	directives *DirectiveCache
}

// NewRegistry creates an empty registry. newDirectives builds the directive
// cache bound to a freshly created session; nil uses NewDirectiveCache with
// default collaborators.
func NewRegistry(sessions *SessionFactory, newDirectives func(*Session) *DirectiveCache) *Registry {
	if newDirectives == nil {
		newDirectives = func(s *Session) *DirectiveCache {
			return NewDirectiveCache(s, nil, nil, nil, nil)
		}
	}
	return &Registry{
		sessions:      sessions,
		newDirectives: newDirectives,
		entries:       make(map[string]registryEntry),
	}
}

// Resolve returns the pair for site.ID, creating it with proxy on first use.
// Later calls return the first pair whatever proxy or site fields they carry.
// A failed creation stores nothing.
func (r *Registry) Resolve(site Site, proxy string) (*Session, *DirectiveCache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[site.ID]; ok {
		return entry.session, entry.directives, nil
	}

	session, err := r.sessions.NewSession(site, proxy)
	if err != nil {
		return nil, nil, err
	}
	entry := registryEntry{
		session:    session,
		directives: r.newDirectives(session),
	}
	r.entries[site.ID] = entry
	return entry.session, entry.directives, nil
}

// DefaultUserAgent is the identity used for sites without a user agent.
func (r *Registry) DefaultUserAgent() string {
	return r.sessions.UserAgent()
}

// Len reports how many sites have resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
