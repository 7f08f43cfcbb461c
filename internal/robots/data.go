package robots

const (
	// DefaultUserAgent identifies the crawler when a site sets no user agent.
	DefaultUserAgent = "robots-gate"

	// DefaultMaxAttempts is the retry budget of a single permission check.
	DefaultMaxAttempts = 10

	// StatusReachedLimit is the non-standard status an archiving proxy answers
	// with once a crawl budget is spent.
	StatusReachedLimit = 420

	// HeaderWarcproxMeta carries the JSON metadata that accompanies StatusReachedLimit.
	HeaderWarcproxMeta = "Warcprox-Meta"

	// WildcardAgent is the group applied when no named group matches.
	WildcardAgent = "*"

	// robots.txt bodies are truncated past this size.
	maxRobotsSize = 500 * 1024
)

// Site is the read-only view of a crawl target this package needs.
type Site struct {
	// Stable identity; per-site sessions and directives are keyed by it.
	ID string

	// IgnoreRobots bypasses every check.
	IgnoreRobots bool

	// UserAgent overrides the default identity when set.
	UserAgent string

	// ExtraHeaders are sent with every robots.txt request and win over defaults.
	ExtraHeaders map[string]string

	// Proxy is a "host:port" address used when the caller passes none.
	Proxy string
}
