package robots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/rohmanhakim/robots-gate/internal/metadata"
	"github.com/rohmanhakim/robots-gate/internal/metrics"
	"github.com/rohmanhakim/robots-gate/internal/robots/cache"
	"github.com/rohmanhakim/robots-gate/pkg/hashutil"
	"github.com/rohmanhakim/robots-gate/pkg/urlutil"
)

/*
DirectiveCache

Responsibilities:
- Fetch robots.txt once per origin through the site Session
- Parse it and keep the parsed directives for the life of the cache
- Select the applicable group with the injected AgentResolver
- Answer whether a path may be fetched

Concurrent first access to an origin performs a single fetch. Server errors
and transport failures are returned and never cached, so the next call
fetches again.
*/

// DirectiveCache answers robots.txt questions for one site.
type DirectiveCache struct {
	session      *Session
	resolver     AgentResolver
	store        cache.Cache
	metadataSink metadata.MetadataSink
	metrics      *metrics.Metrics

	mu     sync.RWMutex
	parsed map[string]*directives
	flight singleflight.Group
}

type directives struct {
	data   *robotstxt.RobotsData
	agents []string
}

// robotsEntry is the serializable form of one fetched robots.txt kept in the store.
type robotsEntry struct {
	Status      int       `json:"status"`
	Body        string    `json:"body"`
	FetchedAt   time.Time `json:"fetched_at"`
	SourceURL   string    `json:"source_url"`
	ContentType string    `json:"content_type"`
	Digest      string    `json:"digest"`
}

// NewDirectiveCache creates a cache that fetches through session.
// store is optional: when set, fetched files are written to it and read back
// before going to the network. A nil resolver selects SubstringAgentResolver.
func NewDirectiveCache(
	session *Session,
	resolver AgentResolver,
	store cache.Cache,
	metadataSink metadata.MetadataSink,
	m *metrics.Metrics,
) *DirectiveCache {
	if resolver == nil {
		resolver = SubstringAgentResolver{}
	}
	if metadataSink == nil {
		metadataSink = &metadata.NoopSink{}
	}
	return &DirectiveCache{
		session:      session,
		resolver:     resolver,
		store:        store,
		metadataSink: metadataSink,
		metrics:      m,
		parsed:       make(map[string]*directives),
	}
}

// Allowed reports whether userAgent may fetch targetURL.
func (c *DirectiveCache) Allowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	robotsURL, err := urlutil.RobotsURL(targetURL)
	if err != nil {
		return false, &RobotsError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseInvalidURL,
			Err:       err,
		}
	}
	path, err := urlutil.RequestPath(targetURL)
	if err != nil {
		return false, &RobotsError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseInvalidURL,
			Err:       err,
		}
	}

	d, err := c.directivesFor(ctx, robotsURL)
	if err != nil {
		return false, err
	}

	// An unresolved agent looks up the empty group, which temoto treats as
	// unrestricted unless a wildcard group exists.
	agent, _ := c.resolver.Resolve(d.agents, userAgent)
	return d.data.TestAgent(path, agent), nil
}

func (c *DirectiveCache) lookup(robotsURL string) (*directives, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.parsed[robotsURL]
	return d, ok
}

func (c *DirectiveCache) directivesFor(ctx context.Context, robotsURL string) (*directives, error) {
	if d, ok := c.lookup(robotsURL); ok {
		return d, nil
	}

	v, err, _ := c.flight.Do(robotsURL, func() (any, error) {
		if d, ok := c.lookup(robotsURL); ok {
			return d, nil
		}
		// Waiters share this fetch, so one caller leaving must not fail it.
		// The session timeout still bounds it.
		d, err := c.load(context.WithoutCancel(ctx), robotsURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.parsed[robotsURL] = d
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*directives), nil
}

func (c *DirectiveCache) load(ctx context.Context, robotsURL string) (*directives, error) {
	if entry, ok := c.stored(robotsURL); ok {
		if d, err := entry.directives(); err == nil {
			return d, nil
		}
	}

	entry, err := c.fetch(ctx, robotsURL)
	if err != nil {
		return nil, err
	}
	d, err := entry.directives()
	if err != nil {
		return nil, err
	}
	c.save(robotsURL, entry)
	return d, nil
}

func (c *DirectiveCache) fetch(ctx context.Context, robotsURL string) (robotsEntry, error) {
	start := time.Now()
	resp, err := c.session.Get(ctx, robotsURL)
	if err != nil {
		c.recordFetch(robotsURL, 0, time.Since(start), "", nil)
		return robotsEntry{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		c.recordFetch(robotsURL, resp.StatusCode, time.Since(start), resp.Header.Get("Content-Type"), nil)
		return robotsEntry{}, &RobotsError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     ErrCauseReadBodyFailure,
			Err:       err,
		}
	}

	entry := robotsEntry{
		Status:      resp.StatusCode,
		Body:        string(body),
		FetchedAt:   start,
		SourceURL:   robotsURL,
		ContentType: resp.Header.Get("Content-Type"),
		Digest:      hashutil.Digest(body),
	}
	c.recordFetch(robotsURL, entry.Status, time.Since(start), entry.ContentType, []metadata.Attribute{
		metadata.NewAttr(metadata.AttrDigest, entry.Digest),
	})
	return entry, nil
}

func (c *DirectiveCache) recordFetch(robotsURL string, status int, duration time.Duration, contentType string, attrs []metadata.Attribute) {
	if proxy := c.session.Proxy(); proxy != "" {
		attrs = append(attrs, metadata.NewAttr(metadata.AttrProxy, proxy))
	}
	c.metadataSink.RecordFetch(robotsURL, status, duration, contentType, attrs)
	c.metrics.RecordFetch(status, duration.Seconds())
}

func (c *DirectiveCache) stored(robotsURL string) (robotsEntry, bool) {
	if c.store == nil {
		return robotsEntry{}, false
	}
	raw, found := c.store.Get(robotsURL)
	if !found {
		return robotsEntry{}, false
	}
	var entry robotsEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return robotsEntry{}, false
	}
	return entry, true
}

func (c *DirectiveCache) save(robotsURL string, entry robotsEntry) {
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	c.store.Put(robotsURL, string(raw))
}

// directives applies the status policy:
//   - 2xx: the body is parsed.
//   - 401, 403: everything is disallowed.
//   - 429 and every status outside 2xx and 4xx: transient, retried by the caller.
//   - any other 4xx: everything is allowed.
func (e robotsEntry) directives() (*directives, error) {
	switch {
	case e.Status >= 200 && e.Status < 300:
		data, err := robotstxt.FromStatusAndBytes(e.Status, []byte(e.Body))
		if err != nil {
			return nil, &RobotsError{
				Message:   err.Error(),
				Retryable: true,
				Cause:     ErrCauseParseError,
				Err:       err,
			}
		}
		return &directives{data: data, agents: agentTokens([]byte(e.Body))}, nil

	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		data, err := robotstxt.FromString("User-agent: *\nDisallow: /\n")
		if err != nil {
			return nil, &RobotsError{
				Message:   err.Error(),
				Retryable: true,
				Cause:     ErrCauseParseError,
				Err:       err,
			}
		}
		return &directives{data: data}, nil

	case e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests:
		data, err := robotstxt.FromStatusAndBytes(e.Status, nil)
		if err != nil {
			return nil, &RobotsError{
				Message:   err.Error(),
				Retryable: true,
				Cause:     ErrCauseParseError,
				Err:       err,
			}
		}
		return &directives{data: data}, nil
	}

	return nil, &RobotsError{
		Message:   fmt.Sprintf("unexpected status %d for %s", e.Status, e.SourceURL),
		Retryable: true,
		Cause:     ErrCauseHttpServerError,
	}
}
