package robots

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohmanhakim/robots-gate/internal/metadata"
	"github.com/rohmanhakim/robots-gate/internal/metrics"
	"github.com/rohmanhakim/robots-gate/pkg/failure"
	"github.com/rohmanhakim/robots-gate/pkg/retry"
	"github.com/rohmanhakim/robots-gate/pkg/timeutil"
)

/*
Checker

Responsibilities:
- Decide whether a URL of a site may be fetched
- Bypass robots.txt for sites that ignore it
- Retry transient lookup failures a bounded number of times
- Pass ReachedLimitError and ProxyError to the caller untouched
- Deny the URL once retries are exhausted

The Checker never caches decisions. Each call consults the site DirectiveCache.
*/

// Checker answers permission questions for many sites.
type Checker struct {
	registry     *Registry
	retryParam   retry.RetryParam
	logger       zerolog.Logger
	metadataSink metadata.MetadataSink
	metrics      *metrics.Metrics
}

// DefaultRetryParam retries DefaultMaxAttempts times without waiting.
func DefaultRetryParam() retry.RetryParam {
	return retry.NewRetryParam(0, 0, DefaultMaxAttempts, timeutil.NewBackoffParam(0, 1, 0))
}

// NewChecker creates a Checker. A retryParam with no attempts uses
// DefaultRetryParam; a nil metadataSink records nothing.
func NewChecker(
	registry *Registry,
	retryParam retry.RetryParam,
	logger zerolog.Logger,
	metadataSink metadata.MetadataSink,
	m *metrics.Metrics,
) *Checker {
	if retryParam.MaxAttempts < 1 {
		retryParam = DefaultRetryParam()
	}
	if metadataSink == nil {
		metadataSink = &metadata.NoopSink{}
	}
	return &Checker{
		registry:     registry,
		retryParam:   retryParam,
		logger:       logger,
		metadataSink: metadataSink,
		metrics:      m,
	}
}

// IsPermitted reports whether targetURL of site may be fetched. proxy is a
// "host:port" address; when empty the site's own proxy is used.
//
// The returned error is nil, *ReachedLimitError, *ProxyError, or the context
// error when ctx ends. A lookup that keeps failing denies the URL with a nil error.
func (c *Checker) IsPermitted(ctx context.Context, site Site, targetURL string, proxy string) (bool, error) {
	if site.IgnoreRobots {
		c.metrics.RecordCheck(metrics.OutcomeIgnored)
		return true, nil
	}
	if proxy == "" {
		proxy = site.Proxy
	}

	_, rules, err := c.registry.Resolve(site, proxy)
	if err != nil {
		c.recordFailure(site, targetURL, "Resolve", err)
		c.metrics.RecordCheck(metrics.OutcomeProxyError)
		return false, err
	}

	logger := c.logger.With().
		Str("site_id", site.ID).
		Str("url", targetURL).
		Logger()
	// Rules are matched against the site identity, never a header override.
	userAgent := site.UserAgent
	if userAgent == "" {
		userAgent = c.registry.DefaultUserAgent()
	}

	allowed, retryErr := retry.RetryObserved(
		ctx,
		c.retryParam,
		func() (bool, failure.ClassifiedError) {
			if err := ctx.Err(); err != nil {
				return false, &RobotsError{
					Message:   err.Error(),
					Retryable: false,
					Cause:     ErrCauseCanceled,
					Err:       err,
				}
			}
			ok, err := rules.Allowed(ctx, targetURL, userAgent)
			if err != nil {
				return false, classifyLookupError(err)
			}
			return ok, nil
		},
		func(attempt int, triesLeft int, err failure.ClassifiedError) {
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("tries_left", triesLeft).
				Msg("robots.txt lookup failed, retrying")
			c.metrics.RecordRetry()
		},
	)

	if retryErr == nil {
		if allowed {
			c.metrics.RecordCheck(metrics.OutcomeAllowed)
		} else {
			c.metrics.RecordCheck(metrics.OutcomeDisallowed)
		}
		return allowed, nil
	}

	var limitErr *ReachedLimitError
	if errors.As(retryErr, &limitErr) {
		c.recordFailure(site, targetURL, "IsPermitted", limitErr)
		c.metrics.RecordCheck(metrics.OutcomeReachedLimit)
		return false, limitErr
	}
	var proxyErr *ProxyError
	if errors.As(retryErr, &proxyErr) {
		c.recordFailure(site, targetURL, "IsPermitted", proxyErr)
		c.metrics.RecordCheck(metrics.OutcomeProxyError)
		return false, proxyErr
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	logger.Error().
		Err(retryErr).
		Int("attempts", c.retryParam.MaxAttempts).
		Msg("robots.txt lookup failed repeatedly, denying url")
	c.recordFailure(site, targetURL, "IsPermitted", &RobotsError{
		Message:   retryErr.Error(),
		Retryable: false,
		Cause:     ErrCauseRepeatedFetchFailure,
		Err:       retryErr,
	})
	c.metrics.RecordCheck(metrics.OutcomeExhausted)
	return false, nil
}

// classifyLookupError keeps terminal signals intact and makes every other
// failure retryable.
func classifyLookupError(err error) failure.ClassifiedError {
	var limitErr *ReachedLimitError
	if errors.As(err, &limitErr) {
		return limitErr
	}
	var proxyErr *ProxyError
	if errors.As(err, &proxyErr) {
		return proxyErr
	}
	var robotsErr *RobotsError
	if errors.As(err, &robotsErr) && robotsErr.Retryable {
		return robotsErr
	}
	return &RobotsError{
		Message:   err.Error(),
		Retryable: true,
		Cause:     ErrCauseLookupFailure,
		Err:       err,
	}
}

func (c *Checker) recordFailure(site Site, targetURL string, action string, err error) {
	attrs := []metadata.Attribute{
		metadata.NewAttr(metadata.AttrSiteID, site.ID),
		metadata.NewAttr(metadata.AttrURL, targetURL),
	}
	var proxyErr *ProxyError
	if errors.As(err, &proxyErr) {
		attrs = append(attrs, metadata.NewAttr(metadata.AttrProxy, proxyErr.Proxy))
	}
	c.metadataSink.RecordError(
		time.Now(),
		"robots",
		action,
		mapRobotsErrorToMetadataCause(err),
		err.Error(),
		attrs,
	)
}
