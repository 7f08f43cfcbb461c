package robots

import (
	"fmt"

	"github.com/rohmanhakim/robots-gate/internal/metadata"
	"github.com/rohmanhakim/robots-gate/pkg/failure"
)

type RobotsErrorCause string

const (
	ErrCauseInvalidURL           = "invalid target url"
	ErrCauseHttpFetchFailure     = "failed to fetch robots.txt"
	ErrCauseHttpServerError      = "server error"
	ErrCauseReadBodyFailure      = "failed to read robots.txt body"
	ErrCauseParseError           = "failed to parse robots.txt"
	ErrCauseInvalidLimitMeta     = "invalid warcprox-meta header"
	ErrCauseLookupFailure        = "robots lookup failed"
	ErrCauseRepeatedFetchFailure = "repeated fetch failure"
	ErrCauseCanceled             = "check canceled"
)

// RobotsError is a failure to obtain or evaluate robots.txt. It may wrap the
// transport error that caused it.
type RobotsError struct {
	Message   string
	Retryable bool
	Cause     RobotsErrorCause
	Err       error
}

func (e *RobotsError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("robots error: %s", e.Cause)
	}
	return fmt.Sprintf("robots error: %s: %s", e.Cause, e.Message)
}

func (e *RobotsError) Unwrap() error {
	return e.Err
}

func (e *RobotsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *RobotsError) IsRetryable() bool {
	return e.Retryable
}

// ReachedLimitError signals that an intermediary answered 420 with a
// Warcprox-Meta header: the crawl budget is spent and the caller must stop.
// It is never retried.
type ReachedLimitError struct {
	// Meta is the decoded Warcprox-Meta header.
	Meta map[string]any
	// Body is the full response body text.
	Body string
}

func (e *ReachedLimitError) Error() string {
	return fmt.Sprintf("reached limit: %v", e.Meta)
}

func (e *ReachedLimitError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *ReachedLimitError) IsRetryable() bool {
	return false
}

// ProxyError reports that the configured proxy could not be used. It is never retried.
type ProxyError struct {
	Proxy string
	Err   error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s unavailable: %v", e.Proxy, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

func (e *ProxyError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *ProxyError) IsRetryable() bool {
	return false
}

// mapRobotsErrorToMetadataCause maps robots-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapRobotsErrorToMetadataCause(err error) metadata.ErrorCause {
	switch e := err.(type) {
	case *ReachedLimitError:
		return metadata.CausePolicyDisallow
	case *ProxyError:
		return metadata.CauseNetworkFailure
	case *RobotsError:
		switch e.Cause {
		case ErrCauseHttpFetchFailure:
			return metadata.CauseNetworkFailure
		case ErrCauseHttpServerError, ErrCauseReadBodyFailure, ErrCauseParseError, ErrCauseInvalidLimitMeta:
			return metadata.CauseContentInvalid
		case ErrCauseRepeatedFetchFailure:
			return metadata.CauseRetryFailure
		}
	}
	return metadata.CauseUnknown
}
