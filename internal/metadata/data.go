package metadata

/*
	ErrorCause is a closed, canonical classification used exclusively for
	observability (logging, metrics, reporting).

	Rules:
	 - ErrorCause MUST NOT influence control flow.
	 - ErrorCause MUST NOT be used for retry or fail-closed decisions.
	 - Packages MAY map their local errors to ErrorCause,
	   but MUST NOT invent new meanings.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown

  - The failure does not map cleanly to any known category.

# CauseNetworkFailure

  - Failure caused by network transport or remote availability.
  - DNS failures, timeouts, connection resets, unreachable proxy.

# CausePolicyDisallow

  - An intermediary or the origin refused further crawling.
  - 420 reached-limit responses.

# CauseContentInvalid

  - robots.txt was fetched but could not be used.
  - Unexpected status codes, unreadable bodies.

# CauseRetryFailure

  - The retry budget ran out without a usable answer.
*/
const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseRetryFailure
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseRetryFailure:
		return "retry_failure"
	default:
		return "unknown"
	}
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrURL        AttributeKey = "url"
	AttrSiteID     AttributeKey = "site_id"
	AttrRobotsURL  AttributeKey = "robots_url"
	AttrProxy      AttributeKey = "proxy"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrDigest     AttributeKey = "digest"
	AttrMessage    AttributeKey = "message"
)
