package retry

import (
	"time"

	"github.com/rohmanhakim/robots-gate/pkg/failure"
	"github.com/rohmanhakim/robots-gate/pkg/timeutil"
)

// RetryParam holds the parameters for retry logic.
// These parameters are passed from outside (e.g., config) and should not
// be known by the retry handler internally.
type RetryParam struct {
	Jitter       time.Duration
	RandomSeed   int64
	MaxAttempts  int
	BackoffParam timeutil.BackoffParam
}

// NewRetryParam creates a new RetryParam with the given settings.
func NewRetryParam(
	jitter time.Duration,
	randomSeed int64,
	maxAttempts int,
	backoffParam timeutil.BackoffParam,
) RetryParam {
	return RetryParam{
		Jitter:       jitter,
		RandomSeed:   randomSeed,
		MaxAttempts:  maxAttempts,
		BackoffParam: backoffParam,
	}
}

// FailureObserver is notified after a failed attempt that will be retried.
// triesLeft counts the attempts still available after this one.
type FailureObserver func(attempt int, triesLeft int, err failure.ClassifiedError)
