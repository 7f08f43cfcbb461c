package metadata

import (
	"time"

	"github.com/rs/zerolog"
)

/*
Metadata Collected
- robots.txt fetch timestamps, status codes and durations
- content digests of fetched robots.txt files
- classified failures of permission checks

Metadata is write-only.
No component may read metadata to influence permission decisions.
*/

type MetadataSink interface {
	RecordError(
		observedAt time.Time,
		packageName string,
		action string,
		cause ErrorCause,
		details string,
		attrs []Attribute,
	)

	RecordFetch(
		fetchUrl string,
		httpStatus int,
		duration time.Duration,
		contentType string,
		attrs []Attribute,
	)
}

/*
Recorder emits metadata events as structured zerolog entries at debug level,
so they never change the counts of operational warnings and errors.
Ordering guarantees:
- Events are written in the order they are received by a single caller.
- No global ordering across goroutines is guaranteed.
*/
type Recorder struct {
	workerId string
	logger   zerolog.Logger
}

func NewRecorder(workerId string, logger zerolog.Logger) Recorder {
	return Recorder{
		workerId: workerId,
		logger:   logger,
	}
}

func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
	event := r.logger.Debug().
		Str("event", "error").
		Str("worker", r.workerId).
		Time("observed_at", observedAt).
		Str("package", packageName).
		Str("action", action).
		Str("cause", cause.String()).
		Str("error", errorString)
	withAttrs(event, attrs).Send()
}

func (r *Recorder) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	attrs []Attribute,
) {
	event := r.logger.Debug().
		Str("event", "fetch").
		Str("worker", r.workerId).
		Str("url", fetchUrl).
		Int("http_status", httpStatus).
		Dur("duration", duration).
		Str("content_type", contentType)
	withAttrs(event, attrs).Send()
}

func withAttrs(event *zerolog.Event, attrs []Attribute) *zerolog.Event {
	for _, attr := range attrs {
		event = event.Str(string(attr.Key), attr.Value)
	}
	return event
}

// NoopSink, struct that implements metadata.MetadataSink but does nothing
// Callers (or tests) can decide whether to inject Recorder or NoopSink

type NoopSink struct{}

func (n *NoopSink) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	errorString string,
	attrs []Attribute,
) {
}

func (n *NoopSink) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	attrs []Attribute,
) {
}
