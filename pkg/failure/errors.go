package failure

type Severity int

// caller control flow
const (
	SeverityFatal Severity = iota
	SeverityRecoverable
)

type ClassifiedError interface {
	error
	Severity() Severity
}

// Retryable is implemented by errors that know whether repeating the
// failed operation can succeed.
type Retryable interface {
	IsRetryable() bool
}
