package generation

import "time"

// failureKind classifies why an attempt failed, which decides the backoff
// before the next one.
type failureKind int

const (
	failureNone failureKind = iota
	// failureTransport covers network errors, timeouts and API errors.
	failureTransport
	// failureParse means the model answered but the text did not yield JSON.
	failureParse
	// failureBlocked means the service returned zero candidates.
	failureBlocked
)

// Backoff bases per failure kind; the actual delay scales with the attempt
// number, a deliberate throttle against the external service's rate limits.
const (
	transportBackoffBase = 3000 * time.Millisecond
	parseBackoffBase     = 2000 * time.Millisecond
)

// attemptPlan is the retry state machine for one themed variant: attempt
// count, last failure kind and the resulting delay formula live here so the
// ceiling and delays are testable apart from any network calls.
type attemptPlan struct {
	maxAttempts int
	attempt     int // 1-based once next() has been called
	lastFailure failureKind
}

func newAttemptPlan(maxAttempts int) *attemptPlan {
	return &attemptPlan{maxAttempts: maxAttempts}
}

// next advances to the following attempt. It returns false once the ceiling
// is reached.
func (p *attemptPlan) next() bool {
	if p.attempt >= p.maxAttempts {
		return false
	}
	p.attempt++
	return true
}

// record notes the failure kind of the current attempt.
func (p *attemptPlan) record(kind failureKind) {
	p.lastFailure = kind
}

// exhausted reports whether the ceiling has been hit.
func (p *attemptPlan) exhausted() bool {
	return p.attempt >= p.maxAttempts
}

// temperature escalates with each attempt: base 0.2 plus 0.1 per attempt.
func (p *attemptPlan) temperature() float32 {
	return 0.2 + 0.1*float32(p.attempt)
}

// delay returns the wait before the next attempt, scaled by the attempt
// number of the failed call. Zero when no failure was recorded.
func (p *attemptPlan) delay() time.Duration {
	switch p.lastFailure {
	case failureParse:
		return parseBackoffBase * time.Duration(p.attempt)
	case failureTransport, failureBlocked:
		return transportBackoffBase * time.Duration(p.attempt)
	default:
		return 0
	}
}
