package usecase

import (
	"fmt"
	"strings"
	"time"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/model"
)

type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryExponential RetryStrategy = "exponential"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 60 * time.Second
	DefaultMaxDelay   = 30 * time.Minute
)

type DecisionAction string

const (
	ActionRequeue      DecisionAction = "requeue"
	ActionTerminalFail DecisionAction = "terminal_fail"
)

// Decision is the tagged outcome of RetryPolicy.Decide.
type Decision struct {
	Action DecisionAction
	Delay  time.Duration // only for ActionRequeue
	Reason string
}

func Requeue(delay time.Duration) Decision {
	return Decision{Action: ActionRequeue, Delay: delay, Reason: "retryable failure"}
}

func TerminalFail(reason string) Decision {
	return Decision{Action: ActionTerminalFail, Reason: reason}
}

// RetryPolicy decides between requeue and terminal failure. It holds no state;
// the delay depends only on the attempt count.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Strategy   RetryStrategy
}

// NewRetryPolicy fills zero values with defaults.
func NewRetryPolicy(maxRetries int, strategy string, base, max time.Duration) (RetryPolicy, error) {
	p := RetryPolicy{MaxRetries: maxRetries, BaseDelay: base, MaxDelay: max}
	if p.MaxRetries < 0 {
		return RetryPolicy{}, fmt.Errorf("%w: max_retries must be >= 0", domain.ErrInvalidArgument)
	}
	switch RetryStrategy(strings.ToLower(strategy)) {
	case "", RetryFixed:
		p.Strategy = RetryFixed
	case RetryExponential:
		p.Strategy = RetryExponential
	default:
		return RetryPolicy{}, fmt.Errorf("%w: retry strategy %q", domain.ErrInvalidArgument, strategy)
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p, nil
}

// MaxAttempts is the hard ceiling on handler invocations per job.
func (p RetryPolicy) MaxAttempts() int { return p.MaxRetries + 1 }

// Decide is called after attempt number job.Attempts failed.
func (p RetryPolicy) Decide(job *model.Job, class domain.FailureClass) Decision {
	if class != domain.FailureTransient {
		return TerminalFail("permanent failure")
	}
	if job.RetriesUsed() >= p.MaxRetries {
		return TerminalFail(fmt.Sprintf("retries exhausted after %d attempts", job.Attempts))
	}
	return Requeue(p.Delay(job.Attempts))
}

// Delay returns the wait before the attempt that follows attempt number attempts.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.Strategy != RetryExponential || attempts <= 1 {
		return p.BaseDelay
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}
