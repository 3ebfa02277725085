package netclient

import (
	"fmt"
	"net/http"

	"github.com/datallboy/mediagrab/internal/domain"
)

// Outcome is the verdict on a single round trip
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetryWithoutBudget is a server-signalled throttle (429, 403, 5xx)
	OutcomeRetryWithoutBudget
	// OutcomeConsumeAttempt is a generic fault that burns one bounded attempt
	OutcomeConsumeAttempt
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryWithoutBudget:
		return "soft_retry"
	case OutcomeConsumeAttempt:
		return "consume_attempt"
	default:
		return "fail"
	}
}

// Observer is told about every classified round trip and every final failure
type Observer interface {
	ObserveAttempt(outcome Outcome, status int)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(Outcome, int) {}

// classify maps a round trip onto an outcome plus the cause to wrap on failure
func classify(status int, err error) (Outcome, error) {
	if err != nil {
		return OutcomeConsumeAttempt, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}

	switch {
	case status == http.StatusOK:
		return OutcomeSuccess, nil
	case status == http.StatusTooManyRequests:
		return OutcomeRetryWithoutBudget, domain.ErrRateLimited
	case status == http.StatusForbidden:
		return OutcomeRetryWithoutBudget, domain.ErrForbidden
	case status >= 500:
		return OutcomeRetryWithoutBudget, fmt.Errorf("%w: status %d", domain.ErrServerError, status)
	default:
		return OutcomeConsumeAttempt, fmt.Errorf("unexpected status %d", status)
	}
}
