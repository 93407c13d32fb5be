package retry

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/remote"
)

type Decision int

const (
	Permanent Decision = iota
	Retry
)

func (d Decision) String() string {
	if d == Retry {
		return "retry"
	}
	return "permanent"
}

// transientStatus are the remote codes worth another attempt.
// Every other status is treated as permanent.
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// Classify decides whether a failed task should be rescheduled.
func Classify(err error) Decision {
	if err == nil {
		return Permanent
	}

	var se *remote.StatusError
	if errors.As(err, &se) {
		if transientStatus[se.Code] {
			return Retry
		}
		return Permanent
	}

	switch {
	case errors.Is(err, domain.ErrMalformedManifest),
		errors.Is(err, domain.ErrUnsafeFilename):
		return Permanent
	case errors.Is(err, domain.ErrIntegrity),
		errors.Is(err, domain.ErrTransferIO),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return Retry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retry
	}

	return Permanent
}

// ToResult maps a task outcome onto the scheduler's result type.
func ToResult(err error, output string) domain.Result {
	if err == nil {
		return domain.Success(output)
	}
	if Classify(err) == Retry {
		return domain.Retry(err)
	}
	return domain.Failure(err)
}
