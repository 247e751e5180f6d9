// vidvault/worker/errors.go
package worker

import (
	"context"
	"errors"
	"fmt"

	"vidvault/extract"
	"vidvault/storage"
)

// ValidationError marks input that can never succeed (malformed URL,
// missing fields). It is terminal regardless of the attempt count.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Msg
}

// TimeoutError reports an exceeded budget, either of a single stage or
// of the whole attempt.
type TimeoutError struct {
	Stage string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %q exceeded its time budget", e.Stage)
}

// Retryable decides whether another attempt could succeed. Timeouts,
// network-class extraction failures and all storage-sink failures are
// worth retrying; validation and unsupported-source failures are not.
func Retryable(err error) bool {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}

	var terr *TimeoutError
	if errors.As(err, &terr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var serr *storage.Error
	if errors.As(err, &serr) {
		return true
	}

	var xerr *extract.Error
	if errors.As(err, &xerr) {
		switch xerr.Code {
		case extract.CodeTimeout, extract.CodeNetwork:
			return true
		default:
			// UNSUPPORTED and FORMAT_ERROR will not improve on retry.
			return false
		}
	}

	return false
}
