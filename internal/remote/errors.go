package remote

import (
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Error classifies a remote failure. Transient errors (network faults,
// server 5xx) are retried with backoff; permanent errors (4xx) are
// surfaced to the caller and never retried.
type Error struct {
	Op        string
	Status    int
	Body      string
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func statusError(op string, resp *resty.Response) *Error {
	return &Error{
		Op:        op,
		Status:    resp.StatusCode(),
		Body:      resp.String(),
		Permanent: resp.StatusCode() >= 400 && resp.StatusCode() < 500,
	}
}

// IsPermanent reports whether err is a remote failure that retrying
// cannot fix.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Permanent
}
