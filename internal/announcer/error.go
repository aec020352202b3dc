package announcer

import (
	"errors"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/swarmget/swarmget/internal/tracker"
	"github.com/swarmget/swarmget/internal/tracker/httptracker"
)

// AnnounceError is an announce failure with a message that can be shown to the user.
type AnnounceError struct {
	Err     error
	Message string
	Unknown bool
}

func newAnnounceError(err error) *AnnounceError {
	e := &AnnounceError{Err: err}
	var (
		dnsErr    *net.DNSError
		urlErr    *url.Error
		statusErr *httptracker.StatusError
		trkErr    *tracker.Error
		netErr    net.Error
	)
	switch {
	case errors.As(err, &trkErr):
		e.Message = "announce error: " + trkErr.FailureReason
	case errors.As(err, &dnsErr) && strings.HasSuffix(dnsErr.Error(), "no such host"):
		e.Message = "host not found: " + dnsErr.Name
	case errors.As(err, &statusErr) && (statusErr.Code == 403 || statusErr.Code == 404):
		e.Message = "tracker returned http status: " + strconv.Itoa(statusErr.Code)
	case errors.As(err, &urlErr) && strings.HasSuffix(urlErr.Error(), "connection refused"):
		e.Message = "tracker refused the connection"
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Message = "timeout contacting tracker"
	default:
		e.Message = "unknown error in announce"
		e.Unknown = true
	}
	return e
}

func (e *AnnounceError) Error() string { return e.Message }

// ErrorWithType returns the underlying error prefixed by its type.
func (e *AnnounceError) ErrorWithType() string {
	return reflect.TypeOf(e.Err).String() + ": " + e.Err.Error()
}
