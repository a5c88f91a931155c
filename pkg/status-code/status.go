package statuscode

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
)

// Bounds of the accepted status code range.
const (
	MinCode Code = 100
	MaxCode Code = 599
)

var (
	// ErrMalformedCode means the segment is not exactly three digits.
	ErrMalformedCode = errors.New("malformed status code")
	// ErrOutOfRange means the segment is three digits but outside [100, 599].
	ErrOutOfRange = errors.New("status code out of range")
)

// Code is an HTTP status code a client asked for.
// It does not have to be registered with IANA, it only has to be in range.
type Code int

// InvalidError describes a path segment that could not be parsed.
// The segment is kept verbatim for logging.
type InvalidError struct {
	Segment string
	Reason  error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: %q", e.Reason, e.Segment)
}

func (e *InvalidError) Unwrap() error {
	return e.Reason
}

// Parse validates a path segment and returns the status code it names.
// The segment must be exactly three ASCII digits without a leading zero,
// and the value must be within [MinCode, MaxCode].
func Parse(segment string) (Code, error) {
	if len(segment) != 3 {
		return 0, &InvalidError{Segment: segment, Reason: ErrMalformedCode}
	}
	for i := 0; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return 0, &InvalidError{Segment: segment, Reason: ErrMalformedCode}
		}
	}
	if segment[0] == '0' {
		return 0, &InvalidError{Segment: segment, Reason: ErrMalformedCode}
	}
	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0, &InvalidError{Segment: segment, Reason: ErrMalformedCode}
	}
	code := Code(n)
	if code < MinCode || code > MaxCode {
		return 0, &InvalidError{Segment: segment, Reason: ErrOutOfRange}
	}
	return code, nil
}

// Reason returns a short label for a Parse error, suitable for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrMalformedCode):
		return "malformed"
	default:
		return "invalid"
	}
}

func (c Code) String() string {
	return strconv.Itoa(int(c))
}

// Text returns the reason phrase for the code.
func (c Code) Text() string {
	if text := http.StatusText(int(c)); text != "" {
		return text
	}
	return "Unknown Status"
}

// Class returns the name of the code's class (1xx to 5xx).
func (c Code) Class() string {
	switch c / 100 {
	case 1:
		return "Informational"
	case 2:
		return "Success"
	case 3:
		return "Redirection"
	case 4:
		return "Client Error"
	case 5:
		return "Server Error"
	}
	return "Unknown"
}
