package hsapi

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrCancelled is the distinguished transport-error reason for a cancelled
// in-flight request (spec.md §4.1, §7): it must never be conflated with a
// real network error for connection-state purposes.
const ErrCancelled = "cancelled"

// TransportError wraps a failure that occurred before an HTTP response was
// received at all (DNS, connection refused, truncated/invalid headers, or
// explicit cancellation).
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string { return e.Reason }

func (e *TransportError) IsCancelled() bool { return e.Reason == ErrCancelled }

// NewInvalidResponseError is returned when header parsing terminates before
// headers complete, or the HTTP parser reports any error (spec.md §4.1).
func NewInvalidResponseError() *TransportError {
	return &TransportError{Reason: "Invalid response from homeserver"}
}

// BadResponseError wraps a non-2xx HTTP response (spec.md §4.1, §7).
type BadResponseError struct {
	StatusCode int
	ErrCode    string
	ErrMessage string
	HasJSON    bool
}

func (e *BadResponseError) Error() string {
	if e.HasJSON {
		return fmt.Sprintf("Error from home server: %s: %s", e.ErrCode, e.ErrMessage)
	}
	return fmt.Sprintf("Error from home server: %d", e.StatusCode)
}

// parseBadResponse builds a BadResponseError from a non-2xx body, using
// gjson's null-safe accessors: a body that isn't JSON, or JSON missing
// errcode/error, still produces a usable message instead of an error.
func parseBadResponse(status int, body []byte) *BadResponseError {
	e := &BadResponseError{StatusCode: status}
	if !gjson.ValidBytes(body) {
		return e
	}
	root := gjson.ParseBytes(body)
	errcode := root.Get("errcode")
	errmsg := root.Get("error")
	if !errcode.Exists() && !errmsg.Exists() {
		return e
	}
	e.HasJSON = true
	e.ErrCode = errcode.String()
	e.ErrMessage = errmsg.String()
	return e
}
