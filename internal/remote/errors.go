package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind buckets a backend failure for retry policy decisions.
type Kind string

const (
	KindAuth       Kind = "auth-error"       // 401: halt the cycle, no retry budget consumed
	KindValidation Kind = "validation-error" // 400: the payload is wrong, retrying cannot help
	KindConflict   Kind = "conflict"         // already exists: treated as success upstream
	KindTransient  Kind = "transient"        // network, timeout, 5xx: retry next cycle
	KindFatal      Kind = "fatal"            // other 4xx: failed immediately
)

// Error is a classified backend failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf classifies err. Anything that is not a typed remote error (raw
// network failures, timeouts) counts as transient.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	case status >= 400:
		return KindFatal
	default:
		return KindTransient
	}
}

func statusError(status int, body []byte) *Error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &Error{Kind: classifyStatus(status), Status: status, Message: msg}
}
