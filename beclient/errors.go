package beclient

import (
	"errors"
	"net/http"
)

// ErrNotModifiedNoEntry is returned when the server answered 304 but no
// cached envelope exists to satisfy the caller
var ErrNotModifiedNoEntry = errors.New("304 but no cached body")

// Error is a failed backend call. Status is 0 for transport failures.
type Error struct {
	Method string
	URL    string
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Method + " " + e.URL + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
