package httpapi

import "net/http"

// statusError is the result type handlers return instead of throwing:
// a status code paired with a plain-text message, mapped to a response by
// writeError. It replaces exception-driven control flow for HTTP status
// codes.
type statusError struct {
	Code int
	Msg  string
}

func (e *statusError) Error() string { return e.Msg }

func badRequest(msg string) *statusError      { return &statusError{http.StatusBadRequest, msg} }
func unauthorized(msg string) *statusError    { return &statusError{http.StatusUnauthorized, msg} }
func forbidden(msg string) *statusError       { return &statusError{http.StatusForbidden, msg} }
func notFound(msg string) *statusError        { return &statusError{http.StatusNotFound, msg} }
func notAcceptable(msg string) *statusError   { return &statusError{http.StatusNotAcceptable, msg} }
func tooLarge(msg string) *statusError        { return &statusError{http.StatusRequestEntityTooLarge, msg} }
func tooManyRequests(msg string) *statusError { return &statusError{http.StatusTooManyRequests, msg} }

// errInternal is the generic server-side failure: logged by the caller,
// never detailed to the client.
var errInternal = &statusError{http.StatusNotFound, "Invalid path"}

// writeError is the terminal error mapper: any *statusError is written
// verbatim, anything else becomes a generic 404 so internal details never
// leak to the client.
func writeError(w http.ResponseWriter, err error) {
	if se, ok := err.(*statusError); ok {
		http.Error(w, se.Msg, se.Code)
		return
	}
	http.Error(w, "Invalid path", http.StatusNotFound)
}
