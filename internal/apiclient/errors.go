package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAllCredentialsFailed is the terminal per-call condition: every ready
// credential was tried (or none was ready) and the request still failed.
// Match with errors.Is.
var ErrAllCredentialsFailed = errors.New("all credentials failed")

// AllCredentialsFailedError carries the detail of a pool exhaustion.
type AllCredentialsFailedError struct {
	Service  string
	Attempts int
	LastErr  error
}

func (e *AllCredentialsFailedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all credentials failed for %s after %d attempts: %v", e.Service, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("all credentials failed for %s", e.Service)
}

func (e *AllCredentialsFailedError) Unwrap() error {
	return e.LastErr
}

// Is lets errors.Is(err, ErrAllCredentialsFailed) match the typed error.
func (e *AllCredentialsFailedError) Is(target error) bool {
	return target == ErrAllCredentialsFailed
}

// BearerAuth authenticates a request with an Authorization bearer header.
func BearerAuth(req *http.Request, secret string) {
	req.Header.Set("Authorization", "Bearer "+secret)
}

// QueryParamAuth authenticates a request by appending the secret as a URL
// query parameter, the style the Gemini API uses.
func QueryParamAuth(param string) func(req *http.Request, secret string) {
	return func(req *http.Request, secret string) {
		q := req.URL.Query()
		q.Set(param, secret)
		req.URL.RawQuery = q.Encode()
	}
}
