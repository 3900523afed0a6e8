package retry

import (
	"fmt"
	"net/http"
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// HTTPStatus turns a non-2xx status into an error classified for Policy:
// 429 and 5xx stay transient, other statuses are terminal.
// Returns nil for 2xx.
func HTTPStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := &StatusError{Code: code, Body: string(body)}
	if code == http.StatusTooManyRequests || code >= 500 {
		return err
	}
	return Terminal(err)
}
