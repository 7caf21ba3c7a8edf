// ABOUTME: Error returned for non-2xx REST responses
// ABOUTME: Extracts the backend's {"detail": ...} message and classifies the status

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/coven-chat/internal/client"
)

// Error is a non-2xx response from the REST API.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	if d := e.Detail(); d != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.Status, d)
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// Detail returns the server's detail message, or the raw body when it is not
// in the {"detail": ...} shape.
func (e *Error) Detail() string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return e.Body
}

// Kind classifies the status like a rejected stream request.
func (e *Error) Kind() client.Kind {
	return client.ClassifyStatus(e.Status)
}

// NotFound reports whether the resource does not exist.
func (e *Error) NotFound() bool {
	return e.Status == http.StatusNotFound
}
