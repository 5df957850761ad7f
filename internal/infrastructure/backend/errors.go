package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed collaborator call
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindServer
	KindNotFound
	KindUnauthorized
	KindClient
)

func (k ErrorKind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindClient:
		return "client"
	default:
		return "network"
	}
}

// APIError failed backend call
type APIError struct {
	Kind    ErrorKind
	Status  int
	Op      string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s error (%d): %s", e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func kindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// KindOf extract the error kind, ok is false for errors that did not come from the backend client
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return KindNetwork, false
}

// IsNotFound .
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}
