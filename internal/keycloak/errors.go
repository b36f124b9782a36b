package keycloak

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kcgate/kcgate/pkg/metrics"
)

var (
	// ErrInvalidGrant means the IdP rejected the credentials, code or refresh token.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrUpstream covers transport failures and unexpected IdP responses.
	ErrUpstream = errors.New("identity provider error")

	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrUpstreamAuth = errors.New("identity provider rejected gateway credentials")
)

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Operation string
	Status    int
	Message   string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("keycloak %s: HTTP %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("keycloak %s: HTTP %d: %s", e.Operation, e.Status, e.Message)
}

// Is lets callers match on the status class with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	case ErrUpstreamAuth:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrUpstream:
		switch e.Status {
		case http.StatusNotFound, http.StatusConflict, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return false
		}
		return true
	}
	return false
}

// newAPIError pulls Keycloak's errorMessage/error field out of body.
func newAPIError(op string, status int, body []byte) *APIError {
	var payload struct {
		ErrorMessage string `json:"errorMessage"`
		Error        string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = payload.ErrorMessage
		if msg == "" {
			msg = payload.Error
		}
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &APIError{Operation: op, Status: status, Message: msg}
}

// observe records the latency of an IdP call. status is the HTTP code or "error".
func observe(op string, start time.Time, status int, err error) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	} else if err == nil {
		label = "ok"
	}
	metrics.IdPRequestDuration.WithLabelValues(op, label).Observe(time.Since(start).Seconds())
}
