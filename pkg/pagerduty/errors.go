package pagerduty

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Outcome classifies the result of a single Send.
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeBadRequest       Outcome = "bad_request"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeUnknownStatus    Outcome = "unknown_status"
	OutcomeTransportFailure Outcome = "transport_failure"
)

// Error codes for the sentinel errors below. Keep stable; hosts match on them.
const (
	ErrCodeBadRequest       = "pagerduty.bad_request"
	ErrCodeRateLimited      = "pagerduty.rate_limited"
	ErrCodeUnexpectedStatus = "pagerduty.unexpected_status"
	ErrCodeTransport        = "pagerduty.transport"
)

// Code returns an error value that carries only a code string.
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrBadRequest       = Code(ErrCodeBadRequest)
	ErrRateLimited      = Code(ErrCodeRateLimited)
	ErrUnexpectedStatus = Code(ErrCodeUnexpectedStatus)
	ErrTransport        = Code(ErrCodeTransport)
)

// APIError is returned when PagerDuty answered with a non-success status.
type APIError struct {
	Outcome    Outcome
	StatusCode int

	// Message and Errors are taken from a 400 response body when present.
	Message string
	Errors  []string

	text string
}

func (e *APIError) Error() string { return e.text }

// Is matches the sentinel error for the error's outcome.
func (e *APIError) Is(target error) bool {
	switch e.Outcome {
	case OutcomeBadRequest:
		return target == ErrBadRequest
	case OutcomeRateLimited:
		return target == ErrRateLimited
	case OutcomeUnknownStatus:
		return target == ErrUnexpectedStatus
	}
	return false
}

// TransportError is returned when no response could be obtained.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "Cannot send message to PagerDuty: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func badRequestError(body []byte) *APIError {
	msg, errs := parseBadRequest(body)
	joined := strings.Join(errs, ",")
	text := fmt.Sprintf("PagerDuty returned 400 Bad Request: %s - %s", msg, joined)
	if joined == "" {
		text = strings.TrimSuffix(text, " ")
	}
	return &APIError{
		Outcome:    OutcomeBadRequest,
		StatusCode: 400,
		Message:    msg,
		Errors:     errs,
		text:       text,
	}
}

func rateLimitError() *APIError {
	return &APIError{
		Outcome:    OutcomeRateLimited,
		StatusCode: 429,
		text:       "PagerDuty returned 429 Too Many Requests",
	}
}

func unknownStatusError(code int) *APIError {
	return &APIError{
		Outcome:    OutcomeUnknownStatus,
		StatusCode: code,
		text:       fmt.Sprintf("PagerDuty responded with an unexpected HTTP Status: %d", code),
	}
}

// parseBadRequest extracts "message" and "errors" from a 400 body. Anything
// that is not a JSON object, or fields of the wrong type, yield empty values.
func parseBadRequest(body []byte) (string, []string) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", nil
	}

	var msg string
	if v, ok := raw["message"]; ok {
		if err := json.Unmarshal(v, &msg); err != nil {
			msg = ""
		}
	}

	var items []json.RawMessage
	if v, ok := raw["errors"]; ok {
		if err := json.Unmarshal(v, &items); err != nil {
			items = nil
		}
	}
	errs := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			errs = append(errs, s)
		}
	}
	return msg, errs
}

// OutcomeOf classifies the error returned by Channel.Send. A nil error is
// OutcomeSent; errors not produced by this package are OutcomeTransportFailure.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSent
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Outcome
	}
	return OutcomeTransportFailure
}
