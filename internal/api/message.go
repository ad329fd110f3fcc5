package api

import (
	"context"
	"encoding/json"
	"net"
	"strings"

	"github.com/Iron-Ham/odooctl/internal/errors"
)

// Messages used when the response carries no usable text.
const (
	MessageTimeout = "Request timed out. Please try again."
	MessageNetwork = "Network error. Please check your connection and try again."
	MessageGeneric = "An unexpected error occurred"
)

// errorBody is the backend's error envelope: {"detail": ...} or
// {"detail": "Validation error", "errors": [{field, message, type}]}.
// FastAPI's default validation body puts a list into detail instead.
type errorBody struct {
	Detail json.RawMessage     `json:"detail"`
	Errors []errors.FieldError `json:"errors"`
}

// fastAPIDetail is one element of FastAPI's default list-valued detail.
type fastAPIDetail struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

func parseErrorBody(body []byte) (detail string, fields []errors.FieldError) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", nil
	}
	fields = eb.Errors
	if len(eb.Detail) == 0 {
		return "", fields
	}

	if err := json.Unmarshal(eb.Detail, &detail); err == nil {
		return strings.TrimSpace(detail), fields
	}
	var list []fastAPIDetail
	if err := json.Unmarshal(eb.Detail, &list); err == nil && len(fields) == 0 {
		for _, d := range list {
			locs := make([]string, 0, len(d.Loc))
			for _, l := range d.Loc {
				locs = append(locs, jsonString(l))
			}
			fields = append(fields, errors.FieldError{
				Field:   strings.Join(locs, " -> "),
				Message: d.Msg,
				Type:    d.Type,
			})
		}
	}
	return "", fields
}

func jsonString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// ExtractMessage chooses the text shown for a failed call: the body's detail
// string, else its field errors joined as "field: message", else a
// network/timeout message when no response arrived, else a generic fallback.
func ExtractMessage(status int, body []byte, cause error) string {
	if len(body) > 0 {
		detail, fields := parseErrorBody(body)
		if detail != "" {
			return detail
		}
		if msg := joinFields(fields); msg != "" {
			return msg
		}
	}
	if status == 0 && cause != nil {
		return networkMessage(cause)
	}
	return MessageGeneric
}

func joinFields(fields []errors.FieldError) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := f.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

func networkMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return MessageTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return MessageTimeout
	}
	return MessageNetwork
}

// decodeError builds the APIError for an HTTP error response.
func decodeError(method, path string, status int, body []byte) *errors.APIError {
	detail, fields := parseErrorBody(body)
	apiErr := errors.NewAPIError(method, path, status, ExtractMessage(status, body, nil))
	if detail != "" {
		apiErr.WithDetail(detail)
	}
	if len(fields) > 0 {
		apiErr.WithFieldErrors(fields)
	}
	return apiErr
}
