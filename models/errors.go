package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// FieldErrors maps field name -> error code -> message
type FieldErrors map[string]map[string]string

// ValidationError is the body of a 400 response to a create or update
type ValidationError struct {
	Message string      `json:"message"`
	Errors  FieldErrors `json:"errors"`
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return v.Message
	}
	fields := make([]string, 0, len(v.Errors))
	for f := range v.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return v.Message + " (" + strings.Join(fields, ", ") + ")"
}

// Messages flattens the per-field errors, sorted by field then code
func (v *ValidationError) Messages() []string {
	var out []string
	fields := make([]string, 0, len(v.Errors))
	for f := range v.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		codes := make([]string, 0, len(v.Errors[f]))
		for c := range v.Errors[f] {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		for _, c := range codes {
			out = append(out, f+": "+v.Errors[f][c])
		}
	}
	return out
}

// ParseValidationError reports whether body has the validation shape: a
// string message plus a per-field errors object.
func ParseValidationError(body []byte) (*ValidationError, bool) {
	var raw struct {
		Message *string         `json:"message"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Message == nil || len(raw.Errors) == 0 {
		return nil, false
	}
	var fe FieldErrors
	if err := json.Unmarshal(raw.Errors, &fe); err != nil || fe == nil {
		return nil, false
	}
	return &ValidationError{Message: *raw.Message, Errors: fe}, true
}

// ErrorMessage extracts the message of a generic {message} error body
func ErrorMessage(body []byte) string {
	var raw struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &raw) != nil {
		return ""
	}
	return raw.Message
}
