package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/briangreenhill/killerwiki/models"
)

const maxUpload = 10 << 20

var errBadBody = errors.New("request body could not be parsed")

// body is a decoded create or update payload
type body struct {
	raw   []byte
	files map[string]*multipart.FileHeader
}

// readBody accepts JSON or multipart. Multipart fields use bracket paths
// (answers[0][body]) and are rebuilt into the equivalent JSON object.
func readBody(r *http.Request) (body, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
		if err != nil {
			return body{}, err
		}
		if len(raw) == 0 {
			raw = []byte("{}")
		}
		if !json.Valid(raw) {
			return body{}, errBadBody
		}
		return body{raw: raw}, nil
	}

	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return body{}, fmt.Errorf("%w: %v", errBadBody, err)
	}
	fields := map[string]any{}
	keys := make([]string, 0, len(r.MultipartForm.Value))
	for k := range r.MultipartForm.Value {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vs := r.MultipartForm.Value[k]
		if err := assign(fields, splitBrackets(k), vs[len(vs)-1]); err != nil {
			return body{}, err
		}
	}
	files := map[string]*multipart.FileHeader{}
	for k, fhs := range r.MultipartForm.File {
		if len(fhs) > 0 {
			files[k] = fhs[0]
		}
	}
	raw, err := json.Marshal(listify(fields))
	if err != nil {
		return body{}, err
	}
	return body{raw: raw, files: files}, nil
}

// decode overlays the payload onto dst, so fields the client left out keep
// their current values on update.
func (b body) decode(dst any) error {
	if err := json.Unmarshal(b.raw, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func splitBrackets(key string) []string {
	head, rest, ok := strings.Cut(key, "[")
	if !ok {
		return []string{key}
	}
	parts := []string{head}
	for _, p := range strings.Split(strings.TrimSuffix(rest, "]"), "][") {
		parts = append(parts, p)
	}
	return parts
}

func assign(m map[string]any, path []string, v string) error {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p]
		if !ok {
			child := map[string]any{}
			m[p] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: field %q is both a value and an object", errBadBody, p)
		}
		m = child
	}
	m[path[len(path)-1]] = v
	return nil
}

// listify turns maps keyed 0..n-1 into slices
func listify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = listify(child)
	}
	list := make([]any, len(m))
	for k, child := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) {
			return m
		}
		list[i] = child
	}
	if len(list) == 0 {
		return m
	}
	return list
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// parseDate accepts RFC 3339 timestamps and plain dates. The empty string
// clears the value.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var ruleMessages = map[string]string{
	"required": "This field cannot be left empty",
	"email":    "Must be a valid email address",
	"min":      "Must be at least %s characters",
	"max":      "Must be at most %s characters",
	"isodate":  "Must be a valid date",
	"numeric":  "Must be a number",
}

// validationError maps validator failures onto {field: {rule: message}}
func validationError(err error) *models.ValidationError {
	ve := &models.ValidationError{Message: "The data could not be saved. Please, try again.", Errors: models.FieldErrors{}}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		ve.Errors["_"] = map[string]string{"invalid": err.Error()}
		return ve
	}
	for _, fe := range fieldErrs {
		field := fe.Field()
		code := "_" + fe.Tag()
		if fe.Tag() == "required" {
			code = "_empty"
		}
		msg, ok := ruleMessages[fe.Tag()]
		if !ok {
			msg = "Is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		if ve.Errors[field] == nil {
			ve.Errors[field] = map[string]string{}
		}
		ve.Errors[field][code] = msg
	}
	return ve
}

func fieldError(field, code, msg string) *models.ValidationError {
	return &models.ValidationError{
		Message: "The data could not be saved. Please, try again.",
		Errors:  models.FieldErrors{field: {code: msg}},
	}
}
