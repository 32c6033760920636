// Package crud is the generic list/read/save client shared by every backend
// resource. Resource specific behavior is supplied through options rather
// than by wrapping the client.
package crud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/briangreenhill/killerwiki/beclient"
	"github.com/briangreenhill/killerwiki/models"
	"github.com/briangreenhill/killerwiki/session"
)

// Action names an operation for the credential policy
type Action string

const (
	ActionList   Action = "list"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Policy says which actions carry the bearer token
type Policy struct {
	List   bool
	Read   bool
	Create bool
	Update bool
}

// DefaultPolicy authenticates writes only
var DefaultPolicy = Policy{Create: true, Update: true}

// AllActions authenticates every call
var AllActions = Policy{List: true, Read: true, Create: true, Update: true}

func (p Policy) Requires(a Action) bool {
	switch a {
	case ActionList:
		return p.List
	case ActionRead:
		return p.Read
	case ActionCreate:
		return p.Create
	case ActionUpdate:
		return p.Update
	}
	return false
}

// Payload is a partial entity to create or update. An "id" entry selects update.
type Payload map[string]any

// ID returns the payload id and whether it is set to a non-zero value
func (p Payload) ID() (string, bool) {
	v, ok := p["id"]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != "" && id != "0"
	case json.Number:
		return id.String(), id.String() != "0"
	case float64:
		return fmt.Sprint(int64(id)), id != 0
	case float32:
		return fmt.Sprint(int64(id)), id != 0
	}
	s := fmt.Sprint(v)
	return s, s != "0" && s != ""
}

// Client talks to /api/{path}
type Client[T models.Identifiable] struct {
	path        string
	http        *beclient.Client
	credentials func() string
	policy      Policy
	savePath    func(Payload) (string, error)
	logger      zerolog.Logger
}

type Option func(*options)

type options struct {
	credentials func() string
	policy      *Policy
	savePath    func(Payload) (string, error)
	logger      *zerolog.Logger
}

// WithCredentials sets the bearer token accessor. An empty token means none.
func WithCredentials(f func() string) Option {
	return func(o *options) { o.credentials = f }
}

func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = &p }
}

// WithSavePath overrides the endpoint used by Save
func WithSavePath(f func(Payload) (string, error)) Option {
	return func(o *options) { o.savePath = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// TokenFrom adapts a token source into a credential accessor
func TokenFrom(ts oauth2.TokenSource) func() string {
	return func() string {
		tok, err := ts.Token()
		if err != nil || tok == nil {
			return ""
		}
		return tok.AccessToken
	}
}

// DefaultCredentials reads the token of the installed default session
func DefaultCredentials() string {
	if m := session.Default(); m != nil {
		return m.AccessToken()
	}
	return ""
}

// New returns a client for resourcePath, e.g. "serial-killers"
func New[T models.Identifiable](resourcePath string, hc *beclient.Client, opts ...Option) *Client[T] {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	c := &Client[T]{
		path:        strings.Trim(resourcePath, "/"),
		http:        hc,
		credentials: DefaultCredentials,
		policy:      DefaultPolicy,
		logger:      log.Logger,
	}
	if o.credentials != nil {
		c.credentials = o.credentials
	}
	if o.policy != nil {
		c.policy = *o.policy
	}
	if o.logger != nil {
		c.logger = *o.logger
	}
	c.savePath = c.defaultSavePath
	if o.savePath != nil {
		c.savePath = o.savePath
	}
	return c
}

// Path returns the resource path segment
func (c *Client[T]) Path() string { return c.path }

// Policy returns the credential policy in effect
func (c *Client[T]) Policy() Policy { return c.policy }

// EscapeID renders id as a single path segment. Dot segments are escaped too,
// so an id can never climb out of its collection.
func EscapeID(id string) string {
	if id == "." || id == ".." {
		return strings.ReplaceAll(id, ".", "%2E")
	}
	return url.PathEscape(id)
}

func (c *Client[T]) defaultSavePath(p Payload) (string, error) {
	if id, ok := p.ID(); ok {
		return "/api/" + c.path + "/" + EscapeID(id), nil
	}
	return "/api/" + c.path, nil
}

// headers returns the auth header for action, when policy and token allow
func (c *Client[T]) headers(a Action) http.Header {
	h := http.Header{}
	if !c.policy.Requires(a) || c.credentials == nil {
		return h
	}
	if tok := c.credentials(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

// List fetches one page of the collection
func (c *Client[T]) List(ctx context.Context, opts models.ListOptions) (*models.ListResponse[T], error) {
	var out models.ListResponse[T]
	if err := c.GetJSON(ctx, ActionList, "/api/"+c.path, opts.Params(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Read fetches one resource
func (c *Client[T]) Read(ctx context.Context, id string) (T, error) {
	var out T
	err := c.GetJSON(ctx, ActionRead, "/api/"+c.path+"/"+EscapeID(id), nil, &out)
	return out, err
}

// GetJSON issues a GET with the credentials action requires and decodes the body into out
func (c *Client[T]) GetJSON(ctx context.Context, a Action, p string, params map[string]any, out any) error {
	resp, err := c.http.Get(ctx, p, params, c.headers(a))
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}

// Save creates the resource, or updates it when the payload has an id. A
// 400 with the validation shape is returned as a value, not an error.
func (c *Client[T]) Save(ctx context.Context, payload Payload) (T, *models.ValidationError, error) {
	var zero T

	_, update := payload.ID()
	method, action := http.MethodPost, ActionCreate
	if update {
		method, action = http.MethodPatch, ActionUpdate
	}
	p, err := c.savePath(payload)
	if err != nil {
		return zero, nil, err
	}

	req := beclient.NewRequest(method, p)
	for k, v := range c.headers(action) {
		req.Header[k] = v
	}
	if ContainsFile(payload) {
		body, ctype, err := EncodeMultipart(payload)
		if err != nil {
			return zero, nil, fmt.Errorf("encode multipart: %w", err)
		}
		req.Body = body
		req.Header.Set("Content-Type", ctype)
	} else if err := req.JSON(payload); err != nil {
		return zero, nil, fmt.Errorf("encode payload: %w", err)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var berr *beclient.Error
		if errors.As(err, &berr) && berr.Status == http.StatusBadRequest {
			if ve, ok := models.ParseValidationError(berr.Body); ok {
				c.logger.Debug().Str("path", p).Strs("errors", ve.Messages()).Msg("validation failed")
				return zero, ve, nil
			}
		}
		return zero, nil, err
	}

	var out T
	if err := resp.Decode(&out); err != nil {
		return zero, nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return out, nil, nil
}
