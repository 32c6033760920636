// Package beclient is the single HTTP entry point to the backend API.
// Requests flow through an ordered hook pipeline, which is where conditional
// caching, request ids and logging are plugged in.
package beclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/briangreenhill/killerwiki/cache"
)

const DefaultBaseURL = "http://localhost:3000"

// Request is a backend call before it is turned into an *http.Request.
// Params are encoded as the query string and take part in the cache key.
type Request struct {
	Method string
	Path   string
	Params map[string]any
	Header http.Header
	Body   []byte
}

// NewRequest returns a request with an initialized header
func NewRequest(method, p string) *Request {
	return &Request{Method: method, Path: p, Header: http.Header{}}
}

// JSON sets a JSON body
func (r *Request) JSON(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.Body = b
	r.Header.Set("Content-Type", "application/json")
	return nil
}

// Response is a fully read backend response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into out
func (r *Response) Decode(out any) error {
	return json.Unmarshal(r.Body, out)
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
	hooks   []Hook
	logger  zerolog.Logger
	timeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds every request. It applies to whichever http.Client the
// options end up with.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHooks appends hooks to the pipeline
func WithHooks(hooks ...Hook) Option {
	return func(c *Client) { c.hooks = append(c.hooks, hooks...) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCache appends the conditional-request hook backed by store. Pass it
// after any option that registers a hook setting Authorization.
func WithCache(store *cache.Store) Option {
	return func(c *Client) { c.hooks = append(c.hooks, c.Conditional(store)) }
}

// New creates a client rooted at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		http:    &http.Client{},
		baseURL: u,
		logger:  log.Logger,
	}
	for _, o := range opts {
		o(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c, nil
}

// BaseURL returns the endpoint the client is rooted at
func (c *Client) BaseURL() string {
	return strings.TrimSuffix(c.baseURL.String(), "/")
}

// CacheRequest describes req for the conditional-request cache
func (c *Client) CacheRequest(req *Request) cache.Request {
	return cache.Request{
		Method:        req.Method,
		BaseURL:       c.BaseURL(),
		Path:          req.Path,
		Params:        req.Params,
		Authorization: req.Header.Get("Authorization"),
	}
}

// Do sends req through the hook pipeline. BeforeSend hooks run in
// registration order; AfterReceive hooks run in reverse order, so the first
// registered hook sees the response last. Any non-2xx status is turned into
// an *Error before AfterReceive hooks run. When a BeforeSend fails, the
// request is not sent and the error unwinds through the hooks that already ran.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	var (
		resp *Response
		err  error
		ran  int
	)
	for _, h := range c.hooks {
		if err = h.BeforeSend(ctx, req); err != nil {
			break
		}
		ran++
	}
	if err == nil {
		resp, err = c.send(ctx, req)
	}

	// only hooks whose BeforeSend succeeded see the result
	for i := ran - 1; i >= 0; i-- {
		resp, err = c.hooks[i].AfterReceive(ctx, req, resp, err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	u := c.url(req)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: u, Err: fmt.Errorf("error creating request: %w", err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}

	hresp, err := c.http.Do(hreq)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", req.Method).Str("url", u).Msg("transport error")
		return nil, &Error{Method: req.Method, URL: u, Err: fmt.Errorf("error sending request: %w", err)}
	}
	defer hresp.Body.Close()

	b, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, &Error{Method: req.Method, URL: u, Status: hresp.StatusCode, Err: fmt.Errorf("error reading response body: %w", err)}
	}

	resp := &Response{Status: hresp.StatusCode, Header: hresp.Header, Body: b}
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return resp, &Error{
			Method: req.Method,
			URL:    u,
			Status: hresp.StatusCode,
			Header: hresp.Header,
			Body:   b,
			Err:    fmt.Errorf("request failed with status (%s)", hresp.Status),
		}
	}
	return resp, nil
}

func (c *Client) url(req *Request) string {
	u := *c.baseURL
	// req.Path is already escaped; keep escaped segments intact
	p := path.Join("/", u.EscapedPath(), req.Path)
	if raw, err := url.PathUnescape(p); err == nil {
		u.Path, u.RawPath = raw, p
	} else {
		u.Path, u.RawPath = p, ""
	}
	q := u.Query()
	for k, v := range encodeParams(req.Params) {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// encodeParams flattens params into query values. Slices repeat the key;
// maps use bracket notation.
func encodeParams(params map[string]any) url.Values {
	out := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addParam(out, k, reflect.ValueOf(params[k]))
	}
	return out
}

func addParam(out url.Values, key string, rv reflect.Value) {
	if !rv.IsValid() {
		return
	}
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return
		}
		if s, ok := rv.Interface().(fmt.Stringer); ok && rv.Kind() == reflect.Pointer {
			out.Add(key, s.String())
			return
		}
		addParam(out, key, rv.Elem())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			addParam(out, key, rv.Index(i))
		}
	case reflect.Map:
		for _, mk := range rv.MapKeys() {
			addParam(out, fmt.Sprintf("%s[%v]", key, mk.Interface()), rv.MapIndex(mk))
		}
	default:
		out.Add(key, fmt.Sprint(rv.Interface()))
	}
}

// Get is a convenience wrapper for a GET with params and headers
func (c *Client) Get(ctx context.Context, p string, params map[string]any, header http.Header) (*Response, error) {
	req := NewRequest(http.MethodGet, p)
	req.Params = params
	for k, v := range header {
		req.Header[k] = v
	}
	return c.Do(ctx, req)
}

// Post sends payload as JSON
func (c *Client) Post(ctx context.Context, p string, payload any, header http.Header) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, p, payload, header)
}

// Patch sends payload as JSON
func (c *Client) Patch(ctx context.Context, p string, payload any, header http.Header) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, p, payload, header)
}

func (c *Client) sendJSON(ctx context.Context, method, p string, payload any, header http.Header) (*Response, error) {
	req := NewRequest(method, p)
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		if err := req.JSON(payload); err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, p, err)
		}
	}
	return c.Do(ctx, req)
}
