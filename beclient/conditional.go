package beclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/briangreenhill/killerwiki/cache"
)

// Conditional returns the hook that revalidates GETs against store. It must
// be registered after any hook that sets Authorization, since the credential
// is part of the cache key.
func (c *Client) Conditional(store *cache.Store) Hook {
	return &conditionalHook{client: c, store: store}
}

type conditionalHook struct {
	client *Client
	store  *cache.Store
}

func (h *conditionalHook) BeforeSend(ctx context.Context, req *Request) error {
	env := h.store.Get(ctx, h.client.CacheRequest(req))
	if env == nil {
		return nil
	}
	if env.ETag != "" {
		req.Header.Set("If-None-Match", env.ETag)
	}
	if env.LastModified != "" {
		req.Header.Set("If-Modified-Since", env.LastModified)
	}
	return nil
}

func (h *conditionalHook) AfterReceive(ctx context.Context, req *Request, resp *Response, err error) (*Response, error) {
	cr := h.client.CacheRequest(req)
	if err == nil {
		if resp != nil {
			h.store.Put(ctx, cr, resp.Status, resp.Header, resp.Body)
		}
		return resp, nil
	}

	var berr *Error
	if !errors.As(err, &berr) || berr.Status != http.StatusNotModified || !cr.Retrieval() {
		return resp, err
	}

	env := h.store.Get(ctx, cr)
	if env == nil {
		return nil, fmt.Errorf("%w: %w", ErrNotModifiedNoEntry, err)
	}
	header := env.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{Status: http.StatusOK, Header: header, Body: env.Body}, nil
}
