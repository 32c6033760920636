package beclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hook is one stage of the request pipeline. AfterReceive may replace the
// response or the error; returning a nil error with a response turns a
// failure into a success.
type Hook interface {
	BeforeSend(ctx context.Context, req *Request) error
	AfterReceive(ctx context.Context, req *Request, resp *Response, err error) (*Response, error)
}

// HookFuncs adapts plain functions to a Hook. Nil fields are no-ops.
type HookFuncs struct {
	Before func(ctx context.Context, req *Request) error
	After  func(ctx context.Context, req *Request, resp *Response, err error) (*Response, error)
}

func (h HookFuncs) BeforeSend(ctx context.Context, req *Request) error {
	if h.Before == nil {
		return nil
	}
	return h.Before(ctx, req)
}

func (h HookFuncs) AfterReceive(ctx context.Context, req *Request, resp *Response, err error) (*Response, error) {
	if h.After == nil {
		return resp, err
	}
	return h.After(ctx, req, resp, err)
}

// RequestID sets X-Request-ID on requests that do not already carry one
func RequestID() Hook {
	return HookFuncs{
		Before: func(_ context.Context, req *Request) error {
			if req.Header.Get("X-Request-ID") == "" {
				req.Header.Set("X-Request-ID", uuid.NewString())
			}
			return nil
		},
	}
}

// Logging debug-logs each call with its status and duration. Failed calls
// are logged at warn.
func Logging(logger zerolog.Logger) Hook {
	return &loggingHook{logger: logger}
}

type loggingHook struct {
	logger zerolog.Logger
	starts sync.Map // *Request -> time.Time
}

func (l *loggingHook) BeforeSend(_ context.Context, req *Request) error {
	l.starts.Store(req, time.Now())
	return nil
}

func (l *loggingHook) AfterReceive(_ context.Context, req *Request, resp *Response, err error) (*Response, error) {
	ev := l.logger.Debug()
	if err != nil {
		ev = l.logger.Warn().Err(err)
	}
	if start, ok := l.starts.LoadAndDelete(req); ok {
		ev = ev.Dur("duration", time.Since(start.(time.Time)))
	}
	status := StatusOf(err)
	if resp != nil && err == nil {
		status = resp.Status
	}
	ev.Str("method", req.Method).
		Str("path", req.Path).
		Int("status", status).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Msg("backend call")
	return resp, err
}
