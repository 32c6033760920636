package query

import "context"

// MutationOptions describes a write and what to do after it
type MutationOptions[T, P any] struct {
	Fn        func(ctx context.Context, payload P) (T, error)
	OnSuccess func(ctx context.Context, data T, payload P) error
	OnError   func(ctx context.Context, err error, payload P)
}

// Mutate runs m.Fn and then the matching callback. An OnSuccess error is
// returned alongside the data, which is still valid.
func Mutate[T, P any](ctx context.Context, m MutationOptions[T, P], payload P) (T, error) {
	data, err := m.Fn(ctx, payload)
	if err != nil {
		if m.OnError != nil {
			m.OnError(ctx, err, payload)
		}
		return data, err
	}
	if m.OnSuccess != nil {
		if err := m.OnSuccess(ctx, data, payload); err != nil {
			return data, err
		}
	}
	return data, nil
}
