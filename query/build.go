package query

import (
	"context"

	"github.com/briangreenhill/killerwiki/cache"
	"github.com/briangreenhill/killerwiki/crud"
	"github.com/briangreenhill/killerwiki/models"
)

// API is the resource client a set of queries is built on
type API[T models.Identifiable] interface {
	List(ctx context.Context, opts models.ListOptions) (*models.ListResponse[T], error)
	Read(ctx context.Context, id string) (T, error)
	Save(ctx context.Context, payload crud.Payload) (T, *models.ValidationError, error)
}

// Queries binds a resource client to the query cache under one key name
type Queries[T models.Identifiable] struct {
	Name string
	qc   *Client
	api  API[T]
}

// Build returns the view, list and save descriptors for api under name
func Build[T models.Identifiable](qc *Client, name string, api API[T]) *Queries[T] {
	return &Queries[T]{Name: name, qc: qc, api: api}
}

// ViewKey is the key of one entity
func (q *Queries[T]) ViewKey(id string) Key { return Key{q.Name, id} }

// ListKey is the prefix shared by every list query of the resource
func (q *Queries[T]) ListKey() Key { return Key{q.Name + "List"} }

// View loads one entity. Entities are not refetched on focus or reconnect.
func (q *Queries[T]) View(id string) Query[T] {
	return Query[T]{
		Key:       q.ViewKey(id),
		Fn:        func(ctx context.Context) (T, error) { return q.api.Read(ctx, id) },
		StaleTime: q.qc.StaleTime(),
		GCTime:    q.qc.GCTime(),
	}
}

// List loads one page and is refreshed on focus, reconnect and mount
func (q *Queries[T]) List(opts models.ListOptions) Query[*models.ListResponse[T]] {
	return Query[*models.ListResponse[T]]{
		Key: append(q.ListKey(), cache.Normalize(opts)),
		Fn: func(ctx context.Context) (*models.ListResponse[T], error) {
			return q.api.List(ctx, opts)
		},
		StaleTime:          q.qc.StaleTime(),
		GCTime:             q.qc.GCTime(),
		RefetchOnFocus:     true,
		RefetchOnReconnect: true,
		RefetchOnMount:     true,
	}
}

// Save returns the write descriptor. A validation failure comes back as a
// *models.ValidationError error. On success the entity's view entry is
// replaced and every list entry is invalidated.
func (q *Queries[T]) Save() MutationOptions[T, crud.Payload] {
	return MutationOptions[T, crud.Payload]{
		Fn: func(ctx context.Context, payload crud.Payload) (T, error) {
			saved, ve, err := q.api.Save(ctx, payload)
			if err != nil {
				return saved, err
			}
			if ve != nil {
				return saved, ve
			}
			return saved, nil
		},
		OnSuccess: func(ctx context.Context, saved T, _ crud.Payload) error {
			q.qc.SetQueryData(q.ViewKey(models.FormatID(saved.EntityID())), saved)
			return q.qc.Invalidate(ctx, q.ListKey())
		},
	}
}
