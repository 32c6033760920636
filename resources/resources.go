package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/briangreenhill/killerwiki/beclient"
	"github.com/briangreenhill/killerwiki/crud"
	"github.com/briangreenhill/killerwiki/models"
	"github.com/briangreenhill/killerwiki/query"
)

const (
	SerialKillersPath = "serial-killers"
	SectionsPath      = "sections"
	AnswersPath       = "answers"
)

// SerialKillers is the profile collection
type SerialKillers struct {
	*crud.Client[models.SerialKiller]
	Queries *query.Queries[models.SerialKiller]
}

func NewSerialKillers(hc *beclient.Client, qc *query.Client, opts ...crud.Option) *SerialKillers {
	c := crud.New[models.SerialKiller](SerialKillersPath, hc, opts...)
	return &SerialKillers{Client: c, Queries: query.Build[models.SerialKiller](qc, "SerialKiller", c)}
}

// Answer fetches the profile's answer to one question. It follows the read
// credential policy.
func (s *SerialKillers) Answer(ctx context.Context, profileID, questionID string) (models.Answer, error) {
	var out models.Answer
	p := fmt.Sprintf("/api/%s/%s/answers/%s", SerialKillersPath, crud.EscapeID(profileID), crud.EscapeID(questionID))
	err := s.GetJSON(ctx, crud.ActionRead, p, nil, &out)
	return out, err
}

// AnswerQuery is the cached form of Answer, shaped like a view query
func (s *SerialKillers) AnswerQuery(qc *query.Client, profileID, questionID string) query.Query[models.Answer] {
	return query.Query[models.Answer]{
		Key: query.Key{"SerialKillerAnswer", fmt.Sprintf("id:%s::question:%s", profileID, questionID)},
		Fn: func(ctx context.Context) (models.Answer, error) {
			return s.Answer(ctx, profileID, questionID)
		},
		StaleTime: qc.StaleTime(),
		GCTime:    qc.GCTime(),
	}
}

type Sections struct {
	*crud.Client[models.Section]
	Queries *query.Queries[models.Section]
}

func NewSections(hc *beclient.Client, qc *query.Client, opts ...crud.Option) *Sections {
	c := crud.New[models.Section](SectionsPath, hc, opts...)
	return &Sections{Client: c, Queries: query.Build[models.Section](qc, "Section", c)}
}

// ErrNoProfile is returned when an answer payload has no profile_id
var ErrNoProfile = errors.New("answer payload requires profile_id")

// Answers are always authenticated and are saved under their profile
type Answers struct {
	*crud.Client[models.Answer]
	Queries *query.Queries[models.Answer]
}

func NewAnswers(hc *beclient.Client, qc *query.Client, opts ...crud.Option) *Answers {
	opts = append([]crud.Option{crud.WithPolicy(crud.AllActions), crud.WithSavePath(answerSavePath)}, opts...)
	c := crud.New[models.Answer](AnswersPath, hc, opts...)
	return &Answers{Client: c, Queries: query.Build[models.Answer](qc, "Answer", c)}
}

func answerSavePath(p crud.Payload) (string, error) {
	pid, ok := crud.Payload{"id": p["profile_id"]}.ID()
	if !ok {
		return "", ErrNoProfile
	}
	base := fmt.Sprintf("/api/%s/%s/answers", SerialKillersPath, crud.EscapeID(pid))
	if id, ok := p.ID(); ok {
		return base + "/" + crud.EscapeID(id), nil
	}
	return base, nil
}

// Set is every resource client wired to one HTTP and query client
type Set struct {
	SerialKillers *SerialKillers
	Sections      *Sections
	Answers       *Answers
	Query         *query.Client
}

func NewSet(hc *beclient.Client, qc *query.Client, opts ...crud.Option) *Set {
	return &Set{
		SerialKillers: NewSerialKillers(hc, qc, opts...),
		Sections:      NewSections(hc, qc, opts...),
		Answers:       NewAnswers(hc, qc, opts...),
		Query:         qc,
	}
}

// Registry exposes the set to the CLI
func (s *Set) Registry() *Registry {
	r := NewRegistry()
	r.Register(&entity[models.SerialKiller]{
		name: SerialKillersPath, qc: s.Query, queries: s.SerialKillers.Queries,
		format: FormatSerialKiller, item: func(v models.SerialKiller) string { return v.Name },
	})
	r.Register(&entity[models.Section]{
		name: SectionsPath, qc: s.Query, queries: s.Sections.Queries,
		format: FormatSection, item: func(v models.Section) string { return v.Name },
	})
	r.Register(&entity[models.Answer]{
		name: AnswersPath, qc: s.Query, queries: s.Answers.Queries,
		format: FormatAnswer, item: func(v models.Answer) string { return truncate(v.Body, 60) },
	})
	return r
}

// entity adapts a resource's queries to the Resource interface
type entity[T models.Identifiable] struct {
	name    string
	qc      *query.Client
	queries *query.Queries[T]
	format  func(T) string
	item    func(T) string
}

func (e *entity[T]) Name() string { return e.name }

func (e *entity[T]) List(ctx context.Context, page int) (string, error) {
	list, err := query.Fetch(ctx, e.qc, e.queries.List(models.ListOptions{Page: page}))
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", e.name, err)
	}
	return FormatList(e.name, list, e.item), nil
}

func (e *entity[T]) Get(ctx context.Context, id string) (string, error) {
	v, err := query.Fetch(ctx, e.qc, e.queries.View(id))
	if err != nil {
		return "", fmt.Errorf("failed to get %s %s: %w", e.name, id, err)
	}
	return e.format(v), nil
}

func (e *entity[T]) Save(ctx context.Context, payload crud.Payload) (string, *models.ValidationError, error) {
	v, err := query.Mutate(ctx, e.queries.Save(), payload)
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return "", ve, nil
	}
	if err != nil && v.EntityID() == 0 {
		return "", nil, fmt.Errorf("failed to save %s: %w", e.name, err)
	}
	// a failed list refresh does not undo the save
	return e.format(v), nil, nil
}
