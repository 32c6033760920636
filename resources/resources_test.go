package resources

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/killerwiki/beclient"
	"github.com/briangreenhill/killerwiki/crud"
	"github.com/briangreenhill/killerwiki/models"
	"github.com/briangreenhill/killerwiki/query"
)

type call struct {
	method, path, auth string
}

func newSet(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*Set, *[]call) {
	t.Helper()
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path, r.Header.Get("Authorization")})
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	hc, err := beclient.New(srv.URL, beclient.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	qc := query.New(ctx, query.WithLogger(zerolog.Nop()))
	return NewSet(hc, qc, crud.WithCredentials(func() string { return "tok" }), crud.WithLogger(zerolog.Nop())), &calls
}

func TestSerialKillers_Answer(t *testing.T) {
	set, calls := newSet(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":3,"body":"yes","profile_id":1,"question_id":2}`)
	})
	ctx := context.Background()

	a, err := set.SerialKillers.Answer(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "yes", a.Body)
	assert.Equal(t, call{http.MethodGet, "/api/serial-killers/1/answers/2", ""}, (*calls)[0])

	q := set.SerialKillers.AnswerQuery(set.Query, "1", "2")
	assert.Equal(t, query.Key{"SerialKillerAnswer", "id:1::question:2"}, q.Key)
	assert.False(t, q.RefetchOnFocus)
	assert.Equal(t, 5*time.Minute, q.StaleTime)

	got, err := query.Fetch(ctx, set.Query, q)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
}

func TestSerialKillers_AnswerEscapesIDs(t *testing.T) {
	set, calls := newSet(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":3}`)
	})

	_, err := set.SerialKillers.Answer(context.Background(), "1/../2", "..")
	require.NoError(t, err)
	assert.Equal(t, "/api/serial-killers/1/../2/answers/..", (*calls)[0].path)

	p, err := answerSavePath(crud.Payload{"profile_id": "../9", "id": "4"})
	require.NoError(t, err)
	assert.Equal(t, "/api/serial-killers/..%2F9/answers/4", p)
}

func TestAnswers_AuthenticatedAndNested(t *testing.T) {
	set, calls := newSet(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":8,"body":"b","profile_id":4,"question_id":2}`)
	})
	ctx := context.Background()

	_, err := set.Answers.Read(ctx, "8")
	require.NoError(t, err)

	_, ve, err := set.Answers.Save(ctx, crud.Payload{"profile_id": 4, "question_id": 2, "body": "b"})
	require.NoError(t, err)
	assert.Nil(t, ve)
	_, _, err = set.Answers.Save(ctx, crud.Payload{"id": 8, "profile_id": float64(4), "body": "c"})
	require.NoError(t, err)

	assert.Equal(t, []call{
		{http.MethodGet, "/api/answers/8", "Bearer tok"},
		{http.MethodPost, "/api/serial-killers/4/answers", "Bearer tok"},
		{http.MethodPatch, "/api/serial-killers/4/answers/8", "Bearer tok"},
	}, *calls)

	_, _, err = set.Answers.Save(ctx, crud.Payload{"body": "orphan"})
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestRegistry_ProfileRendering(t *testing.T) {
	set, _ := newSet(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/serial-killers":
			_, _ = io.WriteString(w, `{"pagination":{"page":1,"pageCount":2,"count":3,"nextPage":true},
				"items":[{"id":1,"name":"Ed Gein"},{"id":2,"name":"H. H. Holmes"}]}`)
		case "/api/serial-killers/1":
			_, _ = io.WriteString(w, `{"id":1,"name":"Ed Gein","date_of_birth":"1906-08-27T00:00:00Z","answers":[
				{"id":10,"body":"Plainfield","question_id":5,"question":{"id":5,"prompt":"Where?","section_id":2,
					"section":{"id":2,"name":"Location"}}},
				{"id":11,"body":"1950s","question_id":6,"question":{"id":6,"prompt":"When?","section_id":3,
					"section":{"id":3,"name":"Timeline"}}}
			]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"not found"}`)
		}
	})
	reg := set.Registry()
	assert.Equal(t, []string{"answers", "sections", "serial-killers"}, reg.List())

	res, ok := reg.GetResource("serial-killers")
	require.True(t, ok)
	ctx := context.Background()

	out, err := res.List(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, out, "- [1] Ed Gein")
	assert.Contains(t, out, "Page 1 of 2 (3 total)")
	assert.Contains(t, out, "--page 2")

	out, err = res.Get(ctx, "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Born: 1906-08-27")
	assert.Less(t, strings.Index(out, "### Location"), strings.Index(out, "### Timeline"))
	assert.Contains(t, out, "**Where?**\nPlainfield")

	_, err = res.Get(ctx, "99")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, beclient.StatusOf(err))
}

func TestRegistry_SaveValidation(t *testing.T) {
	set, _ := newSet(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"invalid","errors":{"name":{"_empty":"required"}}}`)
	})
	res, _ := set.Registry().GetResource("sections")

	out, ve, err := res.Save(context.Background(), crud.Payload{"name": ""})
	require.NoError(t, err)
	require.NotNil(t, ve)
	assert.Empty(t, out)
	assert.Equal(t, []string{"name: required"}, ve.Messages())
}

func TestRegistry_SaveWritesThrough(t *testing.T) {
	set, calls := newSet(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":4,"name":"Motive"}`)
	})
	res, _ := set.Registry().GetResource("sections")
	ctx := context.Background()

	out, ve, err := res.Save(ctx, crud.Payload{"id": 4, "name": "Motive"})
	require.NoError(t, err)
	require.Nil(t, ve)
	assert.Contains(t, out, "## Motive")

	cached, ok := query.Data[models.Section](set.Query, set.Sections.Queries.ViewKey("4"))
	require.True(t, ok)
	assert.Equal(t, "Motive", cached.Name)

	// served from the query cache
	_, err = res.Get(ctx, "4")
	require.NoError(t, err)
	assert.Len(t, *calls, 1)
}

func TestFormatAnswerAndTruncate(t *testing.T) {
	out := FormatAnswer(models.Answer{Entity: models.Entity{ID: 2}, Body: "text", ProfileID: 1, QuestionID: 3})
	assert.Contains(t, out, "## Answer 2")
	assert.Contains(t, out, "Question: 3")
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
