package routes

import (
	"sort"
	"sync"
	"time"

	"github.com/briangreenhill/killerwiki/models"
)

type table[T any] struct {
	rows map[int64]T
	next int64
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: map[int64]T{}}
}

func (t *table[T]) insert(build func(id int64) T) T {
	t.next++
	row := build(t.next)
	t.rows[t.next] = row
	return row
}

func (t *table[T]) get(id int64) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

func (t *table[T]) put(id int64, row T) { t.rows[id] = row }

func (t *table[T]) all() []T {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = t.rows[id]
	}
	return out
}

type user struct {
	models.AuthUser
	hash string
}

type upload struct {
	contentType string
	data        []byte
}

// store keeps every resource in memory. Rows are stored flat and nested
// relations are assembled on read.
type store struct {
	mu        sync.RWMutex
	killers   *table[models.SerialKiller]
	sections  *table[models.Section]
	questions *table[models.Question]
	answers   *table[models.Answer]
	users     *table[user]
	uploads   map[string]upload
}

func newStore() *store {
	return &store{
		killers:   newTable[models.SerialKiller](),
		sections:  newTable[models.Section](),
		questions: newTable[models.Question](),
		answers:   newTable[models.Answer](),
		users:     newTable[user](),
		uploads:   map[string]upload{},
	}
}

func stamp(id int64, now time.Time) models.Entity {
	return models.Entity{ID: id, Created: now, Modified: now}
}

// seed loads a small fixture so a fresh server has something to browse
func (s *store) seed(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prompts := map[string][]string{
		"Background": {"Where were they born?", "What was their childhood like?"},
		"Crimes":     {"How many victims?", "What was their method?"},
		"Capture":    {"How were they caught?"},
	}
	for _, name := range []string{"Background", "Crimes", "Capture"} {
		sec := s.sections.insert(func(id int64) models.Section {
			return models.Section{Entity: stamp(id, now), Name: name}
		})
		for _, p := range prompts[name] {
			s.questions.insert(func(id int64) models.Question {
				return models.Question{Entity: stamp(id, now), Type: "text", Prompt: p, SectionID: sec.ID}
			})
		}
	}

	dob := time.Date(1906, time.August, 27, 0, 0, 0, 0, time.UTC)
	gein := s.killers.insert(func(id int64) models.SerialKiller {
		return models.SerialKiller{Entity: stamp(id, now), Name: "Ed Gein", DateOfBirth: &dob}
	})
	for _, a := range []struct {
		qid  int64
		body string
	}{{1, "La Crosse County, Wisconsin"}, {5, "A hardware store receipt"}} {
		s.answers.insert(func(id int64) models.Answer {
			return models.Answer{Entity: stamp(id, now), Body: a.body, ProfileID: gein.ID, QuestionID: a.qid}
		})
	}
}

// question returns q with its section attached
func (s *store) question(q models.Question) models.Question {
	if sec, ok := s.sections.get(q.SectionID); ok {
		q.Section = &sec
	}
	return q
}

// answer returns a with its question and section attached
func (s *store) answer(a models.Answer) models.Answer {
	if q, ok := s.questions.get(a.QuestionID); ok {
		q = s.question(q)
		a.Question = &q
	}
	return a
}

func (s *store) killer(k models.SerialKiller) models.SerialKiller {
	k.Answers = []models.Answer{}
	for _, a := range s.answers.all() {
		if a.ProfileID == k.ID {
			k.Answers = append(k.Answers, s.answer(a))
		}
	}
	return k
}

func (s *store) section(sec models.Section) models.Section {
	sec.Questions = []models.Question{}
	for _, q := range s.questions.all() {
		if q.SectionID == sec.ID {
			sec.Questions = append(sec.Questions, q)
		}
	}
	return sec
}

func (s *store) answerFor(profileID, questionID int64) (models.Answer, bool) {
	for _, a := range s.answers.all() {
		if a.ProfileID == profileID && a.QuestionID == questionID {
			return a, true
		}
	}
	return models.Answer{}, false
}

func (s *store) userByEmail(email string) (user, bool) {
	for _, u := range s.users.all() {
		if u.Email == email {
			return u, true
		}
	}
	return user{}, false
}
