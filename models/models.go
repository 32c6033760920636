// Package models holds the backend's wire types.
package models

import (
	"strconv"
	"time"
)

// Identifiable is any resource with a numeric id
type Identifiable interface {
	EntityID() int64
}

// Entity carries the fields every backend resource has
type Entity struct {
	ID       int64     `json:"id"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

func (e Entity) EntityID() int64 { return e.ID }

// SerialKiller is a profile
type SerialKiller struct {
	Entity
	Name        string     `json:"name"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	PhotoURL    *string    `json:"photo_url"`
	Answers     []Answer   `json:"answers,omitempty"`
}

type Section struct {
	Entity
	Name      string     `json:"name"`
	Questions []Question `json:"questions,omitempty"`
}

type Question struct {
	Entity
	Type      string   `json:"type"`
	Prompt    string   `json:"prompt"`
	SectionID int64    `json:"section_id"`
	Section   *Section `json:"section,omitempty"`
	Answers   []Answer `json:"answers,omitempty"`
}

type Answer struct {
	Entity
	Body       string    `json:"body"`
	ProfileID  int64     `json:"profile_id"`
	QuestionID int64     `json:"question_id"`
	Question   *Question `json:"question,omitempty"`
}

// Pagination is computed by the server and passed through untouched
type Pagination struct {
	Count         int    `json:"count"`
	Current       int    `json:"current"`
	PerPage       int    `json:"perPage"`
	Page          int    `json:"page"`
	RequestedPage int    `json:"requestedPage"`
	PageCount     int    `json:"pageCount"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	PrevPage      bool   `json:"prevPage"`
	NextPage      bool   `json:"nextPage"`
	Sort          string `json:"sort"`
	Direction     string `json:"direction"`
	Limit         *int   `json:"limit"`
}

type ListResponse[T any] struct {
	Pagination Pagination `json:"pagination"`
	Items      []T        `json:"items"`
}

// ListOptions are the query options of a list call
type ListOptions struct {
	Page int `json:"page"`
}

// Params renders the options as query params. Page defaults to 1.
func (o ListOptions) Params() map[string]any {
	page := o.Page
	if page <= 0 {
		page = 1
	}
	return map[string]any{"page": page}
}

// FormatID renders a resource id for paths and query keys
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
