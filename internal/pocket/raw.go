package pocket

import (
	"fmt"
	"time"

	"pocketsync/internal/model"
)

// Raw backend records. Reactions arrive as flat user id arrays and
// timestamps as strings.

type rawEntity struct {
	ID             string `json:"id"`
	Created        string `json:"created"`
	Updated        string `json:"updated"`
	CollectionID   string `json:"collectionId"`
	CollectionName string `json:"collectionName"`
}

type rawUser struct {
	rawEntity
	Username        string `json:"username"`
	EmailVisibility bool   `json:"emailVisibility"`
	Verified        bool   `json:"verified"`
	Banned          bool   `json:"banned"`
}

// RawMessage is a message record as sent by the backend, optionally with
// the author expanded.
type RawMessage struct {
	rawEntity
	Text   string   `json:"text"`
	User   string   `json:"user"`
	Hearts []string `json:"hearts"`
	Poops  []string `json:"poops"`
	Expand *struct {
		User *rawUser `json:"user"`
	} `json:"expand,omitempty"`
}

type rawPage[T any] struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
	Items      []T `json:"items"`
}

// PocketBase writes "2006-01-02 15:04:05.000Z"; newer versions use RFC 3339.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00"}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func normalizeEntity(r rawEntity) (model.Entity, error) {
	created, err := parseTime(r.Created)
	if err != nil {
		return model.Entity{}, err
	}
	updated, err := parseTime(r.Updated)
	if err != nil {
		return model.Entity{}, err
	}
	return model.Entity{
		ID:         r.ID,
		Collection: model.Collection{ID: r.CollectionID, Name: r.CollectionName},
		Timestamps: model.Timestamps{Created: created, Updated: updated},
	}, nil
}

func normalizeUser(r rawUser) (model.User, error) {
	e, err := normalizeEntity(r.rawEntity)
	if err != nil {
		return model.User{}, fmt.Errorf("user %s: %w", r.ID, err)
	}
	return model.User{
		Entity: e,
		Name:   r.Username,
		Status: model.UserStatus{EmailVisibility: r.EmailVisibility, Verified: r.Verified, Banned: r.Banned},
	}, nil
}

func toRefs(ids []string) []model.UserRef {
	out := make([]model.UserRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Ref(id))
	}
	return out
}

// NormalizeMessage maps a raw backend message to the domain shape.
func NormalizeMessage(r RawMessage) (model.Message, error) {
	e, err := normalizeEntity(r.rawEntity)
	if err != nil {
		return model.Message{}, fmt.Errorf("message %s: %w", r.ID, err)
	}
	author := model.Ref(r.User)
	if r.Expand != nil && r.Expand.User != nil {
		u, err := normalizeUser(*r.Expand.User)
		if err != nil {
			return model.Message{}, fmt.Errorf("message %s author: %w", r.ID, err)
		}
		author = model.UserRef{ID: u.ID, User: &u}
	}
	return model.Message{
		Entity:    e,
		Text:      r.Text,
		Author:    author,
		Reactions: model.Reactions{Hearts: toRefs(r.Hearts), Poops: toRefs(r.Poops)},
	}, nil
}

func normalizePage[R any, T model.Record](r rawPage[R], mapper func(R) (T, error)) (model.Page[T], error) {
	out := model.Page[T]{
		Page:       r.Page,
		PerPage:    r.PerPage,
		TotalPages: r.TotalPages,
		TotalItems: r.TotalItems,
		Items:      make([]T, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		v, err := mapper(it)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}
