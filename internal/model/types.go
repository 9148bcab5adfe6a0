package model

import (
	"fmt"
	"time"
)

// Collection identifies the backend collection a record belongs to.
type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Timestamps holds the backend creation and last update times.
type Timestamps struct {
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Entity is the identity shared by every backend record.
type Entity struct {
	ID         string     `json:"id"`
	Collection Collection `json:"collection"`
	Timestamps Timestamps `json:"timestamps"`
}

// RecordKind tags the concrete kind of a Record.
type RecordKind string

const (
	KindUser    RecordKind = "user"
	KindMessage RecordKind = "message"
)

// Record is implemented by User and Message.
type Record interface {
	Identity() Entity
	Kind() RecordKind
}

// UserStatus captures account flags reported by the backend.
type UserStatus struct {
	EmailVisibility bool `json:"emailVisibility"`
	Verified        bool `json:"verified"`
	Banned          bool `json:"banned"`
}

// User is a chat participant.
type User struct {
	Entity
	Name   string     `json:"name"`
	Status UserStatus `json:"status"`
}

func (u User) Identity() Entity { return u.Entity }
func (u User) Kind() RecordKind { return KindUser }

// UserRef is a partial user reference. User is set only when the backend
// expanded the relation.
type UserRef struct {
	ID   string `json:"id"`
	User *User  `json:"user,omitempty"`
}

// Ref returns a reference carrying only the id.
func Ref(id string) UserRef { return UserRef{ID: id} }

// ReactionKind names one of the reaction lists.
type ReactionKind string

const (
	Hearts ReactionKind = "hearts"
	Poops  ReactionKind = "poops"
)

// Reactions holds the ordered reaction lists of a message.
// A user id is expected at most once per list.
type Reactions struct {
	Hearts []UserRef `json:"hearts"`
	Poops  []UserRef `json:"poops"`
}

// List returns the list for kind.
func (r Reactions) List(kind ReactionKind) []UserRef {
	switch kind {
	case Hearts:
		return r.Hearts
	case Poops:
		return r.Poops
	}
	return nil
}

// With returns a copy of the kind list with ref appended. The receiver is
// not modified.
func (r Reactions) With(kind ReactionKind, ref UserRef) []UserRef {
	cur := r.List(kind)
	out := make([]UserRef, 0, len(cur)+1)
	out = append(out, cur...)
	return append(out, ref)
}

// Empty reports whether both lists are empty.
func (r Reactions) Empty() bool { return len(r.Hearts) == 0 && len(r.Poops) == 0 }

// Message is a chat message with its reactions.
type Message struct {
	Entity
	Text      string    `json:"text"`
	Author    UserRef   `json:"author"`
	Reactions Reactions `json:"reactions"`
}

func (m Message) Identity() Entity { return m.Entity }
func (m Message) Kind() RecordKind { return KindMessage }

// Cause tags why a message state is being observed.
type Cause string

const (
	CauseCreate Cause = "create"
	CauseUpdate Cause = "update"
)

// ParseCause validates a wire action.
func ParseCause(s string) (Cause, error) {
	switch Cause(s) {
	case CauseCreate, CauseUpdate:
		return Cause(s), nil
	}
	return "", fmt.Errorf("unknown sync cause %q", s)
}

// Page is one page of a paginated collection.
type Page[T Record] struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
	Items      []T `json:"items"`
}

// Authorization identifies the signed-in user and its token.
type Authorization struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}
