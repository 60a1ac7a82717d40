package post

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-zachatter/internal/shared/geo"
)

type Post struct {
	ID           string    `json:"id"`
	Message      string    `json:"message"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	Location     geo.Point `json:"location"`
	IsEventBooth bool      `json:"is_event_booth"`
	CreatedAt    time.Time `json:"created_at"`
}

func (p Post) HasPhoto() bool {
	return p.PhotoURL != ""
}

// Draft is what a client submits; the store assigns ID and CreatedAt.
type Draft struct {
	Message      string    `json:"message"`
	PhotoURL     string    `json:"photo_url"`
	Location     geo.Point `json:"location"`
	IsEventBooth bool      `json:"is_event_booth"`
}

var (
	ErrInvalidDraft = errors.New("invalid post draft")
	ErrNotFound     = errors.New("post not found")
	ErrStoreWrite   = errors.New("post store write failed")
	ErrSubscription = errors.New("post subscription failed")
)

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Message) == "" {
		return fmt.Errorf("%w: message required", ErrInvalidDraft)
	}
	if !d.Location.Valid() {
		return fmt.Errorf("%w: location out of range", ErrInvalidDraft)
	}
	return nil
}

// Store is the narrow post store the viewer session and composition flow talk to.
type Store interface {
	CreatePost(ctx context.Context, d Draft) (string, error)
	// SubscribePosts delivers the full post set now and again after every
	// change until the returned func is called.
	SubscribePosts(ctx context.Context, fn func([]Post)) (func(), error)
}

// Reader serves the HTTP API.
type Reader interface {
	Get(ctx context.Context, id string) (Post, error)
	// ListCandidates returns posts that may be within radiusKm of viewer and
	// were created at or after since. Callers apply the exact filter.
	ListCandidates(ctx context.Context, viewer geo.Point, radiusKm float64, since time.Time) ([]Post, error)
}

// Backend is a store that also serves reads.
type Backend interface {
	Store
	Reader
	Create(ctx context.Context, d Draft) (Post, error)
}
