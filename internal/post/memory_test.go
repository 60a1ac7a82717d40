package post

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-zachatter/internal/shared/geo"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore(nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	id, err := store.CreatePost(context.Background(), Draft{Message: "hi", Location: geo.Point{Lat: 35, Lng: 135}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.CreatedAt.Equal(fixed) || p.Message != "hi" {
		t.Fatalf("unexpected post %+v", p)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreFailWrites(t *testing.T) {
	store := NewMemoryStore(nil)
	store.FailWrites = true
	_, err := store.CreatePost(context.Background(), Draft{Message: "hi", Location: geo.Point{Lat: 35, Lng: 135}})
	if !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("expected store write error, got %v", err)
	}
}

func TestMemoryStoreSubscribeSeesInserts(t *testing.T) {
	store := NewMemoryStore(nil)

	var latest []Post
	unsubscribe, err := store.SubscribePosts(context.Background(), func(posts []Post) { latest = posts })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	now := time.Now()
	store.Insert(context.Background(), Post{ID: "old", CreatedAt: now.Add(-time.Hour)})
	store.Insert(context.Background(), Post{ID: "new", CreatedAt: now})

	if len(latest) != 2 || latest[0].ID != "new" {
		t.Fatalf("expected newest first, got %+v", latest)
	}
}

func TestMemoryStoreListCandidatesFiltersByAge(t *testing.T) {
	store := NewMemoryStore(nil)
	now := time.Now()
	store.Insert(context.Background(), Post{ID: "old", CreatedAt: now.Add(-3 * time.Hour)})
	store.Insert(context.Background(), Post{ID: "fresh", CreatedAt: now.Add(-time.Minute)})

	posts, err := store.ListCandidates(context.Background(), geo.Point{}, 0.2, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "fresh" {
		t.Fatalf("unexpected candidates %+v", posts)
	}
}
