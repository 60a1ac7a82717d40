package post

import (
	"context"
	"sort"
	"sync"
	"time"

	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/shared/geo"

	"github.com/google/uuid"
)

// MemoryStore keeps posts in process. It backs development runs without a
// database and the session tests.
type MemoryStore struct {
	mu    sync.RWMutex
	posts map[string]Post
	now   func() time.Time
	feed  *Feed

	// FailWrites makes CreatePost fail with ErrStoreWrite.
	FailWrites bool
}

func NewMemoryStore(log logging.Logger) *MemoryStore {
	s := &MemoryStore{
		posts: map[string]Post{},
		now:   time.Now,
	}
	s.feed = NewFeed(nil, s.list, log)
	return s
}

// SetClock replaces the clock used to stamp CreatedAt.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Create(ctx context.Context, d Draft) (Post, error) {
	if err := d.Validate(); err != nil {
		return Post{}, err
	}

	s.mu.Lock()
	if s.FailWrites {
		s.mu.Unlock()
		return Post{}, ErrStoreWrite
	}
	p := Post{
		ID:           uuid.NewString(),
		Message:      d.Message,
		PhotoURL:     d.PhotoURL,
		Location:     d.Location,
		IsEventBooth: d.IsEventBooth,
		CreatedAt:    s.now(),
	}
	s.posts[p.ID] = p
	s.mu.Unlock()

	s.feed.Changed(ctx)
	return p, nil
}

func (s *MemoryStore) CreatePost(ctx context.Context, d Draft) (string, error) {
	p, err := s.Create(ctx, d)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// Insert stores p as-is, keeping its ID and CreatedAt. Used to seed fixtures.
func (s *MemoryStore) Insert(ctx context.Context, p Post) {
	s.mu.Lock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.posts[p.ID] = p
	s.mu.Unlock()
	s.feed.Changed(ctx)
}

func (s *MemoryStore) SubscribePosts(ctx context.Context, fn func([]Post)) (func(), error) {
	return s.feed.Subscribe(ctx, fn)
}

func (s *MemoryStore) Get(_ context.Context, id string) (Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListCandidates(_ context.Context, _ geo.Point, _ float64, since time.Time) ([]Post, error) {
	all, _ := s.list(context.Background())
	out := all[:0:0]
	for _, p := range all {
		if !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) list(_ context.Context) ([]Post, error) {
	s.mu.RLock()
	posts := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		posts = append(posts, p)
	}
	s.mu.RUnlock()

	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}
