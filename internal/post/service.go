package post

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-zachatter/internal/db"
	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// Service is the Postgres-backed post store.
type Service struct {
	db   db.Querier
	feed *Feed
	log  logging.Logger
}

func NewService(q db.Querier, rdb *redis.Client, log logging.Logger) *Service {
	s := &Service{db: q, log: logging.OrDiscard(log)}
	s.feed = NewFeed(rdb, s.List, s.log)
	return s
}

func (s *Service) Create(ctx context.Context, d Draft) (Post, error) {
	if err := d.Validate(); err != nil {
		return Post{}, err
	}
	cell, err := geo.Cell(d.Location)
	if err != nil {
		return Post{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	p := Post{
		ID:           uuid.NewString(),
		Message:      d.Message,
		PhotoURL:     d.PhotoURL,
		Location:     d.Location,
		IsEventBooth: d.IsEventBooth,
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO posts (id, message, photo_url, lat, lng, h3_cell, is_event_booth)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, p.ID, p.Message, nullIfEmpty(p.PhotoURL), p.Location.Lat, p.Location.Lng, int64(cell), p.IsEventBooth)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return Post{}, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	s.feed.Changed(ctx)
	return p, nil
}

func (s *Service) CreatePost(ctx context.Context, d Draft) (string, error) {
	p, err := s.Create(ctx, d)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *Service) SubscribePosts(ctx context.Context, fn func([]Post)) (func(), error) {
	return s.feed.Subscribe(ctx, fn)
}

func (s *Service) Get(ctx context.Context, id string) (Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Post{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, message, COALESCE(photo_url,''), lat, lng, is_event_booth, created_at
		FROM posts WHERE id=$1
	`, id)
	var p Post
	if err := row.Scan(&p.ID, &p.Message, &p.PhotoURL, &p.Location.Lat, &p.Location.Lng, &p.IsEventBooth, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, ErrNotFound
		}
		return Post{}, err
	}
	return p, nil
}

// List returns every stored post, newest first.
func (s *Service) List(ctx context.Context) ([]Post, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, message, COALESCE(photo_url,''), lat, lng, is_event_booth, created_at
		FROM posts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

func (s *Service) ListCandidates(ctx context.Context, viewer geo.Point, radiusKm float64, since time.Time) ([]Post, error) {
	cells, err := geo.CellsWithin(viewer, radiusKm)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(cells))
	for i, c := range cells {
		ids[i] = int64(c)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, message, COALESCE(photo_url,''), lat, lng, is_event_booth, created_at
		FROM posts
		WHERE h3_cell = ANY($1) AND created_at >= $2
		ORDER BY created_at DESC
	`, ids, since)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// Close stops the change feed.
func (s *Service) Close() {
	s.feed.Close()
}

func scanPosts(rows pgx.Rows) ([]Post, error) {
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Message, &p.PhotoURL, &p.Location.Lat, &p.Location.Lng, &p.IsEventBooth, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
