package post

import (
	"context"
	"fmt"
	"time"

	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/shared/geo"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreCollection = "posts"

// FirestoreStore keeps posts in a Firestore collection using the same
// document layout as the web client: message, photoURL, location{latitude,
// longitude}, isEventBooth, createdAt (server timestamp).
type FirestoreStore struct {
	client *firestore.Client
	log    logging.Logger
}

type firestorePost struct {
	Message      string            `firestore:"message"`
	PhotoURL     *string           `firestore:"photoURL"`
	Location     firestoreLocation `firestore:"location"`
	IsEventBooth bool              `firestore:"isEventBooth"`
	CreatedAt    time.Time         `firestore:"createdAt"`
}

type firestoreLocation struct {
	Latitude  float64 `firestore:"latitude"`
	Longitude float64 `firestore:"longitude"`
}

func NewFirestoreStore(client *firestore.Client, log logging.Logger) *FirestoreStore {
	return &FirestoreStore{client: client, log: logging.OrDiscard(log)}
}

func (s *FirestoreStore) posts() *firestore.CollectionRef {
	return s.client.Collection(firestoreCollection)
}

func (s *FirestoreStore) Create(ctx context.Context, d Draft) (Post, error) {
	if err := d.Validate(); err != nil {
		return Post{}, err
	}

	ref, wr, err := s.posts().Add(ctx, map[string]interface{}{
		"message":      d.Message,
		"photoURL":     nullIfEmpty(d.PhotoURL),
		"location":     map[string]interface{}{"latitude": d.Location.Lat, "longitude": d.Location.Lng},
		"isEventBooth": d.IsEventBooth,
		"createdAt":    firestore.ServerTimestamp,
	})
	if err != nil {
		return Post{}, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	return Post{
		ID:           ref.ID,
		Message:      d.Message,
		PhotoURL:     d.PhotoURL,
		Location:     d.Location,
		IsEventBooth: d.IsEventBooth,
		CreatedAt:    wr.UpdateTime,
	}, nil
}

func (s *FirestoreStore) CreatePost(ctx context.Context, d Draft) (string, error) {
	p, err := s.Create(ctx, d)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (Post, error) {
	snap, err := s.posts().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return decodeFirestore(snap)
}

// ListCandidates narrows by age only; Firestore has no cell index here.
func (s *FirestoreStore) ListCandidates(ctx context.Context, _ geo.Point, _ float64, since time.Time) ([]Post, error) {
	docs, err := s.posts().Where("createdAt", ">=", since).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return s.decodeAll(docs), nil
}

// SubscribePosts streams collection snapshots. Each snapshot carries the
// whole collection, so fn always receives the full post set.
func (s *FirestoreStore) SubscribePosts(ctx context.Context, fn func([]Post)) (func(), error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it := s.posts().Snapshots(subCtx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if subCtx.Err() == nil {
					s.log.WithError(wrapSubscription(err)).Error("firestore snapshot stream ended")
				}
				return
			}
			docs, err := snap.Documents.GetAll()
			if err != nil {
				s.log.WithError(wrapSubscription(err)).Error("read firestore snapshot")
				continue
			}
			fn(s.decodeAll(docs))
		}
	}()

	return cancel, nil
}

func (s *FirestoreStore) decodeAll(docs []*firestore.DocumentSnapshot) []Post {
	posts := make([]Post, 0, len(docs))
	for _, doc := range docs {
		p, err := decodeFirestore(doc)
		if err != nil {
			s.log.WithError(err).WithField("post_id", doc.Ref.ID).Warn("skip undecodable post")
			continue
		}
		posts = append(posts, p)
	}
	return posts
}

func decodeFirestore(doc *firestore.DocumentSnapshot) (Post, error) {
	var raw firestorePost
	if err := doc.DataTo(&raw); err != nil {
		return Post{}, err
	}
	return fromFirestore(doc.Ref.ID, raw)
}

func fromFirestore(id string, raw firestorePost) (Post, error) {
	if raw.CreatedAt.IsZero() {
		return Post{}, fmt.Errorf("post %s has no createdAt", id)
	}
	p := Post{
		ID:           id,
		Message:      raw.Message,
		Location:     geo.Point{Lat: raw.Location.Latitude, Lng: raw.Location.Longitude},
		IsEventBooth: raw.IsEventBooth,
		CreatedAt:    raw.CreatedAt,
	}
	if raw.PhotoURL != nil {
		p.PhotoURL = *raw.PhotoURL
	}
	return p, nil
}
