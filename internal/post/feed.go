package post

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-zachatter/internal/logging"

	"github.com/redis/go-redis/v9"
)

const changedChannel = "posts:changed"

type Loader func(ctx context.Context) ([]Post, error)

// Feed pushes the full post set to every subscriber whenever the store
// changes. With redis, changes written by any instance reach every instance's
// subscribers; without it only local writes are seen.
type Feed struct {
	redis  *redis.Client
	pubsub *redis.PubSub
	load   Loader
	log    logging.Logger

	mu     sync.RWMutex
	subs   map[uint64]func([]Post)
	nextID uint64

	// deliverMu pairs each load with its delivery so a subscriber never
	// receives an older snapshot after a newer one.
	deliverMu sync.Mutex

	reloadMu  sync.Mutex
	reloading bool
	pending   bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeed(rdb *redis.Client, load Loader, log logging.Logger) *Feed {
	f := &Feed{
		load: load,
		log:  logging.OrDiscard(log),
		subs: map[uint64]func([]Post){},
	}
	if rdb != nil {
		f.listen(rdb)
	}
	return f
}

func (f *Feed) listen(rdb *redis.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := rdb.Subscribe(ctx, changedChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		f.log.WithError(err).Warn("post change channel unavailable, falling back to local notifications")
		_ = pubsub.Close()
		cancel()
		return
	}

	f.redis = rdb
	f.pubsub = pubsub
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.consume(ctx, pubsub.Channel())
}

func (f *Feed) consume(ctx context.Context, ch <-chan *redis.Message) {
	defer close(f.done)
	for range ch {
		f.refresh(ctx)
	}
	if ctx.Err() == nil {
		f.log.WithError(ErrSubscription).Error("post change stream closed")
	}
}

// Subscribe registers fn and immediately delivers the current post set to it.
// Every subscriber receives the same slice and must not modify it. fn must
// not call Subscribe.
func (f *Feed) Subscribe(ctx context.Context, fn func([]Post)) (func(), error) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	posts, err := f.load(ctx)
	if err != nil {
		return nil, wrapSubscription(err)
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	fn(posts)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}, nil
}

// Changed announces a write. Subscribers receive a fresh snapshot.
func (f *Feed) Changed(ctx context.Context) {
	if f.redis != nil {
		err := f.redis.Publish(ctx, changedChannel, "1").Err()
		if err == nil {
			return
		}
		f.log.WithError(err).Warn("redis publish failed, notifying local subscribers only")
	}
	f.refresh(context.WithoutCancel(ctx))
}

// refresh reloads once per burst of changes: a change that arrives while a
// reload is running schedules exactly one more reload.
func (f *Feed) refresh(ctx context.Context) {
	f.reloadMu.Lock()
	if f.reloading {
		f.pending = true
		f.reloadMu.Unlock()
		return
	}
	f.reloading = true
	f.reloadMu.Unlock()

	for {
		f.deliverMu.Lock()
		if f.Subscribers() > 0 {
			posts, err := f.load(ctx)
			if err != nil {
				f.log.WithError(wrapSubscription(err)).Error("reload posts")
			} else {
				f.deliver(posts)
			}
		}
		f.deliverMu.Unlock()

		f.reloadMu.Lock()
		if !f.pending {
			f.reloading = false
			f.reloadMu.Unlock()
			return
		}
		f.pending = false
		f.reloadMu.Unlock()
	}
}

func (f *Feed) deliver(posts []Post) {
	f.mu.RLock()
	fns := make([]func([]Post), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(posts)
	}
}

func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *Feed) Close() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	_ = f.pubsub.Close()
	select {
	case <-f.done:
	case <-time.After(time.Second):
	}
}

func wrapSubscription(err error) error {
	return fmt.Errorf("%w: %w", ErrSubscription, err)
}
