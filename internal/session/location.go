package session

import (
	"context"
	"fmt"
	"sync"

	"backend-zachatter/internal/mapview"
	"backend-zachatter/internal/shared/geo"
)

// RemoteLocation is a device location provider fed by fixes the map client
// sends over its connection.
type RemoteLocation struct {
	mu      sync.Mutex
	latest  *geo.Point
	waiters []chan fixResult
	onFix   func(geo.Point)
	onErr   func(error)
}

type fixResult struct {
	p   geo.Point
	err error
}

func NewRemoteLocation() *RemoteLocation {
	return &RemoteLocation{}
}

// CurrentLocation returns the latest fix, or waits for the next fix or error.
func (r *RemoteLocation) CurrentLocation(ctx context.Context) (geo.Point, error) {
	r.mu.Lock()
	if r.latest != nil {
		p := *r.latest
		r.mu.Unlock()
		return p, nil
	}
	ch := make(chan fixResult, 1)
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	select {
	case res := <-ch:
		return res.p, res.err
	case <-ctx.Done():
		r.dropWaiter(ch)
		return geo.Point{}, fmt.Errorf("%w: %w", mapview.ErrLocation, ctx.Err())
	}
}

// WatchLocation forwards every later fix to onFix. Throttling is left to the caller.
func (r *RemoteLocation) WatchLocation(onFix func(geo.Point), onErr func(error), _ mapview.WatchOptions) func() {
	r.mu.Lock()
	r.onFix, r.onErr = onFix, onErr
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.onFix, r.onErr = nil, nil
		r.mu.Unlock()
	}
}

// Push delivers a fix from the client.
func (r *RemoteLocation) Push(p geo.Point) {
	r.mu.Lock()
	fix := p
	r.latest = &fix
	waiters := r.waiters
	r.waiters = nil
	onFix := r.onFix
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- fixResult{p: p}
	}
	if onFix != nil && len(waiters) == 0 {
		onFix(p)
	}
}

// Fail reports that the client could not get a fix, e.g. permission denied.
func (r *RemoteLocation) Fail(err error) {
	err = fmt.Errorf("%w: %w", mapview.ErrLocation, err)

	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	onErr := r.onErr
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- fixResult{err: err}
	}
	if onErr != nil && len(waiters) == 0 {
		onErr(err)
	}
}

func (r *RemoteLocation) dropWaiter(ch chan fixResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w == ch {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}
