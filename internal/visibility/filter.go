// Package visibility decides which posts a viewer can see from where they
// stand right now.
package visibility

import (
	"time"

	"backend-zachatter/internal/post"
	"backend-zachatter/internal/shared/geo"
)

// Window bounds visibility by post age and distance from the viewer.
type Window struct {
	MaxAge        time.Duration
	MaxDistanceKm float64
}

func NewWindow(maxAgeMinutes int, maxDistanceKm float64) Window {
	return Window{
		MaxAge:        time.Duration(maxAgeMinutes) * time.Minute,
		MaxDistanceKm: maxDistanceKm,
	}
}

// Since is the oldest creation time still inside the window at now.
func (w Window) Since(now time.Time) time.Time {
	return now.Add(-w.MaxAge)
}

// Contains reports whether p is visible to a viewer standing at viewer.
func (w Window) Contains(p post.Post, viewer geo.Point, now time.Time) bool {
	if now.Sub(p.CreatedAt) > w.MaxAge {
		return false
	}
	return geo.DistanceKm(viewer, p.Location) <= w.MaxDistanceKm
}

// VisiblePosts returns the posts inside w for viewer at now, in input order.
// A nil viewer has no fix yet and sees nothing.
func VisiblePosts(all []post.Post, viewer *geo.Point, now time.Time, w Window) []post.Post {
	visible := []post.Post{}
	if viewer == nil {
		return visible
	}
	for _, p := range all {
		if w.Contains(p, *viewer, now) {
			visible = append(visible, p)
		}
	}
	return visible
}
