package mapview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/metrics"
	"backend-zachatter/internal/post"
	"backend-zachatter/internal/shared/geo"
)

var ErrLocation = errors.New("location unavailable")

type State int

const (
	Uninitialized State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "uninitialized"
}

type Viewport struct {
	Center  geo.Point `json:"center"`
	Zoom    float64   `json:"zoom"`
	Bearing float64   `json:"bearing"`
	Pitch   float64   `json:"pitch"`
}

type MarkerKind string

const (
	MarkerDevice MarkerKind = "device"
	MarkerPost   MarkerKind = "post"
	MarkerBooth  MarkerKind = "booth"
)

const deviceMarkerID = "device"

type Marker struct {
	ID       string     `json:"id"`
	Kind     MarkerKind `json:"kind"`
	Position geo.Point  `json:"position"`
}

// Events are invoked after the controller releases its lock, so handlers may
// call back into the controller. Nil handlers are skipped.
type Events struct {
	ViewportChanged       func(Viewport)
	MarkersChanged        func([]Marker)
	ViewerLocationUpdated func(geo.Point)
	LocationSelected      func(geo.Point)
	PostSelected          func(post.Post)
	LocationFailed        func(error)
}

type WatchOptions struct {
	HighAccuracy bool
	MinInterval  time.Duration
	Timeout      time.Duration
}

// LocationProvider is the device geolocation source.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (geo.Point, error)
	WatchLocation(onFix func(geo.Point), onErr func(error), opts WatchOptions) (stop func())
}

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

type Options struct {
	Settings Settings
	Events   Events
	Log      logging.Logger
	Metrics  *metrics.Metrics

	// Now and AfterFunc default to the time package.
	Now       func() time.Time
	AfterFunc func(time.Duration, func()) Timer
}

// Controller owns the live viewport of one map. setZoom, setCenter and
// setBearing are the only writers of the viewport.
type Controller struct {
	settings  Settings
	events    Events
	log       logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer

	mu           sync.Mutex
	state        State
	viewport     Viewport
	device       *geo.Point
	lastAccepted time.Time
	posts        []post.Post
	touching     bool
	lastTouchX   float64
	recenter     Timer
	stopWatch    func()
}

func NewController(opts Options) *Controller {
	c := &Controller{
		settings:  opts.Settings,
		events:    opts.Events,
		log:       logging.OrDiscard(opts.Log),
		metrics:   opts.Metrics,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	c.viewport = Viewport{Zoom: c.settings.FixedZoom, Pitch: c.settings.Pitch}
	return c
}

// Start takes one fix from the provider and begins tracking. A failed fix is
// logged and leaves the controller Uninitialized; nothing retries it.
func (c *Controller) Start(ctx context.Context, provider LocationProvider) error {
	if c.State() == Tracking {
		return nil
	}

	// The first fix may wait on a permission prompt, so it has its own bound.
	if c.settings.InitialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.InitialTimeout)
		defer cancel()
	}

	fix, err := provider.CurrentLocation(ctx)
	if err == nil && !fix.Valid() {
		err = fmt.Errorf("invalid fix %.6f,%.6f", fix.Lat, fix.Lng)
	}
	if err != nil {
		if !errors.Is(err, ErrLocation) {
			err = fmt.Errorf("%w: %w", ErrLocation, err)
		}
		c.log.WithError(err).Warn("device location unavailable, map stays uninitialized")
		if c.events.LocationFailed != nil {
			c.events.LocationFailed(err)
		}
		return err
	}

	c.UpdateLocation(fix)

	// The throttle applies between watch fixes; the first one is always taken.
	c.mu.Lock()
	c.lastAccepted = time.Time{}
	c.mu.Unlock()

	stop := provider.WatchLocation(
		func(p geo.Point) { c.UpdateLocation(p) },
		func(err error) {
			c.log.WithError(err).Warn("location watch error")
		},
		WatchOptions{
			HighAccuracy: true,
			MinInterval:  c.settings.Throttle,
			Timeout:      c.settings.LocationTimeout,
		},
	)

	c.mu.Lock()
	c.stopWatch = stop
	c.mu.Unlock()
	return nil
}

// UpdateLocation applies a device fix. The first fix starts tracking; later
// fixes arriving within the throttle interval of the last accepted one are
// dropped. Accepted fixes move the center and device marker only.
func (c *Controller) UpdateLocation(p geo.Point) bool {
	if !p.Valid() {
		c.log.WithFields(logging.Fields{"lat": p.Lat, "lng": p.Lng}).Warn("ignoring invalid device fix")
		return false
	}

	now := c.now()
	c.mu.Lock()
	if c.state == Tracking && now.Sub(c.lastAccepted) < c.settings.Throttle {
		c.mu.Unlock()
		c.metrics.IncDeviceFix(false)
		return false
	}
	if c.state == Uninitialized {
		c.state = Tracking
		c.setZoom(c.settings.FixedZoom)
		c.viewport.Pitch = c.settings.Pitch
		c.setBearing(0)
	}
	c.lastAccepted = now
	fix := p
	c.device = &fix
	c.setCenter(p)
	vp, markers := c.viewport, c.markersLocked()
	c.mu.Unlock()

	c.metrics.IncDeviceFix(true)
	c.emitViewport(vp)
	c.emitMarkers(markers)
	if c.events.ViewerLocationUpdated != nil {
		c.events.ViewerLocationUpdated(p)
	}
	return true
}

// Drag is a pan attempt. Panning is disabled, so the map snaps back to the device.
func (c *Controller) Drag() {
	c.mu.Lock()
	if c.state != Tracking {
		c.mu.Unlock()
		return
	}
	c.setCenter(*c.device)
	vp := c.viewport
	c.mu.Unlock()
	c.emitViewport(vp)
}

// Zoom is a zoom gesture. Zoom is fixed, so the requested level is discarded.
func (c *Controller) Zoom(float64) {
	c.ApplyFixedZoom()
}

func (c *Controller) TouchStart(x float64, touches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touching = touches == 1 && c.state == Tracking
	c.lastTouchX = x
}

// TouchMove rotates the map by the horizontal delta since the previous frame.
// Frames with more than one finger end the rotation gesture.
func (c *Controller) TouchMove(x float64, touches int) {
	c.mu.Lock()
	if !c.touching || touches != 1 {
		c.touching = false
		c.mu.Unlock()
		return
	}
	dx := x - c.lastTouchX
	c.lastTouchX = x
	c.setBearing(c.viewport.Bearing + c.settings.RotationSign*dx*c.settings.RotationSensitivity)
	vp := c.viewport
	c.mu.Unlock()
	c.emitViewport(vp)
}

func (c *Controller) TouchEnd() {
	c.mu.Lock()
	c.touching = false
	c.mu.Unlock()
}

// Tap selects a map location for a new post.
func (c *Controller) Tap(p geo.Point) bool {
	if c.State() != Tracking || !p.Valid() {
		return false
	}
	if c.events.LocationSelected != nil {
		c.events.LocationSelected(p)
	}
	return true
}

// TapMarker selects a rendered post marker.
func (c *Controller) TapMarker(id string) (post.Post, bool) {
	c.mu.Lock()
	var (
		selected post.Post
		found    bool
	)
	for _, p := range c.posts {
		if p.ID == id {
			selected, found = p, true
			break
		}
	}
	c.mu.Unlock()

	if !found {
		return post.Post{}, false
	}
	if c.events.PostSelected != nil {
		c.events.PostSelected(selected)
	}
	return selected, true
}

// SetPosts replaces the rendered post markers.
func (c *Controller) SetPosts(visible []post.Post) {
	c.mu.Lock()
	c.posts = append([]post.Post(nil), visible...)
	markers := c.markersLocked()
	c.mu.Unlock()
	c.emitMarkers(markers)
}

func (c *Controller) ApplyFixedZoom() {
	c.mu.Lock()
	c.setZoom(c.settings.FixedZoom)
	vp := c.viewport
	c.mu.Unlock()
	c.emitViewport(vp)
}

// ResetHome recenters on the last known device location at the fixed zoom.
func (c *Controller) ResetHome() {
	c.mu.Lock()
	if c.device != nil {
		c.setCenter(*c.device)
	}
	c.setZoom(c.settings.FixedZoom)
	vp := c.viewport
	c.mu.Unlock()
	c.emitViewport(vp)
}

// FocusChanged schedules a ResetHome after the debounce interval. Another
// focus change before it fires restarts the wait.
func (c *Controller) FocusChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Tracking {
		return
	}
	if c.recenter != nil {
		c.recenter.Stop()
	}
	c.recenter = c.afterFunc(c.settings.RecenterDebounce, c.ResetHome)
}

// Close stops the location watch and any pending recenter.
func (c *Controller) Close() {
	c.mu.Lock()
	stop, timer := c.stopWatch, c.recenter
	c.stopWatch, c.recenter = nil, nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if stop != nil {
		stop()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Viewport() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// Device returns the last accepted device location, or nil before the first fix.
func (c *Controller) Device() *geo.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	p := *c.device
	return &p
}

func (c *Controller) Markers() []Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markersLocked()
}

func (c *Controller) setZoom(z float64) {
	c.viewport.Zoom = z
}

func (c *Controller) setCenter(p geo.Point) {
	c.viewport.Center = p
}

func (c *Controller) setBearing(b float64) {
	c.viewport.Bearing = normalizeBearing(b)
}

func (c *Controller) markersLocked() []Marker {
	markers := make([]Marker, 0, len(c.posts)+1)
	if c.device != nil {
		markers = append(markers, Marker{ID: deviceMarkerID, Kind: MarkerDevice, Position: *c.device})
	}
	for _, p := range c.posts {
		kind := MarkerPost
		if p.IsEventBooth {
			kind = MarkerBooth
		}
		markers = append(markers, Marker{ID: p.ID, Kind: kind, Position: p.Location})
	}
	return markers
}

func (c *Controller) emitViewport(vp Viewport) {
	if c.events.ViewportChanged != nil {
		c.events.ViewportChanged(vp)
	}
}

func (c *Controller) emitMarkers(m []Marker) {
	if c.events.MarkersChanged != nil {
		c.events.MarkersChanged(m)
	}
}

// normalizeBearing maps b into [-180, 180).
func normalizeBearing(b float64) float64 {
	b = math.Mod(b+180, 360)
	if b < 0 {
		b += 360
	}
	return b - 180
}
