// Package session runs one map viewer: it feeds the post stream and device
// fixes through the visibility filter into the map controller, and routes
// client gestures to the controller, the composition flow and the detail view.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-zachatter/internal/compose"
	"backend-zachatter/internal/detail"
	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/mapview"
	"backend-zachatter/internal/metrics"
	"backend-zachatter/internal/post"
	"backend-zachatter/internal/shared/geo"
	"backend-zachatter/internal/visibility"
)

var ErrUnknownFrame = errors.New("unknown frame type")

type Deps struct {
	Posts   post.Store
	Blobs   compose.Uploader
	Window  visibility.Window
	Map     mapview.Settings
	Policy  compose.Policy
	Log     logging.Logger
	Metrics *metrics.Metrics

	// Refresh re-runs the visibility filter on a timer so posts age out
	// without a store change. Zero disables it.
	Refresh time.Duration
	Now     func() time.Time
}

// Sink receives outbound frames. It must be safe for concurrent use.
type Sink func(Outbound)

type Session struct {
	id   string
	deps Deps
	sink Sink
	log  logging.Logger
	now  func() time.Time

	location   *RemoteLocation
	controller *mapview.Controller
	flow       *compose.Flow

	mu          sync.Mutex
	posts       []post.Post
	viewer      *geo.Point
	selected    *post.Post
	unsubscribe func()
	cancel      context.CancelFunc
	closed      bool

	// recomputeMu makes each read of posts and viewer and the SetPosts that
	// follows it one step, so the last input change is the one rendered.
	recomputeMu sync.Mutex

	submissions sync.WaitGroup
}

func New(id string, deps Deps, sink Sink) *Session {
	s := &Session{
		id:       id,
		deps:     deps,
		sink:     sink,
		log:      logging.OrDiscard(deps.Log),
		now:      deps.Now,
		location: NewRemoteLocation(),
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.controller = mapview.NewController(mapview.Options{
		Settings: deps.Map,
		Log:      s.log,
		Metrics:  deps.Metrics,
		Now:      s.now,
		Events: mapview.Events{
			ViewportChanged:       func(vp mapview.Viewport) { s.emit(OutViewport, vp) },
			MarkersChanged:        func(m []mapview.Marker) { s.emit(OutMarkers, m) },
			ViewerLocationUpdated: s.viewerMoved,
			LocationSelected:      func(p geo.Point) { s.flow.SelectLocation(p) },
			PostSelected:          s.postSelected,
			LocationFailed: func(err error) {
				s.emit(OutLocationError, errorPayload{Message: err.Error()})
			},
		},
	})
	s.flow = compose.NewFlow(compose.Options{
		Policy:   deps.Policy,
		Posts:    deps.Posts,
		Blobs:    deps.Blobs,
		Viewport: s.controller,
		Log:      s.log,
		Metrics:  deps.Metrics,
		OnChange: func(v compose.View) { s.emit(OutComposition, v) },
	})
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Start subscribes to the post store and waits, in the background, for the
// client's first location fix.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	unsubscribe, err := s.deps.Posts.SubscribePosts(ctx, s.postsChanged)
	if err != nil {
		cancel()
		s.log.WithError(err).WithField("session_id", s.id).Error("subscribe posts")
		return err
	}

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.cancel = cancel
	s.mu.Unlock()

	s.deps.Metrics.SessionOpened()

	go func() {
		_ = s.controller.Start(ctx, s.location)
	}()

	if s.deps.Refresh > 0 {
		go s.refreshLoop(ctx, s.deps.Refresh)
	}
	return nil
}

// Handle applies one client frame.
func (s *Session) Handle(ctx context.Context, in Inbound) error {
	switch in.Type {
	case FrameLocation:
		s.location.Push(in.Point())
	case FrameLocationError:
		msg := in.Message
		if msg == "" {
			msg = "device location unavailable"
		}
		s.location.Fail(errors.New(msg))
	case FrameTap:
		s.controller.Tap(in.Point())
	case FrameMarkerTap:
		if _, ok := s.controller.TapMarker(in.PostID); !ok {
			return fmt.Errorf("marker %q is not on the map", in.PostID)
		}
	case FrameTouchStart:
		s.controller.TouchStart(in.X, in.Touches)
	case FrameTouchMove:
		s.controller.TouchMove(in.X, in.Touches)
	case FrameTouchEnd:
		s.controller.TouchEnd()
	case FrameDrag:
		s.controller.Drag()
	case FrameZoom:
		s.controller.Zoom(in.Zoom)
	case FrameFocus:
		s.controller.FocusChanged()
	case FrameComposeOpen:
		return s.flow.Open()
	case FrameComposeMsg:
		return s.flow.SetMessage(in.Message)
	case FrameComposeBooth:
		return s.flow.SetEventBooth(in.IsEventBooth)
	case FrameComposePhoto:
		data, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			return fmt.Errorf("decode photo: %w", err)
		}
		return s.flow.AttachPhoto(in.Name, data)
	case FramePhotoRemove:
		return s.flow.RemovePhoto()
	case FrameSubmit:
		s.submit(ctx)
	case FrameCancel:
		return s.flow.Cancel()
	case FrameDetailClose:
		s.mu.Lock()
		s.selected = nil
		s.mu.Unlock()
		s.emit(OutDetail, nil)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrame, in.Type)
	}
	return nil
}

// submit runs the submission in the background so the connection keeps
// reading. It is not tied to ctx: once started it runs to completion.
func (s *Session) submit(ctx context.Context) {
	s.submissions.Add(1)
	go func() {
		defer s.submissions.Done()
		res := s.flow.Submit(context.WithoutCancel(ctx))
		payload := submissionPayload{Outcome: string(res.Outcome), PostID: res.PostID}
		if res.Err != nil {
			payload.Error = res.Err.Error()
		}
		s.emit(OutSubmission, payload)
	}()
}

// Close waits for a running submission, then stops the post stream and the
// location watch.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.submissions.Wait()
	s.controller.Close()

	s.mu.Lock()
	unsubscribe, cancel := s.unsubscribe, s.cancel
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
		s.deps.Metrics.SessionClosed()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Session) Controller() *mapview.Controller {
	return s.controller
}

func (s *Session) Flow() *compose.Flow {
	return s.flow
}

func (s *Session) postsChanged(posts []post.Post) {
	s.mu.Lock()
	s.posts = posts
	s.mu.Unlock()
	s.recompute()
}

func (s *Session) viewerMoved(p geo.Point) {
	s.mu.Lock()
	viewer := p
	s.viewer = &viewer
	s.mu.Unlock()

	s.flow.SetFallbackLocation(p)
	s.recompute()
}

func (s *Session) postSelected(p post.Post) {
	s.mu.Lock()
	selected := p
	s.selected = &selected
	s.mu.Unlock()
	s.emit(OutDetail, detail.Render(p, s.now()))
}

func (s *Session) recompute() {
	s.recomputeMu.Lock()
	defer s.recomputeMu.Unlock()

	s.mu.Lock()
	posts, viewer := s.posts, s.viewer
	s.mu.Unlock()

	visible := visibility.VisiblePosts(posts, viewer, s.now(), s.deps.Window)
	s.deps.Metrics.IncVisibleComputed()
	s.controller.SetPosts(visible)
}

func (s *Session) refreshLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recompute()
		}
	}
}

func (s *Session) emit(kind string, payload any) {
	if s.sink == nil {
		return
	}
	s.sink(Outbound{Type: kind, Payload: payload})
}
