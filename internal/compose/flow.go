package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/metrics"
	"backend-zachatter/internal/post"
	"backend-zachatter/internal/shared/geo"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrNotOpen      = errors.New("composition is not open")
	ErrInFlight     = errors.New("submission already in progress")
)

type State int

const (
	Closed State = iota
	Open
	Submitting
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Submitting:
		return "submitting"
	default:
		return "closed"
	}
}

type Outcome string

const (
	Submitted    Outcome = "submitted"
	Rejected     Outcome = "rejected"
	UploadFailed Outcome = "upload_failed"
	WriteFailed  Outcome = "write_failed"
)

type Result struct {
	Outcome Outcome
	PostID  string
	Err     error
}

// PostCreator is the write half of the post store.
type PostCreator interface {
	CreatePost(ctx context.Context, d post.Draft) (string, error)
}

// Uploader stores photo bytes and returns a URL the post can reference.
type Uploader interface {
	UploadBlob(ctx context.Context, data []byte, suggestedName string) (string, error)
}

// Viewport is the slice of the map controller the flow resets around composition.
type Viewport interface {
	ApplyFixedZoom()
	ResetHome()
}

type Policy struct {
	RequirePhoto bool
}

type Photo struct {
	Name string
	Data []byte
}

// Draft is the user-editable part of a composition.
type Draft struct {
	Message      string
	Photo        *Photo
	IsEventBooth bool
}

// View is a snapshot for rendering the composition modal.
type View struct {
	State        string     `json:"state"`
	Message      string     `json:"message"`
	HasPhoto     bool       `json:"has_photo"`
	PhotoName    string     `json:"photo_name,omitempty"`
	IsEventBooth bool       `json:"is_event_booth"`
	Target       *geo.Point `json:"target,omitempty"`
	Ready        bool       `json:"ready"`
	Error        string     `json:"error,omitempty"`
}

type Options struct {
	Policy   Policy
	Posts    PostCreator
	Blobs    Uploader
	Viewport Viewport
	Log      logging.Logger
	Metrics  *metrics.Metrics
	// OnChange receives a snapshot after every state change, outside the lock.
	OnChange func(View)
}

// Flow is the lifecycle of the new-post modal.
type Flow struct {
	policy   Policy
	posts    PostCreator
	blobs    Uploader
	viewport Viewport
	log      logging.Logger
	metrics  *metrics.Metrics
	onChange func(View)

	mu       sync.Mutex
	state    State
	draft    Draft
	selected *geo.Point
	fallback *geo.Point
	lastErr  error
}

func NewFlow(opts Options) *Flow {
	return &Flow{
		policy:   opts.Policy,
		posts:    opts.Posts,
		blobs:    opts.Blobs,
		viewport: opts.Viewport,
		log:      logging.OrDiscard(opts.Log),
		metrics:  opts.Metrics,
		onChange: opts.OnChange,
	}
}

// Open starts a fresh draft. The selected map location survives so a tap made
// before opening still targets the post.
func (f *Flow) Open() error {
	f.mu.Lock()
	if f.state == Submitting {
		f.mu.Unlock()
		return ErrInFlight
	}
	f.state = Open
	f.draft = Draft{}
	f.lastErr = nil
	f.mu.Unlock()

	if f.viewport != nil {
		f.viewport.ApplyFixedZoom()
	}
	f.changed()
	return nil
}

// Cancel discards the draft. A running submission cannot be cancelled.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	switch f.state {
	case Submitting:
		f.mu.Unlock()
		return ErrInFlight
	case Closed:
		f.mu.Unlock()
		return nil
	}
	f.closeLocked()
	f.mu.Unlock()

	if f.viewport != nil {
		f.viewport.ResetHome()
	}
	f.changed()
	return nil
}

func (f *Flow) SetMessage(msg string) error {
	return f.edit(func(d *Draft) { d.Message = msg })
}

func (f *Flow) SetEventBooth(booth bool) error {
	return f.edit(func(d *Draft) { d.IsEventBooth = booth })
}

func (f *Flow) AttachPhoto(name string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: photo is empty", ErrMissingField)
	}
	return f.edit(func(d *Draft) { d.Photo = &Photo{Name: name, Data: data} })
}

func (f *Flow) RemovePhoto() error {
	return f.edit(func(d *Draft) { d.Photo = nil })
}

// SelectLocation records a map tap as the post target.
func (f *Flow) SelectLocation(p geo.Point) {
	f.mu.Lock()
	if f.state == Submitting {
		f.mu.Unlock()
		return
	}
	sel := p
	f.selected = &sel
	f.mu.Unlock()
	f.changed()
}

// SetFallbackLocation records the viewer location used when nothing was tapped.
func (f *Flow) SetFallbackLocation(p geo.Point) {
	f.mu.Lock()
	fb := p
	f.fallback = &fb
	open := f.state != Closed
	f.mu.Unlock()
	if open {
		f.changed()
	}
}

// Submit uploads the photo, if any, then creates the post. The call runs to
// completion; ctx should not be tied to the client connection.
func (f *Flow) Submit(ctx context.Context) Result {
	f.mu.Lock()
	if f.state != Open {
		state := f.state
		f.mu.Unlock()
		err := ErrNotOpen
		if state == Submitting {
			err = ErrInFlight
		}
		return Result{Outcome: Rejected, Err: err}
	}
	target, err := f.checkLocked()
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()
		f.log.WithError(err).Warn("composition rejected")
		f.metrics.IncSubmission(string(Rejected))
		f.changed()
		return Result{Outcome: Rejected, Err: err}
	}
	f.state = Submitting
	f.lastErr = nil
	draft := f.draft
	f.mu.Unlock()
	f.changed()

	res := f.run(ctx, draft, target)
	f.metrics.IncSubmission(string(res.Outcome))

	f.mu.Lock()
	if res.Outcome == Submitted {
		f.closeLocked()
	} else {
		f.state = Open
		f.lastErr = res.Err
	}
	f.mu.Unlock()

	if res.Outcome == Submitted {
		f.metrics.IncPostCreated(draft.IsEventBooth)
		if f.viewport != nil {
			f.viewport.ResetHome()
		}
	}
	f.changed()
	return res
}

func (f *Flow) run(ctx context.Context, d Draft, target geo.Point) Result {
	var photoURL string
	if d.Photo != nil {
		url, err := f.blobs.UploadBlob(ctx, d.Photo.Data, d.Photo.Name)
		if err != nil {
			f.log.WithError(err).WithField("photo", d.Photo.Name).Error("photo upload failed")
			return Result{Outcome: UploadFailed, Err: err}
		}
		photoURL = url
	}

	id, err := f.posts.CreatePost(ctx, post.Draft{
		Message:      strings.TrimSpace(d.Message),
		PhotoURL:     photoURL,
		Location:     target,
		IsEventBooth: d.IsEventBooth,
	})
	if err != nil {
		f.log.WithError(err).Error("create post failed")
		return Result{Outcome: WriteFailed, Err: err}
	}

	f.log.WithFields(logging.Fields{"post_id": id, "has_photo": photoURL != ""}).Info("post created")
	return Result{Outcome: Submitted, PostID: id}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *Flow) edit(apply func(*Draft)) error {
	f.mu.Lock()
	if f.state != Open {
		f.mu.Unlock()
		return ErrNotOpen
	}
	apply(&f.draft)
	f.mu.Unlock()
	f.changed()
	return nil
}

func (f *Flow) targetLocked() *geo.Point {
	if f.selected != nil {
		return f.selected
	}
	return f.fallback
}

func (f *Flow) checkLocked() (geo.Point, error) {
	if strings.TrimSpace(f.draft.Message) == "" {
		return geo.Point{}, fmt.Errorf("%w: message", ErrMissingField)
	}
	target := f.targetLocked()
	if target == nil {
		return geo.Point{}, fmt.Errorf("%w: location", ErrMissingField)
	}
	if f.policy.RequirePhoto && f.draft.Photo == nil {
		return geo.Point{}, fmt.Errorf("%w: photo", ErrMissingField)
	}
	return *target, nil
}

func (f *Flow) closeLocked() {
	f.state = Closed
	f.draft = Draft{}
	f.selected = nil
	f.lastErr = nil
}

func (f *Flow) viewLocked() View {
	v := View{
		State:        f.state.String(),
		Message:      f.draft.Message,
		HasPhoto:     f.draft.Photo != nil,
		IsEventBooth: f.draft.IsEventBooth,
	}
	if f.draft.Photo != nil {
		v.PhotoName = f.draft.Photo.Name
	}
	if t := f.targetLocked(); t != nil {
		p := *t
		v.Target = &p
	}
	if f.state == Open {
		_, err := f.checkLocked()
		v.Ready = err == nil
	}
	if f.lastErr != nil {
		v.Error = f.lastErr.Error()
	}
	return v
}

func (f *Flow) changed() {
	if f.onChange == nil {
		return
	}
	f.onChange(f.View())
}
