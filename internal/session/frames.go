package session

import "backend-zachatter/internal/shared/geo"

// Inbound frame types sent by the map client.
const (
	FrameLocation      = "location"
	FrameLocationError = "location_error"
	FrameTap           = "tap"
	FrameMarkerTap     = "marker_tap"
	FrameTouchStart    = "touch_start"
	FrameTouchMove     = "touch_move"
	FrameTouchEnd      = "touch_end"
	FrameDrag          = "drag"
	FrameZoom          = "zoom"
	FrameFocus         = "focus"
	FrameComposeOpen   = "compose_open"
	FrameComposeMsg    = "compose_message"
	FrameComposeBooth  = "compose_booth"
	FrameComposePhoto  = "compose_photo"
	FramePhotoRemove   = "compose_photo_remove"
	FrameSubmit        = "compose_submit"
	FrameCancel        = "compose_cancel"
	FrameDetailClose   = "detail_close"
)

// Outbound frame types sent to the map client.
const (
	OutViewport      = "viewport"
	OutMarkers       = "markers"
	OutComposition   = "composition"
	OutSubmission    = "submission"
	OutDetail        = "detail"
	OutLocationError = "location_error"
	OutError         = "error"
)

// Inbound is one client frame. Only the fields of its Type are set.
type Inbound struct {
	Type         string  `json:"type"`
	Lat          float64 `json:"lat,omitempty"`
	Lng          float64 `json:"lng,omitempty"`
	Message      string  `json:"message,omitempty"`
	PostID       string  `json:"post_id,omitempty"`
	X            float64 `json:"x,omitempty"`
	Touches      int     `json:"touches,omitempty"`
	Zoom         float64 `json:"zoom,omitempty"`
	IsEventBooth bool    `json:"is_event_booth,omitempty"`
	Name         string  `json:"name,omitempty"`
	// Data is the base64 encoded photo of a compose_photo frame.
	Data string `json:"data,omitempty"`
}

func (in Inbound) Point() geo.Point {
	return geo.Point{Lat: in.Lat, Lng: in.Lng}
}

type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type submissionPayload struct {
	Outcome string `json:"outcome"`
	PostID  string `json:"post_id,omitempty"`
	Error   string `json:"error,omitempty"`
}
