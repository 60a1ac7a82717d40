package detail

import (
	"fmt"
	"time"

	"backend-zachatter/internal/post"
)

// View is what the detail modal shows for one post.
type View struct {
	PostID       string `json:"post_id"`
	Message      string `json:"message"`
	PhotoURL     string `json:"photo_url,omitempty"`
	HasPhoto     bool   `json:"has_photo"`
	IsEventBooth bool   `json:"is_event_booth"`
	AgeMinutes   int    `json:"age_minutes"`
	Heading      string `json:"heading"`
}

// AgeMinutes is whole minutes since createdAt. Clock skew that puts
// createdAt in the future yields 0.
func AgeMinutes(createdAt, now time.Time) int {
	age := now.Sub(createdAt)
	if age < 0 {
		return 0
	}
	return int(age / time.Minute)
}

func Render(p post.Post, now time.Time) View {
	age := AgeMinutes(p.CreatedAt, now)
	return View{
		PostID:       p.ID,
		Message:      p.Message,
		PhotoURL:     p.PhotoURL,
		HasPhoto:     p.HasPhoto(),
		IsEventBooth: p.IsEventBooth,
		AgeMinutes:   age,
		Heading:      fmt.Sprintf("Posted %d Minutes Ago", age),
	}
}
