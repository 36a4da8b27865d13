package chat

import "time"

// Session is the server-side conversation keyed by the browser's X-Session-ID.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
