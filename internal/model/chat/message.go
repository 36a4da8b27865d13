package chat

import "time"

// Sender values stored on messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message persists individual turns so follow-up instructions keep context.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
