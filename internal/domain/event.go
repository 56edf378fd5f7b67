package domain

// WebhookEvent is the inbound message payload posted by the support platform.
// Only the fields the relay reads are modeled.
type WebhookEvent struct {
	MessageType  string          `json:"message_type"`
	Content      string          `json:"content"`
	Conversation ConversationRef `json:"conversation"`
	Sender       SenderRef       `json:"sender"`
}

// ConversationRef identifies the platform conversation the event belongs to.
type ConversationRef struct {
	ID int `json:"id"`
}

// SenderRef identifies the customer who sent the message.
type SenderRef struct {
	ID    int    `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
