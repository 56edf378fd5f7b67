package domain

// Escalation describes a failure summary pushed to the notification channel.
type Escalation struct {
	ConversationID  int
	CustomerMessage string
	CustomerEmail   string
	Reason          string
	Detail          string
	CorrelationID   string
}
