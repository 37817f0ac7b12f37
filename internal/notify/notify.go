package notify

// Payload is a user-facing notification.
type Payload struct {
	Title   string
	Content string
}

// Sender delivers notifications through a platform backend.
type Sender interface {
	Send(payload Payload)
}
