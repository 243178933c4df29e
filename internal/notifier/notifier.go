// Package notifier
package notifier

// Notifier interface for sending notifications (e.g., Telegram, email).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
}

// Nop discards all notifications. Used when no notifier is configured.
type Nop struct{}

func (Nop) Send(msg string) error          { return nil }
func (Nop) SendWithRetry(msg string) error { return nil }
