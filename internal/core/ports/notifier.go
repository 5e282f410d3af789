package ports

import "context"

// Notification templates understood by the notification service.
const (
	TemplateEmailVerification = "emailVerification"
	TemplatePasswordReset     = "passwordReset"
)

// Notifier delivers transactional email out of band. Send is synchronous so
// callers that must roll back on delivery failure (password reset) can
// observe the error; best-effort callers enqueue through a dispatcher
// instead.
type Notifier interface {
	Send(ctx context.Context, email, template string, data map[string]any) error
}
