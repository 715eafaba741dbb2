// Package notify implements the outbound parent-notification boundary.
// The real email/SMS channel lives outside this repository; what ships here
// is the retrying dispatcher plus a log-backed channel for development.
package notify

import (
	"context"
	"fmt"
	"time"

	"guardian/internal/logging"
	"guardian/internal/safety"

	"github.com/sethvargo/go-retry"
)

// Channel is the raw delivery transport. Send returns an error when the
// channel could not deliver; the dispatcher turns that into a status.
type Channel interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogChannel writes notifications to the notify log instead of delivering
// them. Used in development and as a last-resort channel.
type LogChannel struct{}

// Send logs the notification.
func (LogChannel) Send(_ context.Context, recipient, subject, body string) error {
	logging.Notify("notification to %s: %s | %s", recipient, subject, body)
	return nil
}

// Dispatcher implements safety.Notifier over a Channel with bounded
// exponential-backoff retries. Transient channel failures should not cost a
// parent an alert.
type Dispatcher struct {
	channel     Channel
	maxAttempts uint64
	baseBackoff time.Duration
}

// NewDispatcher wraps a channel. Defaults: 3 attempts, 250ms base backoff.
func NewDispatcher(channel Channel) *Dispatcher {
	if channel == nil {
		channel = LogChannel{}
	}
	return &Dispatcher{
		channel:     channel,
		maxAttempts: 3,
		baseBackoff: 250 * time.Millisecond,
	}
}

// Deliver sends a parent alert and reports whether delivery succeeded.
// The boolean is authoritative for status recording; the error carries the
// final failure cause for logging.
func (d *Dispatcher) Deliver(ctx context.Context, recipient, childName string, severity safety.Severity, trigger, responseText string) (bool, error) {
	if recipient == "" {
		return false, fmt.Errorf("no recipient on record")
	}

	subject := fmt.Sprintf("Safety alert for %s (severity %d)", childName, severity)
	body := fmt.Sprintf(
		"A message involving %s was flagged at severity %d.\n\nFlagged content: %s\n\nResponse shown to your child: %s",
		childName, severity, trigger, responseText)

	backoff := retry.WithMaxRetries(d.maxAttempts, retry.NewExponential(d.baseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.channel.Send(ctx, recipient, subject, body); err != nil {
			logging.NotifyWarn("delivery attempt failed for %s: %v", recipient, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delivery failed after retries: %w", err)
	}

	logging.Notify("delivered alert to %s (child=%s severity=%d)", recipient, childName, severity)
	return true, nil
}
