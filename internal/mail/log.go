package mail

import (
	"context"

	"linqyard.app/internal/obs"
)

// LogPublisher writes events to the log instead of a queue. Used when no
// broker is configured, typically local development. The OTP code itself
// never reaches the log; only whether the event carried one.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher { return &LogPublisher{} }

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	obs.Event("info", "mail event", map[string]any{
		"kind":     ev.Kind,
		"email":    ev.Email,
		"has_code": ev.Code != "",
	})
	return nil
}

func (p *LogPublisher) Close() error { return nil }
