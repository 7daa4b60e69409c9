package audit

import (
	"context"
	"time"

	"github.com/brightnest/haven/internal/logging"
)

// Alert is the payload pushed to a parent when an escalation fires. It is
// delivered synchronously, before the child sees any response.
type Alert struct {
	ProfileID string    `json:"profile_id"`
	SessionID string    `json:"session_id,omitempty"`
	Category  string    `json:"category"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// Alerter delivers parent alerts. Implementations must be safe for
// concurrent use; a returned error does not suppress the escalation
// verdict, it only reports the delivery failure.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter surfaces alerts through the structured log. Used as the
// always-on fallback channel.
type LogAlerter struct {
	log logging.Logger
}

func NewLogAlerter(log logging.Logger) *LogAlerter {
	return &LogAlerter{log: log.With("component", "alerts")}
}

func (a *LogAlerter) Alert(ctx context.Context, al Alert) error {
	a.log.Warn(ctx, "parent alert",
		"profile_id", al.ProfileID,
		"category", al.Category,
		"message", al.Message)
	return nil
}

// MultiAlerter fans an alert out to several channels. Delivery is
// attempted on every channel; the first error is returned.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, a Alert) error {
	var first error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
