// Package notify dispatches user-facing notifications to configured delivery
// services.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/NiroGuard/SyncGuard/internal/models"
)

// Notifier sends notification payloads through shoutrrr service URLs. With no
// URLs configured it degrades to log-only delivery.
type Notifier struct {
	sender *router.ServiceRouter
}

// New creates a notifier for the given shoutrrr service URLs (ntfy, gotify,
// telegram, etc.). An empty list yields a log-only notifier.
func New(urls []string) (*Notifier, error) {
	if len(urls) == 0 {
		slog.Info("Notifier created in log-only mode, no service URLs configured")
		return &Notifier{}, nil
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification sender: %w", err)
	}
	slog.Info("Notifier created", "services", len(urls))
	return &Notifier{sender: sender}, nil
}

// Send dispatches a notification. Delivery failures are reported but a
// log-only notifier never fails.
func (n *Notifier) Send(payload models.NotificationPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	if n.sender == nil {
		slog.Info("Notification (log-only)", "title", payload.Title, "body", payload.Body, "tag", payload.Tag)
		return nil
	}

	params := &types.Params{}
	if payload.Title != "" {
		params.SetTitle(payload.Title)
	}
	errs := n.sender.Send(payload.Body, params)
	for _, err := range errs {
		if err != nil {
			slog.Error("Notifier.Send delivery failed", "error", err, "title", payload.Title)
			return fmt.Errorf("notification delivery failed: %w", err)
		}
	}
	slog.Debug("Notifier.Send succeeded", "title", payload.Title, "tag", payload.Tag)
	return nil
}
