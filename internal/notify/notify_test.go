package notify

import (
	"testing"

	"github.com/NiroGuard/SyncGuard/internal/models"
)

func TestNewLogOnly(t *testing.T) {
	n, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) failed: %v", err)
	}
	err = n.Send(models.NotificationPayload{
		Title: "Update Available",
		Body:  "A new version is ready to install",
		Tag:   "app-update",
	})
	if err != nil {
		t.Errorf("log-only Send failed: %v", err)
	}
}

func TestSendValidatesPayload(t *testing.T) {
	n, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) failed: %v", err)
	}
	if err := n.Send(models.NotificationPayload{}); err == nil {
		t.Error("expected validation error for empty notification")
	}
}

func TestNewRejectsBadServiceURL(t *testing.T) {
	if _, err := New([]string{"not-a-service-url"}); err == nil {
		t.Error("expected error for malformed service URL")
	}
}
