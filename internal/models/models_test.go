package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestIsValidCategory(t *testing.T) {
	for _, c := range Categories() {
		if !IsValidCategory(c) {
			t.Errorf("expected %q to be valid", c)
		}
	}
	if IsValidCategory("push-subscription") {
		t.Error("unknown category should be invalid")
	}
	if IsValidCategory("") {
		t.Error("empty category should be invalid")
	}
}

func TestSubmitRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{
			name: "valid health report",
			req:  SubmitRequest{Category: CategoryHealthReport, Payload: json.RawMessage(`{"symptoms":["fever"]}`)},
		},
		{
			name:    "invalid category",
			req:     SubmitRequest{Category: "bogus", Payload: json.RawMessage(`{}`)},
			wantErr: ErrInvalidCategory,
		},
		{
			name:    "empty payload",
			req:     SubmitRequest{Category: CategoryWaterQuality},
			wantErr: ErrEmptyPayload,
		},
		{
			name:    "malformed payload",
			req:     SubmitRequest{Category: CategoryCaseUpdate, Payload: json.RawMessage(`{"caseId":`)},
			wantErr: ErrInvalidPayload,
		},
		{
			name: "oversized payload",
			req: SubmitRequest{
				Category: CategoryHealthReport,
				Payload:  json.RawMessage(`"` + strings.Repeat("x", MaxPayloadBytes) + `"`),
			},
			wantErr: ErrPayloadTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueuedRecordValidate(t *testing.T) {
	r := QueuedRecord{Category: CategoryCaseUpdate, Payload: json.RawMessage(`{"caseId":"c1"}`)}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Category = "nope"
	if !errors.Is(r.Validate(), ErrInvalidCategory) {
		t.Error("expected ErrInvalidCategory")
	}
}

func TestNotificationPayloadValidate(t *testing.T) {
	p := NotificationPayload{}
	if p.Validate() == nil {
		t.Error("empty notification should be invalid")
	}
	p.Body = "New health alert in your area"
	if err := p.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if got := Success(nil); got.Status != string(APIStatusOK) {
		t.Errorf("Success status = %q", got.Status)
	}
	if got := Error("boom"); got.Status != string(APIStatusError) || got.Message != "boom" {
		t.Errorf("Error response = %+v", got)
	}
	q := Queued(map[string]string{"id": "r_1"})
	if q.Status != string(APIStatusQueued) {
		t.Errorf("Queued status = %q", q.Status)
	}
	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"queued"`) {
		t.Errorf("unexpected encoding: %s", data)
	}
}
