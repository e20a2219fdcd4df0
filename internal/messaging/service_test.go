package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain digits", "15551234567", "15551234567", false},
		{"plus and dashes", "+1-555-123-4567", "15551234567", false},
		{"spaces and parens", "(555) 123 4567", "5551234567", false},
		{"empty", "", "", true},
		{"no digits", "not-a-number", "", true},
		{"too short", "12345", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := canonicalizePhone(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("canonicalizePhone(%q) failed: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("canonicalizePhone(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestMockServiceRecordsSends(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if svc.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", svc.SentCount())
	}
	if svc.Sent[0].To != "15551234567" || svc.Sent[0].Body != "hello" {
		t.Errorf("recorded message = %+v", svc.Sent[0])
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("receipt status = %s, want sent", receipt.Status)
		}
	default:
		t.Error("expected a sent receipt on the channel")
	}
}

func TestMockServiceFailureInjection(t *testing.T) {
	svc := NewMockService()
	sendErr := errors.New("boom")
	svc.FailWith(sendErr)

	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); !errors.Is(err, sendErr) {
		t.Errorf("expected injected error, got %v", err)
	}
	if svc.SentCount() != 0 {
		t.Errorf("failed sends should not be recorded, got %d", svc.SentCount())
	}

	svc.FailWith(nil)
	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); err != nil {
		t.Errorf("expected success after clearing the failure, got %v", err)
	}
}

func TestMockServiceInjectResponse(t *testing.T) {
	svc := NewMockService()
	svc.InjectResponse(models.Response{From: "15551234567", Body: "done", Time: 1700000000})

	select {
	case resp := <-svc.Responses():
		if resp.From != "15551234567" || resp.Body != "done" {
			t.Errorf("response = %+v", resp)
		}
	default:
		t.Error("expected the injected response on the channel")
	}
}
