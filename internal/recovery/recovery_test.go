package recovery

import (
	"context"
	"testing"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
)

type countingHandler struct {
	undelivered []string
	unobserved  []string
}

func (h *countingHandler) RecoverUndelivered(ctx context.Context, rec *models.InterventionRecord) {
	h.undelivered = append(h.undelivered, rec.ID)
}

func (h *countingHandler) RecoverUnobserved(ctx context.Context, rec *models.InterventionRecord) {
	h.unobserved = append(h.unobserved, rec.ID)
}

func seedRecord(t *testing.T, st *store.InMemoryStore, id string, status models.InterventionStatus) {
	t.Helper()
	err := st.SaveIntervention(models.InterventionRecord{
		ID:     id,
		UserID: "user1",
		Status: status,
	})
	if err != nil {
		t.Fatalf("SaveIntervention %s: %v", id, err)
	}
}

func TestRunHandsBackUnsettledRecords(t *testing.T) {
	st := store.NewInMemoryStore()
	seedRecord(t, st, "i1", models.StatusSynthesized)
	seedRecord(t, st, "i2", models.StatusValidated)
	seedRecord(t, st, "i3", models.StatusRescheduled)
	seedRecord(t, st, "i4", models.StatusDelivered)
	seedRecord(t, st, "i5", models.StatusDropped)
	seedRecord(t, st, "i6", models.StatusArchived)

	var h countingHandler
	if err := New(st).Run(context.Background(), &h); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.undelivered) != 3 {
		t.Errorf("undelivered = %v, want i1 i2 i3", h.undelivered)
	}
	for _, id := range h.undelivered {
		if id != "i1" && id != "i2" && id != "i3" {
			t.Errorf("unexpected undelivered record %s", id)
		}
	}
	if len(h.unobserved) != 1 || h.unobserved[0] != "i4" {
		t.Errorf("unobserved = %v, want [i4]", h.unobserved)
	}
}

func TestRunEmptyStore(t *testing.T) {
	var h countingHandler
	if err := New(store.NewInMemoryStore()).Run(context.Background(), &h); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.undelivered) != 0 || len(h.unobserved) != 0 {
		t.Errorf("expected no recovered records, got %v / %v", h.undelivered, h.unobserved)
	}
}
