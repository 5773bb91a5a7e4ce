package stats

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func auditRecord(id string, createdAt time.Time) AuditRunRecord {
	return AuditRunRecord{
		ID:          id,
		CreatedAt:   createdAt,
		PeriodStart: createdAt.AddDate(0, 0, -30),
		PeriodEnd:   createdAt,
		ResultJSON:  []byte(`{"id":"` + id + `"}`),
	}
}

func TestAuditRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := auditRecord(fmt.Sprintf("run-%d", i), base.AddDate(0, 0, i))
		if err := s.SaveAuditRun(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.AuditRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	if runs[0].ID != "run-2" || runs[2].ID != "run-0" {
		t.Errorf("order = %s, %s, %s; want newest first", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if string(runs[0].ResultJSON) != `{"id":"run-2"}` {
		t.Errorf("ResultJSON = %s", runs[0].ResultJSON)
	}
}

func TestAuditRuns_Limit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.SaveAuditRun(ctx, auditRecord(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.AuditRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestDeleteAuditRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveAuditRun(ctx, auditRecord("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAuditRun(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}

	runs, err := s.AuditRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %d after delete, want 0", len(runs))
	}
}
