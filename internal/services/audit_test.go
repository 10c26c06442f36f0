package services

import (
	"testing"
	"time"

	"github.com/kvasir-auth/kvasir/backend/internal/models"
)

func TestAudit_LogAndCountRecent(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuditService(db)
	actorID := uint(1)

	for i := 0; i < 3; i++ {
		svc.Log(AuditEntry{
			Action:  models.AuditMFAChallengeFailed,
			ActorID: &actorID,
			IP:      "10.0.0.1",
		})
	}
	// Different actor is counted separately.
	otherID := uint(2)
	svc.Log(AuditEntry{Action: models.AuditMFAChallengeFailed, ActorID: &otherID})
	// Different action is out of scope.
	svc.Log(AuditEntry{Action: models.AuditLoginFailed, ActorID: &actorID})

	count, err := svc.CountRecent(models.AuditMFAChallengeFailed, actorID, 15*time.Minute)
	if err != nil {
		t.Fatalf("CountRecent: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	// Rows outside the window are excluded.
	db.Model(&models.AuditLog{}).
		Where("actor_id = ?", actorID).
		Update("created_at", time.Now().Add(-time.Hour))
	count, _ = svc.CountRecent(models.AuditMFAChallengeFailed, actorID, 15*time.Minute)
	if count != 0 {
		t.Errorf("count after aging = %d, want 0", count)
	}
}

func TestAudit_List(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuditService(db)
	actorID := uint(7)

	for i := 0; i < 25; i++ {
		svc.Log(AuditEntry{Action: models.AuditLoginSuccess, ActorID: &actorID})
	}
	svc.Log(AuditEntry{Action: models.AuditTokenReuseDetected, ActorID: &actorID})

	resp, err := svc.List(&AuditListRequest{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.Total != 26 {
		t.Errorf("Total = %d, want 26", resp.Total)
	}
	if len(resp.Items) != 10 {
		t.Errorf("page size = %d, want 10", len(resp.Items))
	}

	// Action prefix filter.
	resp, err = svc.List(&AuditListRequest{Action: "token."})
	if err != nil {
		t.Fatalf("List with filter: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("filtered Total = %d, want 1", resp.Total)
	}
}

func TestAudit_CleanupOld(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuditService(db)
	actorID := uint(1)

	svc.Log(AuditEntry{Action: models.AuditLoginSuccess, ActorID: &actorID})
	svc.Log(AuditEntry{Action: models.AuditLoginSuccess, ActorID: &actorID})

	// Age one row past retention.
	var oldest models.AuditLog
	db.Order("id ASC").First(&oldest)
	db.Model(&oldest).Update("created_at", time.Now().AddDate(0, 0, -100))

	deleted, err := svc.CleanupOld(90)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	var remaining int64
	db.Model(&models.AuditLog{}).Count(&remaining)
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
}
