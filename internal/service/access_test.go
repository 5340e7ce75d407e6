package service

import (
	"context"
	"net/http"
	"testing"

	apierrors "github.com/bigkaa/gocustody/custody-service/internal/api/errors"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
)

func (e *testEnv) accessService() *AccessService {
	return NewAccessService(e.reg, e.clock, testLogger())
}

// TestLogAccess проверяет фиксацию доступа без выдачи байтов.
func TestLogAccess(t *testing.T) {
	env := setupEnv(t)
	rec := env.ingestFile(t, "data", "e.txt", "officer-1")

	updated, opErr := env.accessService().LogAccess(context.Background(), rec.FileID, AccessParams{
		ActorID: "expert-1",
		Notes:   "осмотр в лаборатории",
	})
	if opErr != nil {
		t.Fatalf("ошибка фиксации доступа: %v", opErr)
	}

	if len(updated.Events) != 2 {
		t.Fatalf("ожидалось 2 события, получено %d", len(updated.Events))
	}
	last := updated.LastEvent()
	if last.Action != model.ActionAccess {
		t.Errorf("последнее событие должно быть access, получено %s", last.Action)
	}
	if last.Notes != "осмотр в лаборатории" {
		t.Errorf("комментарий не сохранён: %q", last.Notes)
	}
	if last.Location != rec.CurrentLocation {
		t.Errorf("access-событие должно наследовать текущую локацию: %s", last.Location)
	}
}

// TestLogAccess_AllowedInAnyStatus проверяет фиксацию доступа
// для архивных и изъятых записей.
func TestLogAccess_AllowedInAnyStatus(t *testing.T) {
	env := setupEnv(t)
	svc := env.accessService()

	for _, status := range []model.RecordStatus{model.StatusArchived, model.StatusDeleted} {
		rec := env.ingestFile(t, "data "+string(status), "e.txt", "officer-1")
		if _, err := env.reg.UpdateStatus(context.Background(), rec.FileID, status); err != nil {
			t.Fatalf("ошибка изменения статуса: %v", err)
		}

		updated, opErr := svc.LogAccess(context.Background(), rec.FileID, AccessParams{
			ActorID: "auditor-1",
		})
		if opErr != nil {
			t.Fatalf("доступ к записи в статусе %s должен фиксироваться: %v", status, opErr)
		}
		if updated.LastEvent().Action != model.ActionAccess {
			t.Errorf("ожидалось access-событие для статуса %s", status)
		}
	}
}

// TestLogAccess_MissingActor проверяет отказ без актора.
func TestLogAccess_MissingActor(t *testing.T) {
	env := setupEnv(t)
	rec := env.ingestFile(t, "data", "e.txt", "officer-1")

	_, opErr := env.accessService().LogAccess(context.Background(), rec.FileID, AccessParams{})
	if opErr == nil || opErr.Code != apierrors.CodeMissingField {
		t.Fatalf("ожидался MISSING_FIELD, получено: %v", opErr)
	}
}

// TestLogAccess_NotFound проверяет 404.
func TestLogAccess_NotFound(t *testing.T) {
	env := setupEnv(t)

	_, opErr := env.accessService().LogAccess(context.Background(), "missing", AccessParams{
		ActorID: "auditor-1",
	})
	if opErr == nil || opErr.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидался 404, получено: %v", opErr)
	}
}
