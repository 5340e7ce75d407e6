// access.go — сервис регистрации фактов доступа к улике без выдачи байтов.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/gocustody/custody-service/internal/api/middleware"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
)

// AccessParams — параметры регистрации доступа.
type AccessParams struct {
	// ActorID — заявленная идентичность актора (обязательно)
	ActorID string
	// Origin — сетевой источник актора (опционально)
	Origin string
	// AgentString — клиент актора (опционально)
	AgentString string
	// Notes — характер доступа, например "осмотр в лаборатории" (опционально)
	Notes string
}

// AccessService — регистрация access-событий.
// Доступ фиксируется в любом статусе записи: осмотр архивной или
// изъятой улики — тоже факт цепочки. Байты не читаются, целостность
// не проверяется.
type AccessService struct {
	reg    ledger.Store
	clock  ledger.Clock
	logger *slog.Logger
}

// NewAccessService создаёт сервис регистрации доступа.
func NewAccessService(reg ledger.Store, clock ledger.Clock, logger *slog.Logger) *AccessService {
	return &AccessService{
		reg:    reg,
		clock:  clock,
		logger: logger.With(slog.String("component", "access_service")),
	}
}

// LogAccess добавляет access-событие в цепочку записи.
func (s *AccessService) LogAccess(ctx context.Context, fileID string, params AccessParams) (*model.CustodyRecord, *OpError) {
	if params.ActorID == "" {
		return nil, errMissingField("actor_id")
	}

	rec, err := s.reg.Get(ctx, fileID)
	if err != nil {
		return nil, mapStorageErr(err, fileID)
	}

	event := model.CustodyEvent{
		Action:      model.ActionAccess,
		Timestamp:   s.clock.Now(),
		ActorID:     params.ActorID,
		Location:    rec.CurrentLocation,
		Origin:      params.Origin,
		AgentString: params.AgentString,
		Notes:       params.Notes,
	}
	updated, err := s.reg.AppendEvent(ctx, fileID, event, ledger.StateUpdate{})
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("access", "error").Inc()
		return nil, mapStorageErr(err, fileID)
	}

	middleware.OperationsTotal.WithLabelValues("access", "success").Inc()

	s.logger.Info("Доступ зафиксирован",
		slog.String("file_id", fileID),
		slog.String("actor", params.ActorID),
	)

	return updated, nil
}
