// retrieve.go — сервис выдачи байтов улики с записью download-события.
package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/bigkaa/gocustody/custody-service/internal/api/middleware"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/blobstore"
)

// RetrieveParams — параметры выдачи улики.
type RetrieveParams struct {
	// ActorID — заявленная идентичность актора (обязательно)
	ActorID string
	// Origin — сетевой источник актора (опционально)
	Origin string
	// AgentString — клиент актора (опционально)
	AgentString string
	// Notes — комментарий к выдаче (опционально)
	Notes string
}

// RetrieveResult — результат выдачи улики.
// Reader обязан закрыть вызывающий код.
type RetrieveResult struct {
	Record *model.CustodyRecord
	Reader io.ReadSeekCloser
}

// RetrieveService — сервис выдачи байтов улики.
//
// Поток (под per-record блокировкой, разделяемой с Relocate):
//  1. Валидация полей
//  2. Чтение записи, проверка статуса (только active)
//  3. Наличие байтов и целостность (fail closed)
//  4. download-событие — ДО отдачи потока: выдача без следа
//     в цепочке невозможна, обратная асимметрия допустима
//  5. Открытие байтов для стриминга
type RetrieveService struct {
	store     blobstore.Store
	reg       ledger.Store
	integrity *IntegrityChecker
	locks     *RecordLocks
	clock     ledger.Clock
	logger    *slog.Logger
}

// NewRetrieveService создаёт сервис выдачи улик.
func NewRetrieveService(
	store blobstore.Store,
	reg ledger.Store,
	integrity *IntegrityChecker,
	locks *RecordLocks,
	clock ledger.Clock,
	logger *slog.Logger,
) *RetrieveService {
	return &RetrieveService{
		store:     store,
		reg:       reg,
		integrity: integrity,
		locks:     locks,
		clock:     clock,
		logger:    logger.With(slog.String("component", "retrieve_service")),
	}
}

// Retrieve выдаёт байты улики, фиксируя download-событие в цепочке.
func (s *RetrieveService) Retrieve(ctx context.Context, fileID string, params RetrieveParams) (*RetrieveResult, *OpError) {
	// 1. Валидация
	if params.ActorID == "" {
		return nil, errMissingField("actor_id")
	}

	unlock := s.locks.Lock(fileID)
	defer unlock()

	// 2. Чтение записи
	rec, err := s.reg.Get(ctx, fileID)
	if err != nil {
		return nil, mapStorageErr(err, fileID)
	}

	// 3. Статус: выдача допустима только для active
	if !rec.IsActive() {
		return nil, errInvalidState(fileID, string(rec.Status))
	}

	// 4. Целостность (включая наличие байтов) — fail closed
	if opErr := s.integrity.Verify(ctx, rec); opErr != nil {
		middleware.OperationsTotal.WithLabelValues("retrieve", "integrity_violation").Inc()
		return nil, opErr
	}

	// 5. Сначала событие, потом поток: каждая выдача оставляет след
	event := model.CustodyEvent{
		Action:      model.ActionDownload,
		Timestamp:   s.clock.Now(),
		ActorID:     params.ActorID,
		Location:    rec.CurrentLocation,
		Origin:      params.Origin,
		AgentString: params.AgentString,
		Notes:       params.Notes,
	}
	updated, err := s.reg.AppendEvent(ctx, fileID, event, ledger.StateUpdate{})
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("retrieve", "error").Inc()
		return nil, mapStorageErr(err, fileID)
	}

	// 6. Открытие байтов
	reader, err := s.store.Open(ctx, updated.StorageRef)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("retrieve", "error").Inc()
		s.logger.Error("Ошибка открытия байтов после записи события",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, mapStorageErr(err, fileID)
	}

	middleware.OperationsTotal.WithLabelValues("retrieve", "success").Inc()

	s.logger.Info("Улика выдана",
		slog.String("file_id", fileID),
		slog.String("actor", params.ActorID),
		slog.String("location", updated.CurrentLocation),
	)

	return &RetrieveResult{Record: updated, Reader: reader}, nil
}
