// relocate.go — сервис перемещения улик между локациями.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/gocustody/custody-service/internal/api/middleware"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/blobstore"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/wal"
)

// RelocateParams — параметры перемещения улики.
type RelocateParams struct {
	// NewLocation — целевая логическая локация (обязательно)
	NewLocation string
	// ActorID — заявленная идентичность актора (обязательно)
	ActorID string
	// Origin — сетевой источник актора (опционально)
	Origin string
	// AgentString — клиент актора (опционально)
	AgentString string
	// Notes — комментарий к перемещению (опционально)
	Notes string
}

// RelocateResult — результат перемещения: запись и обе локации.
type RelocateResult struct {
	Record           *model.CustodyRecord
	PreviousLocation string
	NewLocation      string
}

// RelocateService — сервис перемещения улик.
//
// Поток (под per-record блокировкой):
//  1. Валидация полей
//  2. Чтение записи, проверка статуса (только active)
//  3. Проверка целостности (fail closed — без перемещения и события)
//  4. WAL Begin (record_move)
//  5. Физическое перемещение байтов
//  6. move-событие + обновление локации и ref (атомарно)
//  7. WAL Commit
//
// Блокировка разделяется с Retrieve: конкурирующие операции над одной
// записью сериализуются, предусловия оцениваются после победителя.
type RelocateService struct {
	walEngine *wal.WAL
	store     blobstore.Store
	reg       ledger.Store
	integrity *IntegrityChecker
	locks     *RecordLocks
	clock     ledger.Clock
	logger    *slog.Logger
}

// NewRelocateService создаёт сервис перемещения улик.
func NewRelocateService(
	walEngine *wal.WAL,
	store blobstore.Store,
	reg ledger.Store,
	integrity *IntegrityChecker,
	locks *RecordLocks,
	clock ledger.Clock,
	logger *slog.Logger,
) *RelocateService {
	return &RelocateService{
		walEngine: walEngine,
		store:     store,
		reg:       reg,
		integrity: integrity,
		locks:     locks,
		clock:     clock,
		logger:    logger.With(slog.String("component", "relocate_service")),
	}
}

// Relocate перемещает улику в новую локацию.
func (s *RelocateService) Relocate(ctx context.Context, fileID string, params RelocateParams) (*RelocateResult, *OpError) {
	// 1. Валидация
	if params.ActorID == "" {
		return nil, errMissingField("actor_id")
	}
	if params.NewLocation == "" {
		return nil, errMissingField("new_location")
	}

	unlock := s.locks.Lock(fileID)
	defer unlock()

	// 2. Чтение записи
	rec, err := s.reg.Get(ctx, fileID)
	if err != nil {
		return nil, mapStorageErr(err, fileID)
	}

	// 3. Статус: перемещение допустимо только для active
	if !rec.IsActive() {
		return nil, errInvalidState(fileID, string(rec.Status))
	}

	// 4. Целостность проверяется ДО перемещения: повреждённая улика
	// остаётся на месте, цепочка события не получает
	if opErr := s.integrity.Verify(ctx, rec); opErr != nil {
		middleware.OperationsTotal.WithLabelValues("relocate", "integrity_violation").Inc()
		return nil, opErr
	}

	oldLocation := rec.CurrentLocation

	// 5. WAL Begin
	walEntry, err := s.walEngine.Begin(wal.OpRecordMove, fileID)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, errInternal("Внутренняя ошибка при создании транзакции")
	}

	// 6. Физическое перемещение байтов
	newRef, err := s.store.Move(ctx, rec.StorageRef, params.NewLocation)
	if err != nil {
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL", slog.String("error", rbErr.Error()))
		}
		s.logger.Error("Ошибка перемещения байтов",
			slog.String("file_id", fileID),
			slog.String("to", params.NewLocation),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("relocate", "error").Inc()
		return nil, mapStorageErr(err, fileID)
	}
	s.integrity.Invalidate(fileID)

	// 7. move-событие и производное состояние — атомарно
	event := model.CustodyEvent{
		Action:      model.ActionMove,
		Timestamp:   s.clock.Now(),
		ActorID:     params.ActorID,
		Location:    params.NewLocation,
		Origin:      params.Origin,
		AgentString: params.AgentString,
		Notes:       params.Notes,
	}
	updated, err := s.reg.AppendEvent(ctx, fileID, event, ledger.StateUpdate{
		CurrentLocation: &params.NewLocation,
		StorageRef:      &newRef,
	})
	if err != nil {
		// Реестр не принял событие — возвращаем байты на место
		if _, mvErr := s.store.Move(ctx, newRef, oldLocation); mvErr != nil {
			s.logger.Error("Ошибка возврата байтов после отказа реестра",
				slog.String("file_id", fileID),
				slog.String("error", mvErr.Error()),
			)
		}
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL", slog.String("error", rbErr.Error()))
		}
		middleware.OperationsTotal.WithLabelValues("relocate", "error").Inc()
		return nil, mapStorageErr(err, fileID)
	}

	// 8. WAL Commit — best effort
	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("relocate", "success").Inc()

	s.logger.Info("Улика перемещена",
		slog.String("file_id", fileID),
		slog.String("from", oldLocation),
		slog.String("to", params.NewLocation),
		slog.String("actor", params.ActorID),
	)

	return &RelocateResult{
		Record:           updated,
		PreviousLocation: oldLocation,
		NewLocation:      params.NewLocation,
	}, nil
}
