// ingest.go — сервис приёма улик с WAL-транзакциями.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/gocustody/custody-service/internal/api/errors"
	"github.com/bigkaa/gocustody/custody-service/internal/api/middleware"
	"github.com/bigkaa/gocustody/custody-service/internal/config"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/blobstore"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/wal"
)

// IngestParams — параметры приёма улики.
type IngestParams struct {
	// Reader — поток байтов улики
	Reader io.Reader
	// OriginalName — оригинальное имя файла
	OriginalName string
	// MediaType — MIME-тип (опционально)
	MediaType string
	// Size — заявленный размер (из Content-Length multipart part)
	Size int64
	// ActorID — заявленная идентичность актора (обязательно)
	ActorID string
	// Location — начальная логическая локация (по умолчанию из конфигурации)
	Location string
	// Origin — сетевой источник актора (опционально)
	Origin string
	// AgentString — клиент актора (опционально)
	AgentString string
	// Notes — комментарий к приёму (опционально)
	Notes string
	// Metadata — теги дела (опционально)
	Metadata model.CaseMetadata
}

// IngestService — сервис приёма улик.
//
// Поток:
//  1. Валидация полей (актор обязателен)
//  2. WAL Begin (record_create)
//  3. Запись байтов (streaming + дайджест)
//  4. Создание записи реестра с upload-событием
//  5. WAL Commit
//
// При ошибке — cleanup (удаление байтов) + WAL Rollback:
// запись-сирота без байтов не появляется никогда.
type IngestService struct {
	cfg       *config.Config
	walEngine *wal.WAL
	store     blobstore.Store
	reg       ledger.Store
	clock     ledger.Clock
	idgen     ledger.IDGenerator
	logger    *slog.Logger
}

// NewIngestService создаёт сервис приёма улик.
func NewIngestService(
	cfg *config.Config,
	walEngine *wal.WAL,
	store blobstore.Store,
	reg ledger.Store,
	clock ledger.Clock,
	idgen ledger.IDGenerator,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		cfg:       cfg,
		walEngine: walEngine,
		store:     store,
		reg:       reg,
		clock:     clock,
		idgen:     idgen,
		logger:    logger.With(slog.String("component", "ingest_service")),
	}
}

// Ingest принимает улику: байты в хранилище, запись в реестр.
func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*model.CustodyRecord, *OpError) {
	// 1. Валидация
	if params.ActorID == "" {
		return nil, errMissingField("actor_id")
	}
	if params.OriginalName == "" {
		return nil, errMissingField("original_name")
	}
	if params.Size > s.cfg.MaxFileSize {
		return nil, &OpError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", params.Size, s.cfg.MaxFileSize),
		}
	}

	location := params.Location
	if location == "" {
		location = s.cfg.DefaultLocation
	}
	mediaType := params.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	// 2. Идентификатор — всегда случайный, никогда не выводится из пути
	fileID := s.idgen.NewID()

	// 3. WAL Begin
	walEntry, err := s.walEngine.Begin(wal.OpRecordCreate, fileID)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, errInternal("Внутренняя ошибка при создании транзакции")
	}

	// Cleanup при ошибке
	var saved *blobstore.WriteResult
	rollback := func() {
		if saved != nil {
			_ = s.store.Remove(saved.Ref)
		}
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	// 4. Запись байтов (streaming + дайджест за один проход)
	saved, err = s.store.Write(ctx, params.Reader, params.OriginalName, params.ActorID, location)
	if err != nil {
		rollback()
		s.logger.Error("Ошибка записи байтов",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("ingest", "error").Inc()
		return nil, mapStorageErr(err, fileID)
	}

	// 5. Запись реестра: цепочка рождается с ровно одним upload-событием
	now := s.clock.Now()
	rec := &model.CustodyRecord{
		FileID:          fileID,
		OriginalName:    params.OriginalName,
		SizeBytes:       saved.Size,
		MediaType:       mediaType,
		Fingerprint:     saved.Checksum,
		FingerprintAlg:  string(s.cfg.HashAlgorithm),
		StorageRef:      saved.Ref,
		CurrentLocation: location,
		Status:          model.StatusActive,
		Metadata:        params.Metadata,
		Events: []model.CustodyEvent{
			{
				Action:      model.ActionUpload,
				Timestamp:   now,
				ActorID:     params.ActorID,
				Location:    location,
				Origin:      params.Origin,
				AgentString: params.AgentString,
				Notes:       params.Notes,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.reg.Create(ctx, rec); err != nil {
		rollback()
		s.logger.Error("Ошибка создания записи реестра",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("ingest", "error").Inc()
		return nil, mapStorageErr(err, fileID)
	}

	// 6. WAL Commit — данные уже durable, коммит best effort
	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("ingest", "success").Inc()
	middleware.RecordsTotal.WithLabelValues(string(model.StatusActive)).Inc()

	s.logger.Info("Улика принята",
		slog.String("file_id", fileID),
		slog.String("filename", params.OriginalName),
		slog.Int64("size", saved.Size),
		slog.String("fingerprint", saved.Checksum),
		slog.String("actor", params.ActorID),
		slog.String("location", location),
	)

	return rec, nil
}
