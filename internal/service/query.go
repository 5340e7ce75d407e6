// query.go — выборка записей реестра и проекция для экспорта отчётов.
package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
)

// ExportHeader — заголовок CSV-отчёта chain of custody.
// Порядок столбцов согласован с FlattenForExport.
var ExportHeader = []string{
	"file_id", "original_name", "case_id", "department", "status",
	"fingerprint", "event_seq", "action", "timestamp", "actor_id",
	"location", "origin", "notes",
}

// QueryService — чтение реестра: выборки, отдельные записи, экспорт.
// Изменение статуса — мутация, поэтому сервис разделяет per-record
// блокировки с Relocate/Retrieve: их проверка статуса оценивается
// под той же блокировкой и не может разойтись с конкурентным архивированием.
type QueryService struct {
	reg    ledger.Store
	locks  *RecordLocks
	logger *slog.Logger
}

// NewQueryService создаёт сервис выборки.
func NewQueryService(reg ledger.Store, locks *RecordLocks, logger *slog.Logger) *QueryService {
	return &QueryService{
		reg:    reg,
		locks:  locks,
		logger: logger.With(slog.String("component", "query_service")),
	}
}

// Get возвращает запись с полной цепочкой событий.
func (s *QueryService) Get(ctx context.Context, fileID string) (*model.CustodyRecord, *OpError) {
	rec, err := s.reg.Get(ctx, fileID)
	if err != nil {
		return nil, mapStorageErr(err, fileID)
	}
	return rec, nil
}

// List возвращает страницу записей и общее количество.
func (s *QueryService) List(ctx context.Context, params ledger.ListParams) ([]*model.CustodyRecord, int, *OpError) {
	records, total, err := s.reg.List(ctx, params)
	if err != nil {
		return nil, 0, mapStorageErr(err, "")
	}
	return records, total, nil
}

// UpdateStatus — административное изменение статуса записи.
func (s *QueryService) UpdateStatus(ctx context.Context, fileID string, status model.RecordStatus) (*model.CustodyRecord, *OpError) {
	if !model.ValidStatus(status) {
		return nil, errValidation("Недопустимый статус: " + string(status))
	}

	unlock := s.locks.Lock(fileID)
	defer unlock()

	rec, err := s.reg.UpdateStatus(ctx, fileID, status)
	if err != nil {
		return nil, mapStorageErr(err, fileID)
	}

	s.logger.Info("Статус записи изменён",
		slog.String("file_id", fileID),
		slog.String("status", string(status)),
	)
	return rec, nil
}

// FlattenForExport разворачивает записи в строки отчёта:
// одна строка на событие, порядок событий в пределах записи сохраняется.
func FlattenForExport(records []*model.CustodyRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		for seq, ev := range rec.Events {
			rows = append(rows, []string{
				rec.FileID,
				rec.OriginalName,
				rec.Metadata.CaseID,
				rec.Metadata.Department,
				string(rec.Status),
				rec.Fingerprint,
				strconv.Itoa(seq),
				string(ev.Action),
				ev.Timestamp.Format(time.RFC3339),
				ev.ActorID,
				ev.Location,
				ev.Origin,
				ev.Notes,
			})
		}
	}
	return rows
}
