package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
)

// recordColumns — список столбцов таблицы custody_records для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const recordColumns = `file_id, original_name, size_bytes, media_type,
	fingerprint, fingerprint_alg, storage_ref, current_location, status,
	case_id, department, evidence_type, classification, created_at, updated_at`

// eventColumns — список столбцов таблицы custody_events.
const eventColumns = `action, ts, actor_id, location, origin, agent_string, notes`

// DBTX — интерфейс выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger — реализация ledger.Store поверх PostgreSQL.
// Взаимное исключение мутаций одной записи обеспечивается
// SELECT ... FOR UPDATE на строке custody_records.
type Ledger struct {
	pool        *pgxpool.Pool
	maxPageSize int
	logger      *slog.Logger
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ ledger.Store = (*Ledger)(nil)

// New создаёт PostgreSQL-реестр.
func New(pool *pgxpool.Pool, maxPageSize int, logger *slog.Logger) *Ledger {
	if maxPageSize <= 0 {
		maxPageSize = 1000
	}
	return &Ledger{
		pool:        pool,
		maxPageSize: maxPageSize,
		logger:      logger.With("component", "postgres-ledger"),
	}
}

// Create сохраняет запись и её цепочку событий в одной транзакции.
func (l *Ledger) Create(ctx context.Context, rec *model.CustodyRecord) error {
	if err := validateChain(rec.Events); err != nil {
		return err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	insertRecord := fmt.Sprintf(`
		INSERT INTO custody_records (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		recordColumns,
	)
	_, err = tx.Exec(ctx, insertRecord,
		rec.FileID, rec.OriginalName, rec.SizeBytes, rec.MediaType,
		rec.Fingerprint, rec.FingerprintAlg, rec.StorageRef, rec.CurrentLocation, rec.Status,
		rec.Metadata.CaseID, rec.Metadata.Department, rec.Metadata.EvidenceType,
		rec.Metadata.Classification, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateID, rec.FileID)
		}
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}

	for seq, ev := range rec.Events {
		if err := insertEvent(ctx, tx, rec.FileID, seq, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита транзакции: %w", err)
	}

	l.logger.Debug("Запись создана", slog.String("file_id", rec.FileID))
	return nil
}

// Get возвращает запись с полной цепочкой событий или ledger.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, fileID string) (*model.CustodyRecord, error) {
	return getRecord(ctx, l.pool, fileID)
}

// AppendEvent атомарно добавляет событие и применяет update.
// Строка записи блокируется FOR UPDATE на время транзакции,
// метка времени события приводится к неубывающей.
func (l *Ledger) AppendEvent(ctx context.Context, fileID string, event model.CustodyEvent, update ledger.StateUpdate) (*model.CustodyRecord, error) {
	if update.Status != nil && !model.ValidStatus(*update.Status) {
		return nil, fmt.Errorf("недопустимый статус: %s", *update.Status)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Блокируем строку записи — сериализация мутаций per-record
	var exists string
	err = tx.QueryRow(ctx,
		`SELECT file_id FROM custody_records WHERE file_id = $1 FOR UPDATE`,
		fileID,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("ошибка блокировки записи: %w", err)
	}

	// Следующий порядковый номер и метка последнего события
	var (
		nextSeq  int
		lastTS   time.Time
		haveLast bool
	)
	row := tx.QueryRow(ctx, `
		SELECT seq, ts FROM custody_events
		WHERE file_id = $1
		ORDER BY seq DESC
		LIMIT 1`, fileID)
	var seq int
	if err := row.Scan(&seq, &lastTS); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ошибка чтения последнего события: %w", err)
		}
	} else {
		nextSeq = seq + 1
		haveLast = true
	}

	// Монотонность меток времени в пределах записи
	if haveLast && event.Timestamp.Before(lastTS) {
		event.Timestamp = lastTS
	}

	if err := insertEvent(ctx, tx, fileID, nextSeq, event); err != nil {
		return nil, err
	}

	// Производное состояние обновляется атомарно с событием
	set := []string{"updated_at = $2"}
	args := []any{fileID, event.Timestamp}
	argNum := 3
	if update.CurrentLocation != nil {
		set = append(set, fmt.Sprintf("current_location = $%d", argNum))
		args = append(args, *update.CurrentLocation)
		argNum++
	}
	if update.StorageRef != nil {
		set = append(set, fmt.Sprintf("storage_ref = $%d", argNum))
		args = append(args, *update.StorageRef)
		argNum++
	}
	if update.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(*update.Status))
	}

	query := fmt.Sprintf(
		`UPDATE custody_records SET %s WHERE file_id = $1`,
		strings.Join(set, ", "),
	)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("ошибка обновления записи: %w", err)
	}

	rec, err := getRecord(ctx, tx, fileID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return rec, nil
}

// UpdateStatus — административное изменение статуса без события.
func (l *Ledger) UpdateStatus(ctx context.Context, fileID string, status model.RecordStatus) (*model.CustodyRecord, error) {
	if !model.ValidStatus(status) {
		return nil, fmt.Errorf("недопустимый статус: %s", status)
	}

	tag, err := l.pool.Exec(ctx, `
		UPDATE custody_records
		SET status = $2, updated_at = now()
		WHERE file_id = $1`, fileID, string(status))
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления статуса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, fileID)
	}

	return getRecord(ctx, l.pool, fileID)
}

// List возвращает страницу записей с общим количеством.
// Фильтры и сортировка строятся динамически, поля сортировки — whitelist.
func (l *Ledger) List(ctx context.Context, params ledger.ListParams) ([]*model.CustodyRecord, int, error) {
	where, args := buildListWhere(params, 1)
	argNum := len(args) + 1

	orderBy := buildOrderBy(params.SortBy, params.SortOrder)

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = ledger.DefaultPageSize
	}
	if pageSize > l.maxPageSize {
		pageSize = l.maxPageSize
	}
	offset := (page - 1) * pageSize

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM custody_records %s %s LIMIT $%d OFFSET $%d`,
		recordColumns, where, orderBy, argNum, argNum+1,
	)
	args = append(args, pageSize, offset)

	rows, err := l.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	var result []*model.CustodyRecord
	var ids []string
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, rec)
		ids = append(ids, rec.FileID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	if err := attachEvents(ctx, l.pool, result, ids); err != nil {
		return nil, 0, err
	}

	// Общее количество — те же фильтры, без LIMIT/OFFSET
	countWhere, countArgs := buildListWhere(params, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM custody_records %s`, countWhere)

	var total int
	if err := l.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	return result, total, nil
}

// getRecord читает запись с цепочкой событий.
func getRecord(ctx context.Context, db DBTX, fileID string) (*model.CustodyRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM custody_records WHERE file_id = $1`, recordColumns)

	rec, err := scanRecord(db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, fileID)
		}
		return nil, err
	}

	eventsQuery := fmt.Sprintf(`
		SELECT %s FROM custody_events
		WHERE file_id = $1
		ORDER BY seq`, eventColumns)

	rows, err := db.Query(ctx, eventsQuery, fileID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения событий: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		rec.Events = append(rec.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации событий: %w", err)
	}

	return rec, nil
}

// attachEvents загружает цепочки событий для набора записей одним запросом.
func attachEvents(ctx context.Context, db DBTX, records []*model.CustodyRecord, ids []string) error {
	if len(records) == 0 {
		return nil
	}

	byID := make(map[string]*model.CustodyRecord, len(records))
	for _, rec := range records {
		byID[rec.FileID] = rec
	}

	query := fmt.Sprintf(`
		SELECT file_id, %s FROM custody_events
		WHERE file_id = ANY($1)
		ORDER BY file_id, seq`, eventColumns)

	rows, err := db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("ошибка чтения событий: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fileID string
		var ev model.CustodyEvent
		var action string
		if err := rows.Scan(
			&fileID, &action, &ev.Timestamp, &ev.ActorID,
			&ev.Location, &ev.Origin, &ev.AgentString, &ev.Notes,
		); err != nil {
			return fmt.Errorf("ошибка сканирования события: %w", err)
		}
		ev.Action = model.EventAction(action)
		if rec, ok := byID[fileID]; ok {
			rec.Events = append(rec.Events, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ошибка итерации событий: %w", err)
	}

	return nil
}

// insertEvent вставляет событие с порядковым номером seq.
func insertEvent(ctx context.Context, db DBTX, fileID string, seq int, ev model.CustodyEvent) error {
	query := fmt.Sprintf(`
		INSERT INTO custody_events (file_id, seq, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, eventColumns)

	_, err := db.Exec(ctx, query,
		fileID, seq, string(ev.Action), ev.Timestamp, ev.ActorID,
		ev.Location, ev.Origin, ev.AgentString, ev.Notes,
	)
	if err != nil {
		return fmt.Errorf("ошибка вставки события: %w", err)
	}
	return nil
}

// scanRecord сканирует строку custody_records (без событий).
func scanRecord(row pgx.Row) (*model.CustodyRecord, error) {
	rec := &model.CustodyRecord{}
	var status string
	err := row.Scan(
		&rec.FileID, &rec.OriginalName, &rec.SizeBytes, &rec.MediaType,
		&rec.Fingerprint, &rec.FingerprintAlg, &rec.StorageRef, &rec.CurrentLocation, &status,
		&rec.Metadata.CaseID, &rec.Metadata.Department, &rec.Metadata.EvidenceType,
		&rec.Metadata.Classification, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
	}
	rec.Status = model.RecordStatus(status)
	return rec, nil
}

// scanEvent сканирует строку custody_events.
func scanEvent(rows pgx.Rows) (model.CustodyEvent, error) {
	var ev model.CustodyEvent
	var action string
	if err := rows.Scan(
		&action, &ev.Timestamp, &ev.ActorID,
		&ev.Location, &ev.Origin, &ev.AgentString, &ev.Notes,
	); err != nil {
		return ev, fmt.Errorf("ошибка сканирования события: %w", err)
	}
	ev.Action = model.EventAction(action)
	return ev, nil
}

// validateChain проверяет инварианты цепочки при создании записи:
// непустая, первое событие — upload, upload ровно один.
func validateChain(events []model.CustodyEvent) error {
	if len(events) == 0 {
		return ledger.ErrEmptyChain
	}
	if events[0].Action != model.ActionUpload {
		return fmt.Errorf("первое событие цепочки должно быть upload, получено %s", events[0].Action)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Action == model.ActionUpload {
			return fmt.Errorf("цепочка содержит повторное upload-событие (индекс %d)", i)
		}
	}
	return nil
}

// buildListWhere строит WHERE-условие и аргументы для выборки записей.
// startArg — номер первого $-параметра.
func buildListWhere(params ledger.ListParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if params.Status != nil && *params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(*params.Status))
		argNum++
	}

	if params.Location != nil && *params.Location != "" {
		conditions = append(conditions, fmt.Sprintf("current_location = $%d", argNum))
		args = append(args, *params.Location)
		argNum++
	}

	// Границы диапазона дат — включительно
	if params.CreatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *params.CreatedFrom)
		argNum++
	}
	if params.CreatedTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argNum))
		args = append(args, *params.CreatedTo)
		argNum++
	}

	if params.CaseID != nil && *params.CaseID != "" {
		conditions = append(conditions, fmt.Sprintf("case_id = $%d", argNum))
		args = append(args, *params.CaseID)
		argNum++
	}
	if params.Department != nil && *params.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", argNum))
		args = append(args, *params.Department)
		argNum++
	}
	if params.EvidenceType != nil && *params.EvidenceType != "" {
		conditions = append(conditions, fmt.Sprintf("evidence_type = $%d", argNum))
		args = append(args, *params.EvidenceType)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// buildOrderBy строит ORDER BY из whitelist полей.
// file_id добавляется вторым ключом — детерминированный порядок
// при равных значениях основного поля.
func buildOrderBy(sortBy string, sortOrder ledger.SortOrder) string {
	if !ledger.ValidSortField(sortBy) {
		sortBy = ledger.SortByCreatedAt
	}

	direction := "DESC"
	if sortOrder == ledger.SortAsc {
		direction = "ASC"
	}

	if sortBy == ledger.SortByFileID {
		return fmt.Sprintf("ORDER BY file_id %s", direction)
	}
	return fmt.Sprintf("ORDER BY %s %s, file_id ASC", sortBy, direction)
}

// isUniqueViolation проверяет нарушение уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
