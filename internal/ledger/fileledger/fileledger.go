// Пакет fileledger — file-бэкенд реестра chain of custody.
//
// Durable хранение: одна запись — один custody.json (пакет recordfile),
// все записи атомарны (temp → fsync → rename). Поверх диска — in-memory
// индекс, который пересобирается при старте (Load) и обновляется
// синхронно при мутациях: успешный AppendEvent виден любому
// последующему Get/List без окна устаревшего чтения.
//
// Мутации одной записи сериализуются per-record мьютексом; операции
// над разными записями идут полностью параллельно.
package fileledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/recordfile"
)

// Ledger — file-реализация ledger.Store.
type Ledger struct {
	// dir — директория хранения custody.json (CS_LEDGER_DIR)
	dir string
	// maxPageSize — потолок размера страницы List
	maxPageSize int

	// mu защищает индекс records
	mu      sync.RWMutex
	records map[string]*model.CustodyRecord // file_id → запись

	// keys — per-record мьютексы для сериализации мутаций
	keys keyedLocks

	logger *slog.Logger
}

// New создаёт пустой file-реестр. Для заполнения вызовите Load.
func New(dir string, maxPageSize int, logger *slog.Logger) *Ledger {
	if maxPageSize <= 0 {
		maxPageSize = 1000
	}
	return &Ledger{
		dir:         dir,
		maxPageSize: maxPageSize,
		records:     make(map[string]*model.CustodyRecord),
		logger:      logger.With(slog.String("component", "fileledger")),
	}
}

// Load строит индекс из custody.json в директории реестра.
// Вызывается при старте сервера. Заменяет текущее содержимое индекса.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := recordfile.ScanDir(l.dir)
	if err != nil {
		return fmt.Errorf("ошибка сканирования директории реестра %s: %w", l.dir, err)
	}

	l.records = make(map[string]*model.CustodyRecord, len(records))
	for _, rec := range records {
		l.records[rec.FileID] = rec
	}

	l.logger.Info("Индекс реестра построен",
		slog.Int("records", len(l.records)),
		slog.String("dir", l.dir),
	)

	return nil
}

// Create сохраняет новую запись реестра.
// Проверяет инварианты цепочки: непустая, первое событие — upload,
// upload ровно один. Запись создаётся durable до обновления индекса.
func (l *Ledger) Create(ctx context.Context, rec *model.CustodyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateChain(rec); err != nil {
		return err
	}

	unlock := l.keys.lock(rec.FileID)
	defer unlock()

	l.mu.RLock()
	_, exists := l.records[rec.FileID]
	l.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateID, rec.FileID)
	}

	copied := rec.Clone()
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = copied.Events[0].Timestamp
	}
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = copied.Events[len(copied.Events)-1].Timestamp
	}

	if err := recordfile.Write(l.dir, copied); err != nil {
		return fmt.Errorf("ошибка сохранения записи %s: %w", rec.FileID, err)
	}

	l.mu.Lock()
	l.records[copied.FileID] = copied
	l.mu.Unlock()

	return nil
}

// Get возвращает копию записи по file_id или ledger.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, fileID string) (*model.CustodyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	rec, ok := l.records[fileID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, fileID)
	}

	return rec.Clone(), nil
}

// AppendEvent атомарно добавляет событие и применяет update.
// Метка времени события приводится к неубывающей в пределах записи.
// Durable запись выполняется до обновления индекса: читатель никогда
// не видит событие, которого нет на диске.
func (l *Ledger) AppendEvent(ctx context.Context, fileID string, event model.CustodyEvent, update ledger.StateUpdate) (*model.CustodyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := l.keys.lock(fileID)
	defer unlock()

	l.mu.RLock()
	current, ok := l.records[fileID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, fileID)
	}

	copied := current.Clone()

	// Монотонность меток времени в пределах записи
	if last := copied.LastEvent(); last != nil && event.Timestamp.Before(last.Timestamp) {
		event.Timestamp = last.Timestamp
	}

	copied.Events = append(copied.Events, event)
	copied.UpdatedAt = event.Timestamp

	if update.CurrentLocation != nil {
		copied.CurrentLocation = *update.CurrentLocation
	}
	if update.StorageRef != nil {
		copied.StorageRef = *update.StorageRef
	}
	if update.Status != nil {
		if !model.ValidStatus(*update.Status) {
			return nil, fmt.Errorf("недопустимый статус записи: %q", *update.Status)
		}
		copied.Status = *update.Status
	}

	if err := recordfile.Write(l.dir, copied); err != nil {
		return nil, fmt.Errorf("ошибка сохранения записи %s: %w", fileID, err)
	}

	l.mu.Lock()
	l.records[fileID] = copied
	l.mu.Unlock()

	return copied.Clone(), nil
}

// UpdateStatus — административное изменение статуса без события
// (archive / soft delete). Запись никогда не удаляется физически.
func (l *Ledger) UpdateStatus(ctx context.Context, fileID string, status model.RecordStatus) (*model.CustodyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !model.ValidStatus(status) {
		return nil, fmt.Errorf("недопустимый статус записи: %q", status)
	}

	unlock := l.keys.lock(fileID)
	defer unlock()

	l.mu.RLock()
	current, ok := l.records[fileID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, fileID)
	}

	copied := current.Clone()
	copied.Status = status

	if err := recordfile.Write(l.dir, copied); err != nil {
		return nil, fmt.Errorf("ошибка сохранения записи %s: %w", fileID, err)
	}

	l.mu.Lock()
	l.records[fileID] = copied
	l.mu.Unlock()

	return copied.Clone(), nil
}

// List возвращает страницу записей и общее количество с учётом фильтров.
// Сортировка стабильная: при равенстве ключа порядок определяется file_id.
func (l *Ledger) List(ctx context.Context, params ListParams) ([]*model.CustodyRecord, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	l.mu.RLock()
	filtered := make([]*model.CustodyRecord, 0, len(l.records))
	for _, rec := range l.records {
		if matches(rec, params) {
			filtered = append(filtered, rec.Clone())
		}
	}
	l.mu.RUnlock()

	sortRecords(filtered, params.SortBy, params.SortOrder)

	total := len(filtered)
	page, size := normalizePage(params.Page, params.PageSize, l.maxPageSize)

	offset := (page - 1) * size
	if offset >= total {
		return nil, total, nil
	}
	end := offset + size
	if end > total {
		end = total
	}

	return filtered[offset:end], total, nil
}

// ListParams — алиас контрактного типа для краткости вызовов.
type ListParams = ledger.ListParams

// Count возвращает общее количество записей в индексе.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// CountByStatus возвращает количество записей с указанным статусом.
func (l *Ledger) CountByStatus(status model.RecordStatus) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, rec := range l.records {
		if rec.Status == status {
			count++
		}
	}
	return count
}

// validateChain проверяет инварианты цепочки создаваемой записи.
func validateChain(rec *model.CustodyRecord) error {
	if len(rec.Events) == 0 {
		return ledger.ErrEmptyChain
	}
	if rec.Events[0].Action != model.ActionUpload {
		return fmt.Errorf("первое событие записи %s должно быть upload, получено %s", rec.FileID, rec.Events[0].Action)
	}
	for i := 1; i < len(rec.Events); i++ {
		if rec.Events[i].Action == model.ActionUpload {
			return fmt.Errorf("запись %s содержит более одного upload-события", rec.FileID)
		}
	}
	return nil
}

// matches проверяет запись против фильтров ListParams.
func matches(rec *model.CustodyRecord, p ListParams) bool {
	if p.Status != nil && rec.Status != *p.Status {
		return false
	}
	if p.Location != nil && rec.CurrentLocation != *p.Location {
		return false
	}
	if p.CreatedFrom != nil && rec.CreatedAt.Before(*p.CreatedFrom) {
		return false
	}
	if p.CreatedTo != nil && rec.CreatedAt.After(*p.CreatedTo) {
		return false
	}
	if p.CaseID != nil && rec.Metadata.CaseID != *p.CaseID {
		return false
	}
	if p.Department != nil && rec.Metadata.Department != *p.Department {
		return false
	}
	if p.EvidenceType != nil && rec.Metadata.EvidenceType != *p.EvidenceType {
		return false
	}
	return true
}

// sortRecords сортирует записи по whitelist-полю со стабильным
// tie-break по file_id.
func sortRecords(records []*model.CustodyRecord, sortBy string, order ledger.SortOrder) {
	if !ledger.ValidSortField(sortBy) {
		sortBy = ledger.SortByCreatedAt
	}
	desc := order != ledger.SortAsc

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		cmp := compareBy(a, b, sortBy)
		if cmp == 0 {
			// Tie-break всегда по возрастанию file_id
			return a.FileID < b.FileID
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareBy сравнивает две записи по полю сортировки: -1, 0, 1.
func compareBy(a, b *model.CustodyRecord, field string) int {
	switch field {
	case ledger.SortByCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case ledger.SortByUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case ledger.SortByOriginalName:
		return strings.Compare(a.OriginalName, b.OriginalName)
	case ledger.SortBySizeBytes:
		switch {
		case a.SizeBytes < b.SizeBytes:
			return -1
		case a.SizeBytes > b.SizeBytes:
			return 1
		default:
			return 0
		}
	case ledger.SortByStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	case ledger.SortByLocation:
		return strings.Compare(a.CurrentLocation, b.CurrentLocation)
	case ledger.SortByFileID:
		return strings.Compare(a.FileID, b.FileID)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// normalizePage приводит параметры пагинации к допустимым значениям.
func normalizePage(page, size, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = ledger.DefaultPageSize
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// keyedLocks — набор per-record мьютексов, создаваемых по требованию.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock блокирует мьютекс записи и возвращает функцию разблокировки.
func (k *keyedLocks) lock(fileID string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[fileID]
	if !ok {
		m = &sync.Mutex{}
		k.locks[fileID] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Проверка реализации контракта на этапе компиляции
var _ ledger.Store = (*Ledger)(nil)
