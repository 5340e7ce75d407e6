// Пакет ledger — контракт реестра chain of custody.
//
// Реестр хранит записи CustodyRecord с append-only цепочками событий.
// Ядро написано против интерфейса Store: file-бэкенд (fileledger) —
// durable хранение в custody.json, postgres-бэкенд — транзакционное
// хранение в PostgreSQL. Обе реализации дают одинаковые гарантии:
//   - добавление события атомарно с обновлением производного состояния;
//   - мутации одной записи взаимно исключены (per-record);
//   - успешный AppendEvent виден всем последующим чтениям.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
)

// Ошибки реестра.
var (
	// ErrNotFound — запись с указанным file_id не найдена.
	ErrNotFound = errors.New("запись реестра не найдена")
	// ErrDuplicateID — запись с таким file_id уже существует.
	// При 128-битных случайных идентификаторах практически недостижима,
	// но обрабатывается как отдельный случай, не как паника.
	ErrDuplicateID = errors.New("запись реестра с таким file_id уже существует")
	// ErrEmptyChain — попытка создать запись без upload-события.
	ErrEmptyChain = errors.New("запись реестра должна содержать upload-событие")
)

// StateUpdate — изменение производного состояния, применяемое атомарно
// с добавлением события. nil-поле означает «без изменений».
// Ограничено полями, выводимыми из цепочки событий, плюс storage ref.
type StateUpdate struct {
	// CurrentLocation — новая логическая локация (только move)
	CurrentLocation *string
	// StorageRef — новая физическая ссылка (только move)
	StorageRef *string
	// Status — новый статус записи
	Status *model.RecordStatus
}

// DefaultPageSize — размер страницы выборки, если не задан запросом.
const DefaultPageSize = 50

// SortOrder — направление сортировки.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Допустимые поля сортировки (whitelist).
const (
	SortByCreatedAt    = "created_at"
	SortByUpdatedAt    = "updated_at"
	SortByOriginalName = "original_name"
	SortBySizeBytes    = "size_bytes"
	SortByStatus       = "status"
	SortByLocation     = "current_location"
	SortByFileID       = "file_id"
)

// ValidSortField проверяет, входит ли поле в whitelist сортировки.
func ValidSortField(field string) bool {
	switch field {
	case SortByCreatedAt, SortByUpdatedAt, SortByOriginalName,
		SortBySizeBytes, SortByStatus, SortByLocation, SortByFileID:
		return true
	default:
		return false
	}
}

// ListParams — параметры выборки записей.
// nil-указатель = фильтр не применяется.
type ListParams struct {
	// Status — фильтр по статусу записи
	Status *model.RecordStatus
	// Location — фильтр по текущей локации (exact match)
	Location *string
	// CreatedFrom — нижняя граница created_at (включительно)
	CreatedFrom *time.Time
	// CreatedTo — верхняя граница created_at (включительно)
	CreatedTo *time.Time
	// CaseID — фильтр по идентификатору дела
	CaseID *string
	// Department — фильтр по подразделению
	Department *string
	// EvidenceType — фильтр по типу улики
	EvidenceType *string

	// SortBy — поле сортировки из whitelist (по умолчанию created_at)
	SortBy string
	// SortOrder — asc или desc (по умолчанию desc)
	SortOrder SortOrder

	// Page — номер страницы, начиная с 1
	Page int
	// PageSize — размер страницы; реализация ограничивает максимумом
	PageSize int
}

// Store — контракт реестра.
type Store interface {
	// Create сохраняет новую запись. Запись обязана содержать
	// непустую цепочку (ErrEmptyChain) и уникальный file_id
	// (ErrDuplicateID).
	Create(ctx context.Context, rec *model.CustodyRecord) error

	// Get возвращает запись по file_id или ErrNotFound.
	// Возвращаемая запись — копия, её изменение не влияет на реестр.
	Get(ctx context.Context, fileID string) (*model.CustodyRecord, error)

	// AppendEvent атомарно добавляет событие и применяет update.
	// Метка времени события приводится к неубывающей в пределах записи.
	// Возвращает обновлённую запись или ErrNotFound.
	AppendEvent(ctx context.Context, fileID string, event model.CustodyEvent, update StateUpdate) (*model.CustodyRecord, error)

	// UpdateStatus — административное изменение статуса без события
	// (archive / soft delete). Возвращает ErrNotFound.
	UpdateStatus(ctx context.Context, fileID string, status model.RecordStatus) (*model.CustodyRecord, error)

	// List возвращает страницу записей и общее количество с учётом фильтров.
	// Чистое чтение, без мутаций.
	List(ctx context.Context, params ListParams) ([]*model.CustodyRecord, int, error)
}

// Clock — источник времени, инжектируется для тестируемости.
type Clock interface {
	Now() time.Time
}

// SystemClock — системные часы (UTC).
type SystemClock struct{}

// Now возвращает текущее время в UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator — генератор идентификаторов записей.
// Идентификатор обязан быть криптографически случайным (>=128 бит)
// и никогда не выводиться из изменяемых атрибутов вроде пути.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator — генератор UUID v4.
type UUIDGenerator struct{}

// NewID возвращает новый UUID v4.
func (UUIDGenerator) NewID() string {
	return uuid.New().String()
}
