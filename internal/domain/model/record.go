// Пакет model — доменные модели Custody Service.
// CustodyRecord — запись реестра с цепочкой custody-событий, используется
// как in-memory представление и как формат custody.json на диске.
package model

import (
	"time"
)

// RecordStatus — статус записи реестра.
type RecordStatus string

const (
	// StatusActive — запись доступна для операций
	StatusActive RecordStatus = "active"
	// StatusArchived — запись архивирована (move/retrieve запрещены)
	StatusArchived RecordStatus = "archived"
	// StatusDeleted — soft-delete: запись помечена удалённой, но не стирается
	StatusDeleted RecordStatus = "deleted"
)

// EventAction — тип custody-события.
type EventAction string

const (
	// ActionUpload — первичная загрузка файла (ровно одно событие на запись)
	ActionUpload EventAction = "upload"
	// ActionMove — перемещение файла в новую локацию
	ActionMove EventAction = "move"
	// ActionDownload — выдача содержимого файла
	ActionDownload EventAction = "download"
	// ActionAccess — просмотр метаданных (без выдачи содержимого)
	ActionAccess EventAction = "access"
)

// CustodyEvent — одно неизменяемое custody-событие.
// После добавления в цепочку событие никогда не изменяется и не удаляется.
type CustodyEvent struct {
	// Action — тип события
	Action EventAction `json:"action"`

	// Timestamp — время события (UTC). В пределах одной записи
	// метки времени монотонно неубывающие.
	Timestamp time.Time `json:"timestamp"`

	// ActorID — заявленный идентификатор актора (не аутентифицирован)
	ActorID string `json:"actor_id"`

	// Location — логическая локация: для upload/move — новая текущая,
	// для download/access — локация на момент события.
	Location string `json:"location"`

	// Origin — сетевой источник актора (опционально)
	Origin string `json:"origin,omitempty"`

	// AgentString — клиент актора, например User-Agent (опционально)
	AgentString string `json:"agent_string,omitempty"`

	// Notes — произвольный комментарий (опционально)
	Notes string `json:"notes,omitempty"`
}

// CaseMetadata — теги дела, задаются при ingest.
type CaseMetadata struct {
	// CaseID — идентификатор дела
	CaseID string `json:"case_id,omitempty"`
	// Department — подразделение
	Department string `json:"department,omitempty"`
	// EvidenceType — тип улики (document, image, video и т.д.)
	EvidenceType string `json:"evidence_type,omitempty"`
	// Classification — гриф/классификация
	Classification string `json:"classification,omitempty"`
}

// CustodyRecord — запись реестра. Соответствует содержимому custody.json.
// Поле StorageRef не входит в API-ответ, но сохраняется на диске
// для привязки записи к физическому файлу.
type CustodyRecord struct {
	// FileID — уникальный идентификатор записи (UUID v4, назначается
	// один раз при ingest; никогда не выводится из пути или имени файла)
	FileID string `json:"file_id"`

	// OriginalName — оригинальное имя файла при загрузке
	OriginalName string `json:"original_name"`

	// SizeBytes — размер файла в байтах
	SizeBytes int64 `json:"size_bytes"`

	// MediaType — MIME-тип файла
	MediaType string `json:"media_type"`

	// Fingerprint — hex-дайджест содержимого, вычисленный при ingest.
	// Эталон целостности: никогда не пересчитывается и не перезаписывается.
	Fingerprint string `json:"fingerprint"`

	// FingerprintAlg — алгоритм дайджеста (md5, sha1, sha256, sha512)
	FingerprintAlg string `json:"fingerprint_alg"`

	// StorageRef — непрозрачная ссылка на физическое расположение байтов.
	// Изменяется только операцией Relocate. Не возвращается в API.
	StorageRef string `json:"storage_ref"`

	// CurrentLocation — логическая текущая локация (человекочитаемая).
	// Всегда равна location последнего события upload/move.
	CurrentLocation string `json:"current_location"`

	// Status — текущий статус записи
	Status RecordStatus `json:"status"`

	// Metadata — теги дела
	Metadata CaseMetadata `json:"metadata"`

	// Events — append-only цепочка custody-событий в хронологическом
	// порядке. Первое событие — всегда upload.
	Events []CustodyEvent `json:"events"`

	// CreatedAt — время первого события
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего события
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive проверяет, что запись в активном состоянии.
func (r *CustodyRecord) IsActive() bool {
	return r.Status == StatusActive
}

// LastEvent возвращает последнее событие цепочки или nil для пустой цепочки.
func (r *CustodyRecord) LastEvent() *CustodyEvent {
	if len(r.Events) == 0 {
		return nil
	}
	return &r.Events[len(r.Events)-1]
}

// LastLocationEvent возвращает последнее событие, установившее локацию
// (upload или move), или nil.
func (r *CustodyRecord) LastLocationEvent() *CustodyEvent {
	for i := len(r.Events) - 1; i >= 0; i-- {
		if r.Events[i].Action == ActionUpload || r.Events[i].Action == ActionMove {
			return &r.Events[i]
		}
	}
	return nil
}

// Clone возвращает глубокую копию записи.
// Используется реестром для copy-on-read/copy-on-write.
func (r *CustodyRecord) Clone() *CustodyRecord {
	copied := *r
	copied.Events = make([]CustodyEvent, len(r.Events))
	copy(copied.Events, r.Events)
	return &copied
}

// ValidStatus проверяет, является ли строка допустимым статусом.
func ValidStatus(s RecordStatus) bool {
	switch s {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	default:
		return false
	}
}
