// custody.go — обработчики жизненного цикла улик:
// приём, выборка, карточка, перемещение, выдача, фиксация доступа, статус.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gocustody/custody-service/internal/api/errors"
	"github.com/bigkaa/gocustody/custody-service/internal/api/middleware"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
	"github.com/bigkaa/gocustody/custody-service/internal/service"
)

// listResponse — ответ на выборку записей.
type listResponse struct {
	Items    []*model.CustodyRecord `json:"items"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

// moveRequest — тело запроса на перемещение.
type moveRequest struct {
	NewLocation string `json:"new_location"`
	Notes       string `json:"notes,omitempty"`
}

// moveResponse — результат перемещения: обе локации и обновлённая запись.
type moveResponse struct {
	PreviousLocation string               `json:"previous_location"`
	NewLocation      string               `json:"new_location"`
	Record           *model.CustodyRecord `json:"record"`
}

// accessRequest — тело запроса на фиксацию доступа.
type accessRequest struct {
	Notes string `json:"notes,omitempty"`
}

// statusRequest — тело запроса на изменение статуса.
type statusRequest struct {
	Status string `json:"status"`
}

// IngestEvidence обрабатывает POST /api/v1/evidence (multipart).
// Поля формы: file (обязательно), location, case_id, department,
// evidence_type, classification, notes.
func (h *Handler) IngestEvidence(w http.ResponseWriter, r *http.Request) {
	// Буфер формы в памяти, файл стримится из part
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.MissingField(w, "Отсутствует обязательное поле file")
		return
	}
	defer file.Close()

	rec, opErr := h.ingestSvc.Ingest(r.Context(), service.IngestParams{
		Reader:       file,
		OriginalName: header.Filename,
		MediaType:    header.Header.Get("Content-Type"),
		Size:         header.Size,
		ActorID:      middleware.ActorFromContext(r.Context()),
		Location:     r.FormValue("location"),
		Origin:       middleware.OriginFromContext(r.Context()),
		AgentString:  middleware.AgentFromContext(r.Context()),
		Notes:        r.FormValue("notes"),
		Metadata: model.CaseMetadata{
			CaseID:         r.FormValue("case_id"),
			Department:     r.FormValue("department"),
			EvidenceType:   r.FormValue("evidence_type"),
			Classification: r.FormValue("classification"),
		},
	})
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// ListEvidence обрабатывает GET /api/v1/evidence.
// Фильтры: status, location, case_id, department, evidence_type,
// created_from, created_to (RFC3339). Сортировка: sort_by, sort_order.
// Пагинация: page, page_size.
func (h *Handler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	records, total, opErr := h.querySvc.List(r.Context(), params)
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}
	if records == nil {
		records = []*model.CustodyRecord{}
	}

	// Отражаем нормализованные значения пагинации (реестр применяет те же)
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = ledger.DefaultPageSize
	}
	if h.maxPageSize > 0 && params.PageSize > h.maxPageSize {
		params.PageSize = h.maxPageSize
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:    records,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// GetEvidence обрабатывает GET /api/v1/evidence/{file_id}.
// Возвращает запись с полной цепочкой событий.
func (h *Handler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")

	rec, opErr := h.querySvc.Get(r.Context(), fileID)
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// MoveEvidence обрабатывает POST /api/v1/evidence/{file_id}/move.
func (h *Handler) MoveEvidence(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	result, opErr := h.relocateSvc.Relocate(r.Context(), fileID, service.RelocateParams{
		NewLocation: req.NewLocation,
		ActorID:     middleware.ActorFromContext(r.Context()),
		Origin:      middleware.OriginFromContext(r.Context()),
		AgentString: middleware.AgentFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, moveResponse{
		PreviousLocation: result.PreviousLocation,
		NewLocation:      result.NewLocation,
		Record:           result.Record,
	})
}

// DownloadEvidence обрабатывает GET /api/v1/evidence/{file_id}/download.
// Выдаёт байты улики через http.ServeContent (Range, If-None-Match).
// ETag — fingerprint улики.
func (h *Handler) DownloadEvidence(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")

	result, opErr := h.retrieveSvc.Retrieve(r.Context(), fileID, service.RetrieveParams{
		ActorID:     middleware.ActorFromContext(r.Context()),
		Origin:      middleware.OriginFromContext(r.Context()),
		AgentString: middleware.AgentFromContext(r.Context()),
	})
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}
	defer result.Reader.Close()

	rec := result.Record
	w.Header().Set("Content-Type", rec.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalName))
	w.Header().Set("ETag", fmt.Sprintf("%q", rec.Fingerprint))

	http.ServeContent(w, r, rec.OriginalName, rec.UpdatedAt, result.Reader)
}

// LogAccess обрабатывает POST /api/v1/evidence/{file_id}/access.
// Тело опционально: {"notes": "..."}.
func (h *Handler) LogAccess(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")

	var req accessRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierrors.ValidationError(w, "Некорректное тело запроса")
			return
		}
	}

	rec, opErr := h.accessSvc.LogAccess(r.Context(), fileID, service.AccessParams{
		ActorID:     middleware.ActorFromContext(r.Context()),
		Origin:      middleware.OriginFromContext(r.Context()),
		AgentString: middleware.AgentFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// UpdateStatus обрабатывает PATCH /api/v1/evidence/{file_id}/status.
// Административная операция: archive / soft delete / восстановление.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Status == "" {
		apierrors.MissingField(w, "Отсутствует обязательное поле status")
		return
	}

	rec, opErr := h.querySvc.UpdateStatus(r.Context(), fileID, model.RecordStatus(req.Status))
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// parseListParams разбирает query-параметры выборки.
func parseListParams(r *http.Request) (ledger.ListParams, error) {
	params := ledger.ListParams{}
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := model.RecordStatus(v)
		if !model.ValidStatus(status) {
			return params, fmt.Errorf("недопустимый статус: %s", v)
		}
		params.Status = &status
	}
	if v := q.Get("location"); v != "" {
		params.Location = &v
	}
	if v := q.Get("case_id"); v != "" {
		params.CaseID = &v
	}
	if v := q.Get("department"); v != "" {
		params.Department = &v
	}
	if v := q.Get("evidence_type"); v != "" {
		params.EvidenceType = &v
	}

	if v := q.Get("created_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, fmt.Errorf("параметр created_from: некорректная дата %q (используйте RFC3339)", v)
		}
		params.CreatedFrom = &t
	}
	if v := q.Get("created_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, fmt.Errorf("параметр created_to: некорректная дата %q (используйте RFC3339)", v)
		}
		params.CreatedTo = &t
	}

	if v := q.Get("sort_by"); v != "" {
		if !ledger.ValidSortField(v) {
			return params, fmt.Errorf("недопустимое поле сортировки: %s", v)
		}
		params.SortBy = v
	}
	if v := q.Get("sort_order"); v != "" {
		if v != string(ledger.SortAsc) && v != string(ledger.SortDesc) {
			return params, fmt.Errorf("параметр sort_order: допустимы asc и desc")
		}
		params.SortOrder = ledger.SortOrder(v)
	}

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, fmt.Errorf("параметр page должен быть целым числом >= 1")
		}
		params.Page = page
	}
	if v := q.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return params, fmt.Errorf("параметр page_size должен быть целым числом >= 1")
		}
		params.PageSize = size
	}

	return params, nil
}
