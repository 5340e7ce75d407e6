// Пакет handlers — HTTP-обработчики custody-service.
// handler.go — сборка доменных обработчиков и маршрутизация chi.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/gocustody/custody-service/internal/service"
)

// Handler — единый обработчик всех endpoints custody-service.
type Handler struct {
	ingestSvc   *service.IngestService
	relocateSvc *service.RelocateService
	retrieveSvc *service.RetrieveService
	accessSvc   *service.AccessService
	querySvc    *service.QueryService
	health      *HealthHandler
	maxPageSize int
	logger      *slog.Logger
}

// NewHandler создаёт единый обработчик.
// maxPageSize — предел размера страницы, тот же, что применяет реестр.
func NewHandler(
	ingestSvc *service.IngestService,
	relocateSvc *service.RelocateService,
	retrieveSvc *service.RetrieveService,
	accessSvc *service.AccessService,
	querySvc *service.QueryService,
	health *HealthHandler,
	maxPageSize int,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ingestSvc:   ingestSvc,
		relocateSvc: relocateSvc,
		retrieveSvc: retrieveSvc,
		accessSvc:   accessSvc,
		querySvc:    querySvc,
		health:      health,
		maxPageSize: maxPageSize,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты на роутере chi.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/evidence", func(r chi.Router) {
			r.Post("/", h.IngestEvidence)
			r.Get("/", h.ListEvidence)

			r.Route("/{file_id}", func(r chi.Router) {
				r.Get("/", h.GetEvidence)
				r.Post("/move", h.MoveEvidence)
				r.Get("/download", h.DownloadEvidence)
				r.Post("/access", h.LogAccess)
				r.Patch("/status", h.UpdateStatus)
			})
		})

		r.Get("/reports/chain-of-custody.csv", h.ExportReport)
	})
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
