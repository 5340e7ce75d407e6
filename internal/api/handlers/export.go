// export.go — экспорт отчёта chain of custody в CSV.
package handlers

import (
	"encoding/csv"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/gocustody/custody-service/internal/api/errors"
	"github.com/bigkaa/gocustody/custody-service/internal/service"
)

// exportRowsTotal — количество строк, выгруженных в CSV-отчёты.
var exportRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cs_export_rows_total",
	Help: "Общее количество строк, выгруженных в CSV-отчёты chain of custody",
})

// ExportReport обрабатывает GET /api/v1/reports/chain-of-custody.csv.
// Принимает те же фильтры, что и выборка записей; пагинация применяется
// к записям, каждая запись разворачивается в строки по событиям.
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	records, _, opErr := h.querySvc.List(r.Context(), params)
	if opErr != nil {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="chain-of-custody.csv"`)

	cw := csv.NewWriter(w)
	if err := cw.Write(service.ExportHeader); err != nil {
		h.logger.Error("Ошибка записи заголовка CSV", slog.String("error", err.Error()))
		return
	}
	rows := service.FlattenForExport(records)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			h.logger.Error("Ошибка записи строки CSV", slog.String("error", err.Error()))
			return
		}
	}
	cw.Flush()
	exportRowsTotal.Add(float64(len(rows)))

	if err := cw.Error(); err != nil {
		h.logger.Error("Ошибка завершения CSV", slog.String("error", err.Error()))
	}
}
