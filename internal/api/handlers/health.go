// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/gocustody/custody-service/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// ReadinessChecker — внешняя проверка готовности (например, PostgreSQL).
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории байтов (для проверки FS)
	dataDir string
	// walDir — путь к директории WAL
	walDir string
	// ledgerChecker — проверка готовности бэкенда реестра (nil для file)
	ledgerChecker ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// ledgerChecker — nil для file-бэкенда реестра.
func NewHealthHandler(dataDir, walDir string, ledgerChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:       config.Version,
		dataDir:       dataDir,
		walDir:        walDir,
		ledgerChecker: ledgerChecker,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "custody-service",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система, WAL директория, бэкенд реестра.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkDir(h.dataDir)
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	walCheck := h.checkDir(h.walDir)
	if walCheck["status"] != "ok" {
		if overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	checks := map[string]any{
		"filesystem": fsCheck,
		"wal":        walCheck,
	}

	if h.ledgerChecker != nil {
		status, message := h.ledgerChecker.CheckReady()
		checks["ledger"] = map[string]any{
			"status":  status,
			"message": message,
		}
		if status != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "custody-service",
		"checks":    checks,
	})
}

// checkDir проверяет доступность директории на запись.
func (h *HealthHandler) checkDir(dir string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
