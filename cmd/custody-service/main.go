// Точка входа Custody Service — сервиса учёта цепочки владения уликами.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/gocustody/custody-service/internal/api/handlers"
	"github.com/bigkaa/gocustody/custody-service/internal/api/middleware"
	"github.com/bigkaa/gocustody/custody-service/internal/config"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger/fileledger"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger/postgres"
	"github.com/bigkaa/gocustody/custody-service/internal/server"
	"github.com/bigkaa/gocustody/custody-service/internal/service"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/blobstore"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Custody Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("ledger_backend", cfg.LedgerBackend),
		slog.String("hash_algorithm", string(cfg.HashAlgorithm)),
	)

	// --- Инициализация компонентов ---

	// 1. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// WAL recovery: откатываем pending транзакции
	pending, err := walEngine.RecoverPending()
	if err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(pending) > 0 {
		logger.Warn("Обнаружены незавершённые WAL-транзакции, откатываем",
			slog.Int("count", len(pending)),
		)
		for _, entry := range pending {
			if rbErr := walEngine.Rollback(entry.TransactionID); rbErr != nil {
				logger.Error("Ошибка отката WAL-транзакции",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", rbErr.Error()),
				)
			} else {
				logger.Info("WAL-транзакция откачена",
					slog.String("tx_id", entry.TransactionID),
					slog.String("file_id", entry.FileID),
				)
			}
		}
	}

	// Очистка завершённых WAL-записей
	if cleaned, cleanErr := walEngine.CleanCompleted(); cleanErr != nil {
		logger.Warn("Ошибка очистки WAL", slog.String("error", cleanErr.Error()))
	} else if cleaned > 0 {
		logger.Info("Завершённые WAL-записи удалены", slog.Int("count", cleaned))
	}

	// 2. Хранилище байтов
	store, err := blobstore.New(cfg.DataDir, cfg.HashAlgorithm)
	if err != nil {
		logger.Error("Ошибка инициализации blobstore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Реестр custody-записей: file или postgres
	var (
		reg           ledger.Store
		ledgerChecker handlers.ReadinessChecker
	)
	switch cfg.LedgerBackend {
	case config.LedgerBackendPostgres:
		if migErr := postgres.Migrate(cfg, logger); migErr != nil {
			logger.Error("Ошибка миграции базы данных", slog.String("error", migErr.Error()))
			os.Exit(1)
		}
		pool, connErr := postgres.Connect(context.Background(), cfg, logger)
		if connErr != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", connErr.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		reg = postgres.New(pool, cfg.MaxPageSize, logger)
		ledgerChecker = postgres.NewReadinessChecker(pool)
	default:
		fl := fileledger.New(cfg.LedgerDir, cfg.MaxPageSize, logger)
		if loadErr := fl.Load(); loadErr != nil {
			logger.Error("Ошибка загрузки реестра", slog.String("error", loadErr.Error()))
			os.Exit(1)
		}
		updateRecordMetrics(fl)
		reg = fl
	}

	// 4. Сериализация операций и проверка целостности
	locks := service.NewRecordLocks()
	integrity := service.NewIntegrityChecker(store, cfg.IntegrityCacheSize, cfg.IntegrityCacheTTL, logger)
	clock := ledger.SystemClock{}
	idgen := ledger.UUIDGenerator{}

	// 5. Сервисы
	ingestSvc := service.NewIngestService(cfg, walEngine, store, reg, clock, idgen, logger)
	relocateSvc := service.NewRelocateService(walEngine, store, reg, integrity, locks, clock, logger)
	retrieveSvc := service.NewRetrieveService(store, reg, integrity, locks, clock, logger)
	accessSvc := service.NewAccessService(reg, clock, logger)
	querySvc := service.NewQueryService(reg, locks, logger)

	// 6. Handlers
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, ledgerChecker)
	apiHandler := handlers.NewHandler(
		ingestSvc,
		relocateSvc,
		retrieveSvc,
		accessSvc,
		querySvc,
		healthHandler,
		cfg.MaxPageSize,
		logger,
	)

	// 7. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Custody Service остановлен")
}

// updateRecordMetrics обновляет Prometheus метрики записей из реестра.
func updateRecordMetrics(fl *fileledger.Ledger) {
	middleware.RecordsTotal.WithLabelValues(string(model.StatusActive)).Set(float64(fl.CountByStatus(model.StatusActive)))
	middleware.RecordsTotal.WithLabelValues(string(model.StatusArchived)).Set(float64(fl.CountByStatus(model.StatusArchived)))
	middleware.RecordsTotal.WithLabelValues(string(model.StatusDeleted)).Set(float64(fl.CountByStatus(model.StatusDeleted)))
}
