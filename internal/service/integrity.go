// integrity.go — проверка целостности улик перед выдачей и перемещением.
// Дайджест байтов сверяется с fingerprint реестра; успешные проверки
// кэшируются в LRU с TTL по штампу (ref, размер, mtime) — повторное
// хеширование неизменённого файла пропускается.
// Обёртка кэша — hashicorp/golang-lru/v2/expirable.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/hasher"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/blobstore"
)

// Prometheus-метрики проверок целостности.
var (
	integrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_integrity_checks_total",
		Help: "Количество проверок целостности улик по результату.",
	}, []string{"result"})
	integrityCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_integrity_cache_hits_total",
		Help: "Попадания в кэш проверок целостности.",
	})
	integrityCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_integrity_cache_misses_total",
		Help: "Промахи кэша проверок целостности.",
	})
)

// integrityStamp — штамп успешно проверенных байтов.
// Кэш-запись действительна, пока ref, размер и mtime не изменились.
type integrityStamp struct {
	ref     string
	size    int64
	modTime time.Time
}

// IntegrityChecker — проверка соответствия байтов fingerprint'у реестра.
// Любой сбой проверки трактуется как нарушение (fail closed):
// выдача и перемещение блокируются, цепочка события не получает.
type IntegrityChecker struct {
	store  blobstore.Store
	cache  *expirable.LRU[string, integrityStamp]
	logger *slog.Logger
}

// NewIntegrityChecker создаёт проверку целостности.
// cacheSize — максимум записей в кэше, ttl — время жизни записи.
func NewIntegrityChecker(store blobstore.Store, cacheSize int, ttl time.Duration, logger *slog.Logger) *IntegrityChecker {
	return &IntegrityChecker{
		store:  store,
		cache:  expirable.NewLRU[string, integrityStamp](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "integrity_checker")),
	}
}

// Verify сверяет байты записи с fingerprint реестра.
// Возвращает nil при совпадении, MISSING_BYTES при отсутствии байтов,
// INTEGRITY_VIOLATION при расхождении.
func (c *IntegrityChecker) Verify(ctx context.Context, rec *model.CustodyRecord) *OpError {
	if !c.store.Exists(rec.StorageRef) {
		c.logger.Warn("Байты записи отсутствуют в хранилище",
			slog.String("file_id", rec.FileID),
			slog.String("ref", rec.StorageRef),
		)
		return errMissingBytes(rec.FileID)
	}

	size, modTime, err := c.store.Stat(rec.StorageRef)
	if err != nil {
		return mapStorageErr(err, rec.FileID)
	}

	// Кэш-попадание: байты не менялись с последней успешной проверки
	if stamp, ok := c.cache.Get(rec.FileID); ok {
		if stamp.ref == rec.StorageRef && stamp.size == size && stamp.modTime.Equal(modTime) {
			integrityCacheHits.Inc()
			return nil
		}
		// Штамп устарел — инвалидируем и проверяем заново
		c.cache.Remove(rec.FileID)
	}
	integrityCacheMisses.Inc()

	alg, err := hasher.Parse(rec.FingerprintAlg)
	if err != nil {
		return errInternal("Неизвестный алгоритм fingerprint записи")
	}

	f, err := c.store.Open(ctx, rec.StorageRef)
	if err != nil {
		return mapStorageErr(err, rec.FileID)
	}
	defer f.Close()

	ok, err := hasher.Verify(f, rec.Fingerprint, alg)
	if err != nil {
		return mapStorageErr(err, rec.FileID)
	}
	if !ok {
		integrityChecksTotal.WithLabelValues("violation").Inc()
		c.logger.Error("Нарушение целостности",
			slog.String("file_id", rec.FileID),
			slog.String("ref", rec.StorageRef),
			slog.String("expected", rec.Fingerprint),
		)
		return errIntegrity(rec.FileID)
	}

	integrityChecksTotal.WithLabelValues("ok").Inc()
	c.cache.Add(rec.FileID, integrityStamp{ref: rec.StorageRef, size: size, modTime: modTime})
	return nil
}

// Invalidate сбрасывает кэш-запись (после перемещения байтов).
func (c *IntegrityChecker) Invalidate(fileID string) {
	c.cache.Remove(fileID)
}
