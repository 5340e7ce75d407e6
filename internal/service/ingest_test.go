package service

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	apierrors "github.com/bigkaa/gocustody/custody-service/internal/api/errors"
	"github.com/bigkaa/gocustody/custody-service/internal/config"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/hasher"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger/fileledger"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/blobstore"
	"github.com/bigkaa/gocustody/custody-service/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testEnv — общее тестовое окружение сервисного слоя.
type testEnv struct {
	cfg       *config.Config
	walEngine *wal.WAL
	store     *blobstore.FSStore
	reg       *fileledger.Ledger
	locks     *RecordLocks
	integrity *IntegrityChecker
	clock     ledger.Clock
	idgen     ledger.IDGenerator
}

// setupEnv создаёт окружение: blobstore, WAL и file-реестр во временных директориях.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	cfg := &config.Config{
		DataDir:            t.TempDir(),
		WALDir:             t.TempDir(),
		LedgerDir:          t.TempDir(),
		DefaultLocation:    "intake",
		HashAlgorithm:      hasher.AlgSHA256,
		MaxFileSize:        1 << 20,
		MaxPageSize:        1000,
		IntegrityCacheSize: 16,
		IntegrityCacheTTL:  time.Minute,
	}

	store, err := blobstore.New(cfg.DataDir, cfg.HashAlgorithm)
	if err != nil {
		t.Fatalf("ошибка создания blobstore: %v", err)
	}

	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	reg := fileledger.New(cfg.LedgerDir, cfg.MaxPageSize, logger)
	if err := reg.Load(); err != nil {
		t.Fatalf("ошибка загрузки реестра: %v", err)
	}

	return &testEnv{
		cfg:       cfg,
		walEngine: walEngine,
		store:     store,
		reg:       reg,
		locks:     NewRecordLocks(),
		integrity: NewIntegrityChecker(store, cfg.IntegrityCacheSize, cfg.IntegrityCacheTTL, logger),
		clock:     ledger.SystemClock{},
		idgen:     ledger.UUIDGenerator{},
	}
}

func (e *testEnv) ingestService() *IngestService {
	return NewIngestService(e.cfg, e.walEngine, e.store, e.reg, e.clock, e.idgen, testLogger())
}

// ingestFile принимает тестовую улику и возвращает её запись.
func (e *testEnv) ingestFile(t *testing.T, content, name, actor string) *model.CustodyRecord {
	t.Helper()
	rec, opErr := e.ingestService().Ingest(context.Background(), IngestParams{
		Reader:       strings.NewReader(content),
		OriginalName: name,
		MediaType:    "text/plain",
		Size:         int64(len(content)),
		ActorID:      actor,
	})
	if opErr != nil {
		t.Fatalf("ошибка приёма улики: %v", opErr)
	}
	return rec
}

// TestIngest проверяет полный цикл приёма: байты, fingerprint, upload-событие.
func TestIngest(t *testing.T) {
	env := setupEnv(t)
	content := "вещественное доказательство"

	rec := env.ingestFile(t, content, "evidence.txt", "officer-1")

	if rec.FileID == "" {
		t.Fatal("file_id не должен быть пустым")
	}
	if rec.SizeBytes != int64(len(content)) {
		t.Errorf("ожидался размер %d, получен %d", len(content), rec.SizeBytes)
	}
	if rec.Status != model.StatusActive {
		t.Errorf("ожидался статус active, получен %s", rec.Status)
	}
	if rec.CurrentLocation != "intake" {
		t.Errorf("ожидалась локация по умолчанию intake, получена %s", rec.CurrentLocation)
	}

	// Цепочка: ровно одно upload-событие на нулевой позиции
	if len(rec.Events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(rec.Events))
	}
	if rec.Events[0].Action != model.ActionUpload {
		t.Errorf("первое событие должно быть upload, получено %s", rec.Events[0].Action)
	}
	if rec.Events[0].ActorID != "officer-1" {
		t.Errorf("ожидался актор officer-1, получен %s", rec.Events[0].ActorID)
	}

	// Fingerprint совпадает с дайджестом содержимого
	digest, err := hasher.Digest(strings.NewReader(content), hasher.AlgSHA256)
	if err != nil {
		t.Fatalf("ошибка вычисления дайджеста: %v", err)
	}
	if rec.Fingerprint != digest {
		t.Errorf("fingerprint %s не совпадает с дайджестом %s", rec.Fingerprint, digest)
	}

	// Байты на месте
	if !env.store.Exists(rec.StorageRef) {
		t.Error("байты улики должны существовать в хранилище")
	}

	// Запись читается из реестра
	got, err := env.reg.Get(context.Background(), rec.FileID)
	if err != nil {
		t.Fatalf("ошибка чтения записи: %v", err)
	}
	if got.Fingerprint != rec.Fingerprint {
		t.Error("запись реестра не совпадает с результатом приёма")
	}
}

// TestIngest_MissingActor проверяет отказ при отсутствии актора.
func TestIngest_MissingActor(t *testing.T) {
	env := setupEnv(t)

	_, opErr := env.ingestService().Ingest(context.Background(), IngestParams{
		Reader:       strings.NewReader("data"),
		OriginalName: "a.txt",
		Size:         4,
	})
	if opErr == nil {
		t.Fatal("ожидалась ошибка при отсутствии актора")
	}
	if opErr.StatusCode != http.StatusBadRequest || opErr.Code != apierrors.CodeMissingField {
		t.Errorf("ожидался 400 MISSING_FIELD, получено %d %s", opErr.StatusCode, opErr.Code)
	}

	// Запись не создана
	if env.reg.Count() != 0 {
		t.Error("реестр должен остаться пустым")
	}
}

// TestIngest_MissingName проверяет отказ при отсутствии имени файла.
func TestIngest_MissingName(t *testing.T) {
	env := setupEnv(t)

	_, opErr := env.ingestService().Ingest(context.Background(), IngestParams{
		Reader:  strings.NewReader("data"),
		ActorID: "officer-1",
		Size:    4,
	})
	if opErr == nil {
		t.Fatal("ожидалась ошибка при отсутствии имени файла")
	}
	if opErr.Code != apierrors.CodeMissingField {
		t.Errorf("ожидался код MISSING_FIELD, получен %s", opErr.Code)
	}
}

// TestIngest_FileTooLarge проверяет лимит размера.
func TestIngest_FileTooLarge(t *testing.T) {
	env := setupEnv(t)
	env.cfg.MaxFileSize = 10

	_, opErr := env.ingestService().Ingest(context.Background(), IngestParams{
		Reader:       strings.NewReader("slishkom bolshoy fail"),
		OriginalName: "big.bin",
		ActorID:      "officer-1",
		Size:         21,
	})
	if opErr == nil {
		t.Fatal("ожидалась ошибка превышения лимита")
	}
	if opErr.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("ожидался 413, получен %d", opErr.StatusCode)
	}
}

// TestIngest_NoOrphanOnLedgerFailure проверяет отсутствие сирот:
// при отказе реестра байты удаляются, WAL откатывается.
func TestIngest_NoOrphanOnLedgerFailure(t *testing.T) {
	env := setupEnv(t)

	// Реестр с read-only директорией отклонит запись custody-документа
	if err := os.Chmod(env.cfg.LedgerDir, 0o500); err != nil {
		t.Fatalf("ошибка chmod: %v", err)
	}
	defer os.Chmod(env.cfg.LedgerDir, 0o750) //nolint:errcheck

	_, opErr := env.ingestService().Ingest(context.Background(), IngestParams{
		Reader:       strings.NewReader("data"),
		OriginalName: "a.txt",
		ActorID:      "officer-1",
		Size:         4,
	})
	if opErr == nil {
		t.Fatal("ожидалась ошибка при отказе реестра")
	}

	// Байтов в хранилище не осталось
	entries, err := os.ReadDir(env.cfg.DataDir)
	if err != nil {
		t.Fatalf("ошибка чтения директории данных: %v", err)
	}
	for _, entry := range entries {
		sub, err := os.ReadDir(env.cfg.DataDir + "/" + entry.Name())
		if err == nil && len(sub) > 0 {
			t.Errorf("в хранилище остались байты-сироты: %s/%s", entry.Name(), sub[0].Name())
		}
	}

	// Pending-транзакций после отката нет
	pending, err := env.walEngine.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка чтения WAL: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 pending-транзакций, получено %d", len(pending))
	}
}

// TestIngest_UniqueIDs проверяет, что идентификаторы не зависят от содержимого
// и имени: одинаковые файлы получают разные file_id.
func TestIngest_UniqueIDs(t *testing.T) {
	env := setupEnv(t)

	first := env.ingestFile(t, "same content", "same.txt", "officer-1")
	second := env.ingestFile(t, "same content", "same.txt", "officer-1")

	if first.FileID == second.FileID {
		t.Error("одинаковые файлы должны получать разные file_id")
	}
	if first.Fingerprint != second.Fingerprint {
		t.Error("одинаковое содержимое должно давать одинаковый fingerprint")
	}
}
