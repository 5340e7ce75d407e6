package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/gocustody/custody-service/internal/config"
	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers,
// применяет миграции и возвращает pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("custody_test"),
		tcpostgres.WithUsername("custody"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("CS_DATA_DIR", t.TempDir())
	t.Setenv("CS_WAL_DIR", t.TempDir())
	t.Setenv("CS_LEDGER_BACKEND", "postgres")
	t.Setenv("CS_DB_HOST", host)
	t.Setenv("CS_DB_PORT", port.Port())
	t.Setenv("CS_DB_NAME", "custody_test")
	t.Setenv("CS_DB_USER", "custody")
	t.Setenv("CS_DB_PASSWORD", "test-password")
	t.Setenv("CS_DB_SSLMODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Миграции; повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newTestLedger(t *testing.T) (*Ledger, *pgxpool.Pool) {
	t.Helper()
	pool := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(pool, 1000, logger), pool
}

func baseRecord(fileID string, created time.Time) *model.CustodyRecord {
	return &model.CustodyRecord{
		FileID:          fileID,
		OriginalName:    "a.txt",
		SizeBytes:       1000,
		MediaType:       "text/plain",
		Fingerprint:     "f00d",
		FingerprintAlg:  "sha256",
		StorageRef:      "intake/a.txt",
		CurrentLocation: "intake",
		Status:          model.StatusActive,
		Metadata: model.CaseMetadata{
			CaseID:     "case-1",
			Department: "forensics",
		},
		Events: []model.CustodyEvent{
			{
				Action:    model.ActionUpload,
				Timestamp: created,
				ActorID:   "u1",
				Location:  "intake",
			},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// TestMigrate_CreatesSchema проверяет, что миграции создают таблицы,
// а ReadinessChecker видит живую базу.
func TestMigrate_CreatesSchema(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"custody_records", "custody_events"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	checker := NewReadinessChecker(pool)
	status, msg := checker.CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали ok", status, msg)
	}
}

// TestCreateGet проверяет создание записи с цепочкой и чтение обратно.
func TestCreateGet(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := l.Create(ctx, baseRecord("11111111-1111-1111-1111-111111111111", now)); err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}

	got, err := l.Get(ctx, "11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("ошибка чтения записи: %v", err)
	}
	if got.OriginalName != "a.txt" || got.SizeBytes != 1000 || got.Fingerprint != "f00d" {
		t.Errorf("поля записи не совпадают: %+v", got)
	}
	if got.Metadata.CaseID != "case-1" || got.Metadata.Department != "forensics" {
		t.Errorf("метаданные дела не сохранены: %+v", got.Metadata)
	}
	if len(got.Events) != 1 || got.Events[0].Action != model.ActionUpload {
		t.Fatalf("цепочка должна содержать одно upload-событие: %+v", got.Events)
	}
	if !got.Events[0].Timestamp.Equal(now) {
		t.Errorf("метка времени события: ожидалась %v, получена %v", now, got.Events[0].Timestamp)
	}

	if _, err := l.Get(ctx, "22222222-2222-2222-2222-222222222222"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestCreate_Invariants проверяет дубликат и инварианты цепочки.
func TestCreate_Invariants(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()
	const fileID = "11111111-1111-1111-1111-111111111111"

	if err := l.Create(ctx, baseRecord(fileID, now)); err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}
	if err := l.Create(ctx, baseRecord(fileID, now)); !errors.Is(err, ledger.ErrDuplicateID) {
		t.Errorf("ожидалась ErrDuplicateID, получено: %v", err)
	}

	empty := baseRecord("33333333-3333-3333-3333-333333333333", now)
	empty.Events = nil
	if err := l.Create(ctx, empty); !errors.Is(err, ledger.ErrEmptyChain) {
		t.Errorf("ожидалась ErrEmptyChain, получено: %v", err)
	}

	wrong := baseRecord("44444444-4444-4444-4444-444444444444", now)
	wrong.Events[0].Action = model.ActionMove
	if err := l.Create(ctx, wrong); err == nil {
		t.Error("первое событие не-upload должно отклоняться")
	}
}

// TestAppendEvent проверяет транзакционное добавление события:
// seq по порядку, производное состояние атомарно, updated_at = метка события.
func TestAppendEvent(t *testing.T) {
	l, pool := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	const fileID = "11111111-1111-1111-1111-111111111111"

	if err := l.Create(ctx, baseRecord(fileID, now)); err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}

	newLocation := "vault"
	newRef := "vault/a.txt"
	moveTS := now.Add(time.Minute)
	updated, err := l.AppendEvent(ctx, fileID, model.CustodyEvent{
		Action:    model.ActionMove,
		Timestamp: moveTS,
		ActorID:   "u2",
		Location:  newLocation,
	}, ledger.StateUpdate{
		CurrentLocation: &newLocation,
		StorageRef:      &newRef,
	})
	if err != nil {
		t.Fatalf("ошибка добавления события: %v", err)
	}

	if updated.CurrentLocation != "vault" || updated.StorageRef != "vault/a.txt" {
		t.Errorf("производное состояние не применено: %+v", updated)
	}
	if !updated.UpdatedAt.Equal(moveTS) {
		t.Errorf("updated_at должен быть меткой события: %v != %v", updated.UpdatedAt, moveTS)
	}
	if len(updated.Events) != 2 || updated.Events[1].Action != model.ActionMove {
		t.Fatalf("ожидалась цепочка upload+move: %+v", updated.Events)
	}

	// seq присвоены по порядку
	var maxSeq int
	if err := pool.QueryRow(ctx,
		`SELECT MAX(seq) FROM custody_events WHERE file_id = $1`, fileID).Scan(&maxSeq); err != nil {
		t.Fatalf("ошибка чтения seq: %v", err)
	}
	if maxSeq != 1 {
		t.Errorf("ожидался max seq 1, получен %d", maxSeq)
	}

	// Неизвестная запись
	if _, err := l.AppendEvent(ctx, "22222222-2222-2222-2222-222222222222", model.CustodyEvent{
		Action:    model.ActionAccess,
		Timestamp: now,
		ActorID:   "u1",
		Location:  "intake",
	}, ledger.StateUpdate{}); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestAppendEvent_MonotonicTimestamps проверяет приведение метки времени
// к неубывающей: событие из прошлого не может встать раньше предыдущего.
func TestAppendEvent_MonotonicTimestamps(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	const fileID = "11111111-1111-1111-1111-111111111111"

	if err := l.Create(ctx, baseRecord(fileID, now)); err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}

	past := now.Add(-time.Hour)
	updated, err := l.AppendEvent(ctx, fileID, model.CustodyEvent{
		Action:    model.ActionAccess,
		Timestamp: past,
		ActorID:   "u2",
		Location:  "intake",
	}, ledger.StateUpdate{})
	if err != nil {
		t.Fatalf("ошибка добавления события: %v", err)
	}

	last := updated.LastEvent()
	if last.Timestamp.Before(updated.Events[0].Timestamp) {
		t.Errorf("метка времени должна быть приведена к неубывающей: %v < %v",
			last.Timestamp, updated.Events[0].Timestamp)
	}
}

// TestUpdateStatus проверяет административное изменение статуса.
func TestUpdateStatus(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()
	const fileID = "11111111-1111-1111-1111-111111111111"

	if err := l.Create(ctx, baseRecord(fileID, now)); err != nil {
		t.Fatalf("ошибка создания записи: %v", err)
	}

	updated, err := l.UpdateStatus(ctx, fileID, model.StatusArchived)
	if err != nil {
		t.Fatalf("ошибка изменения статуса: %v", err)
	}
	if updated.Status != model.StatusArchived {
		t.Errorf("ожидался статус archived, получен %s", updated.Status)
	}
	// Статус — не событие цепочки
	if len(updated.Events) != 1 {
		t.Errorf("изменение статуса не должно добавлять событий: %d", len(updated.Events))
	}

	if _, err := l.UpdateStatus(ctx, "22222222-2222-2222-2222-222222222222", model.StatusDeleted); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// seedListFixture создаёт n записей с чередующимися отделами и статусами.
func seedListFixture(t *testing.T, l *Ledger, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		rec := baseRecord(fmt.Sprintf("00000000-0000-0000-0000-%012d", i), base.Add(time.Duration(i)*time.Hour))
		rec.OriginalName = fmt.Sprintf("e%03d.txt", i)
		rec.SizeBytes = int64(100 * (i + 1))
		if i%2 == 1 {
			rec.Metadata.Department = "cybercrime"
		}
		if i%5 == 4 {
			rec.Status = model.StatusArchived
		}
		if err := l.Create(ctx, rec); err != nil {
			t.Fatalf("ошибка создания записи %d: %v", i, err)
		}
	}
}

// TestList проверяет фильтры, сортировку и точность пагинации.
func TestList(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	seedListFixture(t, l, 20)

	// Фильтр по статусу и отделу
	archived := model.StatusArchived
	_, total, err := l.List(ctx, ledger.ListParams{Status: &archived})
	if err != nil {
		t.Fatalf("ошибка выборки: %v", err)
	}
	if total != 4 {
		t.Errorf("ожидалось 4 архивных записи, получено %d", total)
	}

	dept := "forensics"
	_, total, err = l.List(ctx, ledger.ListParams{Department: &dept})
	if err != nil {
		t.Fatalf("ошибка выборки: %v", err)
	}
	if total != 10 {
		t.Errorf("ожидалось 10 записей forensics, получено %d", total)
	}

	// Диапазон дат включительно: часы 2..5 — 4 записи
	from := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	_, total, err = l.List(ctx, ledger.ListParams{CreatedFrom: &from, CreatedTo: &to})
	if err != nil {
		t.Fatalf("ошибка выборки: %v", err)
	}
	if total != 4 {
		t.Errorf("ожидалось 4 записи в диапазоне, получено %d", total)
	}

	// Пагинация: конкатенация страниц даёт каждый file_id ровно один раз
	seen := make(map[string]bool)
	for page := 1; ; page++ {
		records, _, err := l.List(ctx, ledger.ListParams{
			SortBy:    ledger.SortByFileID,
			SortOrder: ledger.SortAsc,
			Page:      page,
			PageSize:  6,
		})
		if err != nil {
			t.Fatalf("ошибка выборки страницы %d: %v", page, err)
		}
		if len(records) == 0 {
			break
		}
		if len(records) > 6 {
			t.Fatalf("страница %d больше запрошенного размера: %d", page, len(records))
		}
		var prev string
		for _, rec := range records {
			if seen[rec.FileID] {
				t.Errorf("запись %s встретилась дважды", rec.FileID)
			}
			seen[rec.FileID] = true
			if prev != "" && rec.FileID < prev {
				t.Error("нарушен порядок сортировки file_id asc")
			}
			prev = rec.FileID
		}
	}
	if len(seen) != 20 {
		t.Errorf("ожидалось 20 уникальных записей на всех страницах, получено %d", len(seen))
	}

	// Сортировка по размеру по убыванию
	records, _, err := l.List(ctx, ledger.ListParams{
		SortBy:    ledger.SortBySizeBytes,
		SortOrder: ledger.SortDesc,
		PageSize:  5,
	})
	if err != nil {
		t.Fatalf("ошибка выборки: %v", err)
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].SizeBytes < records[i].SizeBytes {
			t.Error("нарушен порядок сортировки size_bytes desc")
		}
	}
}
