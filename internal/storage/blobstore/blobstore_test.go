package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/bigkaa/gocustody/custody-service/internal/hasher"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := New(t.TempDir(), hasher.AlgSHA256)
	if err != nil {
		t.Fatalf("ошибка создания FSStore: %v", err)
	}
	return s
}

// TestWrite_ComputesChecksum проверяет запись с подсчётом дайджеста на лету.
func TestWrite_ComputesChecksum(t *testing.T) {
	s := newTestStore(t)
	payload := "evidence payload"

	res, err := s.Write(context.Background(), strings.NewReader(payload), "report.pdf", "u1", "intake")
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if res.Size != int64(len(payload)) {
		t.Errorf("ожидался размер %d, получен %d", len(payload), res.Size)
	}

	expected, err := hasher.Digest(strings.NewReader(payload), hasher.AlgSHA256)
	if err != nil {
		t.Fatalf("ошибка вычисления эталонного дайджеста: %v", err)
	}
	if res.Checksum != expected {
		t.Errorf("ожидался дайджест %s, получен %s", expected, res.Checksum)
	}

	if !strings.HasPrefix(res.Ref, "intake/") {
		t.Errorf("ref должен начинаться с локации: %s", res.Ref)
	}
	if !s.Exists(res.Ref) {
		t.Error("байты должны существовать после записи")
	}

	// Temp файлов остаться не должно
	entries, err := os.ReadDir(s.DataDir() + "/intake")
	if err != nil {
		t.Fatalf("ошибка чтения директории: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался временный файл: %s", e.Name())
		}
	}
}

// TestOpen_ReadsBack проверяет чтение записанных байтов.
func TestOpen_ReadsBack(t *testing.T) {
	s := newTestStore(t)
	payload := "содержимое улики"

	res, err := s.Write(context.Background(), strings.NewReader(payload), "a.txt", "u1", "intake")
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	rc, err := s.Open(context.Background(), res.Ref)
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(data) != payload {
		t.Errorf("ожидалось %q, получено %q", payload, string(data))
	}
}

// TestOpen_NotFound проверяет ошибку для несуществующего ref.
func TestOpen_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Open(context.Background(), "intake/missing.bin")
	if err == nil {
		t.Fatal("ожидалась ошибка для несуществующего ref")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ошибка должна оборачивать os.ErrNotExist: %v", err)
	}
}

// TestMove_ChangesLocation проверяет перемещение байтов между локациями.
func TestMove_ChangesLocation(t *testing.T) {
	s := newTestStore(t)

	res, err := s.Write(context.Background(), strings.NewReader("data"), "a.txt", "u1", "intake")
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	newRef, err := s.Move(context.Background(), res.Ref, "archive")
	if err != nil {
		t.Fatalf("ошибка перемещения: %v", err)
	}

	if !strings.HasPrefix(newRef, "archive/") {
		t.Errorf("новый ref должен быть в archive: %s", newRef)
	}
	if s.Exists(res.Ref) {
		t.Error("байты не должны существовать по старому ref")
	}
	if !s.Exists(newRef) {
		t.Error("байты должны существовать по новому ref")
	}
}

// TestMove_SameLocation проверяет, что перемещение в ту же локацию — no-op.
func TestMove_SameLocation(t *testing.T) {
	s := newTestStore(t)

	res, err := s.Write(context.Background(), strings.NewReader("data"), "a.txt", "u1", "intake")
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	newRef, err := s.Move(context.Background(), res.Ref, "intake")
	if err != nil {
		t.Fatalf("ошибка перемещения: %v", err)
	}
	if newRef != res.Ref {
		t.Errorf("ref не должен измениться: %s != %s", newRef, res.Ref)
	}
	if !s.Exists(res.Ref) {
		t.Error("байты должны остаться на месте")
	}
}

// TestWrite_CancelledContext проверяет отказ при отменённом контексте.
func TestWrite_CancelledContext(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Write(ctx, strings.NewReader("data"), "a.txt", "u1", "intake")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась ошибка context.Canceled, получено: %v", err)
	}
}

// TestSanitize проверяет очистку небезопасных символов.
func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"report", "report"},
		{"../../etc/passwd", "etcpasswd"},
		{"отчёт_2026", "отчёт_2026"},
		{"###", "file"},
	}

	for _, tt := range tests {
		if got := sanitize(tt.input); got != tt.want {
			t.Errorf("sanitize(%q): ожидалось %q, получено %q", tt.input, tt.want, got)
		}
	}
}
