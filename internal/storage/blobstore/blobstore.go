// Пакет blobstore — физическое хранение байтов улик.
// Store — интерфейс-коллаборатор ядра (ByteSink): ядро работает только
// с непрозрачными storage ref, семантика ФС полностью скрыта.
// FSStore — реализация на локальном диске: streaming-запись с подсчётом
// дайджеста на лету, атомарный rename, перемещение между директориями локаций.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/gocustody/custody-service/internal/hasher"
)

// WriteResult — результат записи байтов в хранилище.
type WriteResult struct {
	// Ref — непрозрачная ссылка на физическое расположение
	Ref string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — hex-дайджест содержимого
	Checksum string
}

// Store — коллаборатор физического хранения байтов.
// Все операции принимают context: отмена/таймаут прерывает операцию,
// вызывающий код транслирует её в STORAGE_TIMEOUT.
type Store interface {
	// Write записывает поток в локацию и возвращает ref, размер и дайджест.
	Write(ctx context.Context, r io.Reader, originalName, actor, location string) (*WriteResult, error)
	// Open открывает байты по ref для чтения. Вызывающий код обязан закрыть.
	Open(ctx context.Context, ref string) (io.ReadSeekCloser, error)
	// Move перемещает байты в новую локацию и возвращает новый ref.
	Move(ctx context.Context, ref, newLocation string) (string, error)
	// Exists проверяет наличие байтов по ref.
	Exists(ref string) bool
	// Stat возвращает размер и время модификации байтов по ref.
	Stat(ref string) (size int64, modTime time.Time, err error)
	// Remove удаляет байты. Возвращает nil, если байтов уже нет.
	Remove(ref string) error
}

// FSStore — хранилище на локальной файловой системе.
// Ref имеет вид "{location}/{storageName}" относительно dataDir.
type FSStore struct {
	// dataDir — корневая директория хранения (CS_DATA_DIR)
	dataDir string
	// alg — алгоритм дайджеста, считаемого при записи
	alg hasher.Algorithm
}

// New создаёт FSStore. Проверяет и создаёт корневую директорию.
func New(dataDir string, alg hasher.Algorithm) (*FSStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	if _, err := hasher.New(alg); err != nil {
		return nil, err
	}

	return &FSStore{dataDir: dataDir, alg: alg}, nil
}

// Write записывает данные из reader на диск с подсчётом дайджеста на лету.
// Имя файла: {name}_{actor}_{timestamp}_{uuid8}{ext}
//
// Паттерн: temp файл → запись + дайджест → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *FSStore) Write(ctx context.Context, r io.Reader, originalName, actor, location string) (*WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loc := sanitize(location)
	dir := filepath.Join(s.dataDir, loc)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию локации %s: %w", dir, err)
	}

	storageName := generateStorageName(originalName, actor)
	ref := filepath.Join(loc, storageName)
	fullPath := filepath.Join(s.dataDir, ref)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом дайджеста
	h, err := hasher.New(s.alg)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	tee := io.TeeReader(r, h)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &WriteResult{
		Ref:      ref,
		Size:     size,
		Checksum: fmt.Sprintf("%x", h.Sum(nil)),
	}, nil
}

// Open открывает файл по ref для чтения.
func (s *FSStore) Open(ctx context.Context, ref string) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.dataDir, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("байты не найдены: %s: %w", ref, os.ErrNotExist)
		}
		return nil, fmt.Errorf("ошибка открытия %s: %w", ref, err)
	}
	return f, nil
}

// Move перемещает байты в директорию новой локации.
// Возвращает новый ref. Имя файла сохраняется.
func (s *FSStore) Move(ctx context.Context, ref, newLocation string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	loc := sanitize(newLocation)
	newDir := filepath.Join(s.dataDir, loc)
	if err := os.MkdirAll(newDir, 0o750); err != nil {
		return "", fmt.Errorf("не удалось создать директорию локации %s: %w", newDir, err)
	}

	newRef := filepath.Join(loc, filepath.Base(ref))
	if newRef == ref {
		return ref, nil
	}

	oldPath := filepath.Join(s.dataDir, ref)
	newPath := filepath.Join(s.dataDir, newRef)
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("ошибка перемещения %s → %s: %w", ref, newRef, err)
	}

	return newRef, nil
}

// Exists проверяет существование байтов по ref.
func (s *FSStore) Exists(ref string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, ref))
	return err == nil
}

// Stat возвращает размер и время модификации файла.
func (s *FSStore) Stat(ref string) (int64, time.Time, error) {
	info, err := os.Stat(filepath.Join(s.dataDir, ref))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ошибка stat %s: %w", ref, err)
	}
	return info.Size(), info.ModTime(), nil
}

// Remove удаляет байты с диска. Возвращает nil, если байтов уже нет.
func (s *FSStore) Remove(ref string) error {
	err := os.Remove(filepath.Join(s.dataDir, ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", ref, err)
	}
	return nil
}

// DataDir возвращает путь к корневой директории данных.
func (s *FSStore) DataDir() string {
	return s.dataDir
}

// generateStorageName генерирует имя файла для хранения на диске.
// Формат: {name}_{actor}_{timestamp}_{uuid8}{ext}
// Пример: report_u1_20260830150405_a1b2c3d4.pdf
func generateStorageName(originalName, actor string) string {
	ext := filepath.Ext(originalName)
	name := strings.TrimSuffix(filepath.Base(originalName), ext)

	name = sanitize(name)
	who := sanitize(actor)

	// Ограничиваем длину для предотвращения проблем с FS
	if len(name) > 50 {
		name = name[:50]
	}
	if len(who) > 20 {
		who = who[:20]
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	if ext != "" {
		return fmt.Sprintf("%s_%s_%s_%s%s", name, who, ts, uid, ext)
	}
	return fmt.Sprintf("%s_%s_%s_%s", name, who, ts, uid)
}

// sanitize убирает небезопасные символы из строки для использования
// в имени файла или директории. Оставляет буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
