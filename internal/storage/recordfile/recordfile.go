// Пакет recordfile — чтение и запись документов реестра (custody.json).
// Каждая запись реестра хранится в отдельном файле {file_id}.custody.json,
// который является единственным источником истины для file-бэкенда.
// Все операции записи выполняются атомарно: temp → fsync → rename.
package recordfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/gocustody/custody-service/internal/domain/model"
)

// Suffix — суффикс файла записи реестра.
const Suffix = ".custody.json"

// maxRecordFileSize — максимальный допустимый размер custody.json (256 КБ).
// Цепочка событий растёт, но одна запись обязана помещаться в один
// атомарный rename; переполнение — сигнал о деградации данных.
const maxRecordFileSize = 256 * 1024

// Path возвращает путь к custody.json для записи с данным file_id.
func Path(dir, fileID string) string {
	return filepath.Join(dir, fileID+Suffix)
}

// IsRecordFile проверяет, является ли путь файлом записи реестра.
func IsRecordFile(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// Write атомарно записывает запись реестра в custody.json.
// Паттерн: JSON → temp файл → fsync → atomic rename.
// Возвращает ошибку, если сериализованные данные превышают 256 КБ.
func Write(dir string, rec *model.CustodyRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	if len(data) > maxRecordFileSize {
		return fmt.Errorf("размер custody.json (%d байт) превышает максимум (%d байт)", len(data), maxRecordFileSize)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	path := Path(dir, rec.FileID)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает и десериализует запись реестра из custody.json.
func Read(path string) (*model.CustodyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения custody.json %s: %w", path, err)
	}

	var rec model.CustodyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации custody.json %s: %w", path, err)
	}

	return &rec, nil
}

// Delete удаляет custody.json. Возвращает nil, если файла уже нет.
// Ядро записи не удаляет (soft delete); используется только
// при откате незавершённого ingest.
func Delete(dir, fileID string) error {
	err := os.Remove(Path(dir, fileID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления custody.json %s: %w", fileID, err)
	}
	return nil
}

// ScanDir сканирует директорию и возвращает все записи реестра.
// Не рекурсивный. Используется при построении in-memory индекса при старте.
// Невалидные файлы пропускаются.
func ScanDir(dir string) ([]*model.CustodyRecord, error) {
	pattern := filepath.Join(dir, "*"+Suffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	var result []*model.CustodyRecord
	for _, path := range matches {
		rec, err := Read(path)
		if err != nil {
			continue
		}
		result = append(result, rec)
	}

	return result, nil
}
