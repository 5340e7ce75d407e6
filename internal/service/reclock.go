// reclock.go — разделяемые per-record блокировки сервисного слоя.
// Relocate и Retrieve выполняют многошаговые последовательности
// (проверка целостности, перемещение байтов, запись события);
// блокировка по file_id сериализует их между собой, чтобы
// предусловия оценивались после завершения конкурента.
package service

import "sync"

// RecordLocks — набор именованных мьютексов, по одному на file_id.
// Мьютексы создаются лениво и не удаляются: количество записей
// в пределах одного процесса ограничено, утечка незначительна.
type RecordLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRecordLocks создаёт набор блокировок.
func NewRecordLocks() *RecordLocks {
	return &RecordLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock блокирует запись и возвращает функцию разблокировки.
func (r *RecordLocks) Lock(fileID string) (unlock func()) {
	r.mu.Lock()
	m, ok := r.locks[fileID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[fileID] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}
