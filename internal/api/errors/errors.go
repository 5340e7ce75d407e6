// Пакет errors — конструкторы стандартных ошибок custody-service.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeMissingField         = "MISSING_FIELD"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
	CodeIntegrityViolation   = "INTEGRITY_VIOLATION"
	CodeMissingBytes         = "MISSING_BYTES"
	CodeStorageWriteFailed   = "STORAGE_WRITE_FAILED"
	CodeStorageTimeout       = "STORAGE_TIMEOUT"
	CodeDuplicateID          = "DUPLICATE_ID"
	CodeUnsupportedAlgorithm = "UNSUPPORTED_ALGORITHM"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// MissingField — 400 отсутствует обязательное поле.
func MissingField(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeMissingField, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// InvalidState — 409 операция недопустима в текущем статусе записи.
func InvalidState(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeInvalidState, message)
}

// IntegrityViolation — 409 контрольная сумма не совпала с реестром.
func IntegrityViolation(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeIntegrityViolation, message)
}

// MissingBytes — 410 запись есть, байты в хранилище отсутствуют.
func MissingBytes(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeMissingBytes, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// StorageTimeout — 504 операция с хранилищем не уложилась в дедлайн.
func StorageTimeout(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGatewayTimeout, CodeStorageTimeout, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
