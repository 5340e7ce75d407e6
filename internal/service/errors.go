// Пакет service — бизнес-логика custody-service.
// errors.go — типизированная ошибка операций с HTTP-кодом.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	apierrors "github.com/bigkaa/gocustody/custody-service/internal/api/errors"
	"github.com/bigkaa/gocustody/custody-service/internal/ledger"
)

// OpError — ошибка операции жизненного цикла с HTTP-кодом.
// Handler транслирует её в ответ через apierrors.WriteError.
type OpError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Конструкторы типичных ошибок операций ---

func errMissingField(field string) *OpError {
	return &OpError{
		StatusCode: http.StatusBadRequest,
		Code:       apierrors.CodeMissingField,
		Message:    fmt.Sprintf("Отсутствует обязательное поле %s", field),
	}
}

func errValidation(message string) *OpError {
	return &OpError{
		StatusCode: http.StatusBadRequest,
		Code:       apierrors.CodeValidationError,
		Message:    message,
	}
}

func errNotFound(fileID string) *OpError {
	return &OpError{
		StatusCode: http.StatusNotFound,
		Code:       apierrors.CodeNotFound,
		Message:    fmt.Sprintf("Запись %s не найдена", fileID),
	}
}

func errInvalidState(fileID, status string) *OpError {
	return &OpError{
		StatusCode: http.StatusConflict,
		Code:       apierrors.CodeInvalidState,
		Message:    fmt.Sprintf("Операция недопустима для записи %s в статусе %s", fileID, status),
	}
}

func errIntegrity(fileID string) *OpError {
	return &OpError{
		StatusCode: http.StatusConflict,
		Code:       apierrors.CodeIntegrityViolation,
		Message:    fmt.Sprintf("Контрольная сумма записи %s не совпадает с реестром", fileID),
	}
}

func errMissingBytes(fileID string) *OpError {
	return &OpError{
		StatusCode: http.StatusGone,
		Code:       apierrors.CodeMissingBytes,
		Message:    fmt.Sprintf("Байты записи %s отсутствуют в хранилище", fileID),
	}
}

func errInternal(message string) *OpError {
	return &OpError{
		StatusCode: http.StatusInternalServerError,
		Code:       apierrors.CodeInternalError,
		Message:    message,
	}
}

// mapStorageErr транслирует ошибку хранилища или реестра в OpError.
// Отменённый или просроченный контекст — отдельный код STORAGE_TIMEOUT:
// вызывающий может отличить таймаут от отказа записи.
func mapStorageErr(err error, fileID string) *OpError {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &OpError{
			StatusCode: http.StatusGatewayTimeout,
			Code:       apierrors.CodeStorageTimeout,
			Message:    "Операция с хранилищем не уложилась в дедлайн",
		}
	case errors.Is(err, ledger.ErrNotFound):
		return errNotFound(fileID)
	case errors.Is(err, ledger.ErrDuplicateID):
		return &OpError{
			StatusCode: http.StatusConflict,
			Code:       apierrors.CodeDuplicateID,
			Message:    fmt.Sprintf("Запись %s уже существует", fileID),
		}
	default:
		return &OpError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeStorageWriteFailed,
			Message:    "Ошибка операции с хранилищем",
		}
	}
}
