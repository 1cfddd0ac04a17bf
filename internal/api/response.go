package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/HydJing/conveyor/internal/repo"
)

// ErrorCode — машиночитаемый код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllow ErrorCode = "METHOD_NOT_ALLOWED"
)

// statusByCode — единственное место, где код ошибки привязан к
// HTTP статусу.
var statusByCode = map[ErrorCode]int{
	ErrCodeBadRequest:     http.StatusBadRequest,
	ErrCodeNotFound:       http.StatusNotFound,
	ErrCodeConflict:       http.StatusConflict,
	ErrCodeInvalidState:   http.StatusUnprocessableEntity,
	ErrCodeInternalError:  http.StatusInternalServerError,
	ErrCodeMethodNotAllow: http.StatusMethodNotAllowed,
}

// envelope — единый формат тела ответа.
//
// Успех: {"data": ...}, список: {"data": [...], "total": N},
// ошибка: {"error": {"code": ..., "message": ...}}.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Total int          `json:"total,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail — тело ошибки внутри конверта.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// JSON отправляет произвольное тело с указанным статусом.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Success отправляет 200 с данными ресурса.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{Data: data})
}

// Created отправляет 201 с созданным ресурсом.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, envelope{Data: data})
}

// Accepted отправляет 202: команда принята, результат асинхронный.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, envelope{Data: data})
}

// NoContent отправляет 204 без тела.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет 200 со списком и числом элементов.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, envelope{Data: data, Total: total})
}

// Fail отправляет ошибку; HTTP статус выводится из кода.
func Fail(w http.ResponseWriter, code ErrorCode, message string) {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	JSON(w, status, envelope{Error: &ErrorDetail{Code: code, Message: message}})
}

// Error отправляет ошибку с явным статусом.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, envelope{Error: &ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeConflict, message)
}

func InvalidState(w http.ResponseWriter, message string) {
	Fail(w, ErrCodeInvalidState, message)
}

// InternalError логирует причину и отвечает 500 без деталей:
// внутренние ошибки клиенту не раскрываются.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Fail(w, ErrCodeInternalError, "internal server error")
}

func MethodNotAllowed(w http.ResponseWriter) {
	Fail(w, ErrCodeMethodNotAllow, "method not allowed")
}

// HandleRepoError преобразует ошибку репозитория в HTTP ответ.
// true — ответ записан, обработчику больше делать нечего.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repo.ErrNotFound):
		if notFoundMsg == "" {
			notFoundMsg = "resource not found"
		}
		NotFound(w, notFoundMsg)
	case errors.Is(err, repo.ErrAlreadyExists):
		Conflict(w, err.Error())
	case errors.Is(err, repo.ErrInvalidState):
		InvalidState(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
