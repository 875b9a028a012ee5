// apierrors стандартизирует ответы об ошибках HTTP-слоя.
// На вход принимается ошибка доменного слоя (service), на выход —
// корректный HTTP-статус и безопасное для фронта сообщение.
//
// Маппинг (источник истинности — комментарии к ошибкам пакета service):
//   - ErrInvalidEmail/ErrWeakPassword/ErrEmptyPassword -> 400;
//   - ErrEmailTaken -> 409;
//   - ErrInvalidCredentials/ErrInvalidToken/ErrTokenExpired/ErrTokenRevoked -> 401;
//   - context.Canceled -> 499, context.DeadlineExceeded -> 504;
//   - прочее -> 500 с единым сообщением без утечки деталей.
package apierrors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/go-auth-session/internal/service"
)

// Нестандартный код, часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// ErrBadRequest — локальная ошибка HTTP-слоя: битый JSON/отсутствующие поля.
var ErrBadRequest = errors.New("invalid argument")

// ErrorResponse — единый формат ошибки для фронта.
// Error — человекочитаемое сообщение, которое клиент показывает в форме;
// Code — короткий стабильный код для машиночитаемой обработки;
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTP конвертирует ошибку доменного слоя в HTTP-статус и тело ответа.
// err == nil — программная ошибка вызова: возвращаем 500, чтобы не послать
// "200 OK" с телом ошибки и не маскировать баг.
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := classify(err)
	return status, ErrorResponse{
		Success: false,
		Error:   msg,
		Code:    code,
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func classify(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal", "internal error"

	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"

	case errors.Is(err, service.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid_email", "invalid email format"
	case errors.Is(err, service.ErrEmptyPassword):
		return http.StatusBadRequest, "empty_password", "password is empty"
	case errors.Is(err, service.ErrWeakPassword):
		return http.StatusBadRequest, "weak_password", "password is too weak"

	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "email already taken"

	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthenticated", "invalid credentials"
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired", "token expired"
	case errors.Is(err, service.ErrTokenRevoked):
		return http.StatusUnauthorized, "token_revoked", "token revoked"
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "invalid token"

	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"

	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
