// handlers реализует REST-эндпоинты аутентификации.
// Здесь выполняется только маппинг данных и ошибок доменного слоя (service) в HTTP.
// Вся валидация и бизнес-логика находятся в пакете service.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/service"
)

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	service *service.Service
}

func New(s *service.Service) *Handlers {
	return &Handlers{service: s}
}

// userPayload — представление пользователя на проводе.
type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// authResponse — единый ответ auth-эндпоинтов (контракт фронта):
// success + user + пара токенов; при verify без ротации токены отсутствуют.
type authResponse struct {
	Success         bool         `json:"success"`
	User            *userPayload `json:"user,omitempty"`
	AccessToken     string       `json:"access_token,omitempty"`
	RefreshToken    string       `json:"refresh_token,omitempty"`
	AccessExpiresAt int64        `json:"access_expires_at,omitempty"`
}

func userToPayload(u *models.User) *userPayload {
	if u == nil {
		return nil
	}

	return &userPayload{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
	}
}

func authResponseFrom(u *models.User, pair *models.TokenPair) authResponse {
	resp := authResponse{
		Success: true,
		User:    userToPayload(u),
	}

	if pair != nil {
		resp.AccessToken = pair.AccessToken
		resp.RefreshToken = pair.RefreshToken
		resp.AccessExpiresAt = pair.AccessExpiresAt.Unix()
	}

	return resp
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
