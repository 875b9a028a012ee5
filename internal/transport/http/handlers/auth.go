package handlers

import (
	"net/http"

	"github.com/pribylovaa/go-auth-session/internal/transport/http/apierrors"
	"github.com/pribylovaa/go-auth-session/internal/transport/http/middleware"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RegisterUser — POST /auth/register.
func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	pair, user, err := h.service.RegisterUser(r.Context(), in.Email, in.Name, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponseFrom(user, pair))
}

// LoginUser — POST /auth/login.
func (h *Handlers) LoginUser(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	pair, user, err := h.service.LoginUser(r.Context(), in.Email, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponseFrom(user, pair))
}

// VerifyUser — GET /auth/verify.
// Access-токен приходит в Authorization: Bearer, refresh — в X-Refresh-Token.
// Просроченный access при валидном refresh прозрачно ротируется: новая пара
// возвращается в ответе, и клиент обязан её сохранить.
func (h *Handlers) VerifyUser(w http.ResponseWriter, r *http.Request) {
	access, ok := middleware.BearerFromContext(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	refresh := r.Header.Get("X-Refresh-Token")

	user, pair, err := h.service.VerifyUser(r.Context(), access, refresh)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponseFrom(user, pair))
}

// RefreshToken — POST /auth/refresh: явная ротация пары.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(r, &in); err != nil || in.RefreshToken == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	pair, uid, err := h.service.RefreshToken(r.Context(), in.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	resp := authResponseFrom(nil, pair)
	resp.User = &userPayload{ID: uid.String()}
	writeJSON(w, http.StatusOK, resp)
}

// RevokeToken — POST /auth/revoke: отзыв refresh-токена (sign-out).
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var in revokeRequest
	if err := decodeStrict(r, &in); err != nil || in.RefreshToken == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.service.RevokeToken(r.Context(), in.RefreshToken); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Success: true})
}
