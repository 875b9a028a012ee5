package apierrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-session/internal/service"
)

func TestToHTTP_BaseMapping(t *testing.T) {
	tcs := []struct {
		name       string
		in         error
		wantStatus int
		wantCode   string
	}{
		{"bad_request", ErrBadRequest, http.StatusBadRequest, "invalid_argument"},
		{"invalid_email", service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
		{"empty_password", service.ErrEmptyPassword, http.StatusBadRequest, "empty_password"},
		{"weak_password", service.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
		{"email_taken", service.ErrEmailTaken, http.StatusConflict, "email_taken"},
		{"invalid_credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "unauthenticated"},
		{"token_expired", service.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
		{"token_revoked", service.ErrTokenRevoked, http.StatusUnauthorized, "token_revoked"},
		{"invalid_token", service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
		{"canceled", context.Canceled, StatusClientClosedRequest, "canceled"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			gotStatus, resp := ToHTTP(tc.in)
			require.Equal(t, tc.wantStatus, gotStatus)
			require.False(t, resp.Success)
			require.Equal(t, tc.wantCode, resp.Code)
			require.NotEmpty(t, resp.Error)
		})
	}
}

func TestToHTTP_WrappedErrors_AreUnwrapped(t *testing.T) {
	wrapped := fmt.Errorf("service.auth.LoginUser: %w", service.ErrInvalidCredentials)

	gotStatus, resp := ToHTTP(wrapped)
	require.Equal(t, http.StatusUnauthorized, gotStatus)
	require.Equal(t, "unauthenticated", resp.Code)
}

func TestToHTTP_NilError_Returns500Internal(t *testing.T) {
	gotStatus, resp := ToHTTP(nil)
	require.Equal(t, http.StatusInternalServerError, gotStatus)
	require.Equal(t, "internal", resp.Code)
	require.Equal(t, "internal error", resp.Error)
}
