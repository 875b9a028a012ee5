package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — данные refresh-токена для управления сессиями.
// В БД хранится только SHA-256 хэш секрета; plaintext существует лишь
// в ответе клиенту в момент выпуска.
type RefreshToken struct {
	RefreshTokenHash string
	UserID           uuid.UUID
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Revoked          bool
}
