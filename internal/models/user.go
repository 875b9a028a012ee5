package models

import (
	"time"

	"github.com/google/uuid"
)

// User — модель пользователя в системе.
// Name может быть пустым: поле опционально при регистрации.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
