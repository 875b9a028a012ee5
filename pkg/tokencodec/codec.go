// tokencodec — best-effort разбор claims access-токена БЕЗ проверки подписи.
//
// Результат декодирования — подсказка для оптимистичного UI, а не
// доказательство валидности: подпись проверяет только сервер.
// Ошибки разбора не покидают пакет: любой битый вход — это nil/false/expired.
package tokencodec

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims — декодированная полезная нагрузка access-токена.
type Claims struct {
	SubjectID string
	Email     string
	Name      string
	TokenType string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type rawClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// DecodeClaims разбирает средний сегмент токена (base64url JSON).
// Возвращает nil на любом некорректном входе: неверное число сегментов,
// битый base64, битый JSON. Никогда не паникует и не возвращает ошибку.
func DecodeClaims(token string) *Claims {
	if token == "" {
		return nil
	}

	parser := jwt.NewParser()
	var raw rawClaims
	if _, _, err := parser.ParseUnverified(token, &raw); err != nil {
		return nil
	}

	claims := &Claims{
		SubjectID: raw.UserID,
		Email:     raw.Email,
		Name:      raw.Name,
		TokenType: raw.TokenType,
	}

	// uid-claim может отсутствовать у чужих токенов — падаем обратно на sub.
	if claims.SubjectID == "" {
		claims.SubjectID = raw.Subject
	}

	if raw.IssuedAt != nil {
		claims.IssuedAt = raw.IssuedAt.Time
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}

	return claims
}

// IsExpired сравнивает exp с текущим временем.
// Fail-closed: токен, который не удалось декодировать или у которого
// нет exp, считается просроченным.
func IsExpired(token string) bool {
	claims := DecodeClaims(token)
	if claims == nil || claims.ExpiresAt.IsZero() {
		return true
	}

	return !time.Now().Before(claims.ExpiresAt)
}

// HasRequiredClaims — true, только если декодирование удалось и
// идентификатор субъекта присутствует и непуст.
func HasRequiredClaims(token string) bool {
	claims := DecodeClaims(token)
	return claims != nil && claims.SubjectID != ""
}
