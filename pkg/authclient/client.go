// authclient — типизированный HTTP-клиент auth-эндпоинтов сервиса.
//
// Клиент различает два класса отказов, и это различие — основа политики
// pkg/session:
//   - отказ в аутентификации (*APIError с 401): сервер ответил и явно
//     отверг учётные данные или токены;
//   - транзиентный сбой: сеть/таймаут/5xx/прочие ответы — сервер недостижим
//     или нездоров, про валидность сессии это ничего не говорит.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout — таймаут HTTP-клиента по умолчанию.
const defaultTimeout = 10 * time.Second

// User — данные пользователя, подтверждённые сервером.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// AuthResult — результат успешного auth-вызова.
// Токены пусты, если сервер не выпускал новую пару (verify без ротации).
type AuthResult struct {
	User            *User
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Rotated — true, если сервер вернул новую пару токенов.
func (r *AuthResult) Rotated() bool {
	return r.AccessToken != "" && r.RefreshToken != ""
}

// APIError — явный отказ сервера (rejection).
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsUnauthenticated — сервер отверг учётные данные/токены (HTTP 401).
func IsUnauthenticated(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsTransient — сбой, не говорящий о невалидности сессии: сетевые ошибки,
// таймауты и любой ответ, кроме явного отказа в аутентификации (401).
// Прокси может ответить за лежащий сервер чем угодно — 404, 403,
// html-страницей; разлогинивать пользователя по такому ответу нельзя.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	return !IsUnauthenticated(err)
}

// Client — HTTP-клиент auth API.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (таймауты/транспорт/прокси).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// New создаёт клиент для базового URL вида "http://host:port/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	Success         bool   `json:"success"`
	User            *User  `json:"user,omitempty"`
	AccessToken     string `json:"access_token,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	AccessExpiresAt int64  `json:"access_expires_at,omitempty"`
	Error           string `json:"error,omitempty"`
	Code            string `json:"code,omitempty"`
}

// Login — POST /auth/login.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	const op = "authclient.Login"

	resp, err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return resultFrom(resp), nil
}

// Register — POST /auth/register.
func (c *Client) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	const op = "authclient.Register"

	resp, err := c.do(ctx, http.MethodPost, "/auth/register", registerRequest{Email: email, Name: name, Password: password}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return resultFrom(resp), nil
}

// Verify — GET /auth/verify с Bearer access и X-Refresh-Token.
// Просроченный access при валидном refresh сервер ротирует прозрачно;
// тогда в результате присутствует новая пара (Rotated() == true).
func (c *Client) Verify(ctx context.Context, accessToken, refreshToken string) (*AuthResult, error) {
	const op = "authclient.Verify"

	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	if refreshToken != "" {
		headers["X-Refresh-Token"] = refreshToken
	}

	resp, err := c.do(ctx, http.MethodGet, "/auth/verify", nil, headers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return resultFrom(resp), nil
}

// Refresh — POST /auth/refresh: явная ротация пары.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	const op = "authclient.Refresh"

	resp, err := c.do(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return resultFrom(resp), nil
}

// Revoke — POST /auth/revoke: отзыв refresh-токена.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	const op = "authclient.Revoke"

	if _, err := c.do(ctx, http.MethodPost, "/auth/revoke", refreshRequest{RefreshToken: refreshToken}, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func resultFrom(resp *authResponse) *AuthResult {
	out := &AuthResult{
		User:         resp.User,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if resp.AccessExpiresAt > 0 {
		out.AccessExpiresAt = time.Unix(resp.AccessExpiresAt, 0).UTC()
	}

	return out
}

// do выполняет запрос и разбирает единый конверт ответа.
func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (*authResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var resp authResponse
	// Тело может быть неразборчивым (прокси, html-страница ошибки) —
	// тогда классифицируем только по статусу.
	_ = json.Unmarshal(raw, &resp)

	if httpResp.StatusCode != http.StatusOK || !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return nil, &APIError{
			Status:  httpResp.StatusCode,
			Code:    resp.Code,
			Message: msg,
		}
	}

	return &resp, nil
}
