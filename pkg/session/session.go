// session — единственный источник истины о состоянии аутентификации клиента
// и единственный компонент, которому разрешено изменять tokenstore в рамках
// переходов сессии.
//
// Схема переходов: Unknown -> Loading -> {Tentative, Confirmed, Unauthenticated};
// Tentative — оптимистичный коммит из локально декодированных claims до ответа
// сервера, Confirmed — состояние, подтверждённое сервером. Выход и вход —
// через SignOut/SignIn, тихая ротация пары не меняет фазу Confirmed.
//
// Сервис создаётся явно и передаётся потребителям (никаких синглтонов уровня
// пакета): тесты конструируют независимые экземпляры.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/go-auth-session/pkg/authclient"
	"github.com/pribylovaa/go-auth-session/pkg/tokencodec"
	"github.com/pribylovaa/go-auth-session/pkg/tokenstore"
)

// Phase — фаза жизненного цикла сессии.
type Phase int

const (
	// PhaseUnknown — состояние ещё не вычислялось.
	PhaseUnknown Phase = iota
	// PhaseLoading — идёт первая проверка, локальных данных нет.
	PhaseLoading
	// PhaseTentative — оптимистичный коммит из локального декодирования,
	// сервер ещё не подтвердил (или недоступен).
	PhaseTentative
	// PhaseConfirmed — сессия подтверждена сервером.
	PhaseConfirmed
	// PhaseUnauthenticated — сессии нет.
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseLoading:
		return "loading"
	case PhaseTentative:
		return "tentative"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseUnauthenticated:
		return "unauthenticated"
	default:
		return "invalid"
	}
}

// User — данные пользователя в состоянии сессии.
// До подтверждения сервером поля заполняются из локальных claims и кэша.
type User struct {
	ID        string
	Email     string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// State — наблюдаемое состояние сессии.
// Инвариант: IsAuthenticated() == true влечёт User != nil.
type State struct {
	Phase Phase
	User  *User
	// Err — отображаемое пользователю сообщение последней ошибки
	// SignIn/SignUp; сбрасывается ClearError.
	Err string
}

// IsAuthenticated — true в фазах Tentative и Confirmed.
func (s State) IsAuthenticated() bool {
	return s.Phase == PhaseTentative || s.Phase == PhaseConfirmed
}

// IsLoading — true, пока состояние ещё не вычислено.
func (s State) IsLoading() bool {
	return s.Phase == PhaseUnknown || s.Phase == PhaseLoading
}

// Client — используемое сервисом подмножество authclient.Client.
// Выделено в интерфейс для подмены в тестах.
type Client interface {
	Login(ctx context.Context, email, password string) (*authclient.AuthResult, error)
	Register(ctx context.Context, email, name, password string) (*authclient.AuthResult, error)
	Verify(ctx context.Context, accessToken, refreshToken string) (*authclient.AuthResult, error)
	Revoke(ctx context.Context, refreshToken string) error
}

var _ Client = (*authclient.Client)(nil)

// defaultRevokeTimeout — таймаут фонового отзыва refresh-токена при SignOut.
const defaultRevokeTimeout = 3 * time.Second

// Service — сервис состояния сессии.
type Service struct {
	client Client
	store  *tokenstore.Store
	log    *slog.Logger

	revokeTimeout time.Duration

	mu    sync.Mutex
	state State
	// epoch — счётчик логических сессий. SignIn/SignOut начинают новую
	// эпоху; отставший in-flight результат прошлой эпохи не коммитится
	// и не может воскресить разлогиненную сессию.
	epoch uint64

	subsMu  sync.Mutex
	subs    map[int]func(State)
	nextSub int

	// storeUnsub — отписка от хранилища; читается/сбрасывается под mu.
	storeUnsub func()
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер (по умолчанию slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRevokeTimeout задаёт таймаут фонового отзыва при SignOut.
func WithRevokeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.revokeTimeout = d
		}
	}
}

// New создаёт сервис сессии поверх клиента API и хранилища токенов.
// Изменение токенов другим процессом (другой "вкладкой") автоматически
// перезапускает CheckAuth.
func New(client Client, store *tokenstore.Store, opts ...Option) *Service {
	s := &Service{
		client:        client,
		store:         store,
		log:           slog.Default(),
		revokeTimeout: defaultRevokeTimeout,
		state:         State{Phase: PhaseUnknown},
		subs:          make(map[int]func(State)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.storeUnsub = store.OnChange(func(tokenstore.Pair) {
		// Уведомление приходит из горутины watcher-а — не блокируем её.
		go s.CheckAuth(context.Background())
	})

	return s
}

// Close отписывает сервис от хранилища. Состояние и токены не трогаются.
// Повторные и конкурентные вызовы безопасны.
func (s *Service) Close() {
	s.mu.Lock()
	unsub := s.storeUnsub
	s.storeUnsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// State возвращает текущее состояние.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe регистрирует подписчика на переходы состояния и возвращает
// функцию отписки. Начальный вызов при подписке не выполняется:
// потребитель сначала читает State().
func (s *Service) Subscribe(fn func(State)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// ClearError сбрасывает сообщение об ошибке без прочих побочных эффектов.
func (s *Service) ClearError() {
	s.mu.Lock()
	if s.state.Err == "" {
		s.mu.Unlock()
		return
	}
	s.state.Err = ""
	st := s.state
	s.mu.Unlock()

	s.notify(st)
}

// CheckAuth вычисляет и коммитит состояние сессии. Идемпотентна и безопасна
// при конкурентных вызовах: коммитит только результаты текущей эпохи,
// последний коммит побеждает.
//
// Шаги:
//  1. синтаксически валидный access-токен — оптимистичный Tentative-коммит
//     из локальных claims и кэшированного снимка (первый рендер не ждёт сети);
//  2. живая верификация на сервере (просроченный access сервер прозрачно
//     ротирует по refresh);
//  3. успех — Confirmed, снимок и ротированная пара сохраняются;
//  4. транзиентный сбой (сеть, таймаут, любой не-401 ответ) — остаёмся на
//     оптимистичном результате, пока локальный exp в будущем (никаких
//     ложных разлогинов из-за сети или misroute);
//  5. отказ в аутентификации (401) — Unauthenticated, хранилище очищается.
func (s *Service) CheckAuth(ctx context.Context) State {
	s.mu.Lock()
	epoch := s.epoch
	if s.state.Phase == PhaseUnknown {
		s.state.Phase = PhaseLoading
	}
	s.mu.Unlock()

	pair := s.store.Pair()

	if !tokencodec.HasRequiredClaims(pair.AccessToken) {
		// Пустая, частичная или синтаксически битая пара — сессии нет.
		// Мусор подчищаем, чтобы не перечитывать его на каждом заходе.
		var mutate func()
		if pair.AccessToken != "" || pair.RefreshToken != "" {
			mutate = s.clearStoredSession
		}
		return s.commit(epoch, State{Phase: PhaseUnauthenticated}, mutate)
	}

	claims := tokencodec.DecodeClaims(pair.AccessToken)
	optimistic := s.optimisticUser(claims)
	s.commit(epoch, State{Phase: PhaseTentative, User: optimistic}, nil)

	res, err := s.client.Verify(ctx, pair.AccessToken, pair.RefreshToken)
	if err != nil {
		if authclient.IsTransient(err) {
			if !tokencodec.IsExpired(pair.AccessToken) {
				// Сервер недостижим, но токен локально ещё жив:
				// сохраняем оптимистичный результат.
				s.log.Warn("verify_transient_failure",
					slog.String("err", err.Error()),
				)
				return s.State()
			}

			// Локально просрочен и подтвердить нечем. Токены не чистим:
			// refresh может быть ещё валиден, когда сервер вернётся.
			return s.commit(epoch, State{Phase: PhaseUnauthenticated}, nil)
		}

		// Отказ сервера: невалидный/просроченный refresh, аккаунт не найден.
		return s.commit(epoch, State{Phase: PhaseUnauthenticated}, s.clearStoredSession)
	}

	user := confirmedUser(res, claims)

	return s.commit(epoch, State{Phase: PhaseConfirmed, User: user}, func() {
		if res.Rotated() {
			_ = s.store.SetPair(tokenstore.Pair{
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
			})
		}
		s.persistSnapshot(user)
	})
}

// SignIn выполняет вход. При отказе сервера выставляет Err и возвращает
// ошибку вызывающему (для инлайн-ошибок формы); хранилище не изменяется.
func (s *Service) SignIn(ctx context.Context, email, password string) error {
	epoch := s.bumpEpoch()

	res, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.setError(displayMessage(err))
		return err
	}

	s.adoptSession(epoch, res)
	return nil
}

// SignUp — регистрация; контракт идентичен SignIn. Отказ по дубликату
// email и слабому паролю — ответственность сервера.
func (s *Service) SignUp(ctx context.Context, email, name, password string) error {
	epoch := s.bumpEpoch()

	res, err := s.client.Register(ctx, email, name, password)
	if err != nil {
		s.setError(displayMessage(err))
		return err
	}

	s.adoptSession(epoch, res)
	return nil
}

// SignOut синхронно очищает токены и снимок, коммитит Unauthenticated и
// best-effort отзывает refresh-токен в фоне: серверный вызов никогда
// не блокирует локальный выход.
func (s *Service) SignOut(ctx context.Context) {
	// Смена эпохи и очистка хранилища — одна критическая секция:
	// отставший verify/login не может вклиниться между ними и
	// записать токены, которые пользователь только что стёр.
	s.mu.Lock()
	s.epoch++
	pair := s.store.Pair()
	s.clearStoredSession()
	s.state = State{Phase: PhaseUnauthenticated}
	st := s.state
	s.mu.Unlock()

	s.notify(st)

	if pair.RefreshToken != "" {
		revokeCtx := context.WithoutCancel(ctx)
		go func() {
			rctx, cancel := context.WithTimeout(revokeCtx, s.revokeTimeout)
			defer cancel()
			if err := s.client.Revoke(rctx, pair.RefreshToken); err != nil {
				s.log.Warn("signout_revoke_failed",
					slog.String("err", err.Error()),
				)
			}
		}()
	}
}

// adoptSession сохраняет выданную сервером пару и коммитит Confirmed.
// Запись пары и снимка идёт через commit: логин, завершившийся после
// SignOut, не оставляет токенов.
func (s *Service) adoptSession(epoch uint64, res *authclient.AuthResult) {
	user := confirmedUser(res, tokencodec.DecodeClaims(res.AccessToken))

	s.commit(epoch, State{Phase: PhaseConfirmed, User: user}, func() {
		if res.Rotated() {
			_ = s.store.SetPair(tokenstore.Pair{
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
			})
		}
		s.persistSnapshot(user)
	})
}

// optimisticUser собирает пользователя из локальных claims и кэшированного
// снимка (снимок может дополнить имя, отсутствующее в claims).
func (s *Service) optimisticUser(claims *tokencodec.Claims) *User {
	user := &User{
		ID:        claims.SubjectID,
		Email:     claims.Email,
		Name:      claims.Name,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}

	if cached, ok := s.store.CachedUser(); ok && cached.ID == user.ID {
		if user.Email == "" {
			user.Email = cached.Email
		}
		if user.Name == "" {
			user.Name = cached.Name
		}
	}

	return user
}

// confirmedUser собирает пользователя из ответа сервера; временные метки
// берутся из claims актуального access-токена.
func confirmedUser(res *authclient.AuthResult, claims *tokencodec.Claims) *User {
	user := &User{}
	if res.User != nil {
		user.ID = res.User.ID
		user.Email = res.User.Email
		user.Name = res.User.Name
	}

	if res.Rotated() {
		claims = tokencodec.DecodeClaims(res.AccessToken)
	}
	if claims != nil {
		if user.ID == "" {
			user.ID = claims.SubjectID
		}
		user.IssuedAt = claims.IssuedAt
		user.ExpiresAt = claims.ExpiresAt
	}

	return user
}

// persistSnapshot сохраняет снимок для оптимистичного первого рендера.
func (s *Service) persistSnapshot(user *User) {
	if user == nil || user.ID == "" {
		return
	}

	_ = s.store.SetCachedUser(&tokenstore.CachedUser{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		IssuedAt:  user.IssuedAt.Unix(),
		ExpiresAt: user.ExpiresAt.Unix(),
	})
}

// clearStoredSession очищает токены и кэшированный снимок.
func (s *Service) clearStoredSession() {
	if err := s.store.Clear(); err != nil {
		s.log.Warn("token_store_clear_failed", slog.String("err", err.Error()))
	}
	_ = s.store.SetCachedUser(nil)
}

// bumpEpoch начинает новую логическую сессию.
func (s *Service) bumpEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.epoch
}

// commit применяет состояние, если эпоха не сменилась с начала операции.
// mutate (если задан) выполняется в той же критической секции, что и
// проверка эпохи: записи в хранилище разделяют решение о коммите и не
// могут пережить SignOut/SignIn, сменившие эпоху. Возвращает фактически
// текущее состояние.
func (s *Service) commit(epoch uint64, st State, mutate func()) State {
	s.mu.Lock()
	if s.epoch != epoch {
		// Отставший результат прошлой эпохи — игнорируем целиком:
		// ни состояние, ни хранилище не трогаются.
		cur := s.state
		s.mu.Unlock()
		return cur
	}
	if mutate != nil {
		mutate()
	}
	s.state = st
	s.mu.Unlock()

	s.notify(st)
	return st
}

// setError выставляет сообщение об ошибке, не меняя фазу.
func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.state.Err = msg
	st := s.state
	s.mu.Unlock()

	s.notify(st)
}

func (s *Service) notify(st State) {
	s.subsMu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// displayMessage — отображаемое сообщение из ошибки клиента API.
func displayMessage(err error) string {
	var apiErr *authclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	return "service unavailable"
}
