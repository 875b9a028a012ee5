// tokenstore — долговременное хранилище пары токенов и кэшированного
// снимка пользователя, разделяемое несколькими процессами одного клиента.
//
// Хранилище — плоский JSON-файл (аналог браузерного localStorage):
// ключи access_token/refresh_token/cached_user, плюс легаси-ключ auth_token
// прошлой версии схемы, мигрируемый однократно при открытии.
//
// Изменения файла другим процессом наблюдаются через fsnotify и доставляются
// подписчикам OnChange; собственные записи процесса подписчикам не доставляются.
// Дисциплина записи — last write wins, транзакционных гарантий между ключами нет.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Kind — вид хранимого токена.
type Kind string

const (
	// KindAccess — ключ access-токена.
	KindAccess Kind = "access_token"
	// KindRefresh — ключ refresh-токена.
	KindRefresh Kind = "refresh_token"
)

// keyCachedUser — ключ денормализованного снимка пользователя (JSON-строка).
const keyCachedUser = "cached_user"

// keyLegacyAuth — ключ единственного токена из прошлой версии схемы.
// Мигрируется в access_token при открытии хранилища.
const keyLegacyAuth = "auth_token"

// Pair — текущая пара токенов; любой из них может быть пустым.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// CachedUser — денормализованный снимок пользователя для оптимистичного
// первого рендера. Данные сугубо справочные: после живой верификации
// снимок перезаписывается либо удаляется.
type CachedUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	IssuedAt  int64  `json:"issued_at,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// Store — файловое хранилище токенов с наблюдением за внешними изменениями.
type Store struct {
	path string

	mu       sync.Mutex
	values   map[string]string
	lastSeen []byte // последний известный нам сериализованный снимок файла

	subsMu  sync.Mutex
	subs    map[int]func(Pair)
	nextSub int

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// Open читает хранилище по указанному пути (отсутствующий файл — пустое
// хранилище), выполняет миграцию легаси-ключа и запускает наблюдение
// за изменениями файла другими процессами.
func Open(path string) (*Store, error) {
	const op = "tokenstore.Open"

	s := &Store{
		path:   path,
		values: make(map[string]string),
		subs:   make(map[int]func(Pair)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &s.values); jsonErr != nil {
			// Битый файл считаем пустым хранилищем: перезапишется при
			// первом Set, терять сессию из-за него не нужно.
			s.values = make(map[string]string)
		}
		s.lastSeen = raw
	case errors.Is(err, os.ErrNotExist):
		// ок — первый запуск.
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.migrateLegacy(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Следим за каталогом: атомарная запись подменяет файл через rename,
	// и watch на сам файл после этого отваливается.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.watcher = watcher
	go s.watch()

	return s, nil
}

// migrateLegacy — однократный перенос auth_token -> access_token.
// Легаси-значение не перетирает уже существующий access_token.
func (s *Store) migrateLegacy() error {
	legacy, ok := s.values[keyLegacyAuth]
	if !ok {
		return nil
	}

	delete(s.values, keyLegacyAuth)
	if legacy != "" && s.values[string(KindAccess)] == "" {
		s.values[string(KindAccess)] = legacy
	}

	return s.persistLocked()
}

// Get возвращает значение токена и признак его наличия.
func (s *Store) Get(kind Kind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[string(kind)]
	return v, ok && v != ""
}

// Set перезаписывает значение токена.
// Изменение увидят другие процессы через их OnChange; собственные
// подписчики этого процесса уведомлены не будут.
func (s *Store) Set(kind Kind, value string) error {
	const op = "tokenstore.Set"

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[string(kind)] = value
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SetPair записывает оба токена одной записью файла.
func (s *Store) SetPair(p Pair) error {
	const op = "tokenstore.SetPair"

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[string(KindAccess)] = p.AccessToken
	s.values[string(KindRefresh)] = p.RefreshToken
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Pair возвращает текущую пару токенов.
func (s *Store) Pair() Pair {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Pair{
		AccessToken:  s.values[string(KindAccess)],
		RefreshToken: s.values[string(KindRefresh)],
	}
}

// Clear удаляет оба токена и легаси-ключ. Отсутствие файла — не ошибка.
func (s *Store) Clear() error {
	const op = "tokenstore.Clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, string(KindAccess))
	delete(s.values, string(KindRefresh))
	delete(s.values, keyLegacyAuth)
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// CachedUser возвращает снимок пользователя, если он сохранён и разбираем.
func (s *Store) CachedUser() (*CachedUser, bool) {
	s.mu.Lock()
	raw, ok := s.values[keyCachedUser]
	s.mu.Unlock()

	if !ok || raw == "" {
		return nil, false
	}

	var u CachedUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, false
	}

	return &u, true
}

// SetCachedUser сохраняет снимок пользователя; nil удаляет его.
func (s *Store) SetCachedUser(u *CachedUser) error {
	const op = "tokenstore.SetCachedUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	if u == nil {
		delete(s.values, keyCachedUser)
	} else {
		raw, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.values[keyCachedUser] = string(raw)
	}

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// OnChange регистрирует подписчика на внешние изменения пары токенов.
// Возвращает функцию отписки. Порядок доставки относительно состояния
// пишущего процесса не гарантируется; быстрые последовательные записи
// могут быть слиты в одно уведомление.
func (s *Store) OnChange(fn func(Pair)) func() {
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

// Close останавливает наблюдение. Данные на диске не трогаются.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done
	return s.watcher.Close()
}

// persistLocked — атомарная запись файла (tmp + rename). Вызывается под s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.Marshal(s.values)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	s.lastSeen = raw
	return nil
}

// watch — цикл наблюдения за файлом хранилища.
func (s *Store) watch() {
	defer close(s.done)

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.reload()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Ошибки наблюдения не фатальны: следующая успешная
			// доставка события всё равно перечитает файл целиком.
		case <-s.stop:
			return
		}
	}
}

// reload перечитывает файл и уведомляет подписчиков, если содержимое
// изменил не наш процесс.
func (s *Store) reload() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}

	s.mu.Lock()
	if string(raw) == string(s.lastSeen) {
		// Собственная запись либо уже известное состояние.
		s.mu.Unlock()
		return
	}

	values := make(map[string]string)
	if err := json.Unmarshal(raw, &values); err != nil {
		s.mu.Unlock()
		return
	}

	s.values = values
	s.lastSeen = raw
	pair := Pair{
		AccessToken:  values[string(KindAccess)],
		RefreshToken: values[string(KindRefresh)],
	}
	s.mu.Unlock()

	s.subsMu.Lock()
	subs := make([]func(Pair), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(pair)
	}
}
