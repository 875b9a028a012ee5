package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MissingFile_IsEmptyStore(t *testing.T) {
	t.Parallel()

	s := openStore(t, filepath.Join(t.TempDir(), "tokens.json"))

	_, ok := s.Get(KindAccess)
	require.False(t, ok)
	require.Equal(t, Pair{}, s.Pair())
}

func TestSetGet_RoundTrip_AndPersistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	s := openStore(t, path)

	require.NoError(t, s.Set(KindAccess, "at-1"))
	require.NoError(t, s.Set(KindRefresh, "rt-1"))

	v, ok := s.Get(KindAccess)
	require.True(t, ok)
	require.Equal(t, "at-1", v)

	require.Equal(t, Pair{AccessToken: "at-1", RefreshToken: "rt-1"}, s.Pair())

	// Повторное открытие читает то же состояние с диска.
	s2 := openStore(t, path)
	require.Equal(t, Pair{AccessToken: "at-1", RefreshToken: "rt-1"}, s2.Pair())
}

func TestSetPair_WritesBothKeysAtomically(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	s := openStore(t, path)

	require.NoError(t, s.SetPair(Pair{AccessToken: "a", RefreshToken: "r"}))
	require.Equal(t, Pair{AccessToken: "a", RefreshToken: "r"}, s.Pair())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var values map[string]string
	require.NoError(t, json.Unmarshal(raw, &values))
	require.Equal(t, "a", values["access_token"])
	require.Equal(t, "r", values["refresh_token"])
}

func TestClear_RemovesTokens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	s := openStore(t, path)

	require.NoError(t, s.SetPair(Pair{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, s.Clear())

	require.Equal(t, Pair{}, s.Pair())

	_, ok := s.Get(KindAccess)
	require.False(t, ok)

	// Clear по пустому хранилищу — не ошибка.
	require.NoError(t, s.Clear())
}

func TestCachedUser_RoundTrip_AndDelete(t *testing.T) {
	t.Parallel()

	s := openStore(t, filepath.Join(t.TempDir(), "tokens.json"))

	_, ok := s.CachedUser()
	require.False(t, ok)

	u := &CachedUser{
		ID:        "user-1",
		Email:     "user@example.com",
		Name:      "Alice",
		IssuedAt:  100,
		ExpiresAt: 200,
	}
	require.NoError(t, s.SetCachedUser(u))

	got, ok := s.CachedUser()
	require.True(t, ok)
	require.Equal(t, u, got)

	require.NoError(t, s.SetCachedUser(nil))
	_, ok = s.CachedUser()
	require.False(t, ok)
}

func TestOpen_MigratesLegacyAuthToken(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")

	raw, err := json.Marshal(map[string]string{"auth_token": "legacy-at"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	s := openStore(t, path)

	v, ok := s.Get(KindAccess)
	require.True(t, ok)
	require.Equal(t, "legacy-at", v)

	// Легаси-ключ удалён и с диска тоже.
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)

	var values map[string]string
	require.NoError(t, json.Unmarshal(onDisk, &values))
	_, hasLegacy := values["auth_token"]
	require.False(t, hasLegacy)
	require.Equal(t, "legacy-at", values["access_token"])
}

func TestOpen_LegacyDoesNotOverrideExistingAccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")

	raw, err := json.Marshal(map[string]string{
		"auth_token":   "legacy-at",
		"access_token": "modern-at",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	s := openStore(t, path)

	v, ok := s.Get(KindAccess)
	require.True(t, ok)
	require.Equal(t, "modern-at", v)
}

func TestOpen_CorruptFile_TreatedAsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	s := openStore(t, path)
	require.Equal(t, Pair{}, s.Pair())

	// Хранилище работоспособно: запись перетирает мусор.
	require.NoError(t, s.Set(KindAccess, "fresh"))
	v, ok := s.Get(KindAccess)
	require.True(t, ok)
	require.Equal(t, "fresh", v)
}

func TestOnChange_NotifiesOnExternalWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s := openStore(t, path)

	var calls atomic.Int32
	var lastPair atomic.Value
	unsub := s.OnChange(func(p Pair) {
		lastPair.Store(p)
		calls.Add(1)
	})
	defer unsub()

	// Имитация другого процесса: атомарная запись tmp+rename.
	external := map[string]string{
		"access_token":  "ext-at",
		"refresh_token": "ext-rt",
	}
	raw, err := json.Marshal(external)
	require.NoError(t, err)

	tmp := filepath.Join(dir, ".tokens-ext")
	require.NoError(t, os.WriteFile(tmp, raw, 0o600))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	got, _ := lastPair.Load().(Pair)
	require.Equal(t, Pair{AccessToken: "ext-at", RefreshToken: "ext-rt"}, got)

	// Состояние в памяти тоже обновилось.
	require.Equal(t, Pair{AccessToken: "ext-at", RefreshToken: "ext-rt"}, s.Pair())
}

func TestOnChange_SelfWrites_NotDelivered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s := openStore(t, path)

	var calls atomic.Int32
	unsub := s.OnChange(func(Pair) { calls.Add(1) })
	defer unsub()

	require.NoError(t, s.SetPair(Pair{AccessToken: "self-at", RefreshToken: "self-rt"}))

	// Даём watcher-у время доставить событие, если бы оно доставлялось.
	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 0, calls.Load())
}

func TestOnChange_Unsubscribe_StopsDelivery(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	s := openStore(t, path)

	var calls atomic.Int32
	unsub := s.OnChange(func(Pair) { calls.Add(1) })
	unsub()

	raw, err := json.Marshal(map[string]string{"access_token": "x"})
	require.NoError(t, err)
	tmp := filepath.Join(dir, ".tokens-ext")
	require.NoError(t, os.WriteFile(tmp, raw, 0o600))
	require.NoError(t, os.Rename(tmp, path))

	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 0, calls.Load())
}

func TestTwoStores_SeeEachOther(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")

	a := openStore(t, path)
	b := openStore(t, path)

	var notified atomic.Int32
	unsub := b.OnChange(func(Pair) { notified.Add(1) })
	defer unsub()

	require.NoError(t, a.SetPair(Pair{AccessToken: "shared-at", RefreshToken: "shared-rt"}))

	require.Eventually(t, func() bool {
		return notified.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, Pair{AccessToken: "shared-at", RefreshToken: "shared-rt"}, b.Pair())
}
