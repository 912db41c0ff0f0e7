// Package session реализует сессионное хранилище клиента: токен,
// идентификатор текущего пользователя и подсказку роли. Хранилище —
// единственное разделяемое состояние клиентских компонентов.
package session

import (
	"encoding/json"
	"sync"
)

// Ключи сессионного хранилища.
const (
	KeyToken    = "token"
	KeyUserID   = "cbid"
	KeyUserRole = "userRole"
)

// Store хранит сессионные значения в формате JSON-строк и рассылает
// сигналы об изменениях подписчикам. Сигналы покрывают и межвкладочные
// события хранилища, и внутренний сигнал «сессия изменилась».
type Store struct {
	mu     sync.RWMutex
	values map[string]string
	subs   []chan struct{}
}

// NewStore создаёт пустое сессионное хранилище.
func NewStore() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

// Get возвращает сырое JSON-значение по ключу.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set записывает сырое значение по ключу и оповещает подписчиков.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.notify()
}

// Remove удаляет значение по ключу и оповещает подписчиков.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	s.notify()
}

// getString возвращает распакованное из JSON строковое значение.
// Некорректное значение трактуется как отсутствующее.
func (s *Store) getString(key string) string {
	raw, ok := s.Get(key)
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return ""
	}
	return v
}

// Token возвращает bearer-токен текущей сессии.
func (s *Store) Token() string {
	return s.getString(KeyToken)
}

// UserID возвращает идентификатор текущего пользователя.
func (s *Store) UserID() string {
	return s.getString(KeyUserID)
}

// Role возвращает подсказку роли, сохранённую при входе. Подсказка
// используется только как запасной вариант, роль подтверждает сервер.
func (s *Store) Role() string {
	return s.getString(KeyUserRole)
}

// SetSession атомарно записывает данные новой сессии и шлёт один сигнал.
func (s *Store) SetSession(token, userID, role string) {
	tokenJSON, _ := json.Marshal(token)
	idJSON, _ := json.Marshal(userID)
	roleJSON, _ := json.Marshal(role)

	s.mu.Lock()
	s.values[KeyToken] = string(tokenJSON)
	s.values[KeyUserID] = string(idJSON)
	s.values[KeyUserRole] = string(roleJSON)
	s.mu.Unlock()
	s.notify()
}

// Clear удаляет данные сессии и шлёт один сигнал.
func (s *Store) Clear() {
	s.mu.Lock()
	delete(s.values, KeyToken)
	delete(s.values, KeyUserID)
	delete(s.values, KeyUserRole)
	s.mu.Unlock()
	s.notify()
}

// Subscribe возвращает канал сигналов об изменении хранилища. Канал
// буферизован на один сигнал: пропущенные повторные сигналы не теряют
// информации, подписчик всё равно перечитает текущее состояние.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
