// Package session управляет короткоживущими сессиями игроков.
//
// Сессия — непрозрачный токен, авторизующий обновления позиции одного
// игрока. Позиции активных сессий служат якорями загрузки чанков мира.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/vec"
)

// Timeout — время жизни сессии без обновлений.
const Timeout = 5 * time.Second

// tokenBytes задаёт энтропию токена: 16 байт = 128 бит.
const tokenBytes = 16

// Session представляет активную сессию игрока.
type Session struct {
	Token       string
	PlayerName  string
	EntityID    uint64
	LastRefresh time.Time
	Position    vec.PrecisePos
}

// Manager хранит активные сессии и проверяет их срок жизни.
// Истечение проверяется лениво при каждом обращении; кроме того,
// периодический RunCleanup удаляет истёкшие записи.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
}

// NewManager создаёт менеджер сессий со стандартным таймаутом.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		timeout:  Timeout,
	}
}

// generateToken возвращает случайный hex-токен с энтропией 128 бит.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ошибка генерации токена: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create создаёт новую сессию и возвращает её токен.
// При маловероятной коллизии токена генерация повторяется.
func (m *Manager) Create(playerName string, entityID uint64, pos vec.PrecisePos) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		if _, exists := m.sessions[token]; exists {
			continue
		}

		m.sessions[token] = &Session{
			Token:       token,
			PlayerName:  playerName,
			EntityID:    entityID,
			LastRefresh: time.Now(),
			Position:    pos,
		}
		return token, nil
	}
}

// expired проверяет истечение без блокировки (вызывается под mu).
func (m *Manager) expired(s *Session) bool {
	return time.Since(s.LastRefresh) >= m.timeout
}

// Refresh продлевает сессию. Возвращает false для неизвестного
// или истёкшего токена.
func (m *Manager) Refresh(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok || m.expired(s) {
		return false
	}
	s.LastRefresh = time.Now()
	return true
}

// UpdatePosition продлевает сессию и сохраняет новую позицию игрока.
func (m *Manager) UpdatePosition(token string, pos vec.PrecisePos) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok || m.expired(s) {
		return false
	}
	s.LastRefresh = time.Now()
	s.Position = pos
	return true
}

// IsValid возвращает true, если токен известен и не истёк.
func (m *Manager) IsValid(token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	return ok && !m.expired(s)
}

// Get возвращает копию сессии по токену.
func (m *Manager) Get(token string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok || m.expired(s) {
		return Session{}, false
	}
	return *s, true
}

// Remove удаляет сессию по токену.
func (m *Manager) Remove(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// RemoveExpired удаляет истёкшие сессии и возвращает их токены,
// чтобы вызывающая сторона могла освободить связанные сущности.
func (m *Manager) RemoveExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for token, s := range m.sessions {
		if m.expired(s) {
			removed = append(removed, token)
			delete(m.sessions, token)
		}
	}
	return removed
}

// ActiveSessions возвращает копии всех живых сессий.
func (m *Manager) ActiveSessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !m.expired(s) {
			result = append(result, *s)
		}
	}
	return result
}

// ActiveCount возвращает число живых сессий.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.sessions {
		if !m.expired(s) {
			n++
		}
	}
	return n
}

// RunCleanup запускает периодическую очистку истёкших сессий до отмены
// контекста. onExpired (может быть nil) получает токены удалённых сессий.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration, onExpired func([]string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.RemoveExpired(); len(removed) > 0 && onExpired != nil {
				onExpired(removed)
			}
		}
	}
}
