package telegram

import (
	"sync"

	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/service"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingAspect
	StateAwaitingPrompt
	StateAwaitingAnalyze
)

// Session is the per-chat conversation state.
type Session struct {
	State       SessionState
	AspectRatio string
	References  []models.ReferenceImage
}

func newSession() *Session {
	return &Session{
		State:       StateIdle,
		AspectRatio: service.DefaultAspectRatio,
		References:  make([]models.ReferenceImage, 0),
	}
}

type StateManager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
	}
}

// Get returns a copy of the chat's session so callers can modify it and
// Set it back.
func (m *StateManager) Get(chatID int64) *Session {
	m.mu.RLock()
	session, ok := m.sessions[chatID]
	m.mu.RUnlock()
	if !ok {
		return newSession()
	}
	cp := *session
	cp.References = append([]models.ReferenceImage(nil), session.References...)
	return &cp
}

func (m *StateManager) Set(chatID int64, session *Session) {
	m.mu.Lock()
	m.sessions[chatID] = session
	m.mu.Unlock()
}

func (m *StateManager) Reset(chatID int64) {
	m.Set(chatID, newSession())
}

func (m *StateManager) ClearReferences(chatID int64) {
	m.mu.Lock()
	if session, ok := m.sessions[chatID]; ok {
		session.References = make([]models.ReferenceImage, 0)
	}
	m.mu.Unlock()
}
