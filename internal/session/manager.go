package session

import (
	"sort"

	"github.com/google/uuid"

	"github.com/annel0/matta-server/internal/input"
)

// Manager управляет множеством сессий. Доступ идёт только из потока
// симуляции, поэтому блокировки не нужны.
type Manager struct {
	sessions map[uuid.UUID]*Session
	nextSeq  uint64
}

// NewManager создаёт пустой менеджер сессий
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Add создаёт сессию для клиента, прошедшего рукопожатие
func (m *Manager) Add(id uuid.UUID, name string, inputQueueCap int) *Session {
	s := &Session{
		ID:           id,
		Name:         name,
		Inputs:       input.NewBuffer(inputQueueCap),
		Interest:     make(map[uint64]struct{}),
		NeedKeyframe: true,
		joinSeq:      m.nextSeq,
	}
	m.nextSeq++
	m.sessions[id] = s
	return s
}

// Get возвращает сессию клиента или nil
func (m *Manager) Get(id uuid.UUID) *Session {
	return m.sessions[id]
}

// Remove удаляет сессию; возвращает её для финальной очистки
func (m *Manager) Remove(id uuid.UUID) *Session {
	s := m.sessions[id]
	delete(m.sessions, id)
	return s
}

// Len возвращает число активных сессий
func (m *Manager) Len() int { return len(m.sessions) }

// Ordered возвращает сессии в порядке подключения.
// Фиксированный порядок обхода — часть детерминизма тика.
func (m *Manager) Ordered() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinSeq < out[j].joinSeq })
	return out
}
