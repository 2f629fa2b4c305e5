package engine

import (
	"errors"
	"sync"

	"marketsim/internal/dao"
	"marketsim/internal/market"
	"marketsim/internal/models"
	"marketsim/internal/stream"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager is the registry of live session engines. Sessions run independent
// timelines; the manager only guards the registry map.
type Manager struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	source     market.Source
	hub        *stream.Hub
	sessionDAO dao.SessionDAOInterface
}

func NewManager(source market.Source, hub *stream.Hub, sessionDAO dao.SessionDAOInterface) *Manager {
	return &Manager{
		engines:    make(map[string]*Engine),
		source:     source,
		hub:        hub,
		sessionDAO: sessionDAO,
	}
}

// Create builds a session in the created state and registers it.
func (m *Manager) Create(params Params) (models.Session, error) {
	e, err := New(params, m.source, m.hub, m.sessionDAO)
	if err != nil {
		return models.Session{}, err
	}
	session := e.Status()

	m.mu.Lock()
	m.engines[session.ID] = e
	m.mu.Unlock()
	return session, nil
}

func (m *Manager) get(sessionID string) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) Start(sessionID string) error {
	e, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return e.Start()
}

func (m *Manager) Pause(sessionID string) error {
	e, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return e.Pause()
}

func (m *Manager) Resume(sessionID string) error {
	e, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return e.Resume()
}

func (m *Manager) Stop(sessionID string) error {
	e, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return e.Stop()
}

func (m *Manager) Status(sessionID string) (models.Session, error) {
	e, err := m.get(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	return e.Status(), nil
}

// List returns snapshots of every registered session.
func (m *Manager) List() []models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]models.Session, 0, len(m.engines))
	for _, e := range m.engines {
		sessions = append(sessions, e.Status())
	}
	return sessions
}

// Delete stops a session if still active, drops its event log and removes
// its record. This is the hard reset: resumability does not survive it.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	e, ok := m.engines[sessionID]
	delete(m.engines, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if e.Status().Status.Active() {
		_ = e.Stop()
	}
	e.Cleanup()
	m.hub.Remove(sessionID)

	if m.sessionDAO != nil {
		return m.sessionDAO.Delete(sessionID)
	}
	return nil
}

// Shutdown stops all active sessions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		if e.Status().Status.Active() {
			_ = e.Stop()
		}
		e.Cleanup()
	}
}
