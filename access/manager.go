package access

import (
	"context"
	"sort"
	"sync"
)

// A Manager keeps at most one live server per processor.
type Manager struct {
	lock    sync.Mutex
	servers map[int]*Server
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{servers: make(map[int]*Server)}
}

// Start stops the server that currently serves the same processor, if any,
// and then starts s. The old server has fully stopped before s binds.
func (m *Manager) Start(ctx context.Context, s *Server) error {
	id := s.Processor().ID()

	m.lock.Lock()
	old := m.servers[id]
	delete(m.servers, id)
	m.lock.Unlock()

	if old != nil {
		old.Stop()
	}

	if err := s.Start(ctx); err != nil {
		return err
	}

	m.lock.Lock()
	m.servers[id] = s
	m.lock.Unlock()

	return nil
}

// Stop stops the server of the processor with the given ID. It returns
// false if there was none.
func (m *Manager) Stop(procID int) bool {
	m.lock.Lock()
	s := m.servers[procID]
	delete(m.servers, procID)
	m.lock.Unlock()

	if s == nil {
		return false
	}

	s.Stop()

	return true
}

// StopAll stops every server.
func (m *Manager) StopAll() {
	m.lock.Lock()
	servers := m.servers
	m.servers = make(map[int]*Server)
	m.lock.Unlock()

	for _, s := range servers {
		s.Stop()
	}
}

// Server returns the server of the processor with the given ID.
func (m *Manager) Server(procID int) (*Server, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	s, ok := m.servers[procID]

	return s, ok
}

// IsRunning reports whether a live server exists for the processor.
func (m *Manager) IsRunning(procID int) bool {
	s, ok := m.Server(procID)
	return ok && s.Running()
}

// Servers returns all managed servers ordered by processor ID.
func (m *Manager) Servers() []*Server {
	m.lock.Lock()
	defer m.lock.Unlock()

	ids := make([]int, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	servers := make([]*Server, 0, len(ids))
	for _, id := range ids {
		servers = append(servers, m.servers[id])
	}

	return servers
}
