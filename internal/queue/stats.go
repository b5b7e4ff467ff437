package queue

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	Conversations int `json:"conversations"`
	Pending       int `json:"pending"`
	InFlight      int `json:"in_flight"`
}

// Len returns the number of conversations currently tracked. Idle
// conversations are not tracked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

// Pending returns the number of tasks for the conversation that have not yet
// settled, including the one in flight.
func (m *Manager) Pending(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return 0
	}
	n := len(c.tasks)
	if c.inFlight {
		n++
	}
	return n
}

// Stats is used by the metrics handler and the queue gauges.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Conversations: len(m.conversations)}
	for _, c := range m.conversations {
		s.Pending += len(c.tasks)
		if c.inFlight {
			s.InFlight++
		}
	}
	return s
}
