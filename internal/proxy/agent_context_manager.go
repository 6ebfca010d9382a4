package proxy

import "sync"

// AgentContextManager is the process-wide directory of agent sessions keyed
// by agent id and of chunked transfers keyed by scrape id. Every single
// operation is atomic; sequences of operations are not.
type AgentContextManager struct {
	agentContexts map[string]*AgentContext
	agentMu       sync.RWMutex

	chunkedContexts map[int64]*ChunkedContext
	chunkedMu       sync.RWMutex
}

func NewAgentContextManager() *AgentContextManager {
	return &AgentContextManager{
		agentContexts:   make(map[string]*AgentContext),
		chunkedContexts: make(map[int64]*ChunkedContext),
	}
}

// AddAgentContext registers ac under its agent id, replacing any previous
// entry. Ids come from a monotonic generator so a replacement never happens
// in practice.
func (m *AgentContextManager) AddAgentContext(ac *AgentContext) {
	m.agentMu.Lock()
	defer m.agentMu.Unlock()
	m.agentContexts[ac.AgentID()] = ac
}

func (m *AgentContextManager) GetAgentContext(agentID string) (*AgentContext, bool) {
	m.agentMu.RLock()
	defer m.agentMu.RUnlock()
	ac, ok := m.agentContexts[agentID]
	return ac, ok
}

// RemoveAgentContext unregisters the session. It neither invalidates nor
// drains it.
func (m *AgentContextManager) RemoveAgentContext(agentID string) (*AgentContext, bool) {
	m.agentMu.Lock()
	defer m.agentMu.Unlock()
	ac, ok := m.agentContexts[agentID]
	if ok {
		delete(m.agentContexts, agentID)
	}
	return ac, ok
}

func (m *AgentContextManager) AgentContextSize() int {
	m.agentMu.RLock()
	defer m.agentMu.RUnlock()
	return len(m.agentContexts)
}

// AgentContexts returns a snapshot of the registered sessions.
func (m *AgentContextManager) AgentContexts() []*AgentContext {
	m.agentMu.RLock()
	defer m.agentMu.RUnlock()

	contexts := make([]*AgentContext, 0, len(m.agentContexts))
	for _, ac := range m.agentContexts {
		contexts = append(contexts, ac)
	}
	return contexts
}

// TotalAgentScrapeRequestBacklogSize sums the backlog of a snapshot of the
// sessions. Under concurrent traffic each term may come from a slightly
// different moment.
func (m *AgentContextManager) TotalAgentScrapeRequestBacklogSize() int {
	total := 0
	for _, ac := range m.AgentContexts() {
		total += ac.ScrapeRequestBacklogSize()
	}
	return total
}

func (m *AgentContextManager) AddChunkedContext(scrapeID int64, cc *ChunkedContext) {
	m.chunkedMu.Lock()
	defer m.chunkedMu.Unlock()
	m.chunkedContexts[scrapeID] = cc
}

func (m *AgentContextManager) GetChunkedContext(scrapeID int64) (*ChunkedContext, bool) {
	m.chunkedMu.RLock()
	defer m.chunkedMu.RUnlock()
	cc, ok := m.chunkedContexts[scrapeID]
	return cc, ok
}

func (m *AgentContextManager) RemoveChunkedContext(scrapeID int64) (*ChunkedContext, bool) {
	m.chunkedMu.Lock()
	defer m.chunkedMu.Unlock()
	cc, ok := m.chunkedContexts[scrapeID]
	if ok {
		delete(m.chunkedContexts, scrapeID)
	}
	return cc, ok
}

// RemoveChunkedContextsByAgent drops every chunked transfer opened by agentID
// and returns how many were removed.
func (m *AgentContextManager) RemoveChunkedContextsByAgent(agentID string) int {
	m.chunkedMu.Lock()
	defer m.chunkedMu.Unlock()

	removed := 0
	for scrapeID, cc := range m.chunkedContexts {
		if cc.Header().AgentID == agentID {
			delete(m.chunkedContexts, scrapeID)
			removed++
		}
	}
	return removed
}

func (m *AgentContextManager) ChunkedContextSize() int {
	m.chunkedMu.RLock()
	defer m.chunkedMu.RUnlock()
	return len(m.chunkedContexts)
}
