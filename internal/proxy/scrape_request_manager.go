package proxy

import "sync"

// ScrapeRequestManager tracks scrape requests that were handed to an agent
// and are waiting for its answer, keyed by scrape id.
type ScrapeRequestManager struct {
	requests map[int64]*ScrapeRequest
	mu       sync.RWMutex
}

func NewScrapeRequestManager() *ScrapeRequestManager {
	return &ScrapeRequestManager{
		requests: make(map[int64]*ScrapeRequest),
	}
}

func (m *ScrapeRequestManager) Add(req *ScrapeRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ScrapeID()] = req
}

func (m *ScrapeRequestManager) Get(scrapeID int64) (*ScrapeRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[scrapeID]
	return req, ok
}

func (m *ScrapeRequestManager) Remove(scrapeID int64) (*ScrapeRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[scrapeID]
	if ok {
		delete(m.requests, scrapeID)
	}
	return req, ok
}

// RemoveByAgent removes and returns every in-flight request addressed to agentID.
func (m *ScrapeRequestManager) RemoveByAgent(agentID string) []*ScrapeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []*ScrapeRequest
	for id, req := range m.requests {
		if req.AgentID() == agentID {
			removed = append(removed, req)
			delete(m.requests, id)
		}
	}
	return removed
}

func (m *ScrapeRequestManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}
