package proxy

import (
	"sort"
	"strings"
	"sync"
)

// PathManager maps a scrape path to the agent that serves it.
type PathManager struct {
	paths map[string]string
	mu    sync.RWMutex
}

func NewPathManager() *PathManager {
	return &PathManager{
		paths: make(map[string]string),
	}
}

// NormalizePath strips surrounding slashes so "/metrics/" and "metrics" match.
func NormalizePath(path string) string {
	return strings.Trim(path, "/")
}

// AddPath assigns path to agentID and returns the agent that previously
// owned it, if any.
func (pm *PathManager) AddPath(path, agentID string) (string, bool) {
	path = NormalizePath(path)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	previous, ok := pm.paths[path]
	pm.paths[path] = agentID
	return previous, ok && previous != agentID
}

func (pm *PathManager) GetAgentID(path string) (string, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	agentID, ok := pm.paths[NormalizePath(path)]
	return agentID, ok
}

// RemoveByAgent drops every path still owned by agentID and returns them.
func (pm *PathManager) RemoveByAgent(agentID string) []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var removed []string
	for path, owner := range pm.paths {
		if owner == agentID {
			removed = append(removed, path)
			delete(pm.paths, path)
		}
	}
	sort.Strings(removed)
	return removed
}

func (pm *PathManager) Size() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.paths)
}

// Paths returns a snapshot of path -> agent id.
func (pm *PathManager) Paths() map[string]string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	snapshot := make(map[string]string, len(pm.paths))
	for path, agentID := range pm.paths {
		snapshot[path] = agentID
	}
	return snapshot
}
