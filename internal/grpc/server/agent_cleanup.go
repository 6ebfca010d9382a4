package server

import (
	"log/slog"
	"sync"
	"time"
)

// AgentCleanupService periodically evicts agents that have been inactive
// for longer than maxInactivity.
type AgentCleanupService struct {
	server        *Server
	maxInactivity time.Duration
	pause         time.Duration

	stopCh   chan struct{}
	doneCh   chan struct{}
	startOne sync.Once
	stopOne  sync.Once
}

func NewAgentCleanupService(server *Server, maxInactivity, pause time.Duration) *AgentCleanupService {
	return &AgentCleanupService{
		server:        server,
		maxInactivity: maxInactivity,
		pause:         pause,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func (cs *AgentCleanupService) Start() {
	cs.startOne.Do(func() {
		slog.Info("Starting agent cleanup service",
			"max_inactivity", cs.maxInactivity,
			"pause", cs.pause)
		go cs.run()
	})
}

// Stop ends the loop and waits for it. It is safe to call before Start.
func (cs *AgentCleanupService) Stop() {
	cs.stopOne.Do(func() {
		close(cs.stopCh)
	})
	started := true
	cs.startOne.Do(func() { started = false })
	if started {
		<-cs.doneCh
	}
}

func (cs *AgentCleanupService) run() {
	defer close(cs.doneCh)

	ticker := time.NewTicker(cs.pause)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cs.removeStaleAgents()
		case <-cs.stopCh:
			return
		}
	}
}

func (cs *AgentCleanupService) removeStaleAgents() int {
	evicted := 0
	for _, ac := range cs.server.agentContextManager.AgentContexts() {
		inactivity := ac.InactivityDuration()
		if inactivity <= cs.maxInactivity {
			continue
		}

		slog.Warn("Removing stale agent",
			"agent_id", ac.AgentID(),
			"agent_name", ac.AgentName(),
			"remote_addr", ac.RemoteAddr(),
			"inactivity", inactivity.Round(time.Millisecond))

		if cs.server.EvictAgent(ac.AgentID(), "inactivity") {
			evicted++
		}
	}
	return evicted
}
