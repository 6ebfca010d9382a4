package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/leoncaiau912/prometheus-proxy/internal/metrics"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
)

// ScrapePath resolves the agent that announced path and scrapes it.
func (s *Server) ScrapePath(ctx context.Context, path, accept string) (*proxy.ScrapeResults, error) {
	agentID, ok := s.pathManager.GetAgentID(path)
	if !ok {
		s.metrics.ObserveScrape(metrics.OutcomeUnknownPath, 0)
		return nil, fmt.Errorf("path %q: %w", path, proxy.ErrUnknownPath)
	}
	return s.ScrapeAgent(ctx, agentID, path, accept)
}

// ScrapeAgent queues a scrape on the agent's session and waits for the
// answer. Unknown, invalidated and saturated agents fail immediately with
// ErrUnknownAgent, ErrSessionInvalidated and ErrQueueFull.
func (s *Server) ScrapeAgent(ctx context.Context, agentID, path, accept string) (*proxy.ScrapeResults, error) {
	start := time.Now()

	ac, ok := s.agentContextManager.GetAgentContext(agentID)
	if !ok {
		s.metrics.ObserveScrape(metrics.OutcomeUnknownAgent, 0)
		return nil, fmt.Errorf("agent %s: %w", agentID, proxy.ErrUnknownAgent)
	}

	req := proxy.NewScrapeRequest(agentID, proxy.NormalizePath(path), accept)

	s.scrapeRequestManager.Add(req)
	defer func() {
		s.scrapeRequestManager.Remove(req.ScrapeID())
		s.agentContextManager.RemoveChunkedContext(req.ScrapeID())
	}()

	if err := ac.AddToScrapeRequestQueue(req); err != nil {
		if errors.Is(err, proxy.ErrQueueFull) {
			s.metrics.ObserveScrape(metrics.OutcomeQueueFull, 0)
		} else {
			s.metrics.ObserveScrape(metrics.OutcomeInvalidated, 0)
		}
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}

	results, err := req.Wait(ctx, s.config.ScrapeRequestTimeout)
	if err != nil {
		if errors.Is(err, proxy.ErrScrapeTimeout) {
			s.metrics.ObserveScrape(metrics.OutcomeTimeout, 0)
		} else {
			s.metrics.ObserveScrape(metrics.OutcomeCancelled, 0)
		}
		return nil, fmt.Errorf("scrape %d on agent %s: %w", req.ScrapeID(), agentID, err)
	}

	if !results.ValidResponse {
		s.metrics.ObserveScrape(metrics.OutcomeAgentFailure, 0)
		return results, nil
	}

	if results.Zipped {
		content, err := inflate(results.Content)
		if err != nil {
			s.metrics.ObserveScrape(metrics.OutcomeAgentFailure, 0)
			return nil, fmt.Errorf("scrape %d on agent %s: %w", req.ScrapeID(), agentID, err)
		}
		results.Content = content
		results.Zipped = false
	}

	s.metrics.ObserveScrape(metrics.OutcomeSuccess, time.Since(start))
	return results, nil
}

// pendingScrape returns the in-flight request for scrapeID if agentID is the
// agent it was dispatched to.
func (s *Server) pendingScrape(agentID string, scrapeID int64) (*proxy.ScrapeRequest, bool) {
	req, ok := s.scrapeRequestManager.Get(scrapeID)
	if !ok {
		slog.Warn("Message for unknown or expired scrape",
			"agent_id", agentID,
			"scrape_id", scrapeID)
		return nil, false
	}
	if req.AgentID() != agentID {
		slog.Warn("Message for scrape owned by another agent ignored",
			"agent_id", agentID,
			"owner_agent_id", req.AgentID(),
			"scrape_id", scrapeID)
		return nil, false
	}
	return req, true
}

func (s *Server) completeScrape(agentID string, results *proxy.ScrapeResults) {
	if req, ok := s.pendingScrape(agentID, results.ScrapeID); ok {
		req.Complete(results)
	}
}

func (s *Server) failScrape(agentID string, scrapeID int64, err error) {
	if req, ok := s.pendingScrape(agentID, scrapeID); ok {
		req.Fail(err)
	}
}

func inflate(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip content: %w", err)
	}
	defer zr.Close()

	content, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate content: %w", err)
	}
	return content, nil
}
