package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
	"github.com/leoncaiau912/prometheus-proxy/proto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const sendChannelBuffer = 100

type StreamHandler struct {
	server *Server
}

func NewStreamHandler(server *Server) *StreamHandler {
	return &StreamHandler{
		server: server,
	}
}

// HandleStream runs one agent connection: it registers an AgentContext from
// the REGISTER message, then forwards queued scrape requests to the agent and
// routes the agent's answers until the stream ends or the session is
// invalidated.
func (sh *StreamHandler) HandleStream(stream proto.ProxyService_StreamServer) error {
	firstMsg, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("failed to receive first message: %w", err)
	}
	if firstMsg.Type != proto.MessageType_REGISTER {
		return status.Errorf(codes.FailedPrecondition, "first message must be REGISTER, got %s", firstMsg.Type)
	}

	ac := sh.register(stream.Context(), firstMsg)
	defer sh.disconnect(ac)

	ack := &proto.ProxyMessage{
		Id:   uuid.New().String(),
		Type: proto.MessageType_REGISTER_ACK,
		Metadata: map[string]string{
			proto.MetaAgentID: ac.AgentID(),
		},
	}
	if err := stream.Send(ack); err != nil {
		return fmt.Errorf("failed to send register ack: %w", err)
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	sendCh := make(chan *proto.ProxyMessage, sendChannelBuffer)
	errChan := make(chan error, 3)

	go sh.receiveLoop(ctx, ac, stream, sendCh, errChan)
	go sh.sendLoop(ctx, ac, stream, sendCh, errChan)
	go sh.scrapeLoop(ctx, ac, sendCh, errChan)

	err = <-errChan
	cancel()

	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, proxy.ErrSessionInvalidated):
		return status.Error(codes.Unavailable, "agent session invalidated")
	default:
		return err
	}
}

func (sh *StreamHandler) register(ctx context.Context, msg *proto.ProxyMessage) *proxy.AgentContext {
	remoteAddr := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remoteAddr = p.Addr.String()
	}

	cfg := sh.server.config
	ac := proxy.NewAgentContext(remoteAddr, cfg.ScrapeRequestQueueSize, cfg.ScrapeRequestQueueCheck)
	if name := msg.GetMetadata(proto.MetaAgentName); name != "" {
		ac.SetAgentName(name)
	}
	if host := msg.GetMetadata(proto.MetaHostName); host != "" {
		ac.SetHostName(host)
	}

	sh.server.agentContextManager.AddAgentContext(ac)
	sh.server.metrics.IncConnect()

	paths := parsePaths(msg.GetMetadata(proto.MetaPaths))
	for _, path := range paths {
		if previous, replaced := sh.server.pathManager.AddPath(path, ac.AgentID()); replaced {
			slog.Warn("Scrape path taken over by new agent",
				"path", path,
				"agent_id", ac.AgentID(),
				"previous_agent_id", previous)
		}
	}

	slog.Info("Agent registered",
		"agent_id", ac.AgentID(),
		"agent_name", ac.AgentName(),
		"host_name", ac.HostName(),
		"remote_addr", remoteAddr,
		"paths", paths,
		"total_agents", sh.server.agentContextManager.AgentContextSize())

	return ac
}

func (sh *StreamHandler) disconnect(ac *proxy.AgentContext) {
	agentID := ac.AgentID()
	ac.MarkInvalid()
	sh.server.agentContextManager.RemoveAgentContext(agentID)
	sh.server.pathManager.RemoveByAgent(agentID)

	// Requests are registered with the scrape request manager before they
	// are queued, so pending covers queued and in-flight requests alike.
	drained := ac.DrainScrapeRequestQueue()
	pending := sh.server.scrapeRequestManager.RemoveByAgent(agentID)
	for _, req := range append(drained, pending...) {
		sh.server.agentContextManager.RemoveChunkedContext(req.ScrapeID())
		req.Fail(proxy.ErrAgentDisconnected)
	}
	// Covers slots whose scrape already timed out or finished.
	orphaned := sh.server.agentContextManager.RemoveChunkedContextsByAgent(agentID)

	slog.Info("Agent disconnected",
		"agent_id", agentID,
		"agent_name", ac.AgentName(),
		"failed_scrapes", len(pending),
		"dropped_chunked_contexts", orphaned,
		"total_agents", sh.server.agentContextManager.AgentContextSize())
}

func (sh *StreamHandler) scrapeLoop(ctx context.Context, ac *proxy.AgentContext, sendCh chan<- *proto.ProxyMessage, errChan chan<- error) {
	for {
		if !ac.IsValid() {
			errChan <- proxy.ErrSessionInvalidated
			return
		}

		req, ok := ac.PollScrapeRequestQueue(ctx)
		if ctx.Err() != nil {
			if ok {
				req.Fail(proxy.ErrAgentDisconnected)
			}
			return
		}
		if !ok {
			continue
		}

		msg := &proto.ProxyMessage{
			Id:       uuid.New().String(),
			Type:     proto.MessageType_SCRAPE_REQUEST,
			ScrapeId: req.ScrapeID(),
			Metadata: map[string]string{
				proto.MetaAgentID: ac.AgentID(),
				proto.MetaPath:    req.Path(),
				proto.MetaAccept:  req.Accept(),
			},
		}

		select {
		case sendCh <- msg:
			slog.Debug("Scrape request dispatched", "agent_id", ac.AgentID(), "scrape_id", req.ScrapeID(), "path", req.Path())
		case <-ctx.Done():
			req.Fail(proxy.ErrAgentDisconnected)
			return
		}
	}
}

func (sh *StreamHandler) receiveLoop(ctx context.Context, ac *proxy.AgentContext, stream proto.ProxyService_StreamServer, sendCh chan<- *proto.ProxyMessage, errChan chan<- error) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				slog.Error("Error receiving message", "agent_id", ac.AgentID(), "error", err)
			}
			errChan <- err
			return
		}

		slog.Debug("Message received", "agent_id", ac.AgentID(), "message_id", msg.Id, "type", msg.Type)

		ac.MarkActivity()

		if err := sh.processMessage(ctx, ac, msg, sendCh); err != nil {
			slog.Error("Failed to process message", "agent_id", ac.AgentID(), "type", msg.Type, "error", err)
		}
	}
}

func (sh *StreamHandler) sendLoop(ctx context.Context, ac *proxy.AgentContext, stream proto.ProxyService_StreamServer, sendCh <-chan *proto.ProxyMessage, errChan chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sendCh:
			slog.Debug("Sending message", "agent_id", ac.AgentID(), "message_id", msg.Id, "type", msg.Type)

			if err := stream.Send(msg); err != nil {
				slog.Error("Error sending message", "agent_id", ac.AgentID(), "error", err)
				errChan <- err
				return
			}
		}
	}
}

func (sh *StreamHandler) processMessage(ctx context.Context, ac *proxy.AgentContext, msg *proto.ProxyMessage, sendCh chan<- *proto.ProxyMessage) error {
	switch msg.Type {
	case proto.MessageType_PING:
		pong := &proto.ProxyMessage{
			Id:       uuid.New().String(),
			Type:     proto.MessageType_PONG,
			Metadata: map[string]string{},
		}
		select {
		case sendCh <- pong:
		case <-ctx.Done():
			return ctx.Err()
		}

	case proto.MessageType_SCRAPE_RESPONSE:
		sh.server.completeScrape(ac.AgentID(), resultsFromMessage(ac.AgentID(), msg))

	case proto.MessageType_CHUNK_HEADER:
		// Slots are only opened for scrapes still waiting on this agent.
		if _, ok := sh.server.pendingScrape(ac.AgentID(), msg.ScrapeId); !ok {
			return nil
		}
		header := chunkHeaderFromMessage(ac.AgentID(), msg)
		sh.server.agentContextManager.AddChunkedContext(msg.ScrapeId, proxy.NewChunkedContext(header))

	case proto.MessageType_CHUNK_DATA:
		cc, err := sh.chunkedContext(ac, msg.ScrapeId)
		if err != nil {
			return err
		}
		if err := cc.ApplyChunk(msg.Payload, msg.ChunkCount, msg.ByteCount, msg.Checksum); err != nil {
			sh.server.agentContextManager.RemoveChunkedContext(msg.ScrapeId)
			sh.server.failScrape(ac.AgentID(), msg.ScrapeId, err)
			return err
		}

	case proto.MessageType_CHUNK_SUMMARY:
		cc, err := sh.chunkedContext(ac, msg.ScrapeId)
		if err != nil {
			return err
		}
		sh.server.agentContextManager.RemoveChunkedContext(msg.ScrapeId)
		results, err := cc.ApplySummary(msg.ChunkCount, msg.ByteCount, msg.Checksum)
		if err != nil {
			sh.server.failScrape(ac.AgentID(), msg.ScrapeId, err)
			return err
		}
		sh.server.completeScrape(ac.AgentID(), results)

	case proto.MessageType_REGISTER:
		slog.Warn("Duplicate REGISTER ignored", "agent_id", ac.AgentID())

	default:
		slog.Warn("Unknown message type", "agent_id", ac.AgentID(), "type", msg.Type)
	}

	return nil
}

// chunkedContext returns the open slot for scrapeID if ac opened it.
func (sh *StreamHandler) chunkedContext(ac *proxy.AgentContext, scrapeID int64) (*proxy.ChunkedContext, error) {
	cc, ok := sh.server.agentContextManager.GetChunkedContext(scrapeID)
	if !ok {
		return nil, fmt.Errorf("chunk for unknown scrape %d", scrapeID)
	}
	if owner := cc.Header().AgentID; owner != ac.AgentID() {
		return nil, fmt.Errorf("chunk for scrape %d owned by agent %s", scrapeID, owner)
	}
	return cc, nil
}

func parsePaths(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := proxy.NormalizePath(strings.TrimSpace(part)); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func resultsFromMessage(agentID string, msg *proto.ProxyMessage) *proxy.ScrapeResults {
	statusCode, _ := strconv.Atoi(msg.GetMetadata(proto.MetaStatusCode))
	valid, _ := strconv.ParseBool(msg.GetMetadata(proto.MetaValid))
	zipped, _ := strconv.ParseBool(msg.GetMetadata(proto.MetaZipped))

	return &proxy.ScrapeResults{
		AgentID:       agentID,
		ScrapeID:      msg.ScrapeId,
		ValidResponse: valid,
		StatusCode:    statusCode,
		ContentType:   msg.GetMetadata(proto.MetaContentType),
		Zipped:        zipped,
		Content:       msg.Payload,
		FailureReason: msg.GetMetadata(proto.MetaFailureReason),
		URL:           msg.GetMetadata(proto.MetaURL),
	}
}

func chunkHeaderFromMessage(agentID string, msg *proto.ProxyMessage) proxy.ChunkHeader {
	results := resultsFromMessage(agentID, msg)
	return proxy.ChunkHeader{
		ScrapeID:      results.ScrapeID,
		AgentID:       agentID,
		ValidResponse: results.ValidResponse,
		StatusCode:    results.StatusCode,
		ContentType:   results.ContentType,
		Zipped:        results.Zipped,
		URL:           results.URL,
	}
}
