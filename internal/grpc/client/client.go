package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leoncaiau912/prometheus-proxy/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpctls "github.com/leoncaiau912/prometheus-proxy/internal/grpc/tls"
)

const (
	sendChannelBuffer = 100
	initialDelay      = 1 * time.Second
	maxDelay          = 30 * time.Second
	backoffFactor     = 2
)

var ErrSendChannelFull = errors.New("send channel full")

type Config struct {
	ServerAddress     string
	AgentName         string
	HostName          string
	TLS               *TLSConfig
	PathConfigs       []PathConfig
	ScrapeTimeout     time.Duration
	ChunkSize         int
	MinGzipSize       int
	HeartbeatInterval time.Duration

	// DialOptions are appended after the transport credentials.
	DialOptions []grpc.DialOption
}

type TLSConfig struct {
	Enabled            bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerNameOverride string
}

// Client is the agent side of the proxy stream. It registers its paths,
// keeps the session alive with heartbeats and answers scrape requests.
type Client struct {
	config  Config
	agentID string
	conn    *grpc.ClientConn
	stream  proto.ProxyService_StreamClient

	sendCh chan *proto.ProxyMessage
	stopCh chan struct{}
	doneCh chan struct{}

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	scrapeHandler *ScrapeHandler

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

func NewClient(config Config) *Client {
	if config.HostName == "" {
		config.HostName, _ = os.Hostname()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:            config,
		sendCh:            make(chan *proto.ProxyMessage, sendChannelBuffer),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		reconnectDelay:    initialDelay,
		maxReconnectDelay: maxDelay,
		scrapeHandler:     NewScrapeHandler(config.PathConfigs, config.ScrapeTimeout, config.ChunkSize, config.MinGzipSize),
		ctx:               ctx,
		cancel:            cancel,
	}
}

func (c *Client) Start() error {
	if len(c.scrapeHandler.Paths()) == 0 {
		return fmt.Errorf("no path configs defined")
	}
	go c.connectionLoop()
	return nil
}

func (c *Client) Stop() error {
	slog.Info("Stopping agent")
	close(c.stopCh)
	c.cancel()
	<-c.doneCh
	slog.Info("Agent stopped")
	return nil
}

func (c *Client) Send(msg *proto.ProxyMessage) error {
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendChannelFull
	}
}

// AgentID returns the id assigned by the proxy on the current connection,
// or "" while disconnected.
func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

func (c *Client) connectionLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			c.disconnect()
			return
		default:
			if err := c.connect(); err != nil {
				slog.Error("Connection failed", "error", err, "retry_in", c.reconnectDelay)
				select {
				case <-time.After(c.reconnectDelay):
					c.increaseReconnectDelay()
					continue
				case <-c.stopCh:
					return
				}
			}

			c.reconnectDelay = initialDelay

			if err := c.handleStream(); err != nil {
				if errors.Is(err, io.EOF) {
					slog.Info("Proxy closed connection")
				} else {
					slog.Error("Stream error", "error", err)
				}
			}

			c.disconnect()

			select {
			case <-c.stopCh:
				return
			case <-time.After(c.reconnectDelay):
				slog.Info("Reconnecting", "delay", c.reconnectDelay)
				c.increaseReconnectDelay()
			}
		}
	}
}

func (c *Client) dialOptions() ([]grpc.DialOption, error) {
	var opts []grpc.DialOption

	if tlsConfig := c.config.TLS; tlsConfig != nil && tlsConfig.Enabled {
		creds, err := grpctls.LoadAgentCredentials(
			tlsConfig.CertFile,
			tlsConfig.KeyFile,
			tlsConfig.CAFile,
			tlsConfig.ServerNameOverride,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
		slog.Info("Using TLS connection")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection (TLS disabled)")
	}

	return append(opts, c.config.DialOptions...), nil
}

func (c *Client) connect() error {
	slog.Info("Connecting to proxy", "address", c.config.ServerAddress)

	opts, err := c.dialOptions()
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(c.config.ServerAddress, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial proxy: %w", err)
	}

	stream, err := proto.NewProxyServiceClient(conn).Stream(c.ctx)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create stream: %w", err)
	}

	register := &proto.ProxyMessage{
		Id:   uuid.New().String(),
		Type: proto.MessageType_REGISTER,
		Metadata: map[string]string{
			proto.MetaAgentName: c.config.AgentName,
			proto.MetaHostName:  c.config.HostName,
			proto.MetaPaths:     strings.Join(c.scrapeHandler.Paths(), ","),
		},
	}

	if err := stream.Send(register); err != nil {
		stream.CloseSend()
		conn.Close()
		return fmt.Errorf("failed to send register message: %w", err)
	}

	ack, err := stream.Recv()
	if err != nil {
		stream.CloseSend()
		conn.Close()
		return fmt.Errorf("failed to receive register ack: %w", err)
	}
	if ack.Type != proto.MessageType_REGISTER_ACK {
		stream.CloseSend()
		conn.Close()
		return fmt.Errorf("unexpected register response: %s", ack.Type)
	}

	c.mu.Lock()
	c.agentID = ack.GetMetadata(proto.MetaAgentID)
	c.conn = conn
	c.stream = stream
	c.mu.Unlock()

	slog.Info("Registered with proxy",
		"address", c.config.ServerAddress,
		"agent_id", c.AgentID(),
		"agent_name", c.config.AgentName)
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		c.stream.CloseSend()
		c.stream = nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.agentID = ""

	// Messages queued for the old stream reference its scrape ids.
	for {
		select {
		case <-c.sendCh:
		default:
			return
		}
	}
}

func (c *Client) increaseReconnectDelay() {
	c.reconnectDelay = c.reconnectDelay * backoffFactor
	if c.reconnectDelay > c.maxReconnectDelay {
		c.reconnectDelay = c.maxReconnectDelay
	}
}

func (c *Client) handleStream() error {
	done := make(chan struct{})
	errChan := make(chan error, 3)

	go c.receiveLoop(done, errChan)
	go c.sendLoop(done, errChan)
	go c.heartbeatLoop(done, errChan)

	err := <-errChan
	close(done)
	return err
}

func (c *Client) currentStream() proto.ProxyService_StreamClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream
}

func (c *Client) receiveLoop(done chan struct{}, errChan chan error) {
	for {
		select {
		case <-done:
			return
		default:
			stream := c.currentStream()
			if stream == nil {
				errChan <- fmt.Errorf("stream is nil")
				return
			}

			msg, err := stream.Recv()
			if err != nil {
				errChan <- err
				return
			}

			slog.Debug("Message received", "message_id", msg.Id, "type", msg.Type)
			c.processMessage(msg)
		}
	}
}

func (c *Client) sendLoop(done chan struct{}, errChan chan error) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.sendCh:
			stream := c.currentStream()
			if stream == nil {
				errChan <- fmt.Errorf("stream is nil")
				return
			}

			slog.Debug("Sending message", "message_id", msg.Id, "type", msg.Type)

			if err := stream.Send(msg); err != nil {
				errChan <- fmt.Errorf("failed to send message: %w", err)
				return
			}
		}
	}
}

func (c *Client) heartbeatLoop(done chan struct{}, errChan chan error) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ping := &proto.ProxyMessage{
				Id:   uuid.New().String(),
				Type: proto.MessageType_PING,
			}

			if err := c.Send(ping); err != nil {
				errChan <- fmt.Errorf("failed to send heartbeat: %w", err)
				return
			}
		}
	}
}

func (c *Client) processMessage(msg *proto.ProxyMessage) {
	switch msg.Type {
	case proto.MessageType_PONG:
		slog.Debug("PONG received", "message_id", msg.Id)

	case proto.MessageType_SCRAPE_REQUEST:
		go c.handleScrape(msg)

	default:
		slog.Warn("Unknown message type", "type", msg.Type)
	}
}

func (c *Client) handleScrape(msg *proto.ProxyMessage) {
	for _, response := range c.scrapeHandler.HandleScrape(c.ctx, msg) {
		if err := c.sendBlocking(response); err != nil {
			slog.Error("Failed to send scrape response", "scrape_id", msg.ScrapeId, "error", err)
			return
		}
	}
}

// sendBlocking is used for scrape responses, which must not be dropped
// part way through a chunk run.
func (c *Client) sendBlocking(msg *proto.ProxyMessage) error {
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}
