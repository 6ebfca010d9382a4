package proxy

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

const unassigned = "Unassigned"

// Ids are never reused. An int64 counter does not wrap at any realistic
// connection rate.
var agentIDGenerator atomic.Int64

// clockBase anchors activity timestamps to the monotonic clock.
var clockBase = time.Now()

func monotonicNow() time.Duration {
	return time.Since(clockBase)
}

// AgentContext is the proxy-side state of one connected agent: identity,
// liveness, validity and the bounded queue of scrape requests waiting to be
// pulled by the agent's stream.
//
// Each mutable field is independently atomic. Reading two fields is not a
// consistent snapshot.
type AgentContext struct {
	agentID     string
	remoteAddr  string
	pollTimeout time.Duration

	scrapeRequestQueue chan *ScrapeRequest

	valid        atomic.Bool
	lastActivity atomic.Int64
	hostName     atomic.Value
	agentName    atomic.Value
}

// NewAgentContext creates a valid session with a fresh agent id. queueSize
// values below one are raised to one.
func NewAgentContext(remoteAddr string, queueSize int, pollTimeout time.Duration) *AgentContext {
	if queueSize < 1 {
		queueSize = 1
	}

	ac := &AgentContext{
		agentID:            strconv.FormatInt(agentIDGenerator.Add(1), 10),
		remoteAddr:         remoteAddr,
		pollTimeout:        pollTimeout,
		scrapeRequestQueue: make(chan *ScrapeRequest, queueSize),
	}
	ac.valid.Store(true)
	ac.hostName.Store(unassigned)
	ac.agentName.Store(unassigned)
	ac.MarkActivity()
	return ac
}

func (ac *AgentContext) AgentID() string {
	return ac.agentID
}

func (ac *AgentContext) RemoteAddr() string {
	return ac.remoteAddr
}

func (ac *AgentContext) HostName() string {
	return ac.hostName.Load().(string)
}

func (ac *AgentContext) SetHostName(hostName string) {
	ac.hostName.Store(hostName)
}

func (ac *AgentContext) AgentName() string {
	return ac.agentName.Load().(string)
}

func (ac *AgentContext) SetAgentName(agentName string) {
	ac.agentName.Store(agentName)
}

func (ac *AgentContext) IsValid() bool {
	return ac.valid.Load()
}

// MarkInvalid is a one-way transition. Queued requests are left in place;
// draining them is up to whoever removes the session.
func (ac *AgentContext) MarkInvalid() {
	ac.valid.Store(false)
}

func (ac *AgentContext) MarkActivity() {
	ac.lastActivity.Store(int64(monotonicNow()))
}

func (ac *AgentContext) InactivityDuration() time.Duration {
	d := monotonicNow() - time.Duration(ac.lastActivity.Load())
	if d < 0 {
		return 0
	}
	return d
}

func (ac *AgentContext) ScrapeRequestBacklogSize() int {
	return len(ac.scrapeRequestQueue)
}

func (ac *AgentContext) ScrapeRequestQueueCapacity() int {
	return cap(ac.scrapeRequestQueue)
}

// AddToScrapeRequestQueue appends req without blocking. It returns
// ErrSessionInvalidated for an invalidated session and ErrQueueFull when the
// queue is at capacity; in both cases the queue is unchanged.
func (ac *AgentContext) AddToScrapeRequestQueue(req *ScrapeRequest) error {
	if !ac.IsValid() {
		return ErrSessionInvalidated
	}

	select {
	case ac.scrapeRequestQueue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// PollScrapeRequestQueue waits up to the poll timeout for the next queued
// request. It returns false on timeout or when ctx is done. A successful poll
// marks activity.
func (ac *AgentContext) PollScrapeRequestQueue(ctx context.Context) (*ScrapeRequest, bool) {
	// A cancelled poller must not take an item it can no longer deliver.
	if ctx.Err() != nil {
		return nil, false
	}

	timer := time.NewTimer(ac.pollTimeout)
	defer timer.Stop()

	select {
	case req := <-ac.scrapeRequestQueue:
		ac.MarkActivity()
		return req, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// DrainScrapeRequestQueue removes and returns every queued request without
// waiting.
func (ac *AgentContext) DrainScrapeRequestQueue() []*ScrapeRequest {
	var drained []*ScrapeRequest
	for {
		select {
		case req := <-ac.scrapeRequestQueue:
			drained = append(drained, req)
		default:
			return drained
		}
	}
}

func (ac *AgentContext) String() string {
	return fmt.Sprintf("AgentContext{agentId=%s, valid=%t, remoteAddr=%s, agentName=%s, hostName=%s, inactivitySecs=%d}",
		ac.agentID, ac.IsValid(), ac.remoteAddr, ac.AgentName(), ac.HostName(), int64(ac.InactivityDuration().Seconds()))
}
