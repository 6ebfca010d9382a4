package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var scrapeIDGenerator atomic.Int64

// NextScrapeID returns a process-unique, increasing scrape id.
func NextScrapeID() int64 {
	return scrapeIDGenerator.Add(1)
}

// ScrapeResults is what an agent returned for one scrape.
type ScrapeResults struct {
	AgentID       string
	ScrapeID      int64
	ValidResponse bool
	StatusCode    int
	ContentType   string
	Zipped        bool
	Content       []byte
	FailureReason string
	URL           string
}

// ScrapeRequest is one pending scrape addressed to an agent together with
// the handle used to hand the result back to the waiting caller. Its fields
// never change after construction.
type ScrapeRequest struct {
	scrapeID  int64
	agentID   string
	path      string
	accept    string
	createdAt time.Time

	resultCh chan *ScrapeResults
	once     sync.Once
}

func NewScrapeRequest(agentID, path, accept string) *ScrapeRequest {
	return &ScrapeRequest{
		scrapeID:  NextScrapeID(),
		agentID:   agentID,
		path:      path,
		accept:    accept,
		createdAt: time.Now(),
		resultCh:  make(chan *ScrapeResults, 1),
	}
}

func (r *ScrapeRequest) ScrapeID() int64 {
	return r.scrapeID
}

func (r *ScrapeRequest) AgentID() string {
	return r.agentID
}

func (r *ScrapeRequest) Path() string {
	return r.path
}

func (r *ScrapeRequest) Accept() string {
	return r.accept
}

func (r *ScrapeRequest) Age() time.Duration {
	return time.Since(r.createdAt)
}

// Complete delivers results to the waiter. Only the first call has an effect.
func (r *ScrapeRequest) Complete(results *ScrapeResults) {
	r.once.Do(func() {
		r.resultCh <- results
		close(r.resultCh)
	})
}

// Fail completes the request with a failure reason.
func (r *ScrapeRequest) Fail(err error) {
	r.Complete(&ScrapeResults{
		AgentID:       r.agentID,
		ScrapeID:      r.scrapeID,
		FailureReason: err.Error(),
	})
}

// Wait blocks until the request is completed, timeout elapses or ctx is done.
func (r *ScrapeRequest) Wait(ctx context.Context, timeout time.Duration) (*ScrapeResults, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case results := <-r.resultCh:
		return results, nil
	case <-timer.C:
		return nil, ErrScrapeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
