package proxy

import "errors"

var (
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrQueueFull          = errors.New("scrape request queue full")
	ErrSessionInvalidated = errors.New("agent session invalidated")
	ErrAgentDisconnected  = errors.New("agent disconnected")
	ErrScrapeTimeout      = errors.New("scrape request timed out")
	ErrUnknownPath        = errors.New("unknown scrape path")
	ErrChunkChecksum      = errors.New("chunk checksum mismatch")
	ErrChunkCount         = errors.New("chunk count mismatch")
)
