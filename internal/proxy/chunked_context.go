package proxy

import (
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"sync"
)

// ChunkHeader opens a chunked transfer. Everything except the content is
// known up front.
type ChunkHeader struct {
	ScrapeID      int64
	AgentID       string
	ValidResponse bool
	StatusCode    int
	ContentType   string
	Zipped        bool
	URL           string
}

// ChunkedContext reassembles one scrape response that arrives as a header,
// a run of numbered chunks and a summary.
type ChunkedContext struct {
	header ChunkHeader

	mu         sync.Mutex
	buf        bytes.Buffer
	total      hash.Hash32
	chunkCount int64
	byteCount  int64
}

func NewChunkedContext(header ChunkHeader) *ChunkedContext {
	return &ChunkedContext{
		header: header,
		total:  crc32.NewIEEE(),
	}
}

func (c *ChunkedContext) Header() ChunkHeader {
	return c.header
}

// ApplyChunk appends one chunk. chunkCount and byteCount are the sender's
// running totals including this chunk; checksum is the CRC32 of data.
func (c *ChunkedContext) ApplyChunk(data []byte, chunkCount, byteCount int64, checksum uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if crc32.ChecksumIEEE(data) != checksum {
		return fmt.Errorf("scrape %d chunk %d: %w", c.header.ScrapeID, chunkCount, ErrChunkChecksum)
	}

	c.chunkCount++
	c.byteCount += int64(len(data))
	if c.chunkCount != chunkCount || c.byteCount != byteCount {
		return fmt.Errorf("scrape %d: got chunk %d/%d bytes, expected %d/%d: %w",
			c.header.ScrapeID, chunkCount, byteCount, c.chunkCount, c.byteCount, ErrChunkCount)
	}

	c.buf.Write(data)
	c.total.Write(data)
	return nil
}

// ApplySummary checks the sender's totals against what was received and
// returns the reassembled results.
func (c *ChunkedContext) ApplySummary(chunkCount, byteCount int64, checksum uint32) (*ScrapeResults, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chunkCount != chunkCount || c.byteCount != byteCount {
		return nil, fmt.Errorf("scrape %d: summary %d/%d bytes, received %d/%d: %w",
			c.header.ScrapeID, chunkCount, byteCount, c.chunkCount, c.byteCount, ErrChunkCount)
	}
	if c.total.Sum32() != checksum {
		return nil, fmt.Errorf("scrape %d summary: %w", c.header.ScrapeID, ErrChunkChecksum)
	}

	content := make([]byte, c.buf.Len())
	copy(content, c.buf.Bytes())

	return &ScrapeResults{
		AgentID:       c.header.AgentID,
		ScrapeID:      c.header.ScrapeID,
		ValidResponse: c.header.ValidResponse,
		StatusCode:    c.header.StatusCode,
		ContentType:   c.header.ContentType,
		Zipped:        c.header.Zipped,
		URL:           c.header.URL,
		Content:       content,
	}, nil
}
