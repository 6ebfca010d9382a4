package client

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
	"github.com/leoncaiau912/prometheus-proxy/proto"
)

// PathConfig maps a scrape path announced to the proxy onto a local target.
type PathConfig struct {
	Name string
	Path string
	URL  string
}

// ScrapeHandler executes scrape requests against local targets and turns
// the result into response messages for the proxy.
type ScrapeHandler struct {
	httpClient  *http.Client
	paths       map[string]PathConfig
	chunkSize   int
	minGzipSize int
}

func NewScrapeHandler(pathConfigs []PathConfig, scrapeTimeout time.Duration, chunkSize, minGzipSize int) *ScrapeHandler {
	paths := make(map[string]PathConfig, len(pathConfigs))
	for _, pc := range pathConfigs {
		paths[proxy.NormalizePath(pc.Path)] = pc
	}
	if chunkSize < 1 {
		chunkSize = 32 * 1024
	}

	return &ScrapeHandler{
		httpClient: &http.Client{
			Timeout: scrapeTimeout,
		},
		paths:       paths,
		chunkSize:   chunkSize,
		minGzipSize: minGzipSize,
	}
}

// Paths returns the normalized paths this agent serves.
func (sh *ScrapeHandler) Paths() []string {
	paths := make([]string, 0, len(sh.paths))
	for path := range sh.paths {
		paths = append(paths, path)
	}
	return paths
}

// HandleScrape fetches the target for msg and returns the messages to send
// back: a single SCRAPE_RESPONSE, or a CHUNK_HEADER, CHUNK_DATA run and
// CHUNK_SUMMARY when the content is larger than one chunk.
func (sh *ScrapeHandler) HandleScrape(ctx context.Context, msg *proto.ProxyMessage) []*proto.ProxyMessage {
	path := proxy.NormalizePath(msg.GetMetadata(proto.MetaPath))

	pc, ok := sh.paths[path]
	if !ok {
		slog.Warn("Scrape for unknown path", "scrape_id", msg.ScrapeId, "path", path)
		return []*proto.ProxyMessage{failureResponse(msg.ScrapeId, "", http.StatusNotFound,
			fmt.Sprintf("invalid path: %s", path))}
	}

	slog.Debug("Scraping target", "scrape_id", msg.ScrapeId, "path", path, "url", pc.URL)

	resp, err := sh.fetch(ctx, pc.URL, msg.GetMetadata(proto.MetaAccept))
	if err != nil {
		slog.Error("Failed to scrape target", "scrape_id", msg.ScrapeId, "url", pc.URL, "error", err)
		return []*proto.ProxyMessage{failureResponse(msg.ScrapeId, pc.URL, http.StatusServiceUnavailable, err.Error())}
	}

	content := resp.body
	zipped := false
	if sh.minGzipSize > 0 && len(content) > sh.minGzipSize {
		compressed, err := deflate(content)
		if err != nil {
			return []*proto.ProxyMessage{failureResponse(msg.ScrapeId, pc.URL, http.StatusInternalServerError, err.Error())}
		}
		content = compressed
		zipped = true
	}

	metadata := map[string]string{
		proto.MetaValid:       "true",
		proto.MetaStatusCode:  strconv.Itoa(resp.statusCode),
		proto.MetaContentType: resp.contentType,
		proto.MetaURL:         pc.URL,
		proto.MetaZipped:      strconv.FormatBool(zipped),
	}

	slog.Info("Scrape completed",
		"scrape_id", msg.ScrapeId,
		"url", pc.URL,
		"status_code", resp.statusCode,
		"content_length", len(resp.body),
		"zipped", zipped)

	if len(content) <= sh.chunkSize {
		return []*proto.ProxyMessage{{
			Id:       uuid.New().String(),
			Type:     proto.MessageType_SCRAPE_RESPONSE,
			ScrapeId: msg.ScrapeId,
			Payload:  content,
			Metadata: metadata,
		}}
	}

	return sh.chunk(msg.ScrapeId, content, metadata)
}

func (sh *ScrapeHandler) chunk(scrapeID int64, content []byte, metadata map[string]string) []*proto.ProxyMessage {
	messages := []*proto.ProxyMessage{{
		Id:       uuid.New().String(),
		Type:     proto.MessageType_CHUNK_HEADER,
		ScrapeId: scrapeID,
		Metadata: metadata,
	}}

	var chunkCount, byteCount int64
	for start := 0; start < len(content); start += sh.chunkSize {
		end := min(start+sh.chunkSize, len(content))
		part := content[start:end]
		chunkCount++
		byteCount += int64(len(part))

		messages = append(messages, &proto.ProxyMessage{
			Id:         uuid.New().String(),
			Type:       proto.MessageType_CHUNK_DATA,
			ScrapeId:   scrapeID,
			Payload:    part,
			ChunkCount: chunkCount,
			ByteCount:  byteCount,
			Checksum:   crc32.ChecksumIEEE(part),
		})
	}

	return append(messages, &proto.ProxyMessage{
		Id:         uuid.New().String(),
		Type:       proto.MessageType_CHUNK_SUMMARY,
		ScrapeId:   scrapeID,
		ChunkCount: chunkCount,
		ByteCount:  byteCount,
		Checksum:   crc32.ChecksumIEEE(content),
	})
}

type targetResponse struct {
	statusCode  int
	contentType string
	body        []byte
}

func (sh *ScrapeHandler) fetch(ctx context.Context, url, accept string) (*targetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := sh.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &targetResponse{
		statusCode:  resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

func failureResponse(scrapeID int64, url string, statusCode int, reason string) *proto.ProxyMessage {
	return &proto.ProxyMessage{
		Id:       uuid.New().String(),
		Type:     proto.MessageType_SCRAPE_RESPONSE,
		ScrapeId: scrapeID,
		Metadata: map[string]string{
			proto.MetaValid:         "false",
			proto.MetaStatusCode:    strconv.Itoa(statusCode),
			proto.MetaURL:           url,
			proto.MetaFailureReason: reason,
		},
	}
}

func deflate(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return nil, fmt.Errorf("failed to gzip content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to gzip content: %w", err)
	}
	return buf.Bytes(), nil
}
