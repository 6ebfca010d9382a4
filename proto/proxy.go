// Package proto holds the messages exchanged on the agent stream and the
// gRPC service definition used to carry them. Messages are encoded with
// the JSON codec in codec.go.
package proto

import "fmt"

type MessageType int32

const (
	MessageType_UNKNOWN MessageType = iota
	MessageType_PING
	MessageType_PONG
	MessageType_REGISTER
	MessageType_REGISTER_ACK
	MessageType_SCRAPE_REQUEST
	MessageType_SCRAPE_RESPONSE
	MessageType_CHUNK_HEADER
	MessageType_CHUNK_DATA
	MessageType_CHUNK_SUMMARY
)

var messageTypeNames = map[MessageType]string{
	MessageType_UNKNOWN:         "UNKNOWN",
	MessageType_PING:            "PING",
	MessageType_PONG:            "PONG",
	MessageType_REGISTER:        "REGISTER",
	MessageType_REGISTER_ACK:    "REGISTER_ACK",
	MessageType_SCRAPE_REQUEST:  "SCRAPE_REQUEST",
	MessageType_SCRAPE_RESPONSE: "SCRAPE_RESPONSE",
	MessageType_CHUNK_HEADER:    "CHUNK_HEADER",
	MessageType_CHUNK_DATA:      "CHUNK_DATA",
	MessageType_CHUNK_SUMMARY:   "CHUNK_SUMMARY",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int32(t))
}

// Metadata keys.
const (
	MetaAgentID       = "agent_id"
	MetaAgentName     = "agent_name"
	MetaHostName      = "host_name"
	MetaPaths         = "paths"
	MetaPath          = "path"
	MetaAccept        = "accept"
	MetaStatusCode    = "status_code"
	MetaContentType   = "content_type"
	MetaURL           = "url"
	MetaValid         = "valid"
	MetaZipped        = "zipped"
	MetaFailureReason = "failure_reason"
)

// ProxyMessage is the single envelope sent in both directions.
type ProxyMessage struct {
	Id       string            `json:"id,omitempty"`
	Type     MessageType       `json:"type"`
	ScrapeId int64             `json:"scrape_id,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Chunk bookkeeping, set on CHUNK_DATA and CHUNK_SUMMARY.
	ChunkCount int64  `json:"chunk_count,omitempty"`
	ByteCount  int64  `json:"byte_count,omitempty"`
	Checksum   uint32 `json:"checksum,omitempty"`
}

func (m *ProxyMessage) GetMetadata(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}
