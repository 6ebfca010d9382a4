package dto

type AgentInfo struct {
	AgentID                 string   `json:"agent_id"`
	AgentName               string   `json:"agent_name"`
	HostName                string   `json:"host_name"`
	RemoteAddr              string   `json:"remote_addr"`
	Valid                   bool     `json:"valid"`
	InactivitySecs          float64  `json:"inactivity_secs"`
	ScrapeRequestBacklog    int      `json:"scrape_request_backlog"`
	ScrapeRequestQueueLimit int      `json:"scrape_request_queue_limit"`
	Paths                   []string `json:"paths"`
}

type AgentsResponse struct {
	Agents                    []AgentInfo `json:"agents"`
	Count                     int         `json:"count"`
	TotalScrapeRequestBacklog int         `json:"total_scrape_request_backlog"`
	ChunkedContexts           int         `json:"chunked_contexts"`
}

type EvictAgentResponse struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}
