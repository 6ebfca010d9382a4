package dto

type HealthResponse struct {
	Status string `json:"status"`
	Agents int    `json:"agents"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
