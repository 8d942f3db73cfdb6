package api

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
