package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Modules []string `json:"modules"`
	Error   string   `json:"error,omitempty"`
}

// ReloadResponse is the payload for POST /api/v1/admin/rules/reload.
type ReloadResponse struct {
	Status string `json:"status"`
	Events int    `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}
