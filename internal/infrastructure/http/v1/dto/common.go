// Package dto provides Data Transfer Objects for API requests/responses.
package dto

// ErrorResponse is the single error body every failed request renders.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is returned by the liveness and readiness probes.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// InfoResponse describes the running server.
type InfoResponse struct {
	App      string         `json:"app"`
	Version  string         `json:"version"`
	Storage  string         `json:"storage"`
	Kinds    []string       `json:"kinds"`
	Database map[string]any `json:"database,omitempty"`
}
