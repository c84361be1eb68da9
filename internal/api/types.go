package api

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// StatusResponse acknowledges a webhook delivery.
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthResponse reports liveness of the webhook server.
type HealthResponse struct {
	Status   string `json:"status"`
	InFlight int64  `json:"in_flight"`
}

// StateResponse is the tracking state exposed on /v1/state.
type StateResponse struct {
	TrackedSection string              `json:"tracked_section" yaml:"tracked_section"`
	Extensions     map[string][]string `json:"extensions" yaml:"extensions"`
	Processed      []string            `json:"processed" yaml:"processed"`
	Assignments    map[string]string   `json:"assignments" yaml:"assignments"`
}
