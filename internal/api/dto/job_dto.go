package dto

// CreateJobRequest is the body of POST /jobs. Both fields are optional.
type CreateJobRequest struct {
	Tags []string       `json:"tags"`
	Data map[string]any `json:"data"`
}

// ListJobsRequest holds the optional filters and paging of GET /jobs
type ListJobsRequest struct {
	Status   string `form:"status"`
	Tag      string `form:"tag"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	QueueSize  int64    `json:"queue_size"`
	Processing int      `json:"processing"`
	ActiveTags []string `json:"active_tags"`
}

// HealthResponse is the body of GET /health and GET /ready
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}
