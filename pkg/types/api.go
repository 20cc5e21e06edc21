package types

// GenerateRequest is the payload for POST /generate and POST /generate/stream.
type GenerateRequest struct {
	// Optional caller-supplied request ID. Generated when empty.
	// example: 3f1c2a9e-6f0e-4a7e-9d2b-0c1d2e3f4a5b
	ID string `json:"id,omitempty" example:"3f1c2a9e-6f0e-4a7e-9d2b-0c1d2e3f4a5b"`
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens; clamped to what the context window allows.
	// 0 or omitted uses the full allowance.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Optional stop sequences appended to the configured stop tokens.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Random seed for reproducibility; 0 or omitted lets the runtime choose.
	// example: 42
	Seed int `json:"seed,omitempty" example:"42"`
	// Optional priority hint. Admission is FIFO; the value is recorded only.
	// example: 0
	Priority int `json:"priority,omitempty" example:"0"`
}

// GenerateResponse is returned by POST /generate.
type GenerateResponse struct {
	// ID of the request.
	RequestID string `json:"request_id"`
	// Generated text.
	// example: Waves fold into foam
	Content string `json:"content" example:"Waves fold into foam"`
	// Token budget actually used after clamping.
	// example: 128
	MaxTokens int `json:"max_tokens" example:"128"`
	// Wall-clock time from admission to completion, in milliseconds.
	// example: 842
	LatencyMS int64 `json:"latency_ms" example:"842"`
}

// StreamChunk is one NDJSON line of POST /generate/stream.
type StreamChunk struct {
	// Incremental text; empty on the final line.
	Delta string `json:"delta,omitempty"`
	// True on the final line.
	Done bool `json:"done,omitempty"`
	// Full generated text, final line only.
	Content string `json:"content,omitempty"`
	// Request ID, final and error lines.
	RequestID string `json:"request_id,omitempty"`
	// Error message when the stream failed mid-flight.
	Error string `json:"error,omitempty"`
	// HTTP-equivalent status for Error.
	Code int `json:"code,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	// healthy, degraded or unhealthy.
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Generations currently in flight.
	// example: 1
	ActiveRequests int `json:"active_requests" example:"1"`
	// Requests waiting for a slot.
	// example: 0
	QueuedRequests int `json:"queued_requests" example:"0"`
	// Stuck generations reclaimed by the monitor since start.
	// example: 0
	StuckRequestsCleaned uint64 `json:"stuck_requests_cleaned" example:"0"`
	// Whether the model finished loading.
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// Normalised host load (1m load average per CPU).
	// example: 0.42
	HostLoad float64 `json:"host_load" example:"0.42"`
	// Reason for a non-healthy status.
	Reason string `json:"reason,omitempty"`
}

// ServiceStats mirrors the per-resource counters served by GET /stats.
type ServiceStats struct {
	Name             string  `json:"name"`
	TotalCalls       int64   `json:"total_calls"`
	SuccessfulCalls  int64   `json:"successful_calls"`
	FailedCalls      int64   `json:"failed_calls"`
	TotalAttempts    int64   `json:"total_attempts"`
	AverageAttempts  float64 `json:"average_attempts"`
	SuccessRate      float64 `json:"success_rate"`
	TotalRetryMS     int64   `json:"total_retry_ms"`
	AverageLatencyMS int64   `json:"average_latency_ms"`
	LastSuccessUnix  int64   `json:"last_success_unix,omitempty"`
	LastFailureUnix  int64   `json:"last_failure_unix,omitempty"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Services []ServiceStats `json:"services"`
}

// ActiveGeneration summarizes one in-flight request for /status.
type ActiveGeneration struct {
	// example: 3f1c2a9e-6f0e-4a7e-9d2b-0c1d2e3f4a5b
	RequestID string `json:"request_id"`
	// example: running
	State string `json:"state" example:"running"`
	// example: false
	Streaming bool `json:"streaming" example:"false"`
	// Seconds since admission.
	// example: 3.2
	AgeSeconds float64 `json:"age_seconds" example:"3.2"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Model file or server model name.
	Model string `json:"model"`
	// Whether the model finished loading.
	ModelLoaded bool `json:"model_loaded"`
	// Optional load error.
	Error string `json:"error,omitempty"`
	// Concurrency slots configured.
	// example: 2
	MaxConcurrency int `json:"max_concurrency" example:"2"`
	// Backlog capacity.
	// example: 10
	QueueSize int `json:"queue_size" example:"10"`
	// Requests waiting for a slot.
	QueueLen int `json:"queue_len"`
	// In-flight generations.
	Active []ActiveGeneration `json:"active"`
	// Stuck generations reclaimed since start.
	StuckRequestsCleaned uint64 `json:"stuck_requests_cleaned"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Error category (admission_rejected, generation_timeout, ...).
	// example: admission_rejected
	Kind string `json:"kind,omitempty" example:"admission_rejected"`
}
