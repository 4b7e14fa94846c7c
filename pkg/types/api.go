package types

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	// Model the caller expects to be active. Empty means whichever is active.
	// example: eaglex-v2
	Model string `json:"model,omitempty" example:"eaglex-v2"`
	// Conversation so far, oldest first.
	Messages []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	// Maximum number of tokens to generate.
	// example: 256
	MaxTokens *int `json:"max_tokens,omitempty" validate:"omitempty,min=1" example:"256"`
	// Sampling temperature.
	// example: 1.0
	Temperature *float32 `json:"temperature,omitempty" validate:"omitempty,min=0" example:"1.0"`
	// Penalty applied once to any token already generated.
	// example: 0.3
	PresencePenalty *float32 `json:"presence_penalty,omitempty" example:"0.3"`
	// Penalty applied per occurrence of a generated token.
	// example: 0.3
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty" example:"0.3"`
}

// ChatChoice is one generated answer.
type ChatChoice struct {
	// example: 0
	Index   int         `json:"index" example:"0"`
	Message ChatMessage `json:"message"`
	// Why generation ended: stop or length.
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
}

// Usage counts tokens of one completion.
type Usage struct {
	// example: 42
	PromptTokens int `json:"prompt_tokens" example:"42"`
	// example: 17
	CompletionTokens int `json:"completion_tokens" example:"17"`
	// example: 59
	TotalTokens int `json:"total_tokens" example:"59"`
}

// ChatResponse is returned by POST /v1/chat/completions.
type ChatResponse struct {
	// example: chatcmpl-3f1c5d2e-9a8b-4c7d-8e6f-1a2b3c4d5e6f
	ID string `json:"id" example:"chatcmpl-3f1c5d2e-9a8b-4c7d-8e6f-1a2b3c4d5e6f"`
	// example: chat.completion
	Object string `json:"object" example:"chat.completion"`
	// Creation time in unix seconds.
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// example: eaglex-v2
	Model   string       `json:"model" example:"eaglex-v2"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ModelInfo describes a known model in GET /v1/models.
type ModelInfo struct {
	// example: eaglex-v2
	ID string `json:"id" example:"eaglex-v2"`
	// example: model
	Object string `json:"object" example:"model"`
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// example: chatd
	OwnedBy string `json:"owned_by" example:"chatd"`
	// Whether the weights file was present at startup.
	// example: true
	Available bool `json:"available" example:"true"`
	// Whether this model is the active one.
	// example: false
	Active bool `json:"active" example:"false"`
}

// ModelList wraps the known models.
type ModelList struct {
	// example: list
	Object string      `json:"object" example:"list"`
	Data   []ModelInfo `json:"data"`
}

// ActivateResponse acknowledges an accepted activation.
type ActivateResponse struct {
	// example: eaglex-v2
	ID string `json:"id" example:"eaglex-v2"`
	// example: loading
	Status string `json:"status" example:"loading"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall state: empty, loading or ready.
	// example: ready
	State string `json:"state" example:"ready"`
	// Id of the active model, if any.
	// example: eaglex-v2
	ActiveModel string `json:"active_model,omitempty" example:"eaglex-v2"`
	// Whether an activation is in progress.
	// example: false
	Loading bool `json:"loading" example:"false"`
	// Last activation error, if any.
	LastError string `json:"last_error,omitempty"`
	// Number of conversation prefixes held by the cache (0 or 1).
	// example: 1
	CachedPrefixes int `json:"cached_prefixes" example:"1"`
	// Requests currently waiting for or holding the session.
	// example: 0
	Waiting int `json:"waiting" example:"0"`
	// Maximum waiters before requests are rejected (0 = unlimited).
	// example: 0
	MaxQueueDepth int `json:"max_queue_depth" example:"0"`
	// example: 12
	ActivationsTotal uint64 `json:"activations_total" example:"12"`
	// example: 1
	ActivationFailuresTotal uint64 `json:"activation_failures_total" example:"1"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
