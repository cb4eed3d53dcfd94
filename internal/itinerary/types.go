package itinerary

import "time"

// Request statuses. Completed means at least one variant finished; other
// variants may still be running or may later fail.
const (
	RequestStatusPending    = "pending"
	RequestStatusProcessing = "processing"
	RequestStatusCompleted  = "completed"
	RequestStatusFailed     = "failed"
)

// Response statuses. A response is created as a processing placeholder and
// transitions exactly once into completed or failed.
const (
	ResponseStatusProcessing = "processing"
	ResponseStatusCompleted  = "completed"
	ResponseStatusFailed     = "failed"
)

// Ride types and location preferences accepted on submission.
const (
	RideTypeSolo  = "Solo Ride"
	RideTypeSquad = "Squad Ride"

	PreferenceOffBeat   = "Off-beat"
	PreferenceWellKnown = "Well-known"
)

// Request is the item stored in the itinerary requests table.
type Request struct {
	RequestID          string   `dynamodbav:"request_id"` // PK
	RideType           string   `dynamodbav:"ride_type"`
	RideSource         string   `dynamodbav:"ride_source"`
	RideDestination    string   `dynamodbav:"ride_destination"`
	RideDuration       int      `dynamodbav:"ride_duration"` // days
	LocationPreference string   `dynamodbav:"location_preference"`
	RequestedBy        string   `dynamodbav:"requested_by"` // user email
	ExtraPreferences   []string `dynamodbav:"extra_preferences,omitempty"`
	// RouteKey is the normalized source#destination#rideType used by the
	// route_key GSI for case-insensitive similarity lookups.
	RouteKey       string    `dynamodbav:"route_key"`
	ResponseIDs    []string  `dynamodbav:"response_ids"` // insertion order = creation order
	Status         string    `dynamodbav:"status"`
	GeneratedCount int       `dynamodbav:"generated_count"`
	Variation      int       `dynamodbav:"variation"` // ordinal among similar requests
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
}

// TokenUsage mirrors the usage metadata reported by the generation service.
type TokenUsage struct {
	PromptTokens     int `dynamodbav:"prompt_tokens" json:"promptTokens"`
	CandidatesTokens int `dynamodbav:"candidates_tokens" json:"candidatesTokens"`
	TotalTokens      int `dynamodbav:"total_tokens" json:"totalTokens"`
}

// Response is the item stored in the itinerary responses table. Itinerary is
// kept opaque raw JSON text: the model output schema is enforced by the
// generation side, not by the store.
type Response struct {
	ResponseID   string      `dynamodbav:"response_id"` // PK
	RequestID    string      `dynamodbav:"request_id"`  // GSI
	Status       string      `dynamodbav:"status"`
	Itinerary    string      `dynamodbav:"itinerary,omitempty"`
	ErrorMessage string      `dynamodbav:"error_message,omitempty"`
	Model        string      `dynamodbav:"model,omitempty"`
	Version      int         `dynamodbav:"version"` // 1-based per request
	TokenUsage   *TokenUsage `dynamodbav:"token_usage,omitempty"`
	GeneratedAt  *time.Time  `dynamodbav:"generated_at,omitempty"` // set once, on completion
	FailedAt     *time.Time  `dynamodbav:"failed_at,omitempty"`    // set once, on failure
	CreatedAt    time.Time   `dynamodbav:"created_at"`
	UpdatedAt    time.Time   `dynamodbav:"updated_at"`
}

// RequestWithResponses pairs a request with a subset of its responses for the
// read endpoints.
type RequestWithResponses struct {
	Request   Request
	Responses []Response
}
