package main

import (
	"context"

	"github.com/ridecrew/itinerary-pipeline/internal/generation"
	"github.com/ridecrew/itinerary-pipeline/internal/itinerary"
)

// variantGenerator is the slice of the generation package the processor
// drives. Tests substitute scripted fakes.
type variantGenerator interface {
	Generate(ctx context.Context, theme generation.Theme, params generation.TravelParams) generation.Result
}

// pipelineStore is the persistence surface one batch needs. Satisfied by
// *itinerary.Store.
type pipelineStore interface {
	GetRequest(ctx context.Context, requestID string) (*itinerary.Request, error)
	GetResponse(ctx context.Context, responseID string) (*itinerary.Response, error)
	CompleteResponse(ctx context.Context, responseID string, payload []byte, model string, usage *itinerary.TokenUsage) error
	FailResponse(ctx context.Context, responseID, errorMessage string) error
	RecomputeRequestStatus(ctx context.Context, requestID string) (string, error)
}

// outcomeRecorder is the metrics surface; satisfied by *metrics.Emitter.
type outcomeRecorder interface {
	RecordVariant(ctx context.Context, completed bool, attempts int, parseMethod string)
}
