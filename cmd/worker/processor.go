package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	internalaws "github.com/ridecrew/itinerary-pipeline/internal/aws"
	"github.com/ridecrew/itinerary-pipeline/internal/generation"
	"github.com/ridecrew/itinerary-pipeline/internal/itinerary"
)

// variantPause separates consecutive variants of one request so the external
// generation service is not hit back-to-back.
const variantPause = 1000 * time.Millisecond

// Processor consumes generation jobs and runs each request's themed variants
// strictly sequentially. Distinct requests run concurrently only by virtue of
// separate invocations.
type Processor struct {
	store     pipelineStore
	generator variantGenerator
	metrics   outcomeRecorder
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration)
}

// NewProcessor wires a worker processor.
func NewProcessor(store pipelineStore, generator variantGenerator, metrics outcomeRecorder, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:     store,
		generator: generator,
		metrics:   metrics,
		logger:    logger,
		sleep:     sleepWithContext,
	}
}

// Handle receives an SQS batch event and processes each job.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processJob(ctx, rec); err != nil {
			// Returning the error lets the Lambda runtime retry; messages
			// that keep failing end up on the DLQ. Completed variants are
			// skipped on redelivery.
			p.logger.Error("worker error", zap.Error(err))
			return err
		}
	}
	return nil
}

// processJob runs every variant of one generation job. A failure inside one
// variant is contained to that variant's response record; persistence
// failures are collected and surfaced only after every sibling had its turn.
func (p *Processor) processJob(ctx context.Context, rec events.SQSMessage) error {
	var job internalaws.GenerationJob
	if err := json.Unmarshal([]byte(rec.Body), &job); err != nil {
		return fmt.Errorf("invalid job body: %w", err)
	}

	logger := p.logger.With(zap.String("requestId", job.RequestID))
	logger.Info("generation job received", zap.Int("variants", len(job.ResponseIDs)))

	request, err := p.store.GetRequest(ctx, job.RequestID)
	if err != nil {
		return fmt.Errorf("fetch request: %w", err)
	}
	if request == nil {
		// should never happen; DLQ if it does
		return fmt.Errorf("request not found: %s", job.RequestID)
	}

	var persistErrs []error
	for i, responseID := range job.ResponseIDs {
		if err := p.runVariant(ctx, logger, request, responseID); err != nil {
			persistErrs = append(persistErrs, fmt.Errorf("response %s: %w", responseID, err))
		}
		if i < len(job.ResponseIDs)-1 {
			p.sleep(ctx, variantPause)
		}
	}

	return errors.Join(persistErrs...)
}

// runVariant executes the full pipeline for one response: theme selection,
// generation with retries, terminal write, aggregate recompute. Panics are
// recorded as a failed response rather than aborting siblings.
func (p *Processor) runVariant(ctx context.Context, logger *zap.Logger, request *itinerary.Request, responseID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("variant panicked", zap.String("responseId", responseID), zap.Any("panic", r))
			if failErr := p.store.FailResponse(ctx, responseID, fmt.Sprintf("internal error: %v", r)); failErr != nil && !errors.Is(failErr, itinerary.ErrStatusMismatch) {
				err = failErr
				return
			}
			_, err = p.store.RecomputeRequestStatus(ctx, request.RequestID)
		}
	}()

	response, err := p.store.GetResponse(ctx, responseID)
	if err != nil {
		return fmt.Errorf("fetch response: %w", err)
	}
	if response == nil {
		logger.Warn("response missing, skipping", zap.String("responseId", responseID))
		return nil
	}
	if response.Status != itinerary.ResponseStatusProcessing {
		// duplicate SQS delivery; the record already reached a terminal state
		logger.Info("response already terminal, skipping",
			zap.String("responseId", responseID), zap.String("status", response.Status))
		return nil
	}

	theme := generation.ThemeForVersion(response.Version)
	params := travelParams(request, response.Version)

	result := p.generator.Generate(ctx, theme, params)

	if result.Failed {
		err = p.store.FailResponse(ctx, responseID, result.ErrorMessage)
	} else {
		err = p.store.CompleteResponse(ctx, responseID, []byte(result.Payload), result.Model, result.Usage)
	}
	if errors.Is(err, itinerary.ErrStatusMismatch) {
		// a concurrent delivery already finalized this record; the aggregate
		// was recomputed by whoever won
		logger.Info("terminal transition lost race, skipping", zap.String("responseId", responseID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}

	status, err := p.store.RecomputeRequestStatus(ctx, request.RequestID)
	if err != nil {
		return fmt.Errorf("recompute status: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordVariant(ctx, !result.Failed, result.Attempts, result.ParseMethod)
	}

	logger.Info("variant finished",
		zap.String("responseId", responseID),
		zap.String("theme", theme.Title),
		zap.Bool("errored", result.Errored),
		zap.Bool("failed", result.Failed),
		zap.Int("attempts", result.Attempts),
		zap.String("requestStatus", status))
	return nil
}

// travelParams projects the persisted request into prompt inputs.
func travelParams(request *itinerary.Request, version int) generation.TravelParams {
	prefs := append([]string{}, request.ExtraPreferences...)
	if request.LocationPreference != "" {
		prefs = append(prefs, request.LocationPreference+" places")
	}
	return generation.TravelParams{
		Source:        request.RideSource,
		Destination:   request.RideDestination,
		Days:          request.RideDuration,
		TravelMode:    request.RideType,
		Preferences:   prefs,
		Variation:     request.Variation,
		VariantNumber: version,
		TotalVariants: request.GeneratedCount,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
