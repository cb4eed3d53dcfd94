package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/ridecrew/itinerary-pipeline/internal/aws"
	"github.com/ridecrew/itinerary-pipeline/internal/generation"
	"github.com/ridecrew/itinerary-pipeline/internal/itinerary"
	"github.com/ridecrew/itinerary-pipeline/internal/metrics"
)

const defaultModel = "gemini-2.0-flash-exp"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = defaultModel
	}
	ai, err := generation.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), model)
	if err != nil {
		logger.Fatal("failed to init gemini client", zap.Error(err))
	}

	store := itinerary.NewStore(clients.DynamoDB,
		os.Getenv("ITINERARY_REQUESTS_TABLE"),
		os.Getenv("ITINERARY_RESPONSES_TABLE"))
	generator := generation.NewGenerator(ai, model, logger)
	emitter := metrics.NewEmitter(clients.CloudWatch, os.Getenv("METRICS_NAMESPACE"), logger)

	processor := NewProcessor(store, generator, emitter, logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"request_id":"local-request-1","response_ids":["local-response-1"]}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{
					Body: testBody,
				},
			},
		}
		if err := processor.Handle(ctx, event); err != nil {
			logger.Fatal("local handler error", zap.Error(err))
		}
		return
	}

	lambda.Start(processor.Handle)
}
