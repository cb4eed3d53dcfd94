// Package metrics publishes pipeline outcome metrics to CloudWatch.
// Emission is best-effort: a metric failure never affects the pipeline.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/ridecrew/itinerary-pipeline/internal/aws"
)

const defaultNamespace = "ItineraryPipeline"

// Emitter records generation outcomes as CloudWatch metrics.
type Emitter struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewEmitter builds an Emitter. A nil client disables emission.
func NewEmitter(client aws.CloudWatchAPI, namespace string, logger *zap.Logger) *Emitter {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// RecordVariant emits the outcome of one themed variant: a completion or
// failure count, the attempt count, and the parse method used.
func (e *Emitter) RecordVariant(ctx context.Context, completed bool, attempts int, parseMethod string) {
	if e == nil || e.client == nil {
		return
	}

	now := e.nowFunc()
	outcomeMetric := "VariantCompleted"
	if !completed {
		outcomeMetric = "VariantFailed"
	}

	data := []cwtypes.MetricDatum{
		{
			MetricName: strPtr(outcomeMetric),
			Value:      float64Ptr(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &now,
		},
		{
			MetricName: strPtr("GenerationAttempts"),
			Value:      float64Ptr(float64(attempts)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &now,
		},
	}
	if parseMethod != "" {
		data = append(data, cwtypes.MetricDatum{
			MetricName: strPtr("ParseOutcome"),
			Value:      float64Ptr(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &now,
			Dimensions: []cwtypes.Dimension{
				{Name: strPtr("Method"), Value: strPtr(parseMethod)},
			},
		})
	}

	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &e.namespace,
		MetricData: data,
	})
	if err != nil {
		e.logger.Warn("put metric data failed", zap.Error(err))
	}
}

func strPtr(s string) *string       { return &s }
func float64Ptr(f float64) *float64 { return &f }
