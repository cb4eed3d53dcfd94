package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecrew/itinerary-pipeline/internal/aws"
	"github.com/ridecrew/itinerary-pipeline/internal/generation"
	"github.com/ridecrew/itinerary-pipeline/internal/idempotency"
	"github.com/ridecrew/itinerary-pipeline/internal/itinerary"
	"github.com/ridecrew/itinerary-pipeline/internal/users"
	"github.com/ridecrew/itinerary-pipeline/internal/validation"
)

// estimatedTime is what submitters are told to expect before polling.
const estimatedTime = "2-3 minutes"

// HandlerConfig groups dependencies for the itinerary API.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	RequestsTable    string
	ResponsesTable   string
	UsersTable       string
	IdempotencyTable string
	QueueURL         string
	TTLWindow        time.Duration
	Logger           *zap.Logger
}

// RegisterItineraryRoutes registers all itinerary pipeline routes.
func RegisterItineraryRoutes(r *gin.Engine, cfg HandlerConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v := validation.New()
	store := itinerary.NewStore(cfg.DynamoDBClient, cfg.RequestsTable, cfg.ResponsesTable)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)
	directory := users.NewDynamoDirectory(cfg.DynamoDBClient, cfg.UsersTable)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)

	h := &itineraryHandler{
		store:     store,
		idemp:     idempStore,
		directory: directory,
		publisher: publisher,
		validate:  v,
		logger:    logger,
	}

	r.POST("/itineraries", h.submit)
	r.GET("/itineraries", h.list)
	r.GET("/itineraries/:requestId/status", h.status)
	r.POST("/itineraries/:requestId/responses", h.appendVariant)
	r.GET("/responses/:responseId", h.getResponse)
}

type itineraryHandler struct {
	store     *itinerary.Store
	idemp     *idempotency.Store
	directory users.Directory
	publisher *aws.Publisher
	validate  *validatorv10.Validate
	logger    *zap.Logger
}

// submit admits a new itinerary request: validates input, persists the
// request plus its placeholder responses in one transaction, enqueues the
// generation job, and returns before any generation attempt starts.
func (h *itineraryHandler) submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.GenerateItineraryRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	// Optional idempotent retry support: a duplicate key replays the
	// original submission response instead of creating a second request.
	idempKey := c.GetHeader("Idempotency-Key")
	requestID := uuid.NewString()

	if idempKey != "" {
		created, err := h.idemp.CreateIfNotExists(ctx, idempKey, requestID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
			return
		}
		if !created {
			h.replayIdempotent(c, idempKey)
			return
		}
	}

	// Every error return past this point marks the idempotency record
	// FAILED; leaving it IN_PROGRESS would replay 202 for the whole TTL.
	exists, err := h.directory.Exists(ctx, req.Email)
	if err != nil {
		h.markFailed(ctx, idempKey, fmt.Sprintf("user_lookup_failed: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_lookup_failed", "detail": err.Error()})
		return
	}
	if !exists {
		h.markFailed(ctx, idempKey, "user_not_found")
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}

	similar, err := h.store.FindSimilar(ctx, req.RideSource, req.RideDestination, req.RideType)
	if err != nil {
		h.markFailed(ctx, idempKey, fmt.Sprintf("similarity_lookup_failed: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "similarity_lookup_failed", "detail": err.Error()})
		return
	}

	variantCount := generation.ClampVariantCount(req.NumItineraries)

	request := &itinerary.Request{
		RequestID:          requestID,
		RideType:           req.RideType,
		RideSource:         req.RideSource,
		RideDestination:    req.RideDestination,
		RideDuration:       req.RideDuration,
		LocationPreference: req.LocationPreference,
		RequestedBy:        req.Email,
		ExtraPreferences:   req.Preferences,
		Status:             itinerary.RequestStatusProcessing,
		Variation:          len(similar) + 1,
	}

	responses := make([]*itinerary.Response, 0, variantCount)
	responseIDs := make([]string, 0, variantCount)
	for i := 0; i < variantCount; i++ {
		resp := &itinerary.Response{
			ResponseID: uuid.NewString(),
			Status:     itinerary.ResponseStatusProcessing,
			Version:    i + 1,
		}
		responses = append(responses, resp)
		responseIDs = append(responseIDs, resp.ResponseID)
	}

	if err := h.store.CreateRequestWithResponses(ctx, request, responses); err != nil {
		h.markFailed(ctx, idempKey, fmt.Sprintf("request_create_failed: %v", err))
		h.logger.Error("create request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_create_failed", "detail": err.Error()})
		return
	}

	job := aws.GenerationJob{RequestID: requestID, ResponseIDs: responseIDs}
	attrs := map[string]string{
		"request_id":     requestID,
		"correlation_id": c.GetHeader("X-Request-Id"),
	}
	if err := h.publisher.PublishGenerationJob(ctx, job, attrs); err != nil {
		h.markFailed(ctx, idempKey, fmt.Sprintf("enqueue_failed: %v", err))
		h.logger.Error("enqueue generation job failed", zap.String("requestId", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
		return
	}

	body := gin.H{
		"message":       "Itinerary request submitted successfully",
		"requestId":     requestID,
		"responseIds":   responseIDs,
		"estimatedTime": estimatedTime,
	}
	if idempKey != "" {
		stored, _ := json.Marshal(body)
		_ = h.idemp.MarkDone(ctx, idempKey, string(stored), http.StatusOK)
	}

	h.logger.Info("itinerary request submitted",
		zap.String("requestId", requestID),
		zap.Int("variants", variantCount),
		zap.Int("variation", request.Variation))
	c.JSON(http.StatusOK, body)
}

// markFailed releases an idempotency key after a failed submission so a
// retry sees FAILED instead of a stale IN_PROGRESS record.
func (h *itineraryHandler) markFailed(ctx context.Context, idempKey, note string) {
	if idempKey == "" {
		return
	}
	if err := h.idemp.MarkFailed(ctx, idempKey, note); err != nil {
		h.logger.Error("mark idempotency failed", zap.String("idempotencyKey", idempKey), zap.Error(err))
	}
}

// replayIdempotent resolves a duplicate submission from the stored
// idempotency record.
func (h *itineraryHandler) replayIdempotent(c *gin.Context, idempKey string) {
	rec, err := h.idemp.Get(c.Request.Context(), idempKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_record_missing"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"requestId": rec.RequestID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "requestId": rec.RequestID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "requestId": rec.RequestID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

// status reports the request's aggregate state and each variant's progress.
func (h *itineraryHandler) status(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.Param("requestId")

	request, err := h.store.GetRequest(ctx, requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_fetch_failed", "detail": err.Error()})
		return
	}
	if request == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Itinerary request not found"})
		return
	}

	responses, err := h.store.ListResponses(ctx, requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_fetch_failed", "detail": err.Error()})
		return
	}

	statuses := make([]gin.H, 0, len(responses))
	for _, r := range responses {
		statuses = append(statuses, gin.H{
			"responseId":   r.ResponseID,
			"status":       r.Status,
			"hasItinerary": r.Itinerary != "",
			"errorMessage": r.ErrorMessage,
			"createdAt":    r.CreatedAt,
			"generatedAt":  r.GeneratedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"requestId":      request.RequestID,
		"overallStatus":  request.Status,
		"generatedCount": request.GeneratedCount,
		"responses":      statuses,
	})
}

// list returns completed itineraries: scoped to one user when the email
// query parameter is present, otherwise every request with at least one
// completed variant.
func (h *itineraryHandler) list(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		results []itinerary.RequestWithResponses
		err     error
	)
	if email := c.Query("email"); email != "" {
		results, err = h.store.FindCompletedForUser(ctx, email)
	} else {
		results, err = h.store.ListAllWithCompleted(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "itinerary_fetch_failed", "detail": err.Error()})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "No itineraries found"})
		return
	}

	formatted := make([]gin.H, 0, len(results))
	for _, rw := range results {
		formatted = append(formatted, formatRequestWithResponses(rw))
	}
	c.JSON(http.StatusOK, formatted)
}

// appendVariant creates one more themed variant for an existing request and
// enqueues its generation.
func (h *itineraryHandler) appendVariant(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.Param("requestId")

	request, err := h.store.GetRequest(ctx, requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_fetch_failed", "detail": err.Error()})
		return
	}
	if request == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Itinerary request not found"})
		return
	}

	resp := &itinerary.Response{
		ResponseID: uuid.NewString(),
		Status:     itinerary.ResponseStatusProcessing,
		Version:    request.GeneratedCount + 1,
	}
	if err := h.store.AppendResponse(ctx, requestID, resp); err != nil {
		h.logger.Error("append response failed", zap.String("requestId", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "response_create_failed", "detail": err.Error()})
		return
	}

	job := aws.GenerationJob{RequestID: requestID, ResponseIDs: []string{resp.ResponseID}}
	attrs := map[string]string{
		"request_id":     requestID,
		"correlation_id": c.GetHeader("X-Request-Id"),
	}
	if err := h.publisher.PublishGenerationJob(ctx, job, attrs); err != nil {
		h.logger.Error("enqueue additional variant failed", zap.String("requestId", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Additional itinerary generation started",
		"requestId":  requestID,
		"responseId": resp.ResponseID,
		"version":    resp.Version,
	})
}

// getResponse returns one variant in full, including its request's
// parameters.
func (h *itineraryHandler) getResponse(c *gin.Context) {
	ctx := c.Request.Context()
	responseID := c.Param("responseId")

	resp, err := h.store.GetResponse(ctx, responseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "response_fetch_failed", "detail": err.Error()})
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Itinerary response not found"})
		return
	}

	request, err := h.store.GetRequest(ctx, resp.RequestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request_fetch_failed", "detail": err.Error()})
		return
	}

	body := gin.H{
		"responseId":   resp.ResponseID,
		"status":       resp.Status,
		"itinerary":    rawOrNil(resp.Itinerary),
		"tokenUsage":   resp.TokenUsage,
		"version":      resp.Version,
		"model":        resp.Model,
		"errorMessage": resp.ErrorMessage,
		"generatedAt":  resp.GeneratedAt,
		"failedAt":     resp.FailedAt,
		"createdAt":    resp.CreatedAt,
	}
	if request != nil {
		body["requestDetails"] = gin.H{
			"requestId":          request.RequestID,
			"rideType":           request.RideType,
			"rideSource":         request.RideSource,
			"rideDestination":    request.RideDestination,
			"rideDuration":       request.RideDuration,
			"locationPreference": request.LocationPreference,
			"requestedBy":        request.RequestedBy,
		}
	}
	c.JSON(http.StatusOK, body)
}

func formatRequestWithResponses(rw itinerary.RequestWithResponses) gin.H {
	req := rw.Request
	items := make([]gin.H, 0, len(rw.Responses))
	for _, r := range rw.Responses {
		items = append(items, gin.H{
			"responseId":  r.ResponseID,
			"itinerary":   rawOrNil(r.Itinerary),
			"tokenUsed":   r.TokenUsage,
			"version":     r.Version,
			"model":       r.Model,
			"generatedAt": r.GeneratedAt,
			"createdAt":   r.CreatedAt,
		})
	}

	return gin.H{
		"requestId":          req.RequestID,
		"rideType":           req.RideType,
		"rideSource":         req.RideSource,
		"rideDestination":    req.RideDestination,
		"rideDuration":       req.RideDuration,
		"formattedDuration":  formatDuration(req.RideDuration),
		"locationPreference": req.LocationPreference,
		"requestedBy":        req.RequestedBy,
		"status":             req.Status,
		"generatedCount":     req.GeneratedCount,
		"createdAt":          req.CreatedAt,
		"updatedAt":          req.UpdatedAt,
		"itineraries":        items,
	}
}

func formatDuration(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// rawOrNil keeps stored itinerary JSON opaque on the way out.
func rawOrNil(itineraryJSON string) interface{} {
	if itineraryJSON == "" {
		return nil
	}
	return json.RawMessage(itineraryJSON)
}
