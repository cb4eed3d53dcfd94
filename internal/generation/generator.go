package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ridecrew/itinerary-pipeline/internal/itinerary"
	"github.com/ridecrew/itinerary-pipeline/internal/parser"
)

const (
	defaultMaxAttempts = 3
	defaultCallTimeout = 60 * time.Second
	maxOutputTokens    = 4000
)

// Result is the total outcome of one themed variant. Generate never returns
// an error: exhaustion produces a fallback-flagged result so the pipeline
// always terminates and the variant still counts as generated.
type Result struct {
	// Errored marks a result produced by the fallback path rather than a
	// clean parse.
	Errored bool
	// Failed means no usable text was produced at all; the response must be
	// recorded as failed rather than completed-with-fallback.
	Failed bool
	// Payload is the JSON document to persist (parsed itinerary, or the
	// fallback document when Errored and not Failed).
	Payload      string
	RawText      string
	ParseMethod  string
	Usage        *itinerary.TokenUsage
	Model        string
	Attempts     int
	ErrorMessage string
}

// Generator runs the per-theme attempt loop against the generative-AI
// service.
type Generator struct {
	ai          GenAI
	model       string
	maxAttempts int
	callTimeout time.Duration
	sleep       func(context.Context, time.Duration)
	logger      *zap.Logger
}

// NewGenerator builds a Generator over a GenAI client. model is recorded on
// results for attribution.
func NewGenerator(ai GenAI, model string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		ai:          ai,
		model:       model,
		maxAttempts: defaultMaxAttempts,
		callTimeout: defaultCallTimeout,
		sleep:       sleepWithContext,
		logger:      logger,
	}
}

// Generate produces one themed itinerary. Up to maxAttempts calls are made
// with escalating temperature; transport failures, blocked content and parse
// failures all count toward the ceiling. On exhaustion the result is
// fallback-flagged, never raised.
func (g *Generator) Generate(ctx context.Context, theme Theme, params TravelParams) Result {
	userPrompt := buildUserPrompt(theme, params)
	systemPrompt := buildSystemPrompt(theme)

	plan := newAttemptPlan(g.maxAttempts)

	var (
		lastErr     error
		lastOutcome *parser.Outcome
		lastRaw     string
	)

	for plan.next() {
		g.logger.Info("generation attempt",
			zap.String("theme", theme.Title),
			zap.Int("variant", params.VariantNumber),
			zap.Int("attempt", plan.attempt))

		text, usage, err := g.callOnce(ctx, userPrompt, systemPrompt, plan.temperature())
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrContentBlocked) {
				plan.record(failureBlocked)
			} else {
				plan.record(failureTransport)
			}
			g.logger.Warn("generation call failed",
				zap.Int("attempt", plan.attempt), zap.Error(err))
			g.waitForRetry(ctx, plan)
			continue
		}

		lastRaw = text
		outcome := parser.Parse(text)
		if outcome.Success {
			return Result{
				Payload:     string(outcome.Data),
				RawText:     text,
				ParseMethod: outcome.Method,
				Usage:       usage,
				Model:       g.model,
				Attempts:    plan.attempt,
			}
		}

		lastOutcome = &outcome
		plan.record(failureParse)
		g.logger.Warn("generation output did not parse",
			zap.Int("attempt", plan.attempt), zap.Int("textLength", len(text)))
		g.waitForRetry(ctx, plan)
	}

	// Ceiling reached. With usable text in hand the variant completes with a
	// structured fallback document; without any text it is a hard failure.
	if lastRaw != "" {
		if lastOutcome == nil {
			o := parser.Parse(lastRaw)
			lastOutcome = &o
		}
		return Result{
			Errored:      true,
			Payload:      fallbackDocument(theme, params, lastOutcome),
			RawText:      lastRaw,
			ParseMethod:  lastOutcome.Method,
			Model:        g.model,
			Attempts:     plan.attempt,
			ErrorMessage: "Failed to parse after multiple attempts",
		}
	}

	msg := "Request failed after multiple attempts"
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	return Result{
		Errored:      true,
		Failed:       true,
		Model:        g.model,
		Attempts:     plan.attempt,
		ErrorMessage: msg,
	}
}

// callOnce performs a single bounded generation call and extracts the text
// and token usage.
func (g *Generator) callOnce(ctx context.Context, userPrompt, systemPrompt string, temperature float32) (string, *itinerary.TokenUsage, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		TopP:            genai.Ptr[float32](0.8),
		TopK:            genai.Ptr[float32](10),
		MaxOutputTokens: maxOutputTokens,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		SafetySettings: safetySettings(),
	}

	resp, err := g.ai.GenerateContent(callCtx, userPrompt, cfg)
	if err != nil {
		return "", nil, err
	}
	if len(resp.Candidates) == 0 {
		return "", nil, ErrContentBlocked
	}
	text := extractText(resp)
	if text == "" {
		return "", nil, ErrContentBlocked
	}

	var usage *itinerary.TokenUsage
	if resp.UsageMetadata != nil {
		usage = &itinerary.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CandidatesTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return text, usage, nil
}

func (g *Generator) waitForRetry(ctx context.Context, plan *attemptPlan) {
	if plan.exhausted() {
		return
	}
	if d := plan.delay(); d > 0 {
		g.sleep(ctx, d)
	}
}

// fallbackDocument packages the parse fallback the same way a parsed
// itinerary is stored, with the error and raw content embedded.
func fallbackDocument(theme Theme, params TravelParams, outcome *parser.Outcome) string {
	doc := map[string]interface{}{
		"id":           params.VariantNumber,
		"title":        theme.Title,
		"theme":        theme.Focus,
		"error":        "Failed to parse after multiple attempts",
		"fallbackData": outcome.Fallback,
		"rawContent":   outcome.RawText,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		// outcome content is always marshalable; guard anyway
		return fmt.Sprintf(`{"id":%d,"title":%q,"error":"Failed to parse after multiple attempts"}`,
			params.VariantNumber, theme.Title)
	}
	return string(b)
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
