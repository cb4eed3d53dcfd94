package itinerary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ridecrew/itinerary-pipeline/internal/aws"
)

// GSI names on the requests and responses tables.
const (
	routeKeyIndex    = "route_key-index"
	requestedByIndex = "requested_by-index"
	requestIDIndex   = "request_id-index"
)

// ErrStatusMismatch indicates a conditional status transition failed: the
// record already left the expected state.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store encapsulates operations on the itinerary requests and responses
// tables.
type Store struct {
	client         aws.DynamoDBAPI
	requestsTable  string
	responsesTable string
	nowFunc        func() time.Time
}

// NewStore creates a new itinerary Store.
func NewStore(client aws.DynamoDBAPI, requestsTable, responsesTable string) *Store {
	return &Store{
		client:         client,
		requestsTable:  requestsTable,
		responsesTable: responsesTable,
		nowFunc:        time.Now,
	}
}

// CreateRequestWithResponses atomically persists a new request together with
// its placeholder responses using TransactWriteItems. The request's
// ResponseIDs, GeneratedCount and RouteKey are derived here; the caller sets
// everything else.
func (s *Store) CreateRequestWithResponses(ctx context.Context, req *Request, responses []*Response) error {
	now := s.nowFunc().UTC()

	req.RouteKey = RouteKey(req.RideSource, req.RideDestination, req.RideType)
	req.ResponseIDs = req.ResponseIDs[:0]
	for _, r := range responses {
		req.ResponseIDs = append(req.ResponseIDs, r.ResponseID)
	}
	req.GeneratedCount = len(req.ResponseIDs)
	if req.Status == "" {
		req.Status = RequestStatusProcessing
	}
	req.CreatedAt = now
	req.UpdatedAt = now

	reqMap, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.requestsTable,
				Item:                reqMap,
				ConditionExpression: awsString("attribute_not_exists(request_id)"),
			},
		},
	}

	for _, r := range responses {
		r.RequestID = req.RequestID
		if r.Status == "" {
			r.Status = ResponseStatusProcessing
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		respMap, err := attributevalue.MarshalMap(r)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.responsesTable,
				Item:                respMap,
				ConditionExpression: awsString("attribute_not_exists(response_id)"),
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (duplicate id): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// AppendResponse atomically creates one more placeholder response for an
// existing request and links it: the request's response_ids list grows and
// generated_count advances in the same transaction.
func (s *Store) AppendResponse(ctx context.Context, requestID string, resp *Response) error {
	now := s.nowFunc().UTC()

	resp.RequestID = requestID
	if resp.Status == "" {
		resp.Status = ResponseStatusProcessing
	}
	resp.CreatedAt = now
	resp.UpdatedAt = now

	respMap, err := attributevalue.MarshalMap(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	ridList, err := attributevalue.MarshalList([]string{resp.ResponseID})
	if err != nil {
		return fmt.Errorf("marshal response id: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.responsesTable,
				Item:                respMap,
				ConditionExpression: awsString("attribute_not_exists(response_id)"),
			},
		},
		{
			Update: &types.Update{
				TableName: &s.requestsTable,
				Key: map[string]types.AttributeValue{
					"request_id": &types.AttributeValueMemberS{Value: requestID},
				},
				UpdateExpression: awsString("SET response_ids = list_append(response_ids, :rid), generated_count = generated_count + :one, updated_at = :ua"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":rid": &types.AttributeValueMemberL{Value: ridList},
					":one": &types.AttributeValueMemberN{Value: "1"},
					":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				},
				ConditionExpression: awsString("attribute_exists(request_id)"),
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// GetRequest fetches a request by id. Returns (nil, nil) if not found.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*Request, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.requestsTable,
		Key: map[string]types.AttributeValue{
			"request_id": &types.AttributeValueMemberS{Value: requestID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r Request
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &r, nil
}

// GetResponse fetches a response by id. Returns (nil, nil) if not found.
func (s *Store) GetResponse(ctx context.Context, responseID string) (*Response, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.responsesTable,
		Key: map[string]types.AttributeValue{
			"response_id": &types.AttributeValueMemberS{Value: responseID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r Response
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &r, nil
}

// ListResponses returns all responses belonging to a request, ordered by
// version. The request_id GSI has no range key, so ordering happens here.
func (s *Store) ListResponses(ctx context.Context, requestID string) ([]Response, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.responsesTable,
		IndexName:              awsString(requestIDIndex),
		KeyConditionExpression: awsString("request_id = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: requestID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}

	responses := make([]Response, 0, len(out.Items))
	for _, item := range out.Items {
		var r Response
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		responses = append(responses, r)
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].Version < responses[j].Version })
	return responses, nil
}

// CompleteResponse transitions a response from processing to completed,
// storing the generated payload, model and token usage, and stamping
// generated_at exactly once. Returns ErrStatusMismatch if the response
// already left the processing state.
func (s *Store) CompleteResponse(ctx context.Context, responseID string, payload []byte, model string, usage *TokenUsage) error {
	now := s.nowFunc().UTC()

	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: ResponseStatusCompleted},
		":expected": &types.AttributeValueMemberS{Value: ResponseStatusProcessing},
		":it":       &types.AttributeValueMemberS{Value: string(payload)},
		":m":        &types.AttributeValueMemberS{Value: model},
		":ga":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	updateExpr := "SET #s = :new, itinerary = :it, model = :m, generated_at = :ga, updated_at = :ua"

	if usage != nil {
		usageMap, err := attributevalue.MarshalMap(usage)
		if err != nil {
			return fmt.Errorf("marshal token usage: %w", err)
		}
		values[":tu"] = &types.AttributeValueMemberM{Value: usageMap}
		updateExpr += ", token_usage = :tu"
	}

	return s.transitionResponse(ctx, responseID, updateExpr, values)
}

// FailResponse transitions a response from processing to failed, recording
// the error message and stamping failed_at exactly once. Returns
// ErrStatusMismatch if the response already left the processing state.
func (s *Store) FailResponse(ctx context.Context, responseID, errorMessage string) error {
	now := s.nowFunc().UTC()

	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: ResponseStatusFailed},
		":expected": &types.AttributeValueMemberS{Value: ResponseStatusProcessing},
		":em":       &types.AttributeValueMemberS{Value: errorMessage},
		":fa":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	updateExpr := "SET #s = :new, error_message = :em, failed_at = :fa, updated_at = :ua"

	return s.transitionResponse(ctx, responseID, updateExpr, values)
}

func (s *Store) transitionResponse(ctx context.Context, responseID, updateExpr string, values map[string]types.AttributeValue) error {
	input := &dyn.UpdateItemInput{
		TableName: &s.responsesTable,
		Key: map[string]types.AttributeValue{
			"response_id": &types.AttributeValueMemberS{Value: responseID},
		},
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update response: %w", err)
	}
	return nil
}

// RecomputeRequestStatus re-derives a request's aggregate status and
// generated_count from a fresh read of its responses and writes them back
// only when something actually changed. Returns the derived status.
//
// Concurrent response completions for the same request may interleave here;
// because every recompute starts from a fresh read, the last writer always
// reflects a complete set of response statuses.
func (s *Store) RecomputeRequestStatus(ctx context.Context, requestID string) (string, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req == nil {
		return "", fmt.Errorf("request not found: %s", requestID)
	}

	responses, err := s.ListResponses(ctx, requestID)
	if err != nil {
		return "", err
	}

	statuses := make([]string, 0, len(responses))
	for _, r := range responses {
		statuses = append(statuses, r.Status)
	}

	newStatus := ComputeStatus(req.Status, statuses)
	newCount := len(responses)
	if newStatus == req.Status && newCount == req.GeneratedCount {
		return newStatus, nil
	}

	now := s.nowFunc().UTC()
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.requestsTable,
		Key: map[string]types.AttributeValue{
			"request_id": &types.AttributeValueMemberS{Value: requestID},
		},
		UpdateExpression:         awsString("SET #s = :new, generated_count = :gc, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberS{Value: newStatus},
			":gc":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newCount)},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("update request status: %w", err)
	}
	return newStatus, nil
}

// FindSimilar returns prior requests sharing the same normalized
// source/destination/rideType triple. Used only to compute the next variation
// index, never as a uniqueness constraint.
func (s *Store) FindSimilar(ctx context.Context, source, destination, rideType string) ([]Request, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.requestsTable,
		IndexName:              awsString(routeKeyIndex),
		KeyConditionExpression: awsString("route_key = :rk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rk": &types.AttributeValueMemberS{Value: RouteKey(source, destination, rideType)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query similar requests: %w", err)
	}

	requests := make([]Request, 0, len(out.Items))
	for _, item := range out.Items {
		var r Request
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, nil
}

// FindCompletedForUser returns a user's requests that produced at least one
// response, newest first, each with only its completed responses attached.
func (s *Store) FindCompletedForUser(ctx context.Context, email string) ([]RequestWithResponses, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.requestsTable,
		IndexName:              awsString(requestedByIndex),
		KeyConditionExpression: awsString("requested_by = :rb"),
		FilterExpression:       awsString("generated_count > :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rb":   &types.AttributeValueMemberS{Value: email},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
		ScanIndexForward: boolPtr(false), // newest first (created_at range key)
	})
	if err != nil {
		return nil, fmt.Errorf("query user requests: %w", err)
	}

	return s.attachCompletedResponses(ctx, out.Items)
}

// ListAllWithCompleted returns every request having at least one completed
// response, newest first. Backed by a table scan; this serves the admin
// listing only.
func (s *Store) ListAllWithCompleted(ctx context.Context) ([]RequestWithResponses, error) {
	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName: &s.requestsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("scan requests: %w", err)
	}

	results, err := s.attachCompletedResponses(ctx, out.Items)
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, rw := range results {
		if len(rw.Responses) > 0 {
			filtered = append(filtered, rw)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Request.CreatedAt.After(filtered[j].Request.CreatedAt)
	})
	return filtered, nil
}

func (s *Store) attachCompletedResponses(ctx context.Context, items []map[string]types.AttributeValue) ([]RequestWithResponses, error) {
	results := make([]RequestWithResponses, 0, len(items))
	for _, item := range items {
		var req Request
		if err := attributevalue.UnmarshalMap(item, &req); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}

		responses, err := s.ListResponses(ctx, req.RequestID)
		if err != nil {
			return nil, err
		}
		completed := make([]Response, 0, len(responses))
		for _, r := range responses {
			if r.Status == ResponseStatusCompleted {
				completed = append(completed, r)
			}
		}
		results = append(results, RequestWithResponses{Request: req, Responses: completed})
	}
	return results, nil
}

func awsString(s string) *string { return &s }
func boolPtr(b bool) *bool      { return &b }
