package handlers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	sqssvc "github.com/aws/aws-sdk-go-v2/service/sqs"
)

// attrN reads a numeric attribute off a raw item.
func attrN(t *testing.T, item map[string]types.AttributeValue, name string) int {
	t.Helper()
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatalf("attribute %s missing or not numeric: %+v", name, item[name])
	}
	n, err := strconv.Atoi(v.Value)
	if err != nil {
		t.Fatalf("attribute %s not an int: %v", name, err)
	}
	return n
}

// mockDynamo backs every table the API touches: requests, responses, users
// and idempotency. Items are stored per table keyed by their partition key.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func (m *mockDynamo) ensureTable(tbl string) {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
}

func (m *mockDynamo) seedUser(table, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureTable(table)
	m.tables[table][email] = map[string]types.AttributeValue{
		"email": &types.AttributeValueMemberS{Value: email},
	}
}

// Ordered so that composite items resolve correctly: idempotency records
// also carry request_id, response items carry both ids.
var pkAttributes = []string{"idempotency_key", "email", "response_id", "request_id"}

func attrPK(attrs map[string]types.AttributeValue) (string, error) {
	for _, name := range pkAttributes {
		if v, ok := attrs[name]; ok {
			return v.(*types.AttributeValueMemberS).Value, nil
		}
	}
	return "", errors.New("no partition key attribute")
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := attrPK(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		if _, exists := m.tables[table][pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.tables[table][pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := attrPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := attrPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.tables[table][pk]
	if !exists {
		return nil, errors.New("item not found")
	}
	// naive: status markers first, then well-known value placeholders
	statusKeys := []string{":done", ":failed", ":new"}
	for _, k := range statusKeys {
		if v, ok := params.ExpressionAttributeValues[k]; ok {
			item["status"] = v
		}
	}
	valueAttrs := map[string]string{
		":rb": "response_body",
		":rs": "response_status",
		":n":  "note",
		":ua": "updated_at",
		":gc": "generated_count",
	}
	for placeholder, attr := range valueAttrs {
		if v, ok := params.ExpressionAttributeValues[placeholder]; ok {
			item[attr] = v
		}
	}
	m.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)

	var attr, want string
	switch *params.KeyConditionExpression {
	case "route_key = :rk":
		attr = "route_key"
		want = params.ExpressionAttributeValues[":rk"].(*types.AttributeValueMemberS).Value
	case "requested_by = :rb":
		attr = "requested_by"
		want = params.ExpressionAttributeValues[":rb"].(*types.AttributeValueMemberS).Value
	case "request_id = :rid":
		attr = "request_id"
		want = params.ExpressionAttributeValues[":rid"].(*types.AttributeValueMemberS).Value
	default:
		return nil, errors.New("unsupported key condition: " + *params.KeyConditionExpression)
	}

	out := &dyn.QueryOutput{}
	for _, item := range m.tables[table] {
		v, ok := item[attr].(*types.AttributeValueMemberS)
		if !ok || v.Value != want {
			continue
		}
		if params.FilterExpression != nil && *params.FilterExpression == "generated_count > :zero" {
			gc, ok := item["generated_count"].(*types.AttributeValueMemberN)
			if !ok {
				continue
			}
			n, _ := strconv.Atoi(gc.Value)
			if n <= 0 {
				continue
			}
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	out := &dyn.ScanOutput{}
	for _, item := range m.tables[table] {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			table := *p.TableName
			m.ensureTable(table)
			pk, err := attrPK(p.Item)
			if err != nil {
				return nil, err
			}
			if p.ConditionExpression != nil {
				if _, exists := m.tables[table][pk]; exists {
					return nil, &types.TransactionCanceledException{}
				}
			}
		}
		if u := it.Update; u != nil {
			table := *u.TableName
			m.ensureTable(table)
			pk, err := attrPK(u.Key)
			if err != nil {
				return nil, err
			}
			if u.ConditionExpression != nil && *u.ConditionExpression == "attribute_exists(request_id)" {
				if _, exists := m.tables[table][pk]; !exists {
					return nil, &types.TransactionCanceledException{}
				}
			}
		}
	}

	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			table := *p.TableName
			pk, _ := attrPK(p.Item)
			m.tables[table][pk] = p.Item
		}
		if u := it.Update; u != nil {
			table := *u.TableName
			pk, _ := attrPK(u.Key)
			item := m.tables[table][pk]
			if rid, ok := u.ExpressionAttributeValues[":rid"].(*types.AttributeValueMemberL); ok {
				existing, _ := item["response_ids"].(*types.AttributeValueMemberL)
				merged := &types.AttributeValueMemberL{}
				if existing != nil {
					merged.Value = append(merged.Value, existing.Value...)
				}
				merged.Value = append(merged.Value, rid.Value...)
				item["response_ids"] = merged
			}
			if gc, ok := item["generated_count"].(*types.AttributeValueMemberN); ok {
				n, _ := strconv.Atoi(gc.Value)
				item["generated_count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(n + 1)}
			}
			if v, ok := u.ExpressionAttributeValues[":ua"]; ok {
				item["updated_at"] = v
			}
			m.tables[table][pk] = item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// mockSQS records sent messages and can be told to fail.
type mockSQS struct {
	mu       sync.Mutex
	messages []sqssvc.SendMessageInput
	failNext bool
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqssvc.SendMessageInput, optFns ...func(*sqssvc.Options)) (*sqssvc.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return nil, errors.New("queue unavailable")
	}
	m.messages = append(m.messages, *params)
	id := "msg-" + strconv.Itoa(len(m.messages))
	return &sqssvc.SendMessageOutput{MessageId: &id}, nil
}
