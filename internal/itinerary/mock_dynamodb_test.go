package itinerary

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a simple in-memory mock supporting the subset of DynamoDB the
// store uses: GetItem, PutItem, UpdateItem, Query (by GSI), Scan and
// TransactWriteItems. Items are stored per table: table -> pkValue -> item.
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

// itemPK resolves an item's partition key. Response items carry both ids, so
// response_id wins.
func itemPK(item map[string]types.AttributeValue) (string, error) {
	if v, ok := item["response_id"]; ok {
		return v.(*types.AttributeValueMemberS).Value, nil
	}
	if v, ok := item["request_id"]; ok {
		return v.(*types.AttributeValueMemberS).Value, nil
	}
	return "", errors.New("no primary key in item")
}

func keyPK(key map[string]types.AttributeValue) (string, error) {
	if v, ok := key["response_id"]; ok {
		return v.(*types.AttributeValueMemberS).Value, nil
	}
	if v, ok := key["request_id"]; ok {
		return v.(*types.AttributeValueMemberS).Value, nil
	}
	return "", errors.New("no key attribute")
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Item)
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
	pk, err := keyPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

// applyUpdateValues maps the store's expression value placeholders onto item
// attributes. Naive but sufficient for the expressions under test.
var updateValueAttrs = map[string]string{
	":it": "itinerary",
	":m":  "model",
	":ga": "generated_at",
	":em": "error_message",
	":fa": "failed_at",
	":ua": "updated_at",
	":tu": "token_usage",
	":gc": "generated_count",
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := keyPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.tables[table][pk]
	if !exists {
		return nil, errors.New("item not found")
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :expected" {
		curr, ok := item["status"].(*types.AttributeValueMemberS)
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
		expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
		if curr.Value != expected {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	if v, ok := params.ExpressionAttributeValues[":new"]; ok {
		item["status"] = v
	}
	for placeholder, attr := range updateValueAttrs {
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

	// derive the GSI hash attribute and its value from the key condition
	var attr string
	var want string
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

	// the GSIs range on created_at; ScanIndexForward=false reads newest first
	sort.SliceStable(out.Items, func(i, j int) bool {
		return itemCreatedAt(out.Items[i]).Before(itemCreatedAt(out.Items[j]))
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(out.Items)-1; i < j; i, j = i+1, j-1 {
			out.Items[i], out.Items[j] = out.Items[j], out.Items[i]
		}
	}
	return out, nil
}

func itemCreatedAt(item map[string]types.AttributeValue) time.Time {
	v, ok := item["created_at"].(*types.AttributeValueMemberS)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, v.Value)
	if err != nil {
		return time.Time{}
	}
	return ts
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

	// first pass: verify conditions
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			table := *p.TableName
			m.ensureTable(table)
			pk, err := itemPK(p.Item)
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
			pk, err := keyPK(u.Key)
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

	// second pass: apply
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			table := *p.TableName
			pk, _ := itemPK(p.Item)
			m.tables[table][pk] = p.Item
		}
		if u := it.Update; u != nil {
			table := *u.TableName
			pk, _ := keyPK(u.Key)
			item := m.tables[table][pk]
			// the only transactional update in play appends a response id and
			// bumps generated_count
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
