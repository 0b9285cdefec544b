package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-retail-orderflow/internal/orders"
)

// mockDynamo holds the statuses, activities and orders tables in memory.
type mockDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	pageSize int
	scans    int
	txErr    error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func str(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// keyOf derives the storage key. Activities are keyed by order and sort key.
func keyOf(item map[string]types.AttributeValue) (string, error) {
	if ak, ok := item["activity_key"]; ok {
		return str(item["order_id"]) + "|" + str(ak), nil
	}
	if id, ok := item["status_id"]; ok {
		return str(id), nil
	}
	if id, ok := item["order_id"]; ok {
		return str(id), nil
	}
	return "", errors.New("no key")
}

func conditionHolds(expr *string, existing, values map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	switch {
	case *expr == orders.StatusUpdateCondition:
		if existing == nil {
			return false
		}
		current, ok := existing["status_activity_key"]
		return !ok || str(current) < str(values[":key"])
	case strings.HasPrefix(*expr, "attribute_not_exists("):
		return existing == nil
	case strings.HasPrefix(*expr, "attribute_exists("):
		return existing != nil
	case *expr == "#s = :expected":
		return existing != nil && str(existing["status"]) == str(values[":expected"])
	}
	panic("unsupported condition " + *expr)
}

func applySet(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) {
	for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ", ") {
		parts := strings.SplitN(clause, " = ", 2)
		attr := parts[0]
		if n, ok := names[attr]; ok {
			attr = n
		}
		item[attr] = values[parts[1]]
	}
}

func clone(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) sorted(table string) []map[string]types.AttributeValue {
	tbl := m.table(table)
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(tbl[k]))
	}
	return out
}

func (m *mockDynamo) page(items []map[string]types.AttributeValue, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	from := 0
	if len(start) > 0 {
		after := str(start["_k"])
		for i, it := range items {
			if k, _ := keyOf(it); k == after {
				from = i + 1
				break
			}
		}
	}
	items = items[from:]
	if m.pageSize <= 0 || len(items) <= m.pageSize {
		return items, nil
	}
	k, _ := keyOf(items[m.pageSize-1])
	return items[:m.pageSize], map[string]types.AttributeValue{"_k": &types.AttributeValueMemberS{Value: k}}
}

func (m *mockDynamo) PutItem(_ context.Context, params *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	tbl := m.table(*params.TableName)
	if !conditionHolds(params.ConditionExpression, tbl[k], params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	tbl[k] = clone(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, params *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(*params.TableName)[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (m *mockDynamo) update(table string, key map[string]types.AttributeValue, expr, cond *string, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	k, err := keyOf(key)
	if err != nil {
		return false, err
	}
	tbl := m.table(table)
	existing := tbl[k]
	if !conditionHolds(cond, existing, values) {
		return false, nil
	}
	item := clone(existing)
	for name, v := range key {
		item[name] = v
	}
	applySet(item, *expr, names, values)
	tbl[k] = item
	return true, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, params *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.update(*params.TableName, params.Key, params.UpdateExpression, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, params *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var attr, ref string
	switch *params.KeyConditionExpression {
	case "slug = :slug":
		attr, ref = "slug", ":slug"
	case "order_id = :oid":
		attr, ref = "order_id", ":oid"
	default:
		return nil, errors.New("unsupported query")
	}
	want := str(params.ExpressionAttributeValues[ref])
	var matched []map[string]types.AttributeValue
	for _, it := range m.sorted(*params.TableName) {
		if str(it[attr]) == want {
			matched = append(matched, it)
		}
	}
	items, last := m.page(matched, params.ExclusiveStartKey)
	return &dyn.QueryOutput{Items: items, LastEvaluatedKey: last}, nil
}

func (m *mockDynamo) Scan(_ context.Context, params *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	items, last := m.page(m.sorted(*params.TableName), params.ExclusiveStartKey)
	if params.ProjectionExpression != nil {
		projected := make([]map[string]types.AttributeValue, 0, len(items))
		for _, it := range items {
			projected = append(projected, map[string]types.AttributeValue{"status": it["status"]})
		}
		items = projected
	}
	return &dyn.ScanOutput{Items: items, LastEvaluatedKey: last}, nil
}

func (m *mockDynamo) TransactWriteItems(_ context.Context, params *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		return nil, m.txErr
	}
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkString("None")}
		var (
			table  string
			key    map[string]types.AttributeValue
			cond   *string
			values map[string]types.AttributeValue
		)
		switch {
		case it.Put != nil:
			table, key, cond, values = *it.Put.TableName, it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeValues
		case it.Update != nil:
			table, key, cond, values = *it.Update.TableName, it.Update.Key, it.Update.ConditionExpression, it.Update.ExpressionAttributeValues
		default:
			return nil, errors.New("unsupported transact item")
		}
		k, err := keyOf(key)
		if err != nil {
			return nil, err
		}
		existing := m.table(table)[k]
		if !conditionHolds(cond, existing, values) {
			reasons[i] = types.CancellationReason{Code: sdkString("ConditionalCheckFailed")}
			if it.Update != nil && it.Update.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld && existing != nil {
				reasons[i].Item = clone(existing)
			}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			k, _ := keyOf(p.Item)
			m.table(*p.TableName)[k] = clone(p.Item)
			continue
		}
		u := it.Update
		if _, err := m.update(*u.TableName, u.Key, u.UpdateExpression, nil, u.ExpressionAttributeNames, u.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func sdkString(s string) *string { return &s }
