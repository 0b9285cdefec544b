package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo stores items per table in a nested map: table -> pkValue -> item map.
// It understands the handful of expressions the orders package writes.
type mockDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	pageSize int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

var pkNames = []string{"order_id", "idempotency_key", "counter_id"}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func pkOf(item map[string]types.AttributeValue) (string, string, error) {
	for _, name := range pkNames {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			return name, v.Value, nil
		}
	}
	return "", "", errors.New("no primary key")
}

func strVal(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

// checkCondition evaluates the condition expressions used by the stores.
func checkCondition(expr *string, existing map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	switch e := *expr; {
	case strings.HasPrefix(e, "attribute_not_exists("):
		return existing == nil
	case strings.HasPrefix(e, "attribute_exists("):
		return existing != nil
	case e == "#s = :expected":
		return existing != nil && strVal(existing["status"]) == strVal(values[":expected"])
	}
	panic("unsupported condition " + *expr)
}

// applySet applies "SET a = :x, b = if_not_exists(b, :z) + :i" to item.
func applySet(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimPrefix(expr, "SET ")
	for _, clause := range splitClauses(expr) {
		parts := strings.SplitN(clause, " = ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad clause %q", clause)
		}
		attr := parts[0]
		if n, ok := names[attr]; ok {
			attr = n
		}
		rhs := parts[1]
		if strings.HasPrefix(rhs, "if_not_exists(") {
			var zeroRef, incRef string
			inner := strings.TrimPrefix(rhs, "if_not_exists(")
			args := strings.SplitN(inner, ") + ", 2)
			zeroRef = strings.TrimSpace(strings.SplitN(args[0], ",", 2)[1])
			incRef = args[1]
			base := strVal(values[zeroRef])
			if cur, ok := item[attr]; ok {
				base = strVal(cur)
			}
			b, _ := strconv.ParseInt(base, 10, 64)
			inc, _ := strconv.ParseInt(strVal(values[incRef]), 10, 64)
			item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(b+inc, 10)}
			continue
		}
		v, ok := values[rhs]
		if !ok {
			return fmt.Errorf("missing value %s", rhs)
		}
		item[attr] = v
	}
	return nil
}

// splitClauses splits on commas outside parentheses.
func splitClauses(expr string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(expr[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(expr[start:]))
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) PutItem(_ context.Context, params *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.table(*params.TableName)
	_, pk, err := pkOf(params.Item)
	if err != nil {
		return nil, err
	}
	if !checkCondition(params.ConditionExpression, tbl[pk], params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	tbl[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, params *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, params *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl := m.table(*params.TableName)
	_, pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	existing := tbl[pk]
	if !checkCondition(params.ConditionExpression, existing, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	item := copyItem(existing)
	for k, v := range params.Key {
		item[k] = v
	}
	if err := applySet(item, *params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	tbl[pk] = item
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

// sortedItems returns the table's items ordered by primary key.
func (m *mockDynamo) sortedItems(table string) []map[string]types.AttributeValue {
	tbl := m.table(table)
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, tbl[k])
	}
	return out
}

// page slices items after startKey, returning a LastEvaluatedKey when more remain.
func (m *mockDynamo) page(items []map[string]types.AttributeValue, startKey map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	start := 0
	if len(startKey) > 0 {
		_, after, _ := pkOf(startKey)
		for i, it := range items {
			if _, pk, _ := pkOf(it); pk == after {
				start = i + 1
				break
			}
		}
	}
	items = items[start:]
	if m.pageSize <= 0 || len(items) <= m.pageSize {
		return items, nil
	}
	last := items[m.pageSize-1]
	name, pk, _ := pkOf(last)
	return items[:m.pageSize], map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: pk}}
}

func (m *mockDynamo) Query(_ context.Context, params *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if params.IndexName == nil || *params.IndexName != UserIndex || *params.KeyConditionExpression != "user_id = :uid" {
		return nil, errors.New("unsupported query")
	}
	uid := strVal(params.ExpressionAttributeValues[":uid"])
	var matched []map[string]types.AttributeValue
	for _, it := range m.sortedItems(*params.TableName) {
		if strVal(it["user_id"]) == uid {
			matched = append(matched, it)
		}
	}
	items, last := m.page(matched, params.ExclusiveStartKey)
	return &dyn.QueryOutput{Items: items, LastEvaluatedKey: last}, nil
}

func (m *mockDynamo) Scan(_ context.Context, params *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, last := m.page(m.sortedItems(*params.TableName), params.ExclusiveStartKey)
	projected := make([]map[string]types.AttributeValue, 0, len(items))
	for _, it := range items {
		p := map[string]types.AttributeValue{}
		if v, ok := it["status"]; ok {
			p["status"] = v
		}
		projected = append(projected, p)
	}
	return &dyn.ScanOutput{Items: projected, LastEvaluatedKey: last}, nil
}

func (m *mockDynamo) TransactWriteItems(_ context.Context, params *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: aString("None")}
		if p := it.Put; p != nil {
			_, pk, err := pkOf(p.Item)
			if err != nil {
				return nil, err
			}
			if !checkCondition(p.ConditionExpression, m.table(*p.TableName)[pk], p.ExpressionAttributeValues) {
				reasons[i] = types.CancellationReason{Code: aString("ConditionalCheckFailed")}
				failed = true
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			_, pk, _ := pkOf(p.Item)
			m.table(*p.TableName)[pk] = p.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func aString(s string) *string { return &s }
