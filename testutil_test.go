/*
Package facet – shared test infrastructure.

An in-memory DynamoDB double with naive expression evaluation, deterministic
pagination and fault-injection hooks, plus the schema fixtures and assertion
helpers the suite shares.
*/
package facet

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ─── regexps ─────────────────────────────────────────────────────────────────

var (
	reULID    = regexp.MustCompile(`^[0-9A-Z]{26}$`)
	reUUID    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	reBetween = regexp.MustCompile(`(?i)([#:]\w+)\s+BETWEEN\s+([#:]\w+)\s+AND\s+([#:]\w+)`)
)

func isULID(s string) bool { return reULID.MatchString(s) }

// ─── expression evaluation ───────────────────────────────────────────────────

// applyUpdateExpression naively applies an UpdateExpression of the form
// "set #a = :a, #b = if_not_exists(#b, :b) remove #c, #d add #e :e".
// Good enough for tests – no nested paths, no arithmetic.
func applyUpdateExpression(
	item map[string]types.AttributeValue,
	expr string,
	names map[string]string,
	vals map[string]types.AttributeValue,
) {
	resolveName := func(tok string) string {
		tok = strings.TrimSpace(tok)
		if v, ok := names[tok]; ok {
			return v
		}
		return tok
	}
	resolveVal := func(tok string) types.AttributeValue {
		return vals[strings.TrimSpace(tok)]
	}

	// split into clauses: "set ...", "remove ...", "add ..."
	lower := strings.ToLower(expr)
	clauses := map[string]string{}
	positions := []int{}
	for _, kw := range []string{"set ", "remove ", "add "} {
		if idx := strings.Index(lower, kw); idx >= 0 {
			positions = append(positions, idx)
		}
	}
	sort.Ints(positions)
	for i, pos := range positions {
		end := len(expr)
		if i+1 < len(positions) {
			end = positions[i+1]
		}
		clause := strings.TrimSpace(expr[pos:end])
		parts := strings.SplitN(clause, " ", 2)
		if len(parts) == 2 {
			clauses[strings.ToLower(parts[0])] = parts[1]
		}
	}

	if setClause, ok := clauses["set"]; ok {
		for _, assignment := range splitTopLevel(setClause, ",") {
			eqIdx := strings.Index(assignment, "=")
			if eqIdx < 0 {
				continue
			}
			attr := resolveName(assignment[:eqIdx])
			rhs := strings.TrimSpace(assignment[eqIdx+1:])
			if strings.HasPrefix(strings.ToLower(rhs), "if_not_exists(") {
				inner := strings.TrimSuffix(rhs[len("if_not_exists("):], ")")
				comma := strings.LastIndex(inner, ",")
				if comma < 0 {
					continue
				}
				if _, exists := item[attr]; !exists {
					if val := resolveVal(inner[comma+1:]); val != nil {
						item[attr] = val
					}
				}
				continue
			}
			if val := resolveVal(rhs); val != nil {
				item[attr] = val
			}
		}
	}
	if removeClause, ok := clauses["remove"]; ok {
		for _, tok := range strings.Split(removeClause, ",") {
			if attr := resolveName(tok); attr != "" {
				delete(item, attr)
			}
		}
	}
	if addClause, ok := clauses["add"]; ok {
		for _, assignment := range strings.Split(addClause, ",") {
			parts := strings.Fields(strings.TrimSpace(assignment))
			if len(parts) < 2 {
				continue
			}
			if val := resolveVal(parts[1]); val != nil {
				item[resolveName(parts[0])] = val
			}
		}
	}
}

// filterItems applies a filter expression (simplified) to a list of items.
func filterItems(
	items []map[string]types.AttributeValue,
	filterExpr string,
	names map[string]string,
	vals map[string]types.AttributeValue,
) []map[string]types.AttributeValue {
	if filterExpr == "" {
		return items
	}
	var out []map[string]types.AttributeValue
	for _, item := range items {
		if evalFilter(item, filterExpr, names, vals) {
			out = append(out, item)
		}
	}
	return out
}

// evalFilter evaluates a filter or condition expression against an item.
// Supports comparisons, attribute_exists/attribute_not_exists, begins_with,
// contains, BETWEEN, AND/OR and parenthesised sub-expressions.
func evalFilter(
	item map[string]types.AttributeValue,
	expr string,
	names map[string]string,
	vals map[string]types.AttributeValue,
) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	// rewrite "x BETWEEN :a AND :b" so the AND split below cannot break it
	if reBetween.MatchString(expr) {
		expr = reBetween.ReplaceAllString(expr, "($1 >= $2 and $1 <= $3)")
	}

	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		inner := expr[1 : len(expr)-1]
		if balanced(inner) {
			return evalFilter(item, inner, names, vals)
		}
	}

	if parts := splitTopLevel(expr, " and "); len(parts) > 1 {
		for _, p := range parts {
			if !evalFilter(item, p, names, vals) {
				return false
			}
		}
		return true
	}
	if parts := splitTopLevel(expr, " or "); len(parts) > 1 {
		for _, p := range parts {
			if evalFilter(item, p, names, vals) {
				return true
			}
		}
		return false
	}

	lower := strings.ToLower(expr)
	resolveName := func(tok string) string {
		tok = strings.TrimSpace(tok)
		if v, ok := names[tok]; ok {
			return v
		}
		return tok
	}
	resolveVal := func(tok string) types.AttributeValue {
		return vals[strings.TrimSpace(tok)]
	}
	getItemVal := func(attrName string) string {
		if av, ok := item[attrName]; ok {
			return avStr(av)
		}
		return ""
	}

	if strings.HasPrefix(lower, "attribute_not_exists(") {
		inner := strings.TrimSuffix(expr[len("attribute_not_exists("):], ")")
		_, exists := item[resolveName(inner)]
		return !exists
	}
	if strings.HasPrefix(lower, "attribute_exists(") {
		inner := strings.TrimSuffix(expr[len("attribute_exists("):], ")")
		_, exists := item[resolveName(inner)]
		return exists
	}
	if strings.HasPrefix(lower, "begins_with(") {
		inner := strings.TrimSuffix(expr[len("begins_with("):], ")")
		if commIdx := strings.LastIndex(inner, ","); commIdx >= 0 {
			attr := resolveName(inner[:commIdx])
			prefix := avStr(resolveVal(inner[commIdx+1:]))
			return strings.HasPrefix(getItemVal(attr), prefix)
		}
	}
	if strings.HasPrefix(lower, "contains(") {
		inner := strings.TrimSuffix(expr[len("contains("):], ")")
		if commIdx := strings.LastIndex(inner, ","); commIdx >= 0 {
			attr := resolveName(inner[:commIdx])
			needle := avStr(resolveVal(inner[commIdx+1:]))
			return strings.Contains(getItemVal(attr), needle)
		}
	}

	for _, op := range []string{"<>", "<=", ">=", "<", ">", "="} {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		attr := resolveName(expr[:idx])
		itemVal := getItemVal(attr)
		expected := avStr(resolveVal(expr[idx+len(op):]))
		switch op {
		case "=":
			return itemVal == expected
		case "<>":
			return itemVal != expected
		case "<":
			return itemVal < expected
		case "<=":
			return itemVal <= expected
		case ">":
			return itemVal > expected
		case ">=":
			return itemVal >= expected
		}
	}
	return true // unknown expression — pass through
}

func balanced(s string) bool {
	depth := 0
	for _, c := range s {
		if c == '(' {
			depth++
		} else if c == ')' {
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// splitTopLevel splits expr on sep only at depth 0 (not inside parens).
func splitTopLevel(expr, sep string) []string {
	lower := strings.ToLower(expr)
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(lower); i++ {
		switch lower[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(lower[i:], sep) {
			parts = append(parts, strings.TrimSpace(expr[last:i]))
			last = i + len(sep)
			i += len(sep) - 1
		}
	}
	parts = append(parts, strings.TrimSpace(expr[last:]))
	return parts
}

func conditionPasses(
	item map[string]types.AttributeValue,
	condExpr string,
	names map[string]string,
	vals map[string]types.AttributeValue,
) bool {
	if condExpr == "" {
		return true
	}
	return evalFilter(item, condExpr, names, vals)
}

// ─── fullMock ────────────────────────────────────────────────────────────────

// fullMock is a thread-safe in-memory DynamoDB substitute. Query and Scan
// return items in key order and honor Limit / ExclusiveStartKey; pageSize
// forces short pages so pagination paths run without large data sets.
type fullMock struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]types.AttributeValue
	calls  map[string]int

	pageSize      int // > 0: cap query/scan pages at this many items
	declineGets   int // next N BatchGetItem calls return every key unprocessed
	declineWrites int // next N BatchWriteItem calls return every write unprocessed
	failWrites    int // next N BatchWriteItem calls fail outright
	ttlFields     []string

	gate        chan struct{} // batch calls block here when set
	inFlight    int32
	maxInFlight int32
}

func newFullMock() *fullMock {
	return &fullMock{
		tables: map[string]map[string]map[string]types.AttributeValue{},
		calls:  map[string]int{},
	}
}

func (m *fullMock) tbl(name string) map[string]map[string]types.AttributeValue {
	if m.tables[name] == nil {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func (m *fullMock) bump(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

func (m *fullMock) callCount(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// enter tracks the in-flight gauge for batch calls and parks on the gate when
// one is installed. Must run before the table lock is taken.
func (m *fullMock) enter(op string) func() {
	m.bump(op)
	n := atomic.AddInt32(&m.inFlight, 1)
	for {
		prev := atomic.LoadInt32(&m.maxInFlight)
		if n <= prev || atomic.CompareAndSwapInt32(&m.maxInFlight, prev, n) {
			break
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	return func() { atomic.AddInt32(&m.inFlight, -1) }
}

func (m *fullMock) count(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tbl(table))
}

// rawGet returns the stored wire item, bypassing all shaping.
func (m *fullMock) rawGet(table, pk, sk string) map[string]types.AttributeValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tbl(table)[pk+"||"+sk]
}

func avStr(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return avStr(item["pk"]) + "||" + avStr(item["sk"])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func keyOnly(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{"pk": item["pk"]}
	if sk, ok := item["sk"]; ok {
		out["sk"] = sk
	}
	return out
}

func mockCapacity(rc types.ReturnConsumedCapacity) *types.ConsumedCapacity {
	if rc == "" || rc == types.ReturnConsumedCapacityNone {
		return nil
	}
	units := 0.5
	return &types.ConsumedCapacity{CapacityUnits: &units}
}

func (m *fullMock) PutItem(_ context.Context, p *ddb.PutItemInput, _ ...func(*ddb.Options)) (*ddb.PutItemOutput, error) {
	m.bump("PutItem")
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tbl(deref(p.TableName))
	k := itemKey(p.Item)
	if cond := deref(p.ConditionExpression); cond != "" {
		existing := t[k]
		if existing == nil {
			existing = map[string]types.AttributeValue{}
		}
		if !conditionPasses(existing, cond, p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			return nil, fmt.Errorf("ConditionalCheckFailedException: condition not met")
		}
	}
	t[k] = p.Item
	return &ddb.PutItemOutput{}, nil
}

func (m *fullMock) GetItem(_ context.Context, p *ddb.GetItemInput, _ ...func(*ddb.Options)) (*ddb.GetItemOutput, error) {
	m.bump("GetItem")
	m.mu.RLock()
	defer m.mu.RUnlock()
	item := m.tbl(deref(p.TableName))[itemKey(p.Key)]
	return &ddb.GetItemOutput{Item: item, ConsumedCapacity: mockCapacity(p.ReturnConsumedCapacity)}, nil
}

func (m *fullMock) DeleteItem(_ context.Context, p *ddb.DeleteItemInput, _ ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error) {
	m.bump("DeleteItem")
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tbl(deref(p.TableName))
	k := itemKey(p.Key)
	existing := t[k]
	if cond := deref(p.ConditionExpression); cond != "" {
		check := existing
		if check == nil {
			check = map[string]types.AttributeValue{}
		}
		if !conditionPasses(check, cond, p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			return nil, fmt.Errorf("ConditionalCheckFailedException: condition not met for delete")
		}
	}
	delete(t, k)
	return &ddb.DeleteItemOutput{Attributes: existing}, nil
}

func (m *fullMock) UpdateItem(_ context.Context, p *ddb.UpdateItemInput, _ ...func(*ddb.Options)) (*ddb.UpdateItemOutput, error) {
	m.bump("UpdateItem")
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tbl(deref(p.TableName))
	k := itemKey(p.Key)
	existing := t[k]
	if existing == nil {
		existing = map[string]types.AttributeValue{}
	}
	if cond := deref(p.ConditionExpression); cond != "" {
		if !conditionPasses(existing, cond, p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			return nil, fmt.Errorf("ConditionalCheckFailedException: condition not met for update")
		}
	}
	for kk, vv := range p.Key {
		existing[kk] = vv
	}
	if p.UpdateExpression != nil {
		applyUpdateExpression(existing, deref(p.UpdateExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues)
	}
	t[k] = existing
	return &ddb.UpdateItemOutput{Attributes: existing}, nil
}

// sortedItems returns every stored item of the table in key order.
func (m *fullMock) sortedItems(table string) []map[string]types.AttributeValue {
	all := make([]map[string]types.AttributeValue, 0, len(m.tbl(table)))
	for _, v := range m.tbl(table) {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return itemKey(all[i]) < itemKey(all[j]) })
	return all
}

// page slices matched items according to ExclusiveStartKey and the effective
// page cap, returning the page plus the continuation key when more remain.
func (m *fullMock) page(
	matched []map[string]types.AttributeValue,
	startKey map[string]types.AttributeValue,
	limit *int32,
) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	if startKey != nil {
		from := itemKey(startKey)
		for i, item := range matched {
			if itemKey(item) == from {
				matched = matched[i+1:]
				break
			}
		}
	}
	pageCap := m.pageSize
	if limit != nil && *limit > 0 && (pageCap == 0 || int(*limit) < pageCap) {
		pageCap = int(*limit)
	}
	if pageCap > 0 && len(matched) > pageCap {
		return matched[:pageCap], keyOnly(matched[pageCap-1])
	}
	return matched, nil
}

func (m *fullMock) Query(_ context.Context, p *ddb.QueryInput, _ ...func(*ddb.Options)) (*ddb.QueryOutput, error) {
	m.bump("Query")
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sortedItems(deref(p.TableName))
	if p.ScanIndexForward != nil && !*p.ScanIndexForward {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	combined := deref(p.KeyConditionExpression)
	if f := deref(p.FilterExpression); f != "" {
		if combined != "" {
			combined += " and " + f
		} else {
			combined = f
		}
	}
	matched := filterItems(all, combined, p.ExpressionAttributeNames, p.ExpressionAttributeValues)
	items, lek := m.page(matched, p.ExclusiveStartKey, p.Limit)
	return &ddb.QueryOutput{
		Items:            items,
		Count:            int32(len(items)),
		ScannedCount:     int32(len(all)),
		LastEvaluatedKey: lek,
		ConsumedCapacity: mockCapacity(p.ReturnConsumedCapacity),
	}, nil
}

func (m *fullMock) Scan(_ context.Context, p *ddb.ScanInput, _ ...func(*ddb.Options)) (*ddb.ScanOutput, error) {
	m.bump("Scan")
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sortedItems(deref(p.TableName))
	matched := filterItems(all, deref(p.FilterExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues)
	items, lek := m.page(matched, p.ExclusiveStartKey, p.Limit)
	return &ddb.ScanOutput{
		Items:            items,
		Count:            int32(len(items)),
		ScannedCount:     int32(len(all)),
		LastEvaluatedKey: lek,
		ConsumedCapacity: mockCapacity(p.ReturnConsumedCapacity),
	}, nil
}

func (m *fullMock) BatchGetItem(_ context.Context, p *ddb.BatchGetItemInput, _ ...func(*ddb.Options)) (*ddb.BatchGetItemOutput, error) {
	exit := m.enter("BatchGetItem")
	defer exit()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.declineGets > 0 {
		m.declineGets--
		return &ddb.BatchGetItemOutput{UnprocessedKeys: p.RequestItems}, nil
	}
	resp := map[string][]map[string]types.AttributeValue{}
	for tblName, keysAndAttrs := range p.RequestItems {
		for _, key := range keysAndAttrs.Keys {
			if item := m.tbl(tblName)[itemKey(key)]; item != nil {
				resp[tblName] = append(resp[tblName], item)
			}
		}
		// hand results back in reverse request order; callers must not rely
		// on the service preserving it
		found := resp[tblName]
		for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
			found[i], found[j] = found[j], found[i]
		}
	}
	return &ddb.BatchGetItemOutput{Responses: resp}, nil
}

func (m *fullMock) BatchWriteItem(_ context.Context, p *ddb.BatchWriteItemInput, _ ...func(*ddb.Options)) (*ddb.BatchWriteItemOutput, error) {
	exit := m.enter("BatchWriteItem")
	defer exit()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites > 0 {
		m.failWrites--
		return nil, fmt.Errorf("ThrottlingException: simulated batch failure")
	}
	if m.declineWrites > 0 {
		m.declineWrites--
		return &ddb.BatchWriteItemOutput{UnprocessedItems: p.RequestItems}, nil
	}
	for tblName, reqs := range p.RequestItems {
		for _, req := range reqs {
			if req.PutRequest != nil {
				m.tbl(tblName)[itemKey(req.PutRequest.Item)] = req.PutRequest.Item
			} else if req.DeleteRequest != nil {
				delete(m.tbl(tblName), itemKey(req.DeleteRequest.Key))
			}
		}
	}
	return &ddb.BatchWriteItemOutput{}, nil
}

func (m *fullMock) TransactGetItems(_ context.Context, p *ddb.TransactGetItemsInput, _ ...func(*ddb.Options)) (*ddb.TransactGetItemsOutput, error) {
	m.bump("TransactGetItems")
	m.mu.RLock()
	defer m.mu.RUnlock()
	var responses []types.ItemResponse
	for _, ti := range p.TransactItems {
		if ti.Get != nil {
			item := m.tbl(deref(ti.Get.TableName))[itemKey(ti.Get.Key)]
			responses = append(responses, types.ItemResponse{Item: item})
		}
	}
	return &ddb.TransactGetItemsOutput{Responses: responses}, nil
}

func (m *fullMock) TransactWriteItems(_ context.Context, p *ddb.TransactWriteItemsInput, _ ...func(*ddb.Options)) (*ddb.TransactWriteItemsOutput, error) {
	m.bump("TransactWriteItems")
	m.mu.Lock()
	defer m.mu.Unlock()
	// first pass: all conditions must hold before anything is applied
	for _, ti := range p.TransactItems {
		var (
			cond  string
			tbl   string
			key   map[string]types.AttributeValue
			names map[string]string
			vals  map[string]types.AttributeValue
			op    string
		)
		switch {
		case ti.Put != nil:
			cond, tbl, key = deref(ti.Put.ConditionExpression), deref(ti.Put.TableName), ti.Put.Item
			names, vals, op = ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, "Put"
		case ti.Update != nil:
			cond, tbl, key = deref(ti.Update.ConditionExpression), deref(ti.Update.TableName), ti.Update.Key
			names, vals, op = ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, "Update"
		case ti.Delete != nil:
			cond, tbl, key = deref(ti.Delete.ConditionExpression), deref(ti.Delete.TableName), ti.Delete.Key
			names, vals, op = ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues, "Delete"
		case ti.ConditionCheck != nil:
			cond, tbl, key = deref(ti.ConditionCheck.ConditionExpression), deref(ti.ConditionCheck.TableName), ti.ConditionCheck.Key
			names, vals, op = ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues, "ConditionCheck"
		default:
			continue
		}
		if cond == "" {
			continue
		}
		existing := m.tbl(tbl)[itemKey(key)]
		if existing == nil {
			existing = map[string]types.AttributeValue{}
		}
		if !conditionPasses(existing, cond, names, vals) {
			return nil, fmt.Errorf("TransactionCanceledException: condition failed for %s", op)
		}
	}
	// second pass: apply
	for _, ti := range p.TransactItems {
		switch {
		case ti.Put != nil:
			m.tbl(deref(ti.Put.TableName))[itemKey(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(m.tbl(deref(ti.Delete.TableName)), itemKey(ti.Delete.Key))
		case ti.Update != nil:
			t := m.tbl(deref(ti.Update.TableName))
			k := itemKey(ti.Update.Key)
			existing := t[k]
			if existing == nil {
				existing = map[string]types.AttributeValue{}
			}
			for kk, vv := range ti.Update.Key {
				existing[kk] = vv
			}
			if ti.Update.UpdateExpression != nil {
				applyUpdateExpression(existing, deref(ti.Update.UpdateExpression),
					ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
			}
			t[k] = existing
		}
	}
	return &ddb.TransactWriteItemsOutput{}, nil
}

func (m *fullMock) CreateTable(_ context.Context, p *ddb.CreateTableInput, _ ...func(*ddb.Options)) (*ddb.CreateTableOutput, error) {
	m.bump("CreateTable")
	m.mu.Lock()
	defer m.mu.Unlock()
	name := deref(p.TableName)
	if m.tables[name] == nil {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return &ddb.CreateTableOutput{}, nil
}

func (m *fullMock) DeleteTable(_ context.Context, p *ddb.DeleteTableInput, _ ...func(*ddb.Options)) (*ddb.DeleteTableOutput, error) {
	m.bump("DeleteTable")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, deref(p.TableName))
	return &ddb.DeleteTableOutput{}, nil
}

func (m *fullMock) DescribeTable(_ context.Context, _ *ddb.DescribeTableInput, _ ...func(*ddb.Options)) (*ddb.DescribeTableOutput, error) {
	m.bump("DescribeTable")
	return &ddb.DescribeTableOutput{}, nil
}

func (m *fullMock) ListTables(_ context.Context, _ *ddb.ListTablesInput, _ ...func(*ddb.Options)) (*ddb.ListTablesOutput, error) {
	m.bump("ListTables")
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for n := range m.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return &ddb.ListTablesOutput{TableNames: names}, nil
}

func (m *fullMock) UpdateTimeToLive(_ context.Context, p *ddb.UpdateTimeToLiveInput, _ ...func(*ddb.Options)) (*ddb.UpdateTimeToLiveOutput, error) {
	m.bump("UpdateTimeToLive")
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.TimeToLiveSpecification != nil {
		m.ttlFields = append(m.ttlFields, deref(p.TimeToLiveSpecification.AttributeName))
	}
	return &ddb.UpdateTimeToLiveOutput{}, nil
}

// ─── schema fixtures ─────────────────────────────────────────────────────────

// acctSchema is the minimal single-facet model: one identifying attribute,
// primary access pattern only.
var acctSchema = &Schema{
	Model: ModelIdent{Service: "svc", Entity: "acct"},
	Attributes: map[string]*AttributeDef{
		"id":   {Type: TypeString},
		"name": {Type: TypeString},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
	},
}

// userSchema carries two secondary access patterns; status feeds the byEmail
// sort key so derived-key updates have something to rewrite.
var userSchema = &Schema{
	Model: ModelIdent{Service: "test", Entity: "User", Version: "1"},
	Attributes: map[string]*AttributeDef{
		"id":         {Type: TypeString, Generate: "ulid"},
		"name":       {Type: TypeString},
		"email":      {Type: TypeString},
		"status":     {Type: TypeString, Default: "idle"},
		"age":        {Type: TypeNumber},
		"profile":    {Type: TypeObject},
		"registered": {Type: TypeDate},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
		"byName": {
			Index: "gs1",
			PK:    &KeyDef{Field: "gs1pk", Facets: []string{"name"}},
			SK:    &KeyDef{Field: "gs1sk"},
		},
		"byEmail": {
			Index: "gs2",
			PK:    &KeyDef{Field: "gs2pk", Facets: []string{"email"}},
			SK:    &KeyDef{Field: "gs2sk", Facets: []string{"status"}},
		},
	},
}

// orderSchema has a multi-facet sort key for prefix and operator queries.
var orderSchema = &Schema{
	Model: ModelIdent{Service: "store", Entity: "Order", Version: "2"},
	Attributes: map[string]*AttributeDef{
		"customerId": {Type: TypeString},
		"orderId":    {Type: TypeString},
		"lineId":     {Type: TypeString},
		"total":      {Type: TypeNumber},
		"region":     {Type: TypeString},
		"placed":     {Type: TypeDate},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"customerId"}},
			SK: &KeyDef{Field: "sk", Facets: []string{"orderId", "lineId"}},
		},
	},
}

// customerSchema and employeeSchema share the "directory" collection.
var customerSchema = &Schema{
	Model: ModelIdent{Service: "org", Entity: "Customer"},
	Attributes: map[string]*AttributeDef{
		"id":      {Type: TypeString},
		"groupId": {Type: TypeString},
		"name":    {Type: TypeString},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
		"byGroup": {
			Index:      "gs1",
			Collection: "directory",
			PK:         &KeyDef{Field: "gs1pk", Facets: []string{"groupId"}},
			SK:         &KeyDef{Field: "gs1sk"},
		},
	},
}

var employeeSchema = &Schema{
	Model: ModelIdent{Service: "org", Entity: "Employee"},
	Attributes: map[string]*AttributeDef{
		"id":      {Type: TypeString},
		"groupId": {Type: TypeString},
		"name":    {Type: TypeString},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
		"byGroup": {
			Index:      "gs1",
			Collection: "directory",
			PK:         &KeyDef{Field: "gs1pk", Facets: []string{"groupId"}},
			SK:         &KeyDef{Field: "gs1sk"},
		},
	},
}

// memberSchema reserves unique values for email and phone through guard items.
var memberSchema = &Schema{
	Model: ModelIdent{Service: "club", Entity: "Member"},
	Attributes: map[string]*AttributeDef{
		"name":  {Type: TypeString},
		"email": {Type: TypeString, Unique: true, Required: true},
		"phone": {Type: TypeString, Unique: true},
		"age":   {Type: TypeNumber},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"name"}},
			SK: &KeyDef{Field: "sk"},
		},
	},
}

// petSchema exercises enum, required and regex validation plus a read-only
// attribute.
var petSchema = &Schema{
	Model: ModelIdent{Service: "shop", Entity: "Pet"},
	Attributes: map[string]*AttributeDef{
		"id":    {Type: TypeString, Generate: "ulid"},
		"name":  {Type: TypeString, Validate: `/^[a-zA-Z' ]+$/`},
		"race":  {Type: TypeString, Enum: []string{"dog", "cat", "fish"}, Required: true},
		"breed": {Type: TypeString, Required: true},
		"sku":   {Type: TypeString, ReadOnly: true},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
	},
}

// secretSchema stores an encrypted attribute.
var secretSchema = &Schema{
	Model: ModelIdent{Service: "vault", Entity: "Secret"},
	Attributes: map[string]*AttributeDef{
		"id":     {Type: TypeString},
		"secret": {Type: TypeString, Crypt: true},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
	},
}

// meterSchema uses raw numeric template keys, a local secondary index and a
// TTL attribute.
var meterSchema = &Schema{
	Model: ModelIdent{Service: "iot", Entity: "Meter"},
	Attributes: map[string]*AttributeDef{
		"meterId": {Type: TypeString},
		"at":      {Type: TypeNumber},
		"reading": {Type: TypeNumber},
		"expires": {Type: TypeDate, TTL: true},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"meterId"}},
			SK: &KeyDef{Field: "sk", Template: "${at}"},
		},
		"byReading": {
			Index:   "ls1",
			Type:    "local",
			PK:      &KeyDef{Field: "pk", Facets: []string{"meterId"}},
			SK:      &KeyDef{Field: "lsk", Template: "${reading}"},
			Project: "keys",
		},
	},
}

// legacySchema uses the v1 key shape: version on the partition-key prefix.
var legacySchema = &Schema{
	Format: "v1",
	Model:  ModelIdent{Service: "app", Entity: "Note", Version: "3"},
	Attributes: map[string]*AttributeDef{
		"id":    {Type: TypeString},
		"title": {Type: TypeString},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
	},
}

// docSchema marks its secondary access pattern as follow: queries resolve to
// the primary items.
var docSchema = &Schema{
	Model: ModelIdent{Service: "cms", Entity: "Doc"},
	Attributes: map[string]*AttributeDef{
		"id":    {Type: TypeString},
		"owner": {Type: TypeString},
		"title": {Type: TypeString},
	},
	Indexes: map[string]*IndexDef{
		"primary": {
			PK: &KeyDef{Field: "pk", Facets: []string{"id"}},
			SK: &KeyDef{Field: "sk"},
		},
		"byOwner": {
			Index:   "gs1",
			PK:      &KeyDef{Field: "gs1pk", Facets: []string{"owner"}},
			SK:      &KeyDef{Field: "gs1sk"},
			Follow:  true,
			Project: "keys",
		},
	},
}

// ─── table factory ───────────────────────────────────────────────────────────

func makeTable(t *testing.T, name string, schemas ...*Schema) (*Table, *fullMock) {
	t.Helper()
	mock := newFullMock()
	mock.tables[name] = map[string]map[string]types.AttributeValue{}
	tbl, err := NewTable(TableParams{Name: name, Client: mock, Timestamps: true})
	if err != nil {
		t.Fatalf("NewTable %q: %v", name, err)
	}
	for _, s := range schemas {
		if _, err := tbl.AddEntity(s); err != nil {
			t.Fatalf("AddEntity %q: %v", s.Model.Entity, err)
		}
	}
	return tbl, mock
}

// ─── assertion helpers ───────────────────────────────────────────────────────

func assertStr(t *testing.T, item Item, key, want string) {
	t.Helper()
	got := fmt.Sprintf("%v", item[key])
	if got != want {
		t.Errorf("item[%q] = %q, want %q", key, got, want)
	}
}

func assertNum(t *testing.T, item Item, key string, want float64) {
	t.Helper()
	switch v := item[key].(type) {
	case float64:
		if v != want {
			t.Errorf("item[%q] = %v, want %v", key, v, want)
		}
	case int:
		if float64(v) != want {
			t.Errorf("item[%q] = %v, want %v", key, v, want)
		}
	default:
		t.Errorf("item[%q] type %T = %v, want float64(%v)", key, item[key], item[key], want)
	}
}

func assertULID(t *testing.T, v any) {
	t.Helper()
	s, ok := v.(string)
	if !ok || !isULID(s) {
		t.Errorf("expected ULID, got %T(%v)", v, v)
	}
}

func assertDate(t *testing.T, v any) {
	t.Helper()
	if _, ok := v.(time.Time); !ok {
		t.Errorf("expected time.Time, got %T: %v", v, v)
	}
}

func assertAbsent(t *testing.T, item Item, key string) {
	t.Helper()
	if _, exists := item[key]; exists {
		t.Errorf("expected item[%q] absent, got %v", key, item[key])
	}
}

func assertPresent(t *testing.T, item Item, key string) {
	t.Helper()
	if item[key] == nil {
		t.Errorf("expected item[%q] defined", key)
	}
}

func assertNil(t *testing.T, item Item) {
	t.Helper()
	if item != nil {
		t.Errorf("expected nil item, got %v", item)
	}
}

func assertLen(t *testing.T, items []Item, want int) {
	t.Helper()
	if len(items) != want {
		t.Errorf("expected %d items, got %d", want, len(items))
	}
}

func assertContains(t *testing.T, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Errorf("%q does not contain %q", s, sub)
	}
}

func assertErrCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %q, got nil", code)
	}
	if got := CodeOf(err); got != code {
		t.Errorf("expected error code %q, got %q: %v", code, got, err)
	}
}

func bg() context.Context { return context.Background() }

func intPtr(n int) *int { return &n }

func i64Ptr(n int64) *int64 { return &n }

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// storeRaw marshals a plain item and stores it in the mock unshaped.
func storeRaw(mock *fullMock, table string, item Item) {
	av, _ := attributevalue.MarshalMap(item)
	mock.mu.Lock()
	mock.tbl(table)[itemKey(av)] = av
	mock.mu.Unlock()
}

// ─── command-map accessors ───────────────────────────────────────────────────

// Compiled commands carry wire-typed members; these pull them out with the
// test failing on a shape mismatch.

func cmdKey(t *testing.T, cmd Item) map[string]types.AttributeValue {
	t.Helper()
	key, ok := cmd["Key"].(map[string]types.AttributeValue)
	if !ok {
		t.Fatalf("command has no typed Key: %T", cmd["Key"])
	}
	return key
}

func cmdItem(t *testing.T, cmd Item) map[string]types.AttributeValue {
	t.Helper()
	item, ok := cmd["Item"].(map[string]types.AttributeValue)
	if !ok {
		t.Fatalf("command has no typed Item: %T", cmd["Item"])
	}
	return item
}

func cmdNames(t *testing.T, cmd Item) map[string]string {
	t.Helper()
	names, ok := cmd["ExpressionAttributeNames"].(map[string]string)
	if !ok {
		t.Fatalf("command has no attribute names: %T", cmd["ExpressionAttributeNames"])
	}
	return names
}

func cmdVals(t *testing.T, cmd Item) map[string]types.AttributeValue {
	t.Helper()
	vals, ok := cmd["ExpressionAttributeValues"].(map[string]types.AttributeValue)
	if !ok {
		t.Fatalf("command has no attribute values: %T", cmd["ExpressionAttributeValues"])
	}
	return vals
}

func cmdStr(cmd Item, key string) string {
	s, _ := cmd[key].(string)
	return s
}

// placeholderFor finds the #_N placeholder bound to a physical field.
func placeholderFor(t *testing.T, cmd Item, field string) string {
	t.Helper()
	for ph, name := range cmdNames(t, cmd) {
		if name == field {
			return ph
		}
	}
	t.Fatalf("no placeholder bound to field %q in %v", field, cmd["ExpressionAttributeNames"])
	return ""
}

// valueFor finds the :_N placeholder holding the given string value.
func valueFor(t *testing.T, cmd Item, want string) string {
	t.Helper()
	for ph, av := range cmdVals(t, cmd) {
		if avStr(av) == want {
			return ph
		}
	}
	t.Fatalf("no expression value %q in %v", want, cmd["ExpressionAttributeValues"])
	return ""
}
