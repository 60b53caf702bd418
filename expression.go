/*
Package facet – expression assembly.

Collects #_N/:_N placeholder maps plus key, condition, filter, update and
projection terms, then assembles the generic command map the table layer
converts into a typed SDK input. Externally supplied Where conditions keep
their own placeholder namespace, so merging never collides.
*/
package facet

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyOperators are the valid sort-key comparators for query operations.
var KeyOperators = map[string]bool{
	"eq": true, "lt": true, "lte": true, "gt": true, "gte": true,
	"begins": true, "between": true,
}

type updates struct {
	set    []string
	remove []string
}

type expression struct {
	entity *Entity
	model  *entityModel
	op     string
	cfg    *callConfig
	index  *indexMeta

	key  Item // physical key pair (get/delete/update/check)
	item Item // physical item (put)

	keys       []string
	conditions []string
	filters    []string
	project    []string
	updates    updates

	names     map[string]string
	namesMap  map[string]int
	values    map[string]any
	valuesMap map[string]int
	nindex    int
	vindex    int

	whereExpr   string
	whereNames  map[string]string
	whereValues map[string]types.AttributeValue
}

func newExpression(e *Entity, op string, cfg *callConfig, index *indexMeta) *expression {
	return &expression{
		entity:    e,
		model:     e.model,
		op:        op,
		cfg:       cfg,
		index:     index,
		key:       Item{},
		item:      Item{},
		names:     map[string]string{},
		namesMap:  map[string]int{},
		values:    map[string]any{},
		valuesMap: map[string]int{},
	}
}

func (e *expression) setKey(field string, value any) {
	e.key[field] = value
}

func (e *expression) setItem(field string, value any) {
	e.item[field] = value
}

func (e *expression) addKeyEquality(field string, value any) {
	e.keys = append(e.keys, fmt.Sprintf("#_%d = :_%d", e.addName(field), e.addValue(value)))
}

// addSortCondition emits the sort-key predicate for a query. A between with
// only one bound degrades to the matching one-sided comparison so the second
// placeholder is never emitted.
func (e *expression) addSortCondition(op, field string, lo, hi any) error {
	n := e.addName(field)
	switch op {
	case "eq":
		e.keys = append(e.keys, fmt.Sprintf("#_%d = :_%d", n, e.addValue(lo)))
	case "begins":
		e.keys = append(e.keys, fmt.Sprintf("begins_with(#_%d, :_%d)", n, e.addValue(lo)))
	case "lt":
		e.keys = append(e.keys, fmt.Sprintf("#_%d < :_%d", n, e.addValue(lo)))
	case "lte":
		e.keys = append(e.keys, fmt.Sprintf("#_%d <= :_%d", n, e.addValue(lo)))
	case "gt":
		e.keys = append(e.keys, fmt.Sprintf("#_%d > :_%d", n, e.addValue(lo)))
	case "gte":
		e.keys = append(e.keys, fmt.Sprintf("#_%d >= :_%d", n, e.addValue(lo)))
	case "between":
		switch {
		case lo != nil && hi != nil:
			e.keys = append(e.keys, fmt.Sprintf("#_%d BETWEEN :_%d AND :_%d",
				n, e.addValue(lo), e.addValue(hi)))
		case lo != nil:
			e.keys = append(e.keys, fmt.Sprintf("#_%d >= :_%d", n, e.addValue(lo)))
		case hi != nil:
			e.keys = append(e.keys, fmt.Sprintf("#_%d <= :_%d", n, e.addValue(hi)))
		}
	default:
		return NewArgError("invalid key condition operator \"" + op + "\"")
	}
	return nil
}

func (e *expression) addFilterEquality(field string, value any) {
	e.filters = append(e.filters, fmt.Sprintf("#_%d = :_%d", e.addName(field), e.addValue(value)))
}

func (e *expression) addFilterBeginsWith(field string, prefix any) {
	e.filters = append(e.filters, fmt.Sprintf("begins_with(#_%d, :_%d)", e.addName(field), e.addValue(prefix)))
}

func (e *expression) addExistsCondition(field string, exists bool) {
	fn := "attribute_not_exists"
	if exists {
		fn = "attribute_exists"
	}
	e.conditions = append(e.conditions, fmt.Sprintf("%s(#_%d)", fn, e.addName(field)))
}

func (e *expression) addSet(field string, value any) {
	e.updates.set = append(e.updates.set,
		fmt.Sprintf("#_%d = :_%d", e.addName(field), e.addValue(value)))
}

// addSetIfAbsent writes the value only when the field is not already
// present, used for created timestamps on upserts.
func (e *expression) addSetIfAbsent(field string, value any) {
	n := e.addName(field)
	e.updates.set = append(e.updates.set,
		fmt.Sprintf("#_%d = if_not_exists(#_%d, :_%d)", n, n, e.addValue(value)))
}

func (e *expression) addRemove(field string) {
	e.updates.remove = append(e.updates.remove, fmt.Sprintf("#_%d", e.addName(field)))
}

func (e *expression) addProject(field string) {
	ref := fmt.Sprintf("#_%d", e.addName(field))
	if !containsStr(e.project, ref) {
		e.project = append(e.project, ref)
	}
}

// applyWhere builds the external condition and stages its expression string
// and placeholder maps for the command assembly.
func (e *expression) applyWhere() error {
	w := e.cfg.where
	if w == nil {
		return nil
	}
	exprStr, err := w.Build()
	if err != nil {
		return NewError("cannot build where condition", WithCode(ErrArgument), WithCause(err))
	}
	e.whereExpr = exprStr
	e.whereNames = w.Names()
	e.whereValues, err = w.Values()
	if err != nil {
		return NewError("cannot build where values", WithCode(ErrArgument), WithCause(err))
	}
	return nil
}

func (e *expression) addName(name string) int {
	if idx, ok := e.namesMap[name]; ok {
		return idx
	}
	idx := e.nindex
	e.nindex++
	e.names[fmt.Sprintf("#_%d", idx)] = name
	e.namesMap[name] = idx
	return idx
}

func (e *expression) addValue(value any) int {
	// dedup simple scalar values only
	if value != nil {
		switch value.(type) {
		case map[string]any, []any, float64, int, int64:
		default:
			k := fmt.Sprintf("%v", value)
			if idx, ok := e.valuesMap[k]; ok {
				return idx
			}
			idx := e.vindex
			e.vindex++
			e.values[fmt.Sprintf(":_%d", idx)] = value
			e.valuesMap[k] = idx
			return idx
		}
	}
	idx := e.vindex
	e.vindex++
	e.values[fmt.Sprintf(":_%d", idx)] = value
	return idx
}

func (e *expression) and(terms []string) string {
	if len(terms) == 1 {
		return terms[0]
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "(" + t + ")"
	}
	return strings.Join(parts, " and ")
}

// command assembles the generic command map for this operation.
func (e *expression) command() (Item, error) {
	cfg := e.cfg
	op := e.op

	key, err := marshalForDynamo(e.key)
	if err != nil {
		return nil, err
	}
	item, err := marshalForDynamo(e.item)
	if err != nil {
		return nil, err
	}
	values, err := marshalForDynamo(e.values)
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	for k, v := range e.names {
		names[k] = v
	}

	// batch mode compiles the bare request entry; the orchestrator wraps it
	if cfg.batch != nil {
		switch op {
		case "get", "delete":
			return Item{"Key": key}, nil
		case "put":
			return Item{"Item": item}, nil
		}
		return nil, NewArgError("unsupported batch operation \"" + op + "\"")
	}

	filters := e.filters
	conditions := e.conditions
	if e.whereExpr != "" {
		if op == "query" || op == "scan" {
			filters = append(append([]string{}, filters...), e.whereExpr)
		} else {
			conditions = append(append([]string{}, conditions...), e.whereExpr)
		}
		for k, v := range e.whereNames {
			if prev, ok := names[k]; ok && prev != v {
				return nil, NewError("expression name collision on "+k, WithCode(ErrRuntime))
			}
			names[k] = v
		}
		for k, v := range e.whereValues {
			if _, ok := values[k]; ok {
				return nil, NewError("expression value collision on "+k, WithCode(ErrRuntime))
			}
			values[k] = v
		}
	}

	args := Item{"TableName": e.entity.table.name}
	if len(conditions) > 0 {
		args["ConditionExpression"] = e.and(conditions)
	}
	if len(filters) > 0 {
		args["FilterExpression"] = e.and(filters)
	}
	if len(e.keys) > 0 {
		args["KeyConditionExpression"] = strings.Join(e.keys, " and ")
	}
	if len(e.project) > 0 {
		args["ProjectionExpression"] = strings.Join(e.project, ", ")
	}
	if len(names) > 0 {
		args["ExpressionAttributeNames"] = names
	}
	if len(values) > 0 {
		args["ExpressionAttributeValues"] = values
	}

	if cfg.count {
		args["Select"] = "COUNT"
	}
	if cfg.stats != nil || e.entity.table.metrics != nil {
		args["ReturnConsumedCapacity"] = coalesce(cfg.capacity, "TOTAL")
		args["ReturnItemCollectionMetrics"] = "SIZE"
	}

	returnValues := cfg.ret
	switch op {
	case "put":
		args["Item"] = item
		args["ReturnValues"] = coalesce(returnValues, "NONE")
	case "update":
		args["ReturnValues"] = coalesce(returnValues, "ALL_NEW")
		var parts []string
		if len(e.updates.set) > 0 {
			parts = append(parts, "set "+strings.Join(e.updates.set, ", "))
		}
		if len(e.updates.remove) > 0 {
			parts = append(parts, "remove "+strings.Join(e.updates.remove, ", "))
		}
		if len(parts) == 0 {
			return nil, NewArgError("update has nothing to set or remove")
		}
		args["UpdateExpression"] = strings.Join(parts, " ")
	case "delete":
		args["ReturnValues"] = coalesce(returnValues, "ALL_OLD")
	}

	switch op {
	case "get", "delete", "update", "check":
		args["Key"] = key
	}

	if op == "get" || op == "query" || op == "scan" {
		args["ConsistentRead"] = cfg.consistent
		if e.index != nil && e.index.Index != "" {
			args["IndexName"] = e.index.Index
		}
	}
	if op == "query" || op == "scan" {
		if cfg.limit > 0 {
			args["Limit"] = cfg.limit
		}
		if cfg.startKey != nil {
			start, merr := marshalForDynamo(cfg.startKey)
			if merr != nil {
				return nil, merr
			}
			args["ExclusiveStartKey"] = start
		}
	}
	if op == "query" {
		args["ScanIndexForward"] = !cfg.reverse
	}
	if op == "scan" {
		if cfg.segments > 0 {
			args["TotalSegments"] = cfg.segments
		}
		if cfg.segment != nil {
			args["Segment"] = *cfg.segment
		}
	}

	cleaned := Item{}
	for k, v := range args {
		if v != nil {
			cleaned[k] = v
		}
	}
	return cleaned, nil
}

func coalesce(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
