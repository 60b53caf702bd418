/*
Package facet – Table: the execution surface shared by every entity.

A Table owns the wire client and the services entities share: dispatch of
generic command maps to typed SDK calls, the entity registry, cursor
serialization, field encryption, identifier generation, metrics hooks and
DDL helpers that derive the physical table from the registered models.
*/
package facet

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	uid "github.com/cloudxsgmbh/dynamodb-facet-go/internal/uid"
)

// DynamoClient is the wire interface a Table drives. *dynamodb.Client
// satisfies it; tests substitute an in-memory double.
type DynamoClient interface {
	// Core operations
	GetItem(ctx context.Context, params *ddb.GetItemInput, optFns ...func(*ddb.Options)) (*ddb.GetItemOutput, error)
	PutItem(ctx context.Context, params *ddb.PutItemInput, optFns ...func(*ddb.Options)) (*ddb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *ddb.DeleteItemInput, optFns ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *ddb.UpdateItemInput, optFns ...func(*ddb.Options)) (*ddb.UpdateItemOutput, error)
	Query(ctx context.Context, params *ddb.QueryInput, optFns ...func(*ddb.Options)) (*ddb.QueryOutput, error)
	Scan(ctx context.Context, params *ddb.ScanInput, optFns ...func(*ddb.Options)) (*ddb.ScanOutput, error)

	// Batch
	BatchGetItem(ctx context.Context, params *ddb.BatchGetItemInput, optFns ...func(*ddb.Options)) (*ddb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *ddb.BatchWriteItemInput, optFns ...func(*ddb.Options)) (*ddb.BatchWriteItemOutput, error)

	// Transact
	TransactGetItems(ctx context.Context, params *ddb.TransactGetItemsInput, optFns ...func(*ddb.Options)) (*ddb.TransactGetItemsOutput, error)
	TransactWriteItems(ctx context.Context, params *ddb.TransactWriteItemsInput, optFns ...func(*ddb.Options)) (*ddb.TransactWriteItemsOutput, error)

	// DDL
	CreateTable(ctx context.Context, params *ddb.CreateTableInput, optFns ...func(*ddb.Options)) (*ddb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *ddb.DeleteTableInput, optFns ...func(*ddb.Options)) (*ddb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, params *ddb.DescribeTableInput, optFns ...func(*ddb.Options)) (*ddb.DescribeTableOutput, error)
	ListTables(ctx context.Context, params *ddb.ListTablesInput, optFns ...func(*ddb.Options)) (*ddb.ListTablesOutput, error)
	UpdateTimeToLive(ctx context.Context, params *ddb.UpdateTimeToLiveInput, optFns ...func(*ddb.Options)) (*ddb.UpdateTimeToLiveOutput, error)
}

// CryptoConfig configures field-level encryption. The password is hashed to
// an AES-256 key; values of attributes marked Crypt are sealed with GCM.
type CryptoConfig struct {
	Password string
	Cipher   string // "aes-256-gcm" (default)
}

// MetricsCollector receives one sample per executed command.
type MetricsCollector interface {
	Add(entity, op string, result Item, start time.Time) error
	Flush() error
}

// MonitorFunc is an optional hook called after each executed command.
type MonitorFunc func(entity, op string, result Item, start time.Time) error

// TableParams configures a Table.
type TableParams struct {
	Name   string
	Client DynamoClient

	Logger  Logger // nil → info and error only
	Verbose bool   // log the trace and data channels too
	Warn    bool   // log schema mismatches found while shaping reads
	Hidden  bool   // include hidden attributes in results by default

	// Identity and timestamp conventions shared by every entity.
	EntityField  string // default "_entity"
	VersionField string // default "_version"
	CreatedField string // default "created"
	UpdatedField string // default "updated"
	Timestamps   any    // bool | "create" | "update"
	IsoDates     bool   // store dates as RFC 3339 strings instead of epoch ms

	Crypto  map[string]*CryptoConfig
	Context Item             // merged into every write
	Cursors CursorSerializer // nil → gob/base64 cursors
	Metrics MetricsCollector
	Monitor MonitorFunc
}

// Table binds registered entities to one physical DynamoDB table. Register
// entities during startup; the registry is not guarded for concurrent
// mutation.
type Table struct {
	name   string
	client DynamoClient
	log    Logger

	entities map[string]*Entity
	params   modelParams

	cursors CursorSerializer
	context Item
	warn    bool
	hidden  bool

	crypto  map[string]*cryptoEntry
	metrics MetricsCollector
	monitor MonitorFunc
}

type cryptoEntry struct {
	name   string
	cipher string
	key    []byte // sha256 of the password
}

// NewTable creates and initialises a Table.
func NewTable(params TableParams) (*Table, error) {
	if params.Name == "" {
		return nil, NewArgError("missing table name")
	}
	t := &Table{
		name:     params.Name,
		client:   params.Client,
		entities: map[string]*Entity{},
		context:  Item{},
		warn:     params.Warn,
		hidden:   params.Hidden,
		cursors:  params.Cursors,
		metrics:  params.Metrics,
		monitor:  params.Monitor,
		params: modelParams{
			EntityField:  params.EntityField,
			VersionField: params.VersionField,
			CreatedField: params.CreatedField,
			UpdatedField: params.UpdatedField,
			Timestamps:   params.Timestamps,
			IsoDates:     params.IsoDates,
		}.withDefaults(),
	}
	switch {
	case params.Logger != nil:
		t.log = params.Logger
	case params.Verbose:
		t.log = verboseLogger{}
	default:
		t.log = defaultLogger{}
	}
	if t.cursors == nil {
		t.cursors = gobCursors{}
	}
	if params.Context != nil {
		t.context = cloneItem(params.Context)
	}
	if params.Crypto != nil {
		if err := t.initCrypto(params.Crypto); err != nil {
			return nil, err
		}
	}
	logTrace(t.log, fmt.Sprintf("table %q ready", t.name), nil)
	return t, nil
}

// Name returns the physical table name.
func (t *Table) Name() string { return t.name }

func (t *Table) modelParams() modelParams { return t.params }

// ─── entity registry ─────────────────────────────────────────────────────────

// AddEntity compiles the schema and registers the entity under its name.
// Entity names are case-insensitive and must be unique per table.
func (t *Table) AddEntity(schema *Schema) (*Entity, error) {
	e, err := newEntity(t, schema)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(e.Name)
	if _, ok := t.entities[key]; ok {
		return nil, NewArgError(fmt.Sprintf("entity %q is already registered", e.Name))
	}
	t.entities[key] = e
	logTrace(t.log, fmt.Sprintf("registered entity %q on table %q", e.Name, t.name), nil)
	return e, nil
}

// Entity returns a registered entity by name, or nil when unknown.
func (t *Table) Entity(name string) *Entity {
	return t.entities[strings.ToLower(name)]
}

// Entities lists the registered entity names in sorted order.
func (t *Table) Entities() []string {
	names := make([]string, 0, len(t.entities))
	for _, e := range t.entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// ─── table context ───────────────────────────────────────────────────────────

func (t *Table) GetContext() Item { return t.context }

func (t *Table) SetContext(ctx Item) *Table {
	t.context = cloneItem(ctx)
	return t
}

func (t *Table) AddContext(ctx Item) *Table {
	for k, v := range ctx {
		t.context[k] = v
	}
	return t
}

func (t *Table) ClearContext() *Table {
	t.context = Item{}
	return t
}

// ─── low-level command API ───────────────────────────────────────────────────

// The low-level calls run generic command maps without shaping. They serve
// code that builds its own wire parameters, including commands compiled with
// execution disabled.

func (t *Table) GetItem(ctx context.Context, cmd Item) (Item, error) {
	return t.execute(ctx, "", "get", cmd, nil)
}

func (t *Table) PutItem(ctx context.Context, cmd Item) (Item, error) {
	return t.execute(ctx, "", "put", cmd, nil)
}

func (t *Table) DeleteItem(ctx context.Context, cmd Item) (Item, error) {
	return t.execute(ctx, "", "delete", cmd, nil)
}

func (t *Table) UpdateItem(ctx context.Context, cmd Item) (Item, error) {
	return t.execute(ctx, "", "update", cmd, nil)
}

func (t *Table) QueryItems(ctx context.Context, cmd Item) (Item, error) {
	return t.execute(ctx, "", "query", cmd, nil)
}

func (t *Table) ScanItems(ctx context.Context, cmd Item) (Item, error) {
	return t.execute(ctx, "", "scan", cmd, nil)
}

// ─── raw batch execution ─────────────────────────────────────────────────────

// batchRetryMax bounds the unprocessed-item retry loop of the raw batch
// calls. The per-entity batch orchestrator never retries; retrying here keeps
// the accumulate-then-flush surface usable without caller-side loops.
const batchRetryMax = 11

// BatchGet executes an accumulated batch-get request map and returns the raw
// stored items. Unprocessed keys are retried with exponential backoff; use
// GroupByType to shape the result per entity.
func (t *Table) BatchGet(ctx context.Context, batch Item, opts *Options) ([]Item, error) {
	if len(batch) == 0 {
		return []Item{}, nil
	}
	if opts != nil && opts.Consistent {
		markConsistent(batch)
	}
	var out []Item
	cmd := batch
	for retries := 0; ; retries++ {
		result, err := t.execute(ctx, "", "batchGet", cmd, tableConfig(opts))
		if err != nil {
			return nil, err
		}
		if items, ok := result["Items"].([]Item); ok {
			out = append(out, items...)
		}
		pending, _ := result["UnprocessedRequests"].(map[string]types.KeysAndAttributes)
		if len(pending) == 0 {
			return out, nil
		}
		if retries >= batchRetryMax {
			return out, NewError("batch get left unprocessed keys after retries", WithCode(ErrService))
		}
		batchBackoff(retries)
		cmd = Item{"RequestItems": pending}
	}
}

// BatchWrite executes an accumulated batch-write request map. Unprocessed
// writes are retried with exponential backoff.
func (t *Table) BatchWrite(ctx context.Context, batch Item, opts *Options) error {
	if len(batch) == 0 {
		return nil
	}
	cmd := batch
	for retries := 0; ; retries++ {
		result, err := t.execute(ctx, "", "batchWrite", cmd, tableConfig(opts))
		if err != nil {
			return err
		}
		pending, _ := result["UnprocessedRequests"].(map[string][]types.WriteRequest)
		if len(pending) == 0 {
			return nil
		}
		if retries >= batchRetryMax {
			return NewError("batch write left unprocessed items after retries", WithCode(ErrService))
		}
		batchBackoff(retries)
		cmd = Item{"RequestItems": pending}
	}
}

func batchBackoff(retries int) {
	time.Sleep(time.Duration(10*(1<<retries)) * time.Millisecond)
}

func markConsistent(batch Item) {
	requests, _ := batch["RequestItems"].(map[string]any)
	for _, raw := range requests {
		if entry, ok := raw.(map[string]any); ok {
			entry["ConsistentRead"] = true
		}
	}
}

// tableConfig builds the minimal call configuration for table-level commands
// that bypass an entity's option resolution.
func tableConfig(opts *Options) *callConfig {
	cfg := &callConfig{execute: true, concurrency: 1}
	if opts != nil {
		cfg.log = opts.Log
		cfg.stats = opts.Stats
		cfg.capacity = opts.Capacity
	}
	return cfg
}

// ─── transactions ────────────────────────────────────────────────────────────

// Transact executes an accumulated transaction. op is "get" or "write". For
// get transactions the result carries "Items" aligned with the request order,
// nil where an item was absent.
func (t *Table) Transact(ctx context.Context, op string, txn Item, opts *Options) (Item, error) {
	if opts != nil && opts.Execute != nil && !*opts.Execute {
		return txn, nil
	}
	var wireOp string
	switch op {
	case "write":
		wireOp = "transactWrite"
	case "get":
		wireOp = "transactGet"
	default:
		return nil, NewArgError("transaction operation must be \"get\" or \"write\"")
	}
	return t.execute(ctx, "", wireOp, txn, tableConfig(opts))
}

// ─── grouping ────────────────────────────────────────────────────────────────

// GroupByType partitions raw stored items by owning entity name, shaping each
// item through its entity. Items without an identity marker group under
// "_unknown"; items of unregistered entities stay raw under their name.
func (t *Table) GroupByType(items []Item, opts *Options) map[string][]Item {
	groups := map[string][]Item{}
	cfg := &callConfig{execute: true, hidden: t.hidden}
	if opts != nil && opts.Hidden {
		cfg.hidden = true
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		name, _ := item[t.params.EntityField].(string)
		if name == "" {
			groups["_unknown"] = append(groups["_unknown"], item)
			continue
		}
		e := t.Entity(name)
		if e == nil {
			groups[name] = append(groups[name], item)
			continue
		}
		if shaped, ok := e.shapeRead("get", item, cfg); ok {
			groups[e.Name] = append(groups[e.Name], shaped)
		}
	}
	return groups
}

// ─── DDL ─────────────────────────────────────────────────────────────────────

const confirmRemoveTable = "DeleteTableForever"

// TableDefinition is the physical table shape derived from the registered
// entities' access patterns.
type TableDefinition struct {
	AttributeDefinitions   []types.AttributeDefinition
	KeySchema              []types.KeySchemaElement
	BillingMode            types.BillingMode
	GlobalSecondaryIndexes []types.GlobalSecondaryIndex
	LocalSecondaryIndexes  []types.LocalSecondaryIndex
	ProvisionedThroughput  *types.ProvisionedThroughput
}

// physicalIndex is one distinct wire index collected across entities.
type physicalIndex struct {
	name    string // "" = primary
	pk, sk  string
	local   bool
	project any
}

// collectIndexes folds every entity's access patterns into the distinct
// physical indexes. Entities sharing an index must agree on its key fields,
// and a key field must be stored with one scalar type everywhere.
func (t *Table) collectIndexes() (map[string]*physicalIndex, map[string]bool, error) {
	indexes := map[string]*physicalIndex{}
	numeric := map[string]bool{}
	typed := map[string]bool{}

	note := func(km *keyMeta) error {
		if km == nil {
			return nil
		}
		if typed[km.Field] && numeric[km.Field] != km.RawNumeric {
			return NewError(fmt.Sprintf("key field %q is numeric for one entity and string for another", km.Field),
				WithCode(ErrModelConflict))
		}
		typed[km.Field] = true
		numeric[km.Field] = km.RawNumeric
		return nil
	}

	for _, name := range t.Entities() {
		m := t.Entity(name).model
		for _, ixName := range m.Order {
			im := m.Indexes[ixName]
			skField := ""
			if im.SK != nil {
				skField = im.SK.Field
			}
			px := indexes[im.Index]
			if px == nil {
				indexes[im.Index] = &physicalIndex{
					name:    im.Index,
					pk:      im.PK.Field,
					sk:      skField,
					local:   im.Local,
					project: im.Project,
				}
			} else if px.pk != im.PK.Field || px.sk != skField {
				return nil, nil, NewError(fmt.Sprintf("entities disagree on key fields for index %q", im.Index),
					WithCode(ErrModelConflict))
			}
			if err := note(im.PK); err != nil {
				return nil, nil, err
			}
			if err := note(im.SK); err != nil {
				return nil, nil, err
			}
		}
	}
	return indexes, numeric, nil
}

// GetTableDefinition derives the create-table definition. A nil or zero
// provisioned throughput selects on-demand billing.
func (t *Table) GetTableDefinition(provisioned *types.ProvisionedThroughput) (*TableDefinition, error) {
	indexes, numeric, err := t.collectIndexes()
	if err != nil {
		return nil, err
	}
	primary := indexes[""]
	if primary == nil {
		return nil, NewError("no entities registered; cannot derive a table definition", WithCode(ErrModelPrimary))
	}

	def := &TableDefinition{BillingMode: types.BillingModePayPerRequest}
	if provisioned != nil && !zeroThroughput(provisioned) {
		def.BillingMode = types.BillingModeProvisioned
		def.ProvisionedThroughput = provisioned
	}

	defined := map[string]bool{}
	addAttr := func(field string) {
		if field == "" || defined[field] {
			return
		}
		at := types.ScalarAttributeTypeS
		if numeric[field] {
			at = types.ScalarAttributeTypeN
		}
		def.AttributeDefinitions = append(def.AttributeDefinitions,
			types.AttributeDefinition{AttributeName: strPtr(field), AttributeType: at})
		defined[field] = true
	}
	keySchema := func(pk, sk string) []types.KeySchemaElement {
		keys := []types.KeySchemaElement{{AttributeName: strPtr(pk), KeyType: types.KeyTypeHash}}
		if sk != "" {
			keys = append(keys, types.KeySchemaElement{AttributeName: strPtr(sk), KeyType: types.KeyTypeRange})
		}
		return keys
	}

	def.KeySchema = keySchema(primary.pk, primary.sk)
	addAttr(primary.pk)
	addAttr(primary.sk)

	names := make([]string, 0, len(indexes))
	for name := range indexes {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		px := indexes[name]
		proj := projectionFor(px.project)
		if px.local {
			def.LocalSecondaryIndexes = append(def.LocalSecondaryIndexes, types.LocalSecondaryIndex{
				IndexName:  strPtr(name),
				KeySchema:  keySchema(primary.pk, px.sk),
				Projection: proj,
			})
			addAttr(px.sk)
			continue
		}
		gsi := types.GlobalSecondaryIndex{
			IndexName:  strPtr(name),
			KeySchema:  keySchema(px.pk, px.sk),
			Projection: proj,
		}
		if def.BillingMode == types.BillingModeProvisioned {
			gsi.ProvisionedThroughput = provisioned
		}
		def.GlobalSecondaryIndexes = append(def.GlobalSecondaryIndexes, gsi)
		addAttr(px.pk)
		addAttr(px.sk)
	}
	return def, nil
}

func projectionFor(project any) *types.Projection {
	proj := &types.Projection{ProjectionType: types.ProjectionTypeAll}
	var attrs []string
	switch p := project.(type) {
	case string:
		if p == "keys" {
			proj.ProjectionType = types.ProjectionTypeKeysOnly
		}
	case []string:
		attrs = p
	case []any:
		for _, v := range p {
			if s, ok := v.(string); ok {
				attrs = append(attrs, s)
			}
		}
	}
	if len(attrs) > 0 {
		proj.ProjectionType = types.ProjectionTypeInclude
		proj.NonKeyAttributes = attrs
	}
	return proj
}

func zeroThroughput(p *types.ProvisionedThroughput) bool {
	return (p.ReadCapacityUnits == nil || *p.ReadCapacityUnits == 0) &&
		(p.WriteCapacityUnits == nil || *p.WriteCapacityUnits == 0)
}

// CreateTable provisions the physical table from the registered entities and
// enables TTL when any entity declares a TTL attribute.
func (t *Table) CreateTable(ctx context.Context, provisioned *types.ProvisionedThroughput) error {
	def, err := t.GetTableDefinition(provisioned)
	if err != nil {
		return err
	}
	input := &ddb.CreateTableInput{
		TableName:            &t.name,
		AttributeDefinitions: def.AttributeDefinitions,
		KeySchema:            def.KeySchema,
		BillingMode:          def.BillingMode,
	}
	if def.ProvisionedThroughput != nil {
		input.ProvisionedThroughput = def.ProvisionedThroughput
	}
	if len(def.GlobalSecondaryIndexes) > 0 {
		input.GlobalSecondaryIndexes = def.GlobalSecondaryIndexes
	}
	if len(def.LocalSecondaryIndexes) > 0 {
		input.LocalSecondaryIndexes = def.LocalSecondaryIndexes
	}
	if _, err := t.client.CreateTable(ctx, input); err != nil {
		return t.wireError("createTable", "", err)
	}
	if field := t.ttlField(); field != "" {
		_, err := t.client.UpdateTimeToLive(ctx, &ddb.UpdateTimeToLiveInput{
			TableName: &t.name,
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: &field,
				Enabled:       boolPtr(true),
			},
		})
		if err != nil {
			return t.wireError("updateTimeToLive", "", err)
		}
	}
	return nil
}

func (t *Table) ttlField() string {
	for _, name := range t.Entities() {
		m := t.Entity(name).model
		if m.TTLField == "" {
			continue
		}
		if a := m.Attrs[m.TTLField]; a != nil {
			return a.Field
		}
	}
	return ""
}

// DeleteTable permanently deletes the physical table. The confirmation string
// guards against accidental calls.
func (t *Table) DeleteTable(ctx context.Context, confirmation string) error {
	if confirmation != confirmRemoveTable {
		return NewArgError(fmt.Sprintf("missing required confirmation %q", confirmRemoveTable))
	}
	if _, err := t.client.DeleteTable(ctx, &ddb.DeleteTableInput{TableName: &t.name}); err != nil {
		return t.wireError("deleteTable", "", err)
	}
	return nil
}

// DescribeTable returns the raw table description.
func (t *Table) DescribeTable(ctx context.Context) (Item, error) {
	out, err := t.client.DescribeTable(ctx, &ddb.DescribeTableInput{TableName: &t.name})
	if err != nil {
		return nil, t.wireError("describeTable", "", err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, NewError("cannot encode table description", WithCode(ErrRuntime), WithCause(err))
	}
	var result Item
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, NewError("cannot decode table description", WithCode(ErrRuntime), WithCause(err))
	}
	return result, nil
}

// Exists reports whether the physical table is present.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	tables, err := t.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range tables {
		if name == t.name {
			return true, nil
		}
	}
	return false, nil
}

// ListTables returns all table names in the region.
func (t *Table) ListTables(ctx context.Context) ([]string, error) {
	out, err := t.client.ListTables(ctx, &ddb.ListTablesInput{})
	if err != nil {
		return nil, t.wireError("listTables", "", err)
	}
	return out.TableNames, nil
}

// ─── execute ─────────────────────────────────────────────────────────────────

// execute dispatches one generic command map as a typed wire call and
// normalises the output back into a result map. Numbers come back as float64,
// key maps as plain items.
func (t *Table) execute(ctx context.Context, entity, op string, cmd Item, cfg *callConfig) (Item, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = &callConfig{execute: true}
	}
	if t.client == nil {
		return nil, NewArgError("table has no DynamoDB client configured")
	}
	start := time.Now()

	detail := map[string]any{"cmd": cmd, "op": op}
	if cfg.log {
		logInfo(t.log, fmt.Sprintf("facet %q %q", op, entity), detail)
	} else {
		t.log.Data(fmt.Sprintf("facet %q %q", op, entity), detail)
	}

	var result Item
	var execErr error

	switch op {
	case "get":
		input, err := buildGetInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.GetItem(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		result = Item{}
		if out.Item != nil {
			item, err := unmarshalFromDynamo(out.Item)
			if err != nil {
				return nil, err
			}
			result["Item"] = item
		}
		addCapacity(result, out.ConsumedCapacity)

	case "put":
		input, err := buildPutInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.PutItem(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		result = Item{}
		if out.Attributes != nil {
			item, err := unmarshalFromDynamo(out.Attributes)
			if err != nil {
				return nil, err
			}
			result["Attributes"] = item
		}
		addCapacity(result, out.ConsumedCapacity)

	case "delete":
		input, err := buildDeleteInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.DeleteItem(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		result = Item{}
		if out.Attributes != nil {
			item, err := unmarshalFromDynamo(out.Attributes)
			if err != nil {
				return nil, err
			}
			result["Attributes"] = item
		}
		addCapacity(result, out.ConsumedCapacity)

	case "update":
		input, err := buildUpdateInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.UpdateItem(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		result = Item{}
		if out.Attributes != nil {
			item, err := unmarshalFromDynamo(out.Attributes)
			if err != nil {
				return nil, err
			}
			result["Attributes"] = item
		}
		addCapacity(result, out.ConsumedCapacity)

	case "query":
		input, err := buildQueryInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.Query(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		items, err := unmarshalList(out.Items)
		if err != nil {
			return nil, err
		}
		result = Item{"Items": items, "Count": int(out.Count), "ScannedCount": int(out.ScannedCount)}
		if out.LastEvaluatedKey != nil {
			lek, err := unmarshalFromDynamo(out.LastEvaluatedKey)
			if err != nil {
				return nil, err
			}
			result["LastEvaluatedKey"] = lek
		}
		addCapacity(result, out.ConsumedCapacity)

	case "scan":
		input, err := buildScanInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.Scan(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		items, err := unmarshalList(out.Items)
		if err != nil {
			return nil, err
		}
		result = Item{"Items": items, "Count": int(out.Count), "ScannedCount": int(out.ScannedCount)}
		if out.LastEvaluatedKey != nil {
			lek, err := unmarshalFromDynamo(out.LastEvaluatedKey)
			if err != nil {
				return nil, err
			}
			result["LastEvaluatedKey"] = lek
		}
		addCapacity(result, out.ConsumedCapacity)

	case "batchGet":
		input, err := buildBatchGetInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.BatchGetItem(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		var items []Item
		for _, avItems := range out.Responses {
			page, err := unmarshalList(avItems)
			if err != nil {
				return nil, err
			}
			items = append(items, page...)
		}
		result = Item{"Items": items}
		if len(out.UnprocessedKeys) > 0 {
			var pending []Item
			for _, ka := range out.UnprocessedKeys {
				for _, av := range ka.Keys {
					key, err := unmarshalFromDynamo(av)
					if err != nil {
						return nil, err
					}
					pending = append(pending, key)
				}
			}
			result["Unprocessed"] = pending
			result["UnprocessedRequests"] = out.UnprocessedKeys
		}

	case "batchWrite":
		input, err := buildBatchWriteInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.BatchWriteItem(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		result = Item{}
		if len(out.UnprocessedItems) > 0 {
			var pending []Item
			for _, reqs := range out.UnprocessedItems {
				for _, wr := range reqs {
					var av map[string]types.AttributeValue
					switch {
					case wr.PutRequest != nil:
						av = wr.PutRequest.Item
					case wr.DeleteRequest != nil:
						av = wr.DeleteRequest.Key
					default:
						continue
					}
					item, err := unmarshalFromDynamo(av)
					if err != nil {
						return nil, err
					}
					pending = append(pending, item)
				}
			}
			result["Unprocessed"] = pending
			result["UnprocessedRequests"] = out.UnprocessedItems
		}

	case "transactGet":
		input, err := buildTransactGetInput(cmd)
		if err != nil {
			return nil, err
		}
		out, err := t.client.TransactGetItems(ctx, input)
		if err != nil {
			execErr = err
			break
		}
		items := make([]Item, len(out.Responses))
		for i, r := range out.Responses {
			if r.Item == nil {
				continue
			}
			item, err := unmarshalFromDynamo(r.Item)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		result = Item{"Items": items}

	case "transactWrite":
		input, err := buildTransactWriteInput(cmd)
		if err != nil {
			return nil, err
		}
		if _, err := t.client.TransactWriteItems(ctx, input); err != nil {
			execErr = err
			break
		}
		result = Item{}

	default:
		return nil, NewArgError("unknown operation \"" + op + "\"")
	}

	if execErr != nil {
		return nil, t.wireError(op, entity, execErr)
	}

	if t.metrics != nil {
		t.metrics.Add(entity, op, result, start) //nolint:errcheck
	}
	if t.monitor != nil {
		t.monitor(entity, op, result, start) //nolint:errcheck
	}
	return result, nil
}

func addCapacity(result Item, cc *types.ConsumedCapacity) {
	if cc == nil || cc.CapacityUnits == nil {
		return
	}
	result["ConsumedCapacity"] = map[string]any{"CapacityUnits": *cc.CapacityUnits}
}

// wireError classifies a wire failure: service-reported errors carry
// ErrService with the service code in context, anything else ErrRuntime. A
// cancelled transaction keeps its per-item cancellation reasons.
func (t *Table) wireError(op, entity string, err error) error {
	scope := fmt.Sprintf("dynamodb %s failed", op)
	if entity != "" {
		scope = fmt.Sprintf("dynamodb %s failed for %q", op, entity)
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		reasons := make([]map[string]any, 0, len(canceled.CancellationReasons))
		for _, r := range canceled.CancellationReasons {
			reason := map[string]any{}
			if r.Code != nil {
				reason["Code"] = *r.Code
			}
			if r.Message != nil {
				reason["Message"] = *r.Message
			}
			reasons = append(reasons, reason)
		}
		return NewError(fmt.Sprintf("%s: %s", scope, err.Error()), WithCode(ErrService),
			WithContext(map[string]any{"reasons": reasons}), WithCause(err))
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		return NewError(fmt.Sprintf("%s: %s", scope, err.Error()), WithCode(ErrService),
			WithContext(map[string]any{"code": api.ErrorCode()}), WithCause(err))
	}
	return NewError(fmt.Sprintf("%s: %s", scope, err.Error()), WithCode(ErrRuntime), WithCause(err))
}

// ─── crypto ──────────────────────────────────────────────────────────────────

func (t *Table) initCrypto(cfg map[string]*CryptoConfig) error {
	t.crypto = map[string]*cryptoEntry{}
	for name, c := range cfg {
		if c.Cipher != "" && c.Cipher != "aes-256-gcm" {
			return NewArgError(fmt.Sprintf("unsupported cipher %q", c.Cipher))
		}
		h := sha256.Sum256([]byte(c.Password))
		t.crypto[name] = &cryptoEntry{name: name, cipher: "aes-256-gcm", key: h[:]}
	}
	if t.crypto["primary"] == nil {
		return NewArgError("crypto configuration requires a \"primary\" entry")
	}
	return nil
}

// encrypt seals a value under the primary key configuration. The stored form
// is "name:base64(nonce|ciphertext)".
func (t *Table) encrypt(text string) (string, error) {
	if text == "" {
		return text, nil
	}
	entry := t.crypto["primary"]
	if entry == nil {
		return "", NewArgError("no crypto configuration defined")
	}
	gcm, err := gcmFor(entry)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(text), nil)
	return entry.name + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses encrypt. Values that do not carry a known configuration
// prefix pass through unchanged so unencrypted legacy data still reads.
func (t *Table) decrypt(text string) (string, error) {
	if text == "" || t.crypto == nil {
		return text, nil
	}
	name, payload, found := strings.Cut(text, ":")
	if !found {
		return text, nil
	}
	entry := t.crypto[name]
	if entry == nil {
		return text, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", NewError("cannot decode encrypted value", WithCode(ErrRuntime), WithCause(err))
	}
	gcm, err := gcmFor(entry)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", NewError("encrypted value too short", WithCode(ErrRuntime))
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", NewError("cannot decrypt value", WithCode(ErrRuntime), WithCause(err))
	}
	return string(plain), nil
}

func gcmFor(entry *cryptoEntry) (cipher.AEAD, error) {
	block, err := aes.NewCipher(entry.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ─── generated identifiers ───────────────────────────────────────────────────

// generate produces a value for a generated attribute.
func (t *Table) generate(kind string, size int) any {
	switch kind {
	case "ulid":
		return t.ULID()
	case "uid":
		if size <= 0 {
			size = 10
		}
		return t.UID(size)
	default:
		return t.UUID()
	}
}

// UUID returns a random v4 UUID string.
func (t *Table) UUID() string { return uid.UUID() }

// ULID returns a lexically sortable unique identifier string.
func (t *Table) ULID() string { return uid.New().String() }

// UID returns a short random identifier of the given length.
func (t *Table) UID(size int) string { return uid.UID(size) }

// ─── marshal helpers ─────────────────────────────────────────────────────────

// marshalForDynamo converts a plain item to the wire attribute-value map.
func marshalForDynamo(item Item) (map[string]types.AttributeValue, error) {
	if len(item) == 0 {
		return map[string]types.AttributeValue{}, nil
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, NewError("cannot marshal item", WithCode(ErrType), WithCause(err))
	}
	return av, nil
}

// unmarshalFromDynamo converts a wire attribute-value map back to a plain
// item. Numbers decode as float64.
func unmarshalFromDynamo(av map[string]types.AttributeValue) (Item, error) {
	if av == nil {
		return nil, nil
	}
	var item Item
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, NewError("cannot unmarshal item", WithCode(ErrType), WithCause(err))
	}
	return item, nil
}

func unmarshalList(list []map[string]types.AttributeValue) ([]Item, error) {
	items := make([]Item, 0, len(list))
	for _, av := range list {
		item, err := unmarshalFromDynamo(av)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ─── wire input builders ─────────────────────────────────────────────────────

// The builders convert generic command maps to typed SDK inputs. Key and item
// entries may hold either a plain Item or an already marshaled
// attribute-value map; the page loop reassigns ExclusiveStartKey as a plain
// item between requests.

func cmdAVMap(cmd Item, key string) (map[string]types.AttributeValue, error) {
	switch v := cmd[key].(type) {
	case map[string]types.AttributeValue:
		return v, nil
	case Item:
		return marshalForDynamo(v)
	}
	return nil, nil
}

func buildGetInput(cmd Item) (*ddb.GetItemInput, error) {
	input := &ddb.GetItemInput{}
	if tn, ok := cmd["TableName"].(string); ok {
		input.TableName = &tn
	}
	key, err := cmdAVMap(cmd, "Key")
	if err != nil {
		return nil, err
	}
	input.Key = key
	if cr, ok := cmd["ConsistentRead"].(bool); ok {
		input.ConsistentRead = &cr
	}
	if pe, ok := cmd["ProjectionExpression"].(string); ok {
		input.ProjectionExpression = &pe
	}
	if en, ok := cmd["ExpressionAttributeNames"].(map[string]string); ok {
		input.ExpressionAttributeNames = en
	}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	return input, nil
}

func buildPutInput(cmd Item) (*ddb.PutItemInput, error) {
	input := &ddb.PutItemInput{}
	if tn, ok := cmd["TableName"].(string); ok {
		input.TableName = &tn
	}
	item, err := cmdAVMap(cmd, "Item")
	if err != nil {
		return nil, err
	}
	input.Item = item
	if ce, ok := cmd["ConditionExpression"].(string); ok {
		input.ConditionExpression = &ce
	}
	if en, ok := cmd["ExpressionAttributeNames"].(map[string]string); ok {
		input.ExpressionAttributeNames = en
	}
	if ev, ok := cmd["ExpressionAttributeValues"].(map[string]types.AttributeValue); ok {
		input.ExpressionAttributeValues = ev
	}
	if rv, ok := cmd["ReturnValues"].(string); ok {
		input.ReturnValues = types.ReturnValue(rv)
	}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	if rm, ok := cmd["ReturnItemCollectionMetrics"].(string); ok {
		input.ReturnItemCollectionMetrics = types.ReturnItemCollectionMetrics(rm)
	}
	return input, nil
}

func buildDeleteInput(cmd Item) (*ddb.DeleteItemInput, error) {
	input := &ddb.DeleteItemInput{}
	if tn, ok := cmd["TableName"].(string); ok {
		input.TableName = &tn
	}
	key, err := cmdAVMap(cmd, "Key")
	if err != nil {
		return nil, err
	}
	input.Key = key
	if ce, ok := cmd["ConditionExpression"].(string); ok {
		input.ConditionExpression = &ce
	}
	if en, ok := cmd["ExpressionAttributeNames"].(map[string]string); ok {
		input.ExpressionAttributeNames = en
	}
	if ev, ok := cmd["ExpressionAttributeValues"].(map[string]types.AttributeValue); ok {
		input.ExpressionAttributeValues = ev
	}
	if rv, ok := cmd["ReturnValues"].(string); ok {
		input.ReturnValues = types.ReturnValue(rv)
	}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	if rm, ok := cmd["ReturnItemCollectionMetrics"].(string); ok {
		input.ReturnItemCollectionMetrics = types.ReturnItemCollectionMetrics(rm)
	}
	return input, nil
}

func buildUpdateInput(cmd Item) (*ddb.UpdateItemInput, error) {
	input := &ddb.UpdateItemInput{}
	if tn, ok := cmd["TableName"].(string); ok {
		input.TableName = &tn
	}
	key, err := cmdAVMap(cmd, "Key")
	if err != nil {
		return nil, err
	}
	input.Key = key
	if ue, ok := cmd["UpdateExpression"].(string); ok {
		input.UpdateExpression = &ue
	}
	if ce, ok := cmd["ConditionExpression"].(string); ok {
		input.ConditionExpression = &ce
	}
	if en, ok := cmd["ExpressionAttributeNames"].(map[string]string); ok {
		input.ExpressionAttributeNames = en
	}
	if ev, ok := cmd["ExpressionAttributeValues"].(map[string]types.AttributeValue); ok {
		input.ExpressionAttributeValues = ev
	}
	if rv, ok := cmd["ReturnValues"].(string); ok {
		input.ReturnValues = types.ReturnValue(rv)
	}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	if rm, ok := cmd["ReturnItemCollectionMetrics"].(string); ok {
		input.ReturnItemCollectionMetrics = types.ReturnItemCollectionMetrics(rm)
	}
	return input, nil
}

func buildQueryInput(cmd Item) (*ddb.QueryInput, error) {
	input := &ddb.QueryInput{}
	if tn, ok := cmd["TableName"].(string); ok {
		input.TableName = &tn
	}
	if kce, ok := cmd["KeyConditionExpression"].(string); ok {
		input.KeyConditionExpression = &kce
	}
	if fe, ok := cmd["FilterExpression"].(string); ok {
		input.FilterExpression = &fe
	}
	if pe, ok := cmd["ProjectionExpression"].(string); ok {
		input.ProjectionExpression = &pe
	}
	if en, ok := cmd["ExpressionAttributeNames"].(map[string]string); ok {
		input.ExpressionAttributeNames = en
	}
	if ev, ok := cmd["ExpressionAttributeValues"].(map[string]types.AttributeValue); ok {
		input.ExpressionAttributeValues = ev
	}
	if in, ok := cmd["IndexName"].(string); ok && in != "" {
		input.IndexName = &in
	}
	if limit, ok := toIntAny(cmd["Limit"]); ok {
		l := int32(limit)
		input.Limit = &l
	}
	if cr, ok := cmd["ConsistentRead"].(bool); ok {
		input.ConsistentRead = &cr
	}
	if sif, ok := cmd["ScanIndexForward"].(bool); ok {
		input.ScanIndexForward = &sif
	}
	esk, err := cmdAVMap(cmd, "ExclusiveStartKey")
	if err != nil {
		return nil, err
	}
	if len(esk) > 0 {
		input.ExclusiveStartKey = esk
	}
	if sel, ok := cmd["Select"].(string); ok {
		input.Select = types.Select(sel)
	}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	return input, nil
}

func buildScanInput(cmd Item) (*ddb.ScanInput, error) {
	input := &ddb.ScanInput{}
	if tn, ok := cmd["TableName"].(string); ok {
		input.TableName = &tn
	}
	if fe, ok := cmd["FilterExpression"].(string); ok {
		input.FilterExpression = &fe
	}
	if pe, ok := cmd["ProjectionExpression"].(string); ok {
		input.ProjectionExpression = &pe
	}
	if en, ok := cmd["ExpressionAttributeNames"].(map[string]string); ok {
		input.ExpressionAttributeNames = en
	}
	if ev, ok := cmd["ExpressionAttributeValues"].(map[string]types.AttributeValue); ok {
		input.ExpressionAttributeValues = ev
	}
	if in, ok := cmd["IndexName"].(string); ok && in != "" {
		input.IndexName = &in
	}
	if limit, ok := toIntAny(cmd["Limit"]); ok {
		l := int32(limit)
		input.Limit = &l
	}
	if cr, ok := cmd["ConsistentRead"].(bool); ok {
		input.ConsistentRead = &cr
	}
	esk, err := cmdAVMap(cmd, "ExclusiveStartKey")
	if err != nil {
		return nil, err
	}
	if len(esk) > 0 {
		input.ExclusiveStartKey = esk
	}
	if seg, ok := toIntAny(cmd["Segment"]); ok {
		s := int32(seg)
		input.Segment = &s
	}
	if ts, ok := toIntAny(cmd["TotalSegments"]); ok {
		s := int32(ts)
		input.TotalSegments = &s
	}
	if sel, ok := cmd["Select"].(string); ok {
		input.Select = types.Select(sel)
	}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	return input, nil
}

// buildBatchGetInput accepts the accumulated request map
// {"RequestItems": {table: {"Keys": [...], ...}}} or the SDK-typed map a
// prior response reported as unprocessed.
func buildBatchGetInput(cmd Item) (*ddb.BatchGetItemInput, error) {
	input := &ddb.BatchGetItemInput{RequestItems: map[string]types.KeysAndAttributes{}}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	if passthrough, ok := cmd["RequestItems"].(map[string]types.KeysAndAttributes); ok {
		input.RequestItems = passthrough
		return input, nil
	}
	requests, _ := cmd["RequestItems"].(map[string]any)
	for tbl, raw := range requests {
		entry, _ := raw.(map[string]any)
		if entry == nil {
			continue
		}
		ka := types.KeysAndAttributes{}
		if keys, ok := entry["Keys"].([]any); ok {
			for _, k := range keys {
				switch kv := k.(type) {
				case map[string]types.AttributeValue:
					ka.Keys = append(ka.Keys, kv)
				case Item:
					av, err := marshalForDynamo(kv)
					if err != nil {
						return nil, err
					}
					ka.Keys = append(ka.Keys, av)
				}
			}
		}
		if cr, ok := entry["ConsistentRead"].(bool); ok {
			ka.ConsistentRead = &cr
		}
		if pe, ok := entry["ProjectionExpression"].(string); ok && pe != "" {
			ka.ProjectionExpression = &pe
		}
		if en, ok := entry["ExpressionAttributeNames"].(map[string]string); ok {
			ka.ExpressionAttributeNames = en
		}
		input.RequestItems[tbl] = ka
	}
	return input, nil
}

// buildBatchWriteInput accepts the accumulated request map
// {"RequestItems": {table: [{"PutRequest": cmd}, {"DeleteRequest": cmd}]}}
// or the SDK-typed map a prior response reported as unprocessed.
func buildBatchWriteInput(cmd Item) (*ddb.BatchWriteItemInput, error) {
	input := &ddb.BatchWriteItemInput{RequestItems: map[string][]types.WriteRequest{}}
	if rc, ok := cmd["ReturnConsumedCapacity"].(string); ok {
		input.ReturnConsumedCapacity = types.ReturnConsumedCapacity(rc)
	}
	if passthrough, ok := cmd["RequestItems"].(map[string][]types.WriteRequest); ok {
		input.RequestItems = passthrough
		return input, nil
	}
	requests, _ := cmd["RequestItems"].(map[string]any)
	for tbl, rawList := range requests {
		list, _ := rawList.([]any)
		var reqs []types.WriteRequest
		for _, rawReq := range list {
			entry, _ := rawReq.(map[string]any)
			if entry == nil {
				continue
			}
			var wr types.WriteRequest
			if putRaw, ok := entry["PutRequest"].(Item); ok {
				item, err := cmdAVMap(putRaw, "Item")
				if err != nil {
					return nil, err
				}
				wr.PutRequest = &types.PutRequest{Item: item}
			} else if delRaw, ok := entry["DeleteRequest"].(Item); ok {
				key, err := cmdAVMap(delRaw, "Key")
				if err != nil {
					return nil, err
				}
				wr.DeleteRequest = &types.DeleteRequest{Key: key}
			} else {
				continue
			}
			reqs = append(reqs, wr)
		}
		input.RequestItems[tbl] = reqs
	}
	return input, nil
}

// buildTransactWriteInput builds the input from the accumulated transaction
// map {"TransactItems": [{"Put": cmd}, {"Update": cmd}, ...]}.
func buildTransactWriteInput(cmd Item) (*ddb.TransactWriteItemsInput, error) {
	input := &ddb.TransactWriteItemsInput{}
	rawItems, _ := cmd["TransactItems"].([]any)
	for _, raw := range rawItems {
		entry, _ := raw.(Item)
		if entry == nil {
			continue
		}
		var ti types.TransactWriteItem
		switch {
		case entry["Put"] != nil:
			c, _ := entry["Put"].(Item)
			in, err := buildPutInput(c)
			if err != nil {
				return nil, err
			}
			ti.Put = &types.Put{
				TableName:                 in.TableName,
				Item:                      in.Item,
				ConditionExpression:       in.ConditionExpression,
				ExpressionAttributeNames:  in.ExpressionAttributeNames,
				ExpressionAttributeValues: in.ExpressionAttributeValues,
			}
		case entry["Update"] != nil:
			c, _ := entry["Update"].(Item)
			in, err := buildUpdateInput(c)
			if err != nil {
				return nil, err
			}
			ti.Update = &types.Update{
				TableName:                 in.TableName,
				Key:                       in.Key,
				UpdateExpression:          in.UpdateExpression,
				ConditionExpression:       in.ConditionExpression,
				ExpressionAttributeNames:  in.ExpressionAttributeNames,
				ExpressionAttributeValues: in.ExpressionAttributeValues,
			}
		case entry["Delete"] != nil:
			c, _ := entry["Delete"].(Item)
			in, err := buildDeleteInput(c)
			if err != nil {
				return nil, err
			}
			ti.Delete = &types.Delete{
				TableName:                 in.TableName,
				Key:                       in.Key,
				ConditionExpression:       in.ConditionExpression,
				ExpressionAttributeNames:  in.ExpressionAttributeNames,
				ExpressionAttributeValues: in.ExpressionAttributeValues,
			}
		case entry["ConditionCheck"] != nil:
			c, _ := entry["ConditionCheck"].(Item)
			in, err := buildDeleteInput(c)
			if err != nil {
				return nil, err
			}
			ti.ConditionCheck = &types.ConditionCheck{
				TableName:                 in.TableName,
				Key:                       in.Key,
				ConditionExpression:       in.ConditionExpression,
				ExpressionAttributeNames:  in.ExpressionAttributeNames,
				ExpressionAttributeValues: in.ExpressionAttributeValues,
			}
		default:
			continue
		}
		input.TransactItems = append(input.TransactItems, ti)
	}
	return input, nil
}

// buildTransactGetInput builds the input from the accumulated transaction map
// {"TransactItems": [{"Get": cmd}, ...]}.
func buildTransactGetInput(cmd Item) (*ddb.TransactGetItemsInput, error) {
	input := &ddb.TransactGetItemsInput{}
	rawItems, _ := cmd["TransactItems"].([]any)
	for _, raw := range rawItems {
		entry, _ := raw.(Item)
		if entry == nil {
			continue
		}
		c, _ := entry["Get"].(Item)
		if c == nil {
			continue
		}
		in, err := buildGetInput(c)
		if err != nil {
			return nil, err
		}
		input.TransactItems = append(input.TransactItems, types.TransactGetItem{
			Get: &types.Get{
				TableName:                in.TableName,
				Key:                      in.Key,
				ProjectionExpression:     in.ProjectionExpression,
				ExpressionAttributeNames: in.ExpressionAttributeNames,
			},
		})
	}
	return input, nil
}

func toIntAny(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func strPtr(s string) *string { return &s }
