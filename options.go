/*
Package facet – per-call options.

Callers pass an *Options; resolveOptions folds it with the operation's
defaults into a callConfig value through a pure merge/validate step. The
compiler and executor read that immutable copy only — there is no call-scoped
mutation of shared state and no hidden defaults beyond the model's own
static metadata.
*/
package facet

// Options holds optional operation modifiers.
type Options struct {
	// Execution control
	Execute *bool // false → compile and return the command without executing
	Log     bool  // log the compiled command at info level

	// Condition
	Exists *bool // true=item must exist, false=must not exist, nil=don't care

	// Pagination
	Limit    int
	Cursor   string // opaque continuation token from a prior Result
	StartKey Item   // raw continuation key, only with Pager "raw"
	Reverse  bool
	MaxPages int
	Pager    string // "cursor" (default) | "raw"

	// Index selection; "" = choose the best access pattern automatically
	Index string

	// Projection (logical attribute names)
	Fields []string

	// Read consistency
	Consistent bool

	// Write return values: "NONE"|"ALL_OLD"|"ALL_NEW"|"UPDATED_OLD"|"UPDATED_NEW"
	Return string

	// Update deltas
	Set    Item
	Remove []string

	// External condition/filter builder
	Where *Where

	// Parallel scan
	Segments int
	Segment  *int

	// Count only
	Count bool

	// Output shaping
	Hidden          bool // include hidden attributes in shaped items
	IgnoreOwnership bool // keep records that fail the identity ownership check

	// Stats / capacity reporting
	Stats    *Stats
	Capacity string // "INDEXES"|"TOTAL"|"NONE"

	// Batch orchestration
	Concurrency   int    // wave width, default 1
	PreserveOrder bool   // batch get: land results in input order
	Many          bool   // permit remove to delete more than one item
	Unprocessed   string // "item" (default) | "raw"

	// Batch / transaction accumulators (filled by the caller, executed by
	// Table.BatchWrite / Table.Transact)
	Batch       Item
	Transaction Item

	// Follow override for keys-only GSI resolution
	Follow *bool

	// Properties merged into every operation input
	Context Item
}

// callConfig is the resolved, immutable per-call configuration.
type callConfig struct {
	op              string
	execute         bool
	log             bool
	exists          *bool
	limit           int
	startKey        Item
	reverse         bool
	maxPages        int
	rawPager        bool
	index           string
	fields          []string
	consistent      bool
	ret             string
	set             Item
	remove          []string
	where           *Where
	segments        int
	segment         *int
	count           bool
	hidden          bool
	ignoreOwnership bool
	stats           *Stats
	capacity        string
	concurrency     int
	preserveOrder   bool
	many            bool
	rawUnprocessed  bool
	batch           Item
	transaction     Item
	follow          *bool
	context         Item
}

var validReturns = map[string]bool{
	"": true, "NONE": true, "ALL_OLD": true, "ALL_NEW": true,
	"UPDATED_OLD": true, "UPDATED_NEW": true,
}

var validCapacity = map[string]bool{
	"": true, "INDEXES": true, "TOTAL": true, "NONE": true,
}

// mergeOptions folds caller options over operation defaults. Zero-valued
// caller fields take the default; everything else wins as supplied.
func mergeOptions(o *Options, defaults Options) Options {
	merged := defaults
	if o == nil {
		return merged
	}
	if o.Execute != nil {
		merged.Execute = o.Execute
	}
	if o.Log {
		merged.Log = true
	}
	if o.Exists != nil {
		merged.Exists = o.Exists
	}
	if o.Limit != 0 {
		merged.Limit = o.Limit
	}
	if o.Cursor != "" {
		merged.Cursor = o.Cursor
	}
	if o.StartKey != nil {
		merged.StartKey = o.StartKey
	}
	if o.Reverse {
		merged.Reverse = true
	}
	if o.MaxPages != 0 {
		merged.MaxPages = o.MaxPages
	}
	if o.Pager != "" {
		merged.Pager = o.Pager
	}
	if o.Index != "" {
		merged.Index = o.Index
	}
	if o.Fields != nil {
		merged.Fields = o.Fields
	}
	if o.Consistent {
		merged.Consistent = true
	}
	if o.Return != "" {
		merged.Return = o.Return
	}
	if o.Set != nil {
		merged.Set = o.Set
	}
	if o.Remove != nil {
		merged.Remove = o.Remove
	}
	if o.Where != nil {
		merged.Where = o.Where
	}
	if o.Segments != 0 {
		merged.Segments = o.Segments
	}
	if o.Segment != nil {
		merged.Segment = o.Segment
	}
	if o.Count {
		merged.Count = true
	}
	if o.Hidden {
		merged.Hidden = true
	}
	if o.IgnoreOwnership {
		merged.IgnoreOwnership = true
	}
	if o.Stats != nil {
		merged.Stats = o.Stats
	}
	if o.Capacity != "" {
		merged.Capacity = o.Capacity
	}
	if o.Concurrency != 0 {
		merged.Concurrency = o.Concurrency
	}
	if o.PreserveOrder {
		merged.PreserveOrder = true
	}
	if o.Many {
		merged.Many = true
	}
	if o.Unprocessed != "" {
		merged.Unprocessed = o.Unprocessed
	}
	if o.Batch != nil {
		merged.Batch = o.Batch
	}
	if o.Transaction != nil {
		merged.Transaction = o.Transaction
	}
	if o.Follow != nil {
		merged.Follow = o.Follow
	}
	if o.Context != nil {
		merged.Context = o.Context
	}
	return merged
}

// resolveOptions validates the merged options and freezes them into a
// callConfig. Contradictory or out-of-range settings fail the call before
// any request is built.
func (e *Entity) resolveOptions(op string, o *Options, defaults Options) (callConfig, error) {
	merged := mergeOptions(o, defaults)
	cfg := callConfig{
		op:              op,
		execute:         true,
		exists:          merged.Exists,
		limit:           merged.Limit,
		reverse:         merged.Reverse,
		maxPages:        merged.MaxPages,
		index:           merged.Index,
		fields:          merged.Fields,
		consistent:      merged.Consistent,
		ret:             merged.Return,
		set:             merged.Set,
		remove:          merged.Remove,
		where:           merged.Where,
		segments:        merged.Segments,
		segment:         merged.Segment,
		count:           merged.Count,
		hidden:          merged.Hidden,
		ignoreOwnership: merged.IgnoreOwnership,
		stats:           merged.Stats,
		capacity:        merged.Capacity,
		concurrency:     merged.Concurrency,
		preserveOrder:   merged.PreserveOrder,
		many:            merged.Many,
		batch:           merged.Batch,
		transaction:     merged.Transaction,
		follow:          merged.Follow,
		log:             merged.Log,
		context:         merged.Context,
	}
	if merged.Execute != nil {
		cfg.execute = *merged.Execute
	}
	if !cfg.hidden {
		cfg.hidden = e.table.hidden
	}
	if cfg.limit < 0 {
		return cfg, NewArgError("Limit must not be negative")
	}
	if cfg.maxPages <= 0 {
		cfg.maxPages = sanityPages
	}
	switch merged.Pager {
	case "", "cursor":
	case "raw":
		cfg.rawPager = true
	default:
		return cfg, NewArgError("invalid pager \"" + merged.Pager + "\"")
	}
	if merged.Cursor != "" && merged.StartKey != nil {
		return cfg, NewArgError("Cursor and StartKey are mutually exclusive")
	}
	if merged.StartKey != nil && !cfg.rawPager {
		return cfg, NewArgError("StartKey requires the raw pager")
	}
	if merged.Cursor != "" {
		key, err := e.table.cursors.Deserialize(merged.Cursor)
		if err != nil {
			return cfg, NewError("cannot decode cursor", WithCode(ErrArgument), WithCause(err))
		}
		cfg.startKey = key
	} else if merged.StartKey != nil {
		cfg.startKey = merged.StartKey
	}
	if cfg.index != "" {
		if _, ok := e.model.Indexes[cfg.index]; !ok {
			return cfg, NewArgError("unknown access pattern \"" + cfg.index + "\"")
		}
	}
	if !validReturns[cfg.ret] {
		return cfg, NewArgError("invalid Return value \"" + cfg.ret + "\"")
	}
	if !validCapacity[cfg.capacity] {
		return cfg, NewArgError("invalid Capacity value \"" + cfg.capacity + "\"")
	}
	switch merged.Unprocessed {
	case "", "item":
	case "raw":
		cfg.rawUnprocessed = true
	default:
		return cfg, NewArgError("invalid Unprocessed value \"" + merged.Unprocessed + "\"")
	}
	if cfg.concurrency < 0 {
		return cfg, NewArgError("Concurrency must not be negative")
	}
	if cfg.concurrency == 0 {
		cfg.concurrency = 1
	}
	if cfg.segment != nil && cfg.segments <= 0 {
		return cfg, NewArgError("Segment requires Segments")
	}
	if (cfg.set != nil || cfg.remove != nil) && op != "update" && op != "patch" {
		return cfg, NewArgError("Set/Remove apply to update operations only")
	}
	return cfg, nil
}
