/*
Package facet – batch orchestration.

Splits key and item lists at the service ceilings and runs the chunks in
bounded concurrent waves: a wave fully settles before the next starts, so at
most Concurrency requests are in flight at any instant. Unprocessed leftovers
are returned as data; nothing is retried at this layer.
*/
package facet

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Service ceilings per request.
const (
	maxBatchGet   = 100
	maxBatchWrite = 25
)

// BatchResult is the outcome of a batch operation. Unprocessed carries the
// keys or items the service declined, decoded to logical form unless the raw
// unprocessed mode is active.
type BatchResult struct {
	Items       []Item
	Unprocessed []Item
}

// BatchGet retrieves many items by their key facets. Results arrive in
// service order unless PreserveOrder is set, which lands each record in its
// input slot (nil marks a miss) and appends unmatched records after.
func (e *Entity) BatchGet(ctx context.Context, keys []Item, opts *Options) (*BatchResult, error) {
	cfg, err := e.resolveOptions("batchGet", facetOpts(opts), Options{})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &BatchResult{}, nil
	}

	encoded := make([]Item, len(keys))
	for i, facets := range keys {
		k, err := e.batchKeys(facets)
		if err != nil {
			return nil, err
		}
		encoded[i] = k
	}

	projection, projNames, err := e.batchProjection(&cfg)
	if err != nil {
		return nil, err
	}

	chunks := chunkItems(encoded, maxBatchGet)
	cmds := make([]Item, len(chunks))
	for i, chunk := range chunks {
		entry := map[string]any{"Keys": toAny(chunk)}
		if cfg.consistent {
			entry["ConsistentRead"] = true
		}
		if projection != "" {
			entry["ProjectionExpression"] = projection
			entry["ExpressionAttributeNames"] = projNames
		}
		cmds[i] = Item{"RequestItems": map[string]any{e.table.name: entry}}
		if cfg.capacity != "" {
			cmds[i]["ReturnConsumedCapacity"] = cfg.capacity
		}
	}
	if !cfg.execute {
		return &BatchResult{Items: cmds}, nil
	}

	pages := make([][]Item, len(chunks))
	pending := make([][]Item, len(chunks))
	err = runWaves(ctx, len(chunks), cfg.concurrency, func(ctx context.Context, i int) error {
		result, err := e.table.execute(ctx, e.Name, "batchGet", cmds[i], &cfg)
		if err != nil {
			return err
		}
		pages[i], _ = result["Items"].([]Item)
		pending[i], _ = result["Unprocessed"].([]Item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	if cfg.preserveOrder {
		res.Items = e.slotItems(encoded, pages, &cfg)
	} else {
		for _, page := range pages {
			for _, raw := range page {
				if shaped, ok := e.shapeRead("get", raw, &cfg); ok {
					res.Items = append(res.Items, shaped)
				}
			}
		}
	}
	for _, chunk := range pending {
		res.Unprocessed = append(res.Unprocessed, e.decodeUnprocessedKeys(chunk, &cfg)...)
	}
	return res, nil
}

// slotItems places shaped records into pre-allocated input-order slots by
// primary key fingerprint. Misses leave their slot nil; records that match no
// requested key append after the slots.
func (e *Entity) slotItems(encoded []Item, pages [][]Item, cfg *callConfig) []Item {
	slots := make([]Item, len(encoded))
	index := make(map[string][]int, len(encoded))
	for i, k := range encoded {
		fp := e.keyFingerprint(k)
		index[fp] = append(index[fp], i)
	}
	var extra []Item
	for _, page := range pages {
		for _, raw := range page {
			shaped, ok := e.shapeRead("get", raw, cfg)
			if !ok {
				continue
			}
			fp := e.keyFingerprint(raw)
			if idxs := index[fp]; len(idxs) > 0 {
				slots[idxs[0]] = shaped
				index[fp] = idxs[1:]
			} else {
				extra = append(extra, shaped)
			}
		}
	}
	return append(slots, extra...)
}

// BatchPut writes many items. The returned Items echo the shaped write
// images; leftovers the service declined land in Unprocessed.
func (e *Entity) BatchPut(ctx context.Context, items []Item, opts *Options) (*BatchResult, error) {
	cfg, err := e.resolveOptions("put", facetOpts(opts), Options{})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &BatchResult{}, nil
	}

	// compile in bare batch mode so commands carry only the request entry
	cfgBare := cfg
	cfgBare.batch = Item{}

	echoes := make([]Item, len(items))
	requests := make([]Item, len(items))
	for i, properties := range items {
		expr, rec, err := e.compilePut(properties, &cfgBare)
		if err != nil {
			return nil, err
		}
		cmd, err := expr.command()
		if err != nil {
			return nil, err
		}
		requests[i] = Item{"PutRequest": cmd}
		echoes[i] = e.shapeItem("put", rec, &cfg)
	}
	return e.batchWrite(ctx, requests, echoes, &cfg)
}

// BatchRemove deletes many items by their key facets. Both key sides must
// resolve completely; conditions do not apply to batch writes.
func (e *Entity) BatchRemove(ctx context.Context, keys []Item, opts *Options) (*BatchResult, error) {
	cfg, err := e.resolveOptions("delete", facetOpts(opts), Options{})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &BatchResult{}, nil
	}

	requests := make([]Item, len(keys))
	for i, facets := range keys {
		k, err := e.batchKeys(facets)
		if err != nil {
			return nil, err
		}
		requests[i] = Item{"DeleteRequest": Item{"Key": k}}
	}
	return e.batchWrite(ctx, requests, nil, &cfg)
}

// batchWrite chunks accumulated write requests and runs them in waves.
func (e *Entity) batchWrite(ctx context.Context, requests, echoes []Item, cfg *callConfig) (*BatchResult, error) {
	chunks := chunkItems(requests, maxBatchWrite)
	cmds := make([]Item, len(chunks))
	for i, chunk := range chunks {
		cmds[i] = Item{"RequestItems": map[string]any{e.table.name: toAny(chunk)}}
		if cfg.capacity != "" {
			cmds[i]["ReturnConsumedCapacity"] = cfg.capacity
		}
	}
	if !cfg.execute {
		return &BatchResult{Items: cmds}, nil
	}

	pending := make([][]Item, len(chunks))
	err := runWaves(ctx, len(chunks), cfg.concurrency, func(ctx context.Context, i int) error {
		result, err := e.table.execute(ctx, e.Name, "batchWrite", cmds[i], cfg)
		if err != nil {
			return err
		}
		pending[i], _ = result["Unprocessed"].([]Item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Items: echoes}
	for _, chunk := range pending {
		res.Unprocessed = append(res.Unprocessed, e.shapeUnprocessed(chunk, cfg)...)
	}
	return res, nil
}

// runWaves executes fn for chunk indexes 0..chunks-1 in waves of the given
// width. Every request of a wave settles before the next wave starts; the
// first failure, in chunk order, stops further waves.
func runWaves(ctx context.Context, chunks, width int, fn func(ctx context.Context, chunk int) error) error {
	if width <= 0 {
		width = 1
	}
	errs := make([]error, chunks)
	for start := 0; start < chunks; start += width {
		end := start + width
		if end > chunks {
			end = chunks
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = fn(ctx, i)
			}()
		}
		wg.Wait()
		for i := start; i < end; i++ {
			if errs[i] != nil {
				return errs[i]
			}
		}
	}
	return nil
}

// chunkItems splits a list into chunks of at most size elements.
// Concatenating the chunks reproduces the input order.
func chunkItems(items []Item, size int) [][]Item {
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func toAny(items []Item) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// keyFingerprint identifies an item by its primary key pair. Works for both
// encoded request keys and raw stored items since both carry the physical
// key fields.
func (e *Entity) keyFingerprint(item Item) string {
	m := e.model
	pk := item[m.Primary.PK.Field]
	var sk any
	if m.Primary.SK != nil {
		sk = item[m.Primary.SK.Field]
	}
	return fmt.Sprintf("%v||%v", pk, sk)
}

// batchProjection builds the shared projection fragment for batch gets. The
// identity markers and primary key fields ride along so ownership checks and
// order preservation keep working on projected results.
func (e *Entity) batchProjection(cfg *callConfig) (string, map[string]string, error) {
	if len(cfg.fields) == 0 {
		return "", nil, nil
	}
	m := e.model
	var fields []string
	seen := map[string]bool{}
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	for _, name := range cfg.fields {
		f, ok := m.fieldFor(name)
		if !ok {
			return "", nil, NewError(fmt.Sprintf("unknown attribute %q in projection", name),
				WithCode(ErrProjection), WithContext(map[string]any{"fields": cfg.fields}))
		}
		add(f)
	}
	if f, ok := m.fieldFor(m.EntityField); ok {
		add(f)
	}
	if f, ok := m.fieldFor(m.VersionField); ok {
		add(f)
	}
	for _, f := range m.keyFields(m.Primary.Name) {
		add(f)
	}
	names := make(map[string]string, len(fields))
	terms := make([]string, len(fields))
	for i, f := range fields {
		ph := fmt.Sprintf("#_%d", i)
		names[ph] = f
		terms[i] = ph
	}
	return strings.Join(terms, ", "), names, nil
}

// decodeUnprocessedKeys turns raw unprocessed key maps back into logical
// facets. Keys that fail to decode pass through raw.
func (e *Entity) decodeUnprocessedKeys(raw []Item, cfg *callConfig) []Item {
	if cfg.rawUnprocessed {
		return raw
	}
	out := make([]Item, 0, len(raw))
	for _, key := range raw {
		decoded, err := e.model.decodeKeys(e.model.Primary.Name, key, nil)
		if err != nil || len(decoded) == 0 {
			out = append(out, key)
			continue
		}
		delete(decoded, markerUnparsed)
		out = append(out, decoded)
	}
	return out
}

// shapeUnprocessed shapes raw unprocessed write images. Delete keys carry
// only the key pair and decode like unprocessed get keys; put images shape
// like any stored item.
func (e *Entity) shapeUnprocessed(raw []Item, cfg *callConfig) []Item {
	if cfg.rawUnprocessed {
		return raw
	}
	m := e.model
	keyWidth := len(m.keyFields(m.Primary.Name))
	out := make([]Item, 0, len(raw))
	for _, item := range raw {
		if len(item) <= keyWidth {
			out = append(out, e.decodeUnprocessedKeys([]Item{item}, cfg)...)
			continue
		}
		loose := *cfg
		loose.ignoreOwnership = true
		if shaped, ok := e.shapeRead("get", item, &loose); ok {
			out = append(out, shaped)
			continue
		}
		out = append(out, item)
	}
	return out
}
