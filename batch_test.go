package facet

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func batchGetKeys(t *testing.T, cmd Item, table string) []any {
	t.Helper()
	requests, _ := cmd["RequestItems"].(map[string]any)
	entry, _ := requests[table].(map[string]any)
	keys, ok := entry["Keys"].([]any)
	if !ok {
		t.Fatalf("command has no key list: %#v", cmd)
	}
	return keys
}

func batchWriteRequests(t *testing.T, cmd Item, table string) []any {
	t.Helper()
	requests, _ := cmd["RequestItems"].(map[string]any)
	list, ok := requests[table].([]any)
	if !ok {
		t.Fatalf("command has no request list: %#v", cmd)
	}
	return list
}

func TestBatch_GetChunking(t *testing.T) {
	tbl, _ := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")

	keys := make([]Item, 150)
	for i := range keys {
		keys[i] = Item{"id": fmt.Sprintf("u%03d", i)}
	}
	res, err := ent.BatchGet(bg(), keys, &Options{Execute: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	assertLen(t, res.Items, 2)
	if got := len(batchGetKeys(t, res.Items[0], "BatchTable")); got != 100 {
		t.Fatalf("first chunk has %d keys, want 100", got)
	}
	if got := len(batchGetKeys(t, res.Items[1], "BatchTable")); got != 50 {
		t.Fatalf("second chunk has %d keys, want 50", got)
	}
}

func TestBatch_PutChunking(t *testing.T) {
	tbl, _ := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")

	items := make([]Item, 60)
	for i := range items {
		items[i] = Item{"id": fmt.Sprintf("u%03d", i), "name": "n"}
	}
	res, err := ent.BatchPut(bg(), items, &Options{Execute: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	assertLen(t, res.Items, 3)
	for i, want := range []int{25, 25, 10} {
		if got := len(batchWriteRequests(t, res.Items[i], "BatchTable")); got != want {
			t.Fatalf("chunk %d has %d requests, want %d", i, got, want)
		}
	}
}

func TestBatch_GetRoundTrip(t *testing.T) {
	tbl, _ := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")

	var items []Item
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("u%d", i)
		items = append(items, Item{"id": id, "name": "name-" + id})
	}
	if _, err := ent.BatchPut(bg(), items, nil); err != nil {
		t.Fatal(err)
	}

	// The slotted form mirrors the request order, holes marking misses.
	keys := []Item{{"id": "u3"}, {"id": "u1"}, {"id": "u9"}, {"id": "u2"}}
	res, err := ent.BatchGet(bg(), keys, &Options{PreserveOrder: true})
	if err != nil {
		t.Fatal(err)
	}
	assertLen(t, res.Items, 4)
	assertStr(t, res.Items[0], "id", "u3")
	assertStr(t, res.Items[1], "id", "u1")
	if res.Items[2] != nil {
		t.Fatalf("slot for the missing key = %v, want nil", res.Items[2])
	}
	assertStr(t, res.Items[3], "id", "u2")

	// Unslotted results only promise membership.
	res, err = ent.BatchGet(bg(), []Item{{"id": "u3"}, {"id": "u1"}, {"id": "u9"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	assertLen(t, res.Items, 2)
	found := map[string]bool{}
	for _, item := range res.Items {
		found[fmt.Sprintf("%v", item["id"])] = true
	}
	if !found["u1"] || !found["u3"] {
		t.Fatalf("resolved ids %v, want u1 and u3", found)
	}
}

func TestBatch_UnprocessedKeys(t *testing.T) {
	tbl, mock := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")
	for _, id := range []string{"u1", "u2"} {
		if _, err := ent.Put(bg(), Item{"id": id, "name": "n"}, nil); err != nil {
			t.Fatal(err)
		}
	}

	mock.declineGets = 1
	res, err := ent.BatchGet(bg(), []Item{{"id": "u1"}, {"id": "u2"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	assertLen(t, res.Items, 0)
	assertLen(t, res.Unprocessed, 2)
	pending := map[string]bool{}
	for _, key := range res.Unprocessed {
		pending[fmt.Sprintf("%v", key["id"])] = true
	}
	if !pending["u1"] || !pending["u2"] {
		t.Fatalf("unprocessed decoded to %v, want the requested ids", res.Unprocessed)
	}

	mock.declineGets = 1
	res, err = ent.BatchGet(bg(), []Item{{"id": "u1"}}, &Options{Unprocessed: "raw"})
	if err != nil {
		t.Fatal(err)
	}
	assertLen(t, res.Unprocessed, 1)
	assertStr(t, res.Unprocessed[0], "pk", "$test#id_u1")
}

func TestBatch_WriteUnprocessed(t *testing.T) {
	tbl, mock := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")

	mock.declineWrites = 1
	res, err := ent.BatchPut(bg(), []Item{
		{"id": "u1", "name": "Ann"},
		{"id": "u2", "name": "Bob"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	assertLen(t, res.Unprocessed, 2)
	for _, item := range res.Unprocessed {
		assertPresent(t, item, "name")
		assertAbsent(t, item, "pk")
	}
	if got := mock.count("BatchTable"); got != 0 {
		t.Fatalf("store holds %d items after a declined write, want 0", got)
	}
}

func TestBatch_WaveConcurrency(t *testing.T) {
	tbl, mock := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")
	mock.gate = make(chan struct{})

	items := make([]Item, 80)
	for i := range items {
		items[i] = Item{"id": fmt.Sprintf("w%02d", i), "name": "n"}
	}

	done := make(chan error, 1)
	go func() {
		_, err := ent.BatchPut(bg(), items, &Options{Concurrency: 2})
		done <- err
	}()

	// The first wave opens exactly two requests and holds there.
	waitFor(t, func() bool { return atomic.LoadInt32(&mock.inFlight) == 2 })
	time.Sleep(10 * time.Millisecond)
	if got := atomic.LoadInt32(&mock.inFlight); got != 2 {
		t.Fatalf("%d requests in flight behind the gate, want 2", got)
	}

	close(mock.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&mock.maxInFlight); got != 2 {
		t.Fatalf("peak concurrency %d, want 2", got)
	}
	if got := mock.callCount("BatchWriteItem"); got != 4 {
		t.Fatalf("BatchWriteItem issued %d times, want 4 chunks", got)
	}
	if got := mock.count("BatchTable"); got != 80 {
		t.Fatalf("store holds %d items, want 80", got)
	}
}

func TestBatch_ChunkFailureStopsWaves(t *testing.T) {
	tbl, mock := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")
	mock.failWrites = 1

	items := make([]Item, 30)
	for i := range items {
		items[i] = Item{"id": fmt.Sprintf("f%02d", i), "name": "n"}
	}
	_, err := ent.BatchPut(bg(), items, nil)
	if err == nil {
		t.Fatal("failing chunk should surface its error")
	}
	if got := mock.callCount("BatchWriteItem"); got != 1 {
		t.Fatalf("BatchWriteItem issued %d times after a first-chunk failure, want 1", got)
	}
	if got := mock.count("BatchTable"); got != 0 {
		t.Fatalf("store holds %d items, want 0", got)
	}
}

func TestBatch_EmptyInput(t *testing.T) {
	tbl, mock := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")

	got, err := ent.BatchGet(bg(), nil, nil)
	if err != nil || len(got.Items) != 0 {
		t.Fatalf("BatchGet(nil) = %v, %v", got.Items, err)
	}
	if _, err := ent.BatchPut(bg(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ent.BatchRemove(bg(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if got := mock.callCount("BatchGetItem") + mock.callCount("BatchWriteItem"); got != 0 {
		t.Fatalf("%d wire calls for empty input", got)
	}
}

func TestBatch_MissingSortKey(t *testing.T) {
	tbl, _ := makeTable(t, "OrderTable", orderSchema)
	ent := tbl.Entity("order")

	_, err := ent.BatchGet(bg(), []Item{{"customerId": "c1"}}, nil)
	assertErrCode(t, err, ErrMissing)
}

func TestBatch_RemoveRoundTrip(t *testing.T) {
	tbl, mock := makeTable(t, "BatchTable", userSchema)
	ent := tbl.Entity("user")

	var items, keys []Item
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("u%d", i)
		items = append(items, Item{"id": id, "name": "n"})
		keys = append(keys, Item{"id": id})
	}
	if _, err := ent.BatchPut(bg(), items, nil); err != nil {
		t.Fatal(err)
	}
	if got := mock.count("BatchTable"); got != 3 {
		t.Fatalf("store holds %d items after put, want 3", got)
	}

	if _, err := ent.BatchRemove(bg(), keys, nil); err != nil {
		t.Fatal(err)
	}
	if got := mock.count("BatchTable"); got != 0 {
		t.Fatalf("store holds %d items after remove, want 0", got)
	}
}
