package backend_test

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/schemaforge/schemaforge/core"
	"github.com/schemaforge/schemaforge/core/backend"
	"github.com/schemaforge/schemaforge/core/client"
	"github.com/schemaforge/schemaforge/core/csql"
)

type testEvent struct {
	resource  string
	operation core.Operation
	payload   []byte
}

// testNotifier collects delivered notifications. It can be told to
// refuse a number of upcoming deliveries.
type testNotifier struct {
	events chan testEvent
	fail   int32
}

func (n *testNotifier) Notify(resource string, operation core.Operation, payload []byte) error {
	if atomic.AddInt32(&n.fail, -1) >= 0 {
		return errors.New("delivery refused")
	}
	n.events <- testEvent{resource: resource, operation: operation, payload: payload}
	return nil
}

func (n *testNotifier) waitEvent(t *testing.T) testEvent {
	t.Helper()
	select {
	case evt := <-n.events:
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
		return testEvent{}
	}
}

func (n *testNotifier) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case evt := <-n.events:
		t.Fatalf("unexpected event %s(%s)", evt.resource, evt.operation)
	case <-time.After(500 * time.Millisecond):
	}
}

func createEventTestService(schemaName string, notifier core.Notifier, outboxTable string) (*backend.Backend, client.Client, *csql.DB) {
	var env TestService
	if err := envdecode.Decode(&env); err != nil {
		panic(err)
	}
	db := csql.OpenWithSchema(env.Postgres, env.PostgresPassword, schemaName)
	db.ClearSchema()

	router := mux.NewRouter()
	b := backend.New(&backend.Builder{
		DB:              db,
		Router:          router,
		Notifier:        notifier,
		OutboxTableName: outboxTable,
	})
	return b, client.NewWithRouter(router), db
}

// TestLifecycleEvents verifies that creating and deleting an API raises
// events on the manage/apis pseudo resource
func TestLifecycleEvents(t *testing.T) {
	notifier := &testNotifier{events: make(chan testEvent, 16)}
	b, cl, db := createEventTestService(t.Name(), notifier, "")
	defer db.Close()
	defer b.Close()

	if _, err := cl.RawPost("/manage/apis", createAPIRequest("Product"), nil); err != nil {
		t.Fatal(err)
	}
	evt := notifier.waitEvent(t)
	if evt.resource != "manage/apis" || evt.operation != core.OperationCreate {
		t.Fatalf("Unexpected event %s(%s)", evt.resource, evt.operation)
	}
	var d apiDescriptor
	if err := json.Unmarshal(evt.payload, &d); err != nil {
		t.Fatal(err)
	}
	if d.Name != "Product" {
		t.Fatalf("Expecting descriptor for 'Product', got '%s'", d.Name)
	}

	if _, err := cl.RawDelete("/manage/apis/Product"); err != nil {
		t.Fatal(err)
	}
	evt = notifier.waitEvent(t)
	if evt.resource != "manage/apis" || evt.operation != core.OperationDelete {
		t.Fatalf("Unexpected event %s(%s)", evt.resource, evt.operation)
	}
}

// TestItemEvents verifies that all item mutations raise events carrying
// the mutated item
func TestItemEvents(t *testing.T) {
	notifier := &testNotifier{events: make(chan testEvent, 16)}
	b, cl, db := createEventTestService(t.Name(), notifier, "")
	defer db.Close()
	defer b.Close()

	if _, err := cl.RawPost("/manage/apis", createAPIRequest("Product"), nil); err != nil {
		t.Fatal(err)
	}
	notifier.waitEvent(t) // lifecycle event

	products := cl.Collection("Product")
	if _, err := products.Create(map[string]interface{}{"name": "Apple", "price": 1.99}, nil); err != nil {
		t.Fatal(err)
	}
	evt := notifier.waitEvent(t)
	if evt.resource != "Product" || evt.operation != core.OperationCreate {
		t.Fatalf("Unexpected event %s(%s)", evt.resource, evt.operation)
	}
	var item Product
	if err := json.Unmarshal(evt.payload, &item); err != nil {
		t.Fatal(err)
	}
	if item.ID != 1 || item.Name != "Apple" || !item.InStock {
		t.Fatalf("Unexpected event payload: %s", string(evt.payload))
	}

	if _, err := products.Item(1).Update(map[string]interface{}{"name": "Apple", "price": 2.49}, nil); err != nil {
		t.Fatal(err)
	}
	evt = notifier.waitEvent(t)
	if evt.operation != core.OperationUpdate {
		t.Fatalf("Unexpected event %s(%s)", evt.resource, evt.operation)
	}
	item = Product{}
	if err := json.Unmarshal(evt.payload, &item); err != nil {
		t.Fatal(err)
	}
	if item.Price != 2.49 {
		t.Fatalf("Unexpected event payload: %s", string(evt.payload))
	}

	if _, err := products.Item(1).Delete(nil); err != nil {
		t.Fatal(err)
	}
	evt = notifier.waitEvent(t)
	if evt.operation != core.OperationDelete {
		t.Fatalf("Unexpected event %s(%s)", evt.resource, evt.operation)
	}

	if _, err := products.Create(map[string]interface{}{"name": "Pear", "price": 2}, nil); err != nil {
		t.Fatal(err)
	}
	notifier.waitEvent(t)

	if _, err := products.Clear(); err != nil {
		t.Fatal(err)
	}
	evt = notifier.waitEvent(t)
	if evt.operation != core.OperationClear {
		t.Fatalf("Unexpected event %s(%s)", evt.resource, evt.operation)
	}
	var counts map[string]int64
	if err := json.Unmarshal(evt.payload, &counts); err != nil {
		t.Fatal(err)
	}
	if counts["deleted"] != 1 {
		t.Fatalf("Expecting 1 deleted item, got %d", counts["deleted"])
	}
}

// TestEventRetry verifies that refused deliveries are retried, and that
// an event which runs out of attempts stays undelivered in the outbox
func TestEventRetry(t *testing.T) {
	notifier := &testNotifier{events: make(chan testEvent, 16)}
	b, cl, db := createEventTestService(t.Name(), notifier, "_outbox_retry_test_")
	defer db.Close()
	defer b.Close()

	if _, err := cl.RawPost("/manage/apis", createAPIRequest("Product"), nil); err != nil {
		t.Fatal(err)
	}
	notifier.waitEvent(t) // lifecycle event

	products := cl.Collection("Product")

	// one refused delivery, the retry succeeds
	atomic.StoreInt32(&notifier.fail, 1)
	if _, err := products.Create(map[string]interface{}{"name": "Apple", "price": 1}, nil); err != nil {
		t.Fatal(err)
	}
	evt := notifier.waitEvent(t)
	if evt.operation != core.OperationCreate {
		t.Fatalf("Unexpected event %s(%s)", evt.resource, evt.operation)
	}

	// all four attempts refused, the event is abandoned
	atomic.StoreInt32(&notifier.fail, 4)
	if _, err := products.Create(map[string]interface{}{"name": "Pear", "price": 2}, nil); err != nil {
		t.Fatal(err)
	}
	notifier.expectNoEvent(t)

	deadline := time.Now().Add(3 * time.Second)
	for {
		var attemptsLeft int
		err := db.QueryRow(`SELECT attempts_left FROM ` + db.Schema + `."_outbox_retry_test_" ORDER BY serial DESC LIMIT 1`).Scan(&attemptsLeft)
		if err == nil && attemptsLeft == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expecting an abandoned event with no attempts left, got %v (%v)", attemptsLeft, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// later deliveries are unaffected
	if _, err := products.Create(map[string]interface{}{"name": "Cherry", "price": 3}, nil); err != nil {
		t.Fatal(err)
	}
	evt = notifier.waitEvent(t)
	var item Product
	if err := json.Unmarshal(evt.payload, &item); err != nil {
		t.Fatal(err)
	}
	if item.Name != "Cherry" {
		t.Fatalf("Unexpected event payload: %s", string(evt.payload))
	}
}
