package backend

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/schemaforge/schemaforge/core"
	"github.com/schemaforge/schemaforge/core/catalog"
	"github.com/schemaforge/schemaforge/core/logger"
)

// lifecycleResource is the pseudo resource of creation and deletion
// events for the dynamic resources themselves
const lifecycleResource = "manage/apis"

const eventConcurrency = 4

// outboxEvent is a claimed outbox event
type outboxEvent struct {
	Serial       int
	Resource     string
	Operation    string
	Payload      []byte
	CreatedAt    time.Time
	AttemptsLeft int
	ContextData  []byte
}

// handleEvents creates the event outbox (if it does not exist) and
// starts the background delivery loop. Only called with a notifier set.
func (b *Backend) handleEvents() {
	outbox := b.db.Schema + `."` + b.outboxTable + `"`
	_, err := b.db.Exec(`CREATE table IF NOT EXISTS ` + outbox + `
(serial SERIAL,
resource VARCHAR NOT NULL DEFAULT '',
operation VARCHAR NOT NULL DEFAULT '',
payload JSON NOT NULL DEFAULT'{}'::jsonb,
context JSON NOT NULL DEFAULT'{}'::jsonb,
created_at TIMESTAMP NOT NULL DEFAULT now(),
attempts_left INTEGER NOT NULL,
PRIMARY KEY(serial)
);`)
	if err != nil {
		panic(err)
	}

	b.eventInsertQuery = `INSERT INTO ` + outbox + `
(resource,operation,payload,context,created_at,attempts_left)
VALUES($1,$2,$3,$4,$5,4) RETURNING serial;`

	b.eventClaimQuery = `UPDATE ` + outbox + `
SET attempts_left = attempts_left - 1
WHERE serial = (
SELECT serial
 FROM ` + outbox + `
 WHERE attempts_left > 0 AND NOT (serial = ANY($1))
 ORDER BY serial
 FOR UPDATE SKIP LOCKED
 LIMIT 1
)
RETURNING serial, resource, operation, payload, created_at, attempts_left, context;
`
	b.eventDeleteQuery = `DELETE FROM ` + outbox + `
WHERE serial = $1 RETURNING serial;`

	b.hasEventOutbox = true
	b.eventTrigger = make(chan struct{}, 10)
	b.eventStop = make(chan struct{})

	// left-over events in the database are delivered right away
	b.eventWG.Add(1)
	go func() {
		defer b.eventWG.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		b.deliverEvents()
		for {
			select {
			case <-b.eventStop:
				return
			case <-b.eventTrigger:
			case <-ticker.C:
			}
			b.deliverEvents()
		}
	}()
}

// triggerEvents nudges the delivery loop
func (b *Backend) triggerEvents() {
	if !b.hasEventOutbox {
		return
	}
	if len(b.eventTrigger) == 0 {
		b.eventTrigger <- struct{}{}
	}
}

// commitWithEvent commits the transaction and inserts a delivery event
// for the mutation into the outbox, in one atomic step. Without a
// notifier it only commits.
func (b *Backend) commitWithEvent(ctx context.Context, tx *sql.Tx, resource string, operation core.Operation, payload []byte) error {
	if b.notifier == nil {
		return tx.Commit()
	}

	if len(payload) == 0 {
		payload = []byte("{}")
	}
	contextData := logger.SerializeLoggerContext(ctx)

	var serial int
	err := tx.QueryRow(b.eventInsertQuery,
		resource,
		operation,
		payload,
		contextData,
		time.Now().UTC(),
	).Scan(&serial)
	if err != nil {
		tx.Rollback()
		return err
	}
	err = tx.Commit()
	if err == nil {
		b.triggerEvents()
	}
	return err
}

// raiseLifecycleEvent records creation or deletion of a dynamic
// resource in the outbox. The payload is the resource descriptor.
func (b *Backend) raiseLifecycleEvent(operation core.Operation, res *catalog.Resource) {
	if b.notifier == nil {
		return
	}
	payload, _ := json.Marshal(b.describeResource(res, ""))
	var serial int
	err := b.db.QueryRow(b.eventInsertQuery,
		lifecycleResource,
		operation,
		payload,
		logger.SerializeLoggerContext(nil),
		time.Now().UTC(),
	).Scan(&serial)
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 4761: cannot raise lifecycle event")
		return
	}
	b.triggerEvents()
}

// deliverEvents drains the outbox through a small worker pool. Workers
// are sharded by resource, hence events for one resource leave in
// outbox order.
func (b *Backend) deliverEvents() {
	rlog := logger.FromContext(nil)

	// inFlight keeps claimed serials out of the next claim until their
	// delivery has finished
	inFlight := make(map[int]bool)

	// getEvent claims the oldest claimable event. The claim commits the
	// attempts decrement before delivery starts, so a crashing notifier
	// cannot produce an infinite redelivery loop.
	getEvent := func() (evt outboxEvent, err error) {
		serials := make([]int64, 0, len(inFlight))
		for serial := range inFlight {
			serials = append(serials, int64(serial))
		}
		err = b.db.QueryRow(b.eventClaimQuery, pq.Array(serials)).Scan(
			&evt.Serial,
			&evt.Resource,
			&evt.Operation,
			&evt.Payload,
			&evt.CreatedAt,
			&evt.AttemptsLeft,
			&evt.ContextData,
		)
		if err != nil {
			if err != sql.ErrNoRows {
				rlog.Errorln("failed to claim event:", err.Error())
			}
			return
		}
		inFlight[evt.Serial] = true
		return
	}

	events := make([]chan outboxEvent, eventConcurrency)
	ready := make(chan int, eventConcurrency)
	for i := 0; i < eventConcurrency; i++ {
		events[i] = make(chan outboxEvent)
		go b.eventWorker(events[i], ready)
	}

	// route sends the event to the worker owning its resource
	route := func(evt outboxEvent) {
		h := fnv.New32a()
		h.Write([]byte(evt.Resource))
		events[int(h.Sum32()%uint32(eventConcurrency))] <- evt
	}

	var eventCount, readyCount int
	for i := 0; i < eventConcurrency; i++ {
		evt, err := getEvent()
		if err != nil {
			break
		}
		eventCount++
		route(evt)
	}
	for readyCount < eventCount {
		serial := <-ready
		readyCount++
		delete(inFlight, serial)
		if evt, err := getEvent(); err == nil {
			eventCount++
			route(evt)
		}
	}
	for i := 0; i < eventConcurrency; i++ {
		close(events[i])
	}
	if eventCount > 0 {
		rlog.Debugf("deliver events: %d done", eventCount)
	}
}

func (b *Backend) eventWorker(events <-chan outboxEvent, ready chan<- int) {

	for evt := range events {
		rlog := logger.Default()

		// call the notifier in a panic/recover envelope
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("recovered from panic: %s", r)
					debug.PrintStack()
				}
			}()
			ctx := logger.ContextWithLoggerFromData(context.Background(), evt.ContextData)
			rlog = logger.FromContext(ctx)
			return b.notifier.Notify(evt.Resource, core.Operation(evt.Operation), evt.Payload)
		}()

		if err != nil {
			rlog.WithError(err).Error("error delivering event " + evt.Resource + "(" + evt.Operation + ") #" + strconv.Itoa(evt.Serial))
		} else {
			rlog.Info("successfully delivered event " + evt.Resource + "(" + evt.Operation + ") #" + strconv.Itoa(evt.Serial))
			// delivered, delete from the outbox
			var serial int
			err = b.db.QueryRow(b.eventDeleteQuery, &evt.Serial).Scan(&serial)
			if err != nil && err != sql.ErrNoRows {
				rlog.WithError(err).Error("could not delete delivered event #" + strconv.Itoa(evt.Serial))
			}
		}
		ready <- evt.Serial
	}
}
