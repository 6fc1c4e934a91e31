package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ark-network/dlc/internal/core/domain"
)

const (
	selectEvents = `
SELECT data FROM event WHERE topic = ? AND aggregate_id = ? ORDER BY position`
	selectEventCount = `
SELECT COUNT(*) FROM event WHERE topic = ? AND aggregate_id = ?`
	insertEvent = `
INSERT INTO event (topic, aggregate_id, position, type, data) VALUES (?, ?, ?, ?, ?)`
)

type eventRepository struct {
	db       *sql.DB
	lock     *sync.Mutex
	handlers map[string][]func(events []domain.Event)
	wg       sync.WaitGroup
}

func NewEventRepository(config ...interface{}) (domain.EventRepository, error) {
	db, err := parseConfig(config)
	if err != nil {
		return nil, fmt.Errorf("cannot open event repository: %s", err)
	}
	return &eventRepository{
		db:       db,
		lock:     &sync.Mutex{},
		handlers: make(map[string][]func(events []domain.Event)),
	}, nil
}

// Save appends the events that are not persisted yet. The event log is
// append only, a shorter history than the stored one is rejected.
func (r *eventRepository) Save(
	ctx context.Context, topic, id string, events []domain.Event,
) error {
	if len(events) <= 0 {
		return nil
	}

	if err := execTx(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, selectEventCount, topic, id).Scan(&count); err != nil {
			return err
		}
		if count > len(events) {
			return fmt.Errorf(
				"event log of %s has %d events, got %d", id, count, len(events),
			)
		}
		for i := count; i < len(events); i++ {
			data, err := json.Marshal(events[i])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx, insertEvent, topic, id, i, int64(events[i].GetType()), data,
			); err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.runHandlers(topic, events)
	return nil
}

func (r *eventRepository) Load(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, selectEvents, topic, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		event, err := domain.UnmarshalEvent(data)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) <= 0 {
		return nil, nil
	}
	return events, nil
}

func (r *eventRepository) RegisterEventsHandler(
	topic string, handler func(events []domain.Event),
) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.handlers[topic] = append(r.handlers[topic], handler)
}

func (r *eventRepository) ClearRegisteredHandlers(topics ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(topics) <= 0 {
		r.handlers = make(map[string][]func(events []domain.Event))
		return
	}
	for _, topic := range topics {
		delete(r.handlers, topic)
	}
}

// Close waits for the pending handlers, the db handle is owned by whoever
// opened it.
func (r *eventRepository) Close() {
	r.wg.Wait()
}

func (r *eventRepository) runHandlers(topic string, events []domain.Event) {
	defer r.wg.Done()

	r.lock.Lock()
	handlers := append([]func([]domain.Event){}, r.handlers[topic]...)
	r.lock.Unlock()

	for _, handler := range handlers {
		handler(events)
	}
}
