package badgerdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const eventStoreDir = "events"

type eventsDTO struct {
	Events [][]byte
}

type eventBatch struct {
	topic  string
	events []domain.Event
}

type eventRepository struct {
	store     *badgerhold.Store
	lock      *sync.Mutex
	chUpdates chan eventBatch
	handlers  map[string][]func(events []domain.Event)
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewEventRepository(config ...interface{}) (domain.EventRepository, error) {
	dir, logger, err := parseConfig(config, eventStoreDir)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open events store: %s", err)
	}
	repo := &eventRepository{
		store:     store,
		lock:      &sync.Mutex{},
		chUpdates: make(chan eventBatch),
		handlers:  make(map[string][]func(events []domain.Event)),
		done:      make(chan struct{}),
	}
	go repo.listen()
	return repo, nil
}

// Save replaces the event log of the given aggregate with events, which must
// be the full history.
func (r *eventRepository) Save(
	ctx context.Context, topic, id string, events []domain.Event,
) error {
	if len(events) <= 0 {
		return nil
	}
	if err := r.upsert(ctx, key(topic, id), events); err != nil {
		return err
	}
	r.wg.Add(1)
	go r.publishEvents(eventBatch{topic, events})
	return nil
}

func (r *eventRepository) Load(
	ctx context.Context, topic, id string,
) ([]domain.Event, error) {
	return r.get(ctx, key(topic, id))
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

func (r *eventRepository) Close() {
	close(r.done)
	r.wg.Wait()
	close(r.chUpdates)
	r.store.Close()
}

func (r *eventRepository) get(
	ctx context.Context, key string,
) ([]domain.Event, error) {
	dto := eventsDTO{}
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxGet(tx, key, &dto)
	} else {
		err = r.store.Get(key, &dto)
	}
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get events with key %s: %s", key, err)
	}

	return deserializeEvents(dto.Events)
}

func (r *eventRepository) upsert(
	ctx context.Context, key string, events []domain.Event,
) error {
	buf, err := serializeEvents(events)
	if err != nil {
		return err
	}
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxUpsert(tx, key, buf)
	} else {
		err = r.store.Upsert(key, buf)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert events with key %s: %s", key, err)
	}
	return nil
}

func (r *eventRepository) listen() {
	for {
		select {
		case <-r.done:
			return
		case batch := <-r.chUpdates:
			r.runHandlers(batch)
		}
	}
}

func (r *eventRepository) publishEvents(batch eventBatch) {
	defer r.wg.Done()
	select {
	case <-r.done:
		return
	case r.chUpdates <- batch:
	}
}

func (r *eventRepository) runHandlers(batch eventBatch) {
	r.lock.Lock()
	handlers := append([]func([]domain.Event){}, r.handlers[batch.topic]...)
	r.lock.Unlock()

	for _, handler := range handlers {
		handler(batch.events)
	}
}

func key(topic, id string) string {
	return fmt.Sprintf("%s:%s", topic, id)
}
