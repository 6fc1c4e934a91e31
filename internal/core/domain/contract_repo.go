package domain

import "context"

type ContractRepository interface {
	AddOrUpdateContract(ctx context.Context, contract Contract) error
	GetContract(ctx context.Context, id string) (*Contract, error)
	GetContracts(ctx context.Context, statuses ...ContractStatus) ([]Contract, error)
	GetContractsByEvent(ctx context.Context, eventId string) ([]Contract, error)
	Close()
}

type EventRepository interface {
	Save(ctx context.Context, topic, id string, events []Event) error
	Load(ctx context.Context, topic, id string) ([]Event, error)
	RegisterEventsHandler(topic string, handler func(events []Event))
	ClearRegisteredHandlers(topic ...string)
	Close()
}
