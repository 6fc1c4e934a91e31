package badgerdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const contractStoreDir = "contracts"

type contractRepository struct {
	store *badgerhold.Store
}

func NewContractRepository(config ...interface{}) (domain.ContractRepository, error) {
	dir, logger, err := parseConfig(config, contractStoreDir)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open contract store: %s", err)
	}
	return &contractRepository{store}, nil
}

func (r *contractRepository) AddOrUpdateContract(
	ctx context.Context, contract domain.Contract,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpsert(tx, contract.Id, contract)
	}
	return r.store.Upsert(contract.Id, contract)
}

func (r *contractRepository) GetContract(
	ctx context.Context, id string,
) (*domain.Contract, error) {
	contracts, err := r.findContracts(ctx, badgerhold.Where("Id").Eq(id))
	if err != nil {
		return nil, err
	}
	if len(contracts) <= 0 {
		return nil, nil
	}
	return &contracts[0], nil
}

func (r *contractRepository) GetContracts(
	ctx context.Context, statuses ...domain.ContractStatus,
) ([]domain.Contract, error) {
	var query *badgerhold.Query
	if len(statuses) > 0 {
		values := make([]interface{}, 0, len(statuses))
		for _, s := range statuses {
			values = append(values, s)
		}
		query = badgerhold.Where("Status").In(values...)
	}
	return r.findContracts(ctx, query)
}

func (r *contractRepository) GetContractsByEvent(
	ctx context.Context, eventId string,
) ([]domain.Contract, error) {
	return r.findContracts(ctx, badgerhold.Where("Offer.EventId").Eq(eventId))
}

func (r *contractRepository) Close() {
	r.store.Close()
}

func (r *contractRepository) findContracts(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Contract, error) {
	var contracts []domain.Contract
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &contracts, query)
	} else {
		err = r.store.Find(&contracts, query)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(contracts, func(i, j int) bool {
		return contracts[i].CreatedAt < contracts[j].CreatedAt
	})
	return contracts, nil
}
