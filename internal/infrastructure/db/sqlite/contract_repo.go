package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ark-network/dlc/internal/core/domain"
)

const (
	upsertContract = `
INSERT INTO contract (
    id, status, role, event_id, oracle_endpoint, created_at, updated_at, version, data
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at,
    version = EXCLUDED.version,
    data = EXCLUDED.data`
	selectContract         = `SELECT data FROM contract WHERE id = ?`
	selectContracts        = `SELECT data FROM contract ORDER BY created_at, id`
	selectContractsByEvent = `SELECT data FROM contract WHERE event_id = ? ORDER BY created_at, id`
)

type contractRepository struct {
	db *sql.DB
}

func NewContractRepository(config ...interface{}) (domain.ContractRepository, error) {
	db, err := parseConfig(config)
	if err != nil {
		return nil, fmt.Errorf("cannot open contract repository: %s", err)
	}
	return &contractRepository{db}, nil
}

func (r *contractRepository) AddOrUpdateContract(
	ctx context.Context, contract domain.Contract,
) error {
	data, err := json.Marshal(contract)
	if err != nil {
		return fmt.Errorf("failed to serialize contract: %w", err)
	}
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx, upsertContract,
			contract.Id, int64(contract.Status), int64(contract.Role),
			contract.Offer.EventId, contract.Offer.OracleEndpoint,
			contract.CreatedAt, contract.UpdatedAt, int64(contract.Version), data,
		); err != nil {
			return fmt.Errorf("failed to upsert contract: %w", err)
		}
		return nil
	})
}

func (r *contractRepository) GetContract(
	ctx context.Context, id string,
) (*domain.Contract, error) {
	contracts, err := r.query(ctx, selectContract, id)
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
	if len(statuses) <= 0 {
		return r.query(ctx, selectContracts)
	}

	placeholders := make([]string, 0, len(statuses))
	args := make([]interface{}, 0, len(statuses))
	for _, s := range statuses {
		placeholders = append(placeholders, "?")
		args = append(args, int64(s))
	}
	query := fmt.Sprintf(
		"SELECT data FROM contract WHERE status IN (%s) ORDER BY created_at, id",
		strings.Join(placeholders, ", "),
	)
	return r.query(ctx, query, args...)
}

func (r *contractRepository) GetContractsByEvent(
	ctx context.Context, eventId string,
) ([]domain.Contract, error) {
	return r.query(ctx, selectContractsByEvent, eventId)
}

// Close is a no-op, the db handle is owned by whoever opened it.
func (r *contractRepository) Close() {}

func (r *contractRepository) query(
	ctx context.Context, query string, args ...interface{},
) ([]domain.Contract, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contracts := make([]domain.Contract, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var contract domain.Contract
		if err := json.Unmarshal(data, &contract); err != nil {
			return nil, fmt.Errorf("failed to deserialize contract: %w", err)
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}
