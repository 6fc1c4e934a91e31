package ports

import "github.com/ark-network/dlc/internal/core/domain"

type RepoManager interface {
	Events() domain.EventRepository
	Contracts() domain.ContractRepository
	Close()
}
