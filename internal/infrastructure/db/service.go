package db

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	badgerdb "github.com/ark-network/dlc/internal/infrastructure/db/badger"
	sqlitedb "github.com/ark-network/dlc/internal/infrastructure/db/sqlite"
	log "github.com/sirupsen/logrus"
)

var (
	eventStoreTypes = map[string]func(...interface{}) (domain.EventRepository, error){
		"badger": badgerdb.NewEventRepository,
		"sqlite": sqlitedb.NewEventRepository,
	}
	contractStoreTypes = map[string]func(...interface{}) (domain.ContractRepository, error){
		"badger": badgerdb.NewContractRepository,
		"sqlite": sqlitedb.NewContractRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	EventStoreType string
	DataStoreType  string

	EventStoreConfig []interface{}
	DataStoreConfig  []interface{}
}

type service struct {
	eventStore    domain.EventRepository
	contractStore domain.ContractRepository
	// sqlite handles are shared by the stores and closed after them
	sqliteDbs map[string]*sql.DB
}

// NewService opens the configured stores. The config of a sqlite store is
// its base directory, the one of a badger store is its base directory and
// an optional badger.Logger; an empty badger directory means in-memory.
func NewService(config ServiceConfig) (ports.RepoManager, error) {
	eventStoreFactory, ok := eventStoreTypes[config.EventStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid event store type: %s", config.EventStoreType)
	}
	contractStoreFactory, ok := contractStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	// both stores share the same sqlite db when they live in the same dir
	sqliteDbs := make(map[string]*sql.DB)

	eventStoreConfig := config.EventStoreConfig
	if config.EventStoreType == "sqlite" {
		db, err := openSqlite(config.EventStoreConfig, sqliteDbs)
		if err != nil {
			closeSqlite(sqliteDbs)
			return nil, err
		}
		eventStoreConfig = []interface{}{db}
	}
	eventStore, err := eventStoreFactory(eventStoreConfig...)
	if err != nil {
		closeSqlite(sqliteDbs)
		return nil, fmt.Errorf("failed to create event store: %w", err)
	}

	dataStoreConfig := config.DataStoreConfig
	if config.DataStoreType == "sqlite" {
		db, err := openSqlite(config.DataStoreConfig, sqliteDbs)
		if err != nil {
			eventStore.Close()
			closeSqlite(sqliteDbs)
			return nil, err
		}
		dataStoreConfig = []interface{}{db}
	}
	contractStore, err := contractStoreFactory(dataStoreConfig...)
	if err != nil {
		eventStore.Close()
		closeSqlite(sqliteDbs)
		return nil, fmt.Errorf("failed to create contract store: %w", err)
	}

	return &service{
		eventStore:    eventStore,
		contractStore: contractStore,
		sqliteDbs:     sqliteDbs,
	}, nil
}

func (s *service) Events() domain.EventRepository {
	return s.eventStore
}

func (s *service) Contracts() domain.ContractRepository {
	return s.contractStore
}

func (s *service) Close() {
	s.eventStore.Close()
	s.contractStore.Close()
	closeSqlite(s.sqliteDbs)
}

func closeSqlite(dbs map[string]*sql.DB) {
	for dir, db := range dbs {
		if err := db.Close(); err != nil {
			log.WithError(err).Debugf("failed to close sqlite db in %s", dir)
		}
		delete(dbs, dir)
	}
}

func openSqlite(config []interface{}, opened map[string]*sql.DB) (*sql.DB, error) {
	if len(config) < 1 {
		return nil, fmt.Errorf("invalid sqlite config")
	}
	baseDir, ok := config[0].(string)
	if !ok || len(baseDir) <= 0 {
		return nil, fmt.Errorf("invalid sqlite base directory")
	}

	if db, ok := opened[baseDir]; ok {
		return db, nil
	}

	db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.MigrateUp(db); err != nil {
		// nolint
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	opened[baseDir] = db
	return db, nil
}
