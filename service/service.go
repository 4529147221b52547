package service

import (
	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/database"
	"github.com/fulldump/segmentdb/transaction"
)

// Service exposes a database to the admin API.
type Service struct {
	db *database.Database
}

func NewService(db *database.Database) *Service {
	return &Service{
		db: db,
	}
}

func (s *Service) CreateCollection(name string, options database.CollectionOptions) (*collection.Collection, error) {
	return s.db.CreateCollection(name, options)
}

func (s *Service) GetCollection(name string) (*collection.Collection, error) {
	return s.db.GetCollection(name)
}

func (s *Service) ListCollections() []*collection.Collection {
	return s.db.ListCollections()
}

func (s *Service) DeleteCollection(name string) error {
	return s.db.DropCollection(name)
}

func (s *Service) Begin(options transaction.Options) *transaction.Transaction {
	return s.db.Begin(options)
}

func (s *Service) Status() string {
	return s.db.GetStatus()
}
