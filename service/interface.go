package service

import (
	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/database"
	"github.com/fulldump/segmentdb/transaction"
)

type Servicer interface {
	CreateCollection(name string, options database.CollectionOptions) (*collection.Collection, error)
	GetCollection(name string) (*collection.Collection, error)
	ListCollections() []*collection.Collection
	DeleteCollection(name string) error
	Begin(options transaction.Options) *transaction.Transaction
	Status() string
}
