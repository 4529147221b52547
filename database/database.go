package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/index"
	"github.com/fulldump/segmentdb/locking"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/revision"
	"github.com/fulldump/segmentdb/transaction"
)

const (
	StatusOpening   = "opening"
	StatusOperating = "operating"
	StatusClosing   = "closing"
)

const collectionPrefix = "collection-"

var collectionName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

type Config struct {
	Dir string
	ID  uint64

	JournalSize       int64
	WaitForSync       bool
	SyncInterval      time.Duration
	Compression       string
	KeyGenerator      string
	LockTimeout       time.Duration
	DeadlockDetection bool

	CompactionInterval  time.Duration
	CompactionDeadRatio float64
	CompactionMinDead   int64

	// Registry resolves index types. Nil means the built-in ones.
	Registry *index.Registry
	Logger   logging.Logger
}

// CollectionOptions overrides the database defaults for a new collection.
type CollectionOptions struct {
	JournalSize  int64  `json:"journal_size,omitempty"`
	WaitForSync  *bool  `json:"wait_for_sync,omitempty"`
	Compression  string `json:"compression,omitempty"`
	KeyGenerator string `json:"key_generator,omitempty"`
}

type Database struct {
	Config *Config

	logger       logging.Logger
	clock        *revision.Clock
	detector     *locking.Detector
	registry     *index.Registry
	transactions *transaction.Manager

	mutex       sync.RWMutex
	status      string
	collections map[string]*collection.Collection
	failed      map[string]error

	exit     chan struct{}
	stopOnce sync.Once
}

func NewDatabase(config *Config) *Database {
	registry := config.Registry
	if registry == nil {
		registry = index.DefaultRegistry()
	}

	return &Database{
		Config:   config,
		logger:   logging.OrDefault(config.Logger),
		clock:    revision.NewClock(uint64(time.Now().UnixNano())),
		detector: locking.NewDetector(),
		registry: registry,
		transactions: transaction.NewManager(transaction.Options{
			LockTimeout:       config.LockTimeout,
			DeadlockDetection: config.DeadlockDetection,
		}),
		status:      StatusOpening,
		collections: map[string]*collection.Collection{},
		failed:      map[string]error{},
		exit:        make(chan struct{}),
	}
}

func (db *Database) GetStatus() string {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.status
}

func (db *Database) setStatus(status string) {
	db.mutex.Lock()
	db.status = status
	db.mutex.Unlock()
}

func (db *Database) collectionConfig(name string) collection.Config {
	return collection.Config{
		Name:                name,
		DatabaseID:          db.Config.ID,
		JournalSize:         db.Config.JournalSize,
		WaitForSync:         db.Config.WaitForSync,
		Compression:         db.Config.Compression,
		KeyGenerator:        db.Config.KeyGenerator,
		LockTimeout:         db.Config.LockTimeout,
		SyncInterval:        db.Config.SyncInterval,
		CompactionDeadRatio: db.Config.CompactionDeadRatio,
		CompactionMinDead:   db.Config.CompactionMinDead,
		Clock:               db.clock,
		Detector:            db.detector,
		Registry:            db.registry,
		Transactions:        db.transactions,
		Logger:              db.logger,
	}
}

func (db *Database) collectionDir(name string) string {
	return filepath.Join(db.Config.Dir, collectionPrefix+name)
}

func (db *Database) CreateCollection(name string, options CollectionOptions) (*collection.Collection, error) {
	if !collectionName.MatchString(name) {
		return nil, dberr.New(dberr.KindBadParameter, "collection name '%s'", name)
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if _, exists := db.collections[name]; exists {
		return nil, dberr.New(dberr.KindCollectionExists, "collection '%s'", name)
	}

	config := db.collectionConfig(name)
	if options.JournalSize > 0 {
		config.JournalSize = options.JournalSize
	}
	if options.WaitForSync != nil {
		config.WaitForSync = *options.WaitForSync
	}
	if options.Compression != "" {
		config.Compression = options.Compression
	}
	if options.KeyGenerator != "" {
		config.KeyGenerator = options.KeyGenerator
	}

	col, err := collection.Create(db.collectionDir(name), config)
	if err != nil {
		return nil, err
	}

	db.collections[name] = col
	delete(db.failed, name)
	db.logger.Infof(logging.NSDB+"created collection '%s'", name)

	return col, nil
}

func (db *Database) GetCollection(name string) (*collection.Collection, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	col, exists := db.collections[name]
	if !exists {
		if err, failed := db.failed[name]; failed {
			return nil, dberr.Wrap(dberr.KindCollectionClosed, err, "collection '%s' failed to load", name)
		}
		return nil, dberr.New(dberr.KindCollectionNotFound, "collection '%s'", name)
	}
	return col, nil
}

// ListCollections returns the loaded collections sorted by name.
func (db *Database) ListCollections() []*collection.Collection {
	db.mutex.RLock()
	result := make([]*collection.Collection, 0, len(db.collections))
	for _, col := range db.collections {
		result = append(result, col)
	}
	db.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Failed returns the collections that could not be loaded and why.
func (db *Database) Failed() map[string]error {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	result := make(map[string]error, len(db.failed))
	for name, err := range db.failed {
		result[name] = err
	}
	return result
}

func (db *Database) DropCollection(name string) error {
	db.mutex.Lock()
	col, exists := db.collections[name]
	if !exists {
		db.mutex.Unlock()
		return dberr.New(dberr.KindCollectionNotFound, "collection '%s'", name)
	}
	delete(db.collections, name)
	db.mutex.Unlock()

	err := col.Drop()
	if err != nil {
		return fmt.Errorf("drop collection '%s': %w", name, err)
	}
	db.logger.Infof(logging.NSDB+"dropped collection '%s'", name)
	return nil
}

// Begin starts a transaction that may span several collections.
func (db *Database) Begin(options transaction.Options) *transaction.Transaction {
	return db.transactions.Begin(options)
}

// Load opens every collection directory. Collections that fail to open are
// kept aside and reported by Failed.
func (db *Database) Load() error {

	db.logger.Infof(logging.NSDB+"loading database %s", db.Config.Dir)
	err := os.MkdirAll(db.Config.Dir, 0755)
	if err != nil {
		db.setStatus(StatusClosing)
		return fmt.Errorf("create data dir: %w", err)
	}

	entries, err := os.ReadDir(db.Config.Dir)
	if err != nil {
		db.setStatus(StatusClosing)
		return fmt.Errorf("read data dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), collectionPrefix) {
			continue
		}
		name := strings.TrimPrefix(entry.Name(), collectionPrefix)
		dir := filepath.Join(db.Config.Dir, entry.Name())

		t0 := time.Now()
		col, err := collection.Open(dir, db.collectionConfig(name))
		if errors.Is(err, dberr.ErrCollectionNotFound) {
			db.logger.Warnf(logging.NSDB+"removing leftovers of dropped collection '%s'", name)
			os.RemoveAll(dir)
			continue
		}
		if err != nil {
			db.logger.Errorf(logging.NSDB+"open collection '%s': %s", name, err)
			db.mutex.Lock()
			db.failed[name] = err
			db.mutex.Unlock()
			continue
		}
		db.logger.Infof(logging.NSDB+"collection '%s': %d documents in %s", name, col.Count(), time.Since(t0))

		db.mutex.Lock()
		db.collections[name] = col
		db.mutex.Unlock()
	}

	db.setStatus(StatusOperating)
	return nil
}

// Compact runs one compaction pass over every collection. Datafiles that
// readers keep in place wait for the next pass.
func (db *Database) Compact() {
	for _, col := range db.ListCollections() {
		result, err := col.TryCompact()
		if err != nil {
			db.logger.Errorf(logging.NSCompact+"collection '%s': %s", col.Name, err)
			continue
		}
		if len(result.Datafiles) > 0 {
			db.logger.Debugf(logging.NSCompact+"collection '%s': %d datafiles in %s", col.Name, len(result.Datafiles), result.Duration)
		}
		if len(result.Skipped) > 0 {
			db.logger.Debugf(logging.NSCompact+"collection '%s': %d datafiles busy, skipped", col.Name, len(result.Skipped))
		}
	}
}

func (db *Database) compactionLoop() {
	ticker := time.NewTicker(db.Config.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if db.GetStatus() == StatusOperating {
				db.Compact()
			}
		case <-db.exit:
			return
		}
	}
}

// Start loads the database and blocks until Stop is called.
func (db *Database) Start() error {

	go func() {
		err := db.Load()
		if err != nil {
			db.logger.Errorf(logging.NSDB+"load: %s", err)
		}
	}()

	if db.Config.CompactionInterval > 0 {
		go db.compactionLoop()
	}

	<-db.exit

	return nil
}

func (db *Database) Stop() error {

	db.setStatus(StatusClosing)

	var lastErr error
	db.stopOnce.Do(func() {
		defer close(db.exit)

		db.mutex.Lock()
		collections := db.collections
		db.collections = map[string]*collection.Collection{}
		db.mutex.Unlock()

		for name, col := range collections {
			db.logger.Infof(logging.NSDB+"closing '%s'", name)
			err := col.Close()
			if err != nil {
				db.logger.Errorf(logging.NSDB+"close '%s': %s", name, err)
				lastErr = err
			}
		}
	})

	return lastErr
}
