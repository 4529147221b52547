// Package collection is the document engine of one collection: the
// operations, their rollback, recovery on open and compaction of sealed
// datafiles.
package collection

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fulldump/segmentdb/datafile"
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/document"
	"github.com/fulldump/segmentdb/index"
	"github.com/fulldump/segmentdb/journal"
	"github.com/fulldump/segmentdb/locking"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/marker"
	"github.com/fulldump/segmentdb/revision"
	"github.com/fulldump/segmentdb/statistics"
	"github.com/fulldump/segmentdb/transaction"
)

type Status int32

const (
	StatusLoading Status = iota
	StatusAvailable
	StatusUnavailable
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Config carries what a collection shares with the rest of the database and
// the defaults used when the collection is created.
type Config struct {
	Name         string
	DatabaseID   uint64
	JournalSize  int64
	WaitForSync  bool
	Compression  string
	KeyGenerator string
	LockTimeout  time.Duration

	// SyncInterval flushes the journal in the background. Zero disables it.
	SyncInterval time.Duration

	CompactionDeadRatio float64
	CompactionMinDead   int64

	Clock        *revision.Clock
	Detector     *locking.Detector
	Registry     *index.Registry
	Transactions *transaction.Manager
	Logger       logging.Logger
}

func (config *Config) setDefaults() {
	if config.Clock == nil {
		config.Clock = revision.NewClock(uint64(time.Now().UnixNano()))
	}
	if config.Detector == nil {
		config.Detector = locking.NewDetector()
	}
	if config.Registry == nil {
		config.Registry = index.DefaultRegistry()
	}
	if config.Transactions == nil {
		config.Transactions = transaction.NewManager(transaction.Options{LockTimeout: config.LockTimeout})
	}
	if config.JournalSize <= 0 {
		config.JournalSize = journal.DefaultJournalSize
	}
	if config.CompactionDeadRatio <= 0 {
		config.CompactionDeadRatio = 0.1
	}
	if config.CompactionMinDead <= 0 {
		config.CompactionMinDead = 1
	}
	config.Logger = logging.OrDefault(config.Logger)
}

type Collection struct {
	Name string
	ID   uint64

	dir        string
	config     Config
	parameters *Parameters
	logger     logging.Logger
	status     atomic.Int32

	journal     *journal.Manager
	clock       *revision.Clock
	revisions   *revision.Cache
	stats       *statistics.Statistics
	primary     *index.Primary
	keys        document.KeyGenerator
	compression marker.Compression

	indexesMutex sync.RWMutex
	indexes      []index.Index

	lock *locking.Lock

	pendingMutex sync.Mutex
	pending      map[locking.TrxID]*pendingState

	// compactionLock is held shared by readers of datafile positions and
	// exclusively while a compactor replaces a datafile.
	compactionLock sync.RWMutex

	lastMutex      sync.Mutex
	recovery       RecoveryResult
	lastCompaction *CompactionResult

	stopSyncer chan struct{}
}

// Create makes the collection directory with its parameter file and opens it.
func Create(dir string, config Config) (*Collection, error) {
	config.setDefaults()

	if config.Name == "" {
		return nil, dberr.New(dberr.KindBadParameter, "collection name is mandatory")
	}
	if _, err := marker.ParseCompression(config.Compression); err != nil {
		return nil, dberr.Wrap(dberr.KindBadParameter, err, "compression")
	}
	if _, err := document.NewKeyGenerator(config.KeyGenerator, config.Clock); err != nil {
		return nil, err
	}

	err := os.Mkdir(dir, 0755)
	if os.IsExist(err) {
		return nil, dberr.New(dberr.KindCollectionExists, "collection '%s'", config.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}

	p := &Parameters{
		ID:               config.Clock.Next(),
		GloballyUniqueID: uuid.NewString(),
		Name:             config.Name,
		JournalSize:      config.JournalSize,
		WaitForSync:      config.WaitForSync,
		Compression:      config.Compression,
		KeyGenerator:     config.KeyGenerator,
		Indexes:          []index.Definition{},
	}
	err = writeParameters(dir, p)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return Open(dir, config)
}

// Open loads an existing collection: parameters, datafiles, recovery and
// secondary indexes. A collection that fails to load is not returned.
func Open(dir string, config Config) (*Collection, error) {
	config.setDefaults()

	p, err := readParameters(dir)
	if err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, dberr.New(dberr.KindCollectionNotFound, "collection '%s' is deleted", p.Name)
	}

	compression, err := marker.ParseCompression(p.Compression)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindBadParameter, err, "collection '%s' compression", p.Name)
	}
	keys, err := document.NewKeyGenerator(p.KeyGenerator, config.Clock)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		Name:        p.Name,
		ID:          p.ID,
		dir:         dir,
		config:      config,
		parameters:  p,
		logger:      config.Logger,
		clock:       config.Clock,
		revisions:   revision.NewCache(),
		stats:       statistics.New(),
		primary:     index.NewPrimary(),
		keys:        keys,
		compression: compression,
		lock:        locking.NewLock(p.ID, config.Detector),
		pending:     map[locking.TrxID]*pendingState{},
	}
	c.status.Store(int32(StatusLoading))

	c.journal = journal.New(journal.Config{
		Dir:         dir,
		JournalSize: p.JournalSize,
		Prologue:    marker.ProloguePayload{DatabaseID: config.DatabaseID, CollectionID: p.ID},
		Clock:       config.Clock,
		Logger:      config.Logger,
	})

	loaded, err := c.journal.Load()
	if err != nil {
		c.status.Store(int32(StatusUnavailable))
		return nil, fmt.Errorf("collection '%s': %w", p.Name, err)
	}

	recovery, err := c.recover()
	if err != nil {
		c.status.Store(int32(StatusUnavailable))
		c.journal.Close()
		return nil, fmt.Errorf("collection '%s': %w", p.Name, err)
	}
	recovery.TruncatedTail = loaded.TruncatedTail
	recovery.DiscardedBytes = loaded.DiscardedBytes
	recovery.RemovedFiles = loaded.RemovedFiles
	c.recovery = recovery

	err = c.loadIndexes()
	if err != nil {
		c.status.Store(int32(StatusUnavailable))
		c.journal.Close()
		return nil, fmt.Errorf("collection '%s': %w", p.Name, err)
	}

	if config.SyncInterval > 0 {
		c.stopSyncer = journal.StartSyncer(c.journal, config.SyncInterval)
	}

	c.status.Store(int32(StatusAvailable))
	c.logger.Infof(logging.NSCollection+"opened '%s': %d documents, %d datafiles, max tick %d", c.Name, c.primary.Len(), loaded.Datafiles, recovery.MaxTick)
	return c, nil
}

func (c *Collection) Status() Status {
	return Status(c.status.Load())
}

func (c *Collection) checkAvailable() error {
	status := c.Status()
	if status != StatusAvailable {
		return dberr.New(dberr.KindCollectionClosed, "collection '%s' is %s", c.Name, status)
	}
	return nil
}

func (c *Collection) Parameters() Parameters {
	c.indexesMutex.RLock()
	defer c.indexesMutex.RUnlock()

	p := *c.parameters
	p.Indexes = append([]index.Definition(nil), c.parameters.Indexes...)
	return p
}

// Close waits for running writers, syncs the journal and closes every file.
func (c *Collection) Close() error {
	if !c.status.CompareAndSwap(int32(StatusAvailable), int32(StatusClosed)) {
		return dberr.New(dberr.KindCollectionClosed, "collection '%s' is %s", c.Name, c.Status())
	}

	trx := c.config.Transactions.Begin(transaction.Options{SingleOperation: true, LockTimeout: c.config.LockTimeout})
	err := c.lockFor(trx, true)
	if err != nil {
		trx.Abort()
		return fmt.Errorf("close '%s': %w", c.Name, err)
	}
	defer trx.Commit()

	if c.stopSyncer != nil {
		close(c.stopSyncer)
	}
	return c.journal.Close()
}

// Drop closes the collection and removes its directory.
func (c *Collection) Drop() error {
	err := c.Close()
	if err != nil {
		return err
	}

	c.parameters.Deleted = true
	err = writeParameters(c.dir, c.parameters)
	if err != nil {
		return err
	}

	err = os.RemoveAll(c.dir)
	if err != nil {
		return fmt.Errorf("remove collection dir: %w", err)
	}
	return nil
}

// Sync flushes the journal.
func (c *Collection) Sync() error {
	return c.journal.Sync()
}

// RotateJournal seals the active journal.
func (c *Collection) RotateJournal() error {
	err := c.checkAvailable()
	if err != nil {
		return err
	}

	trx := c.config.Transactions.Begin(transaction.Options{SingleOperation: true, LockTimeout: c.config.LockTimeout})
	err = c.lockFor(trx, true)
	if err != nil {
		trx.Abort()
		return err
	}
	defer trx.Commit()

	return c.journal.RotateActiveJournal()
}

// Count returns the number of live documents.
func (c *Collection) Count() int {
	return c.primary.Len()
}

// Memory estimates the bytes held in memory by the collection.
func (c *Collection) Memory() int64 {
	total := c.revisions.Memory() + c.primary.Memory()

	c.indexesMutex.RLock()
	defer c.indexesMutex.RUnlock()
	for _, idx := range c.indexes {
		total += idx.Memory()
	}
	return total
}

type IndexFigures struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Unique  bool        `json:"unique"`
	Options interface{} `json:"options"`
	Entries int         `json:"entries"`
	Memory  int64       `json:"memory"`
}

type Figures struct {
	Documents       int                  `json:"documents"`
	Statistics      statistics.Container `json:"statistics"`
	Datafiles       []datafile.Info      `json:"datafiles"`
	Journal         *datafile.Info       `json:"journal,omitempty"`
	Compactor       *datafile.Info       `json:"compactor,omitempty"`
	Revisions       int                  `json:"revisions"`
	RevisionsMemory int64                `json:"revisions_memory"`
	PrimaryMemory   int64                `json:"primary_memory"`
	Indexes         []IndexFigures       `json:"indexes"`
	Recovery        RecoveryResult       `json:"recovery"`
	LastCompaction  *CompactionResult    `json:"last_compaction,omitempty"`
}

func (c *Collection) Figures() Figures {
	f := Figures{
		Documents:       c.primary.Len(),
		Statistics:      c.stats.All(),
		Datafiles:       []datafile.Info{},
		Revisions:       c.revisions.Len(),
		RevisionsMemory: c.revisions.Memory(),
		PrimaryMemory:   c.primary.Memory(),
		Indexes:         []IndexFigures{},
	}

	for _, d := range c.journal.Datafiles() {
		f.Datafiles = append(f.Datafiles, d.Info())
	}
	if j := c.journal.Journal(); j != nil {
		info := j.Info()
		f.Journal = &info
	}
	if compactor := c.journal.Compactor(); compactor != nil {
		info := compactor.Info()
		f.Compactor = &info
	}

	for _, idx := range c.Indexes() {
		f.Indexes = append(f.Indexes, IndexFigures{
			Name:    idx.Name(),
			Type:    idx.Type(),
			Unique:  idx.Unique(),
			Options: idx.Options(),
			Entries: idx.Len(),
			Memory:  idx.Memory(),
		})
	}

	c.lastMutex.Lock()
	f.Recovery = c.recovery
	if c.lastCompaction != nil {
		last := *c.lastCompaction
		f.LastCompaction = &last
	}
	c.lastMutex.Unlock()

	return f
}

// PreventCompaction keeps datafiles in place until AllowCompaction is called.
func (c *Collection) PreventCompaction() {
	c.compactionLock.RLock()
}

// TryPreventCompaction is PreventCompaction without waiting for a running
// compaction. AllowCompaction must follow only when it returns true.
func (c *Collection) TryPreventCompaction() bool {
	return c.compactionLock.TryRLock()
}

func (c *Collection) AllowCompaction() {
	c.compactionLock.RUnlock()
}
