package collection

import (
	"os"
	"path/filepath"

	"github.com/fulldump/segmentdb/index"
	"github.com/fulldump/segmentdb/locking"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/revision"
	"github.com/fulldump/segmentdb/statistics"
	"github.com/fulldump/segmentdb/transaction"
)

// Environment runs f with an empty directory that is removed afterwards.
func Environment(f func(dir string)) {
	dir, err := os.MkdirTemp("", "segmentdb-collection-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	f(dir)
}

func testConfig(name string) Config {
	return Config{
		Name:         name,
		JournalSize:  1024 * 1024,
		Clock:        revision.NewClock(1_000_000_000_000_000_000),
		Detector:     locking.NewDetector(),
		Registry:     index.DefaultRegistry(),
		Transactions: transaction.NewManager(transaction.Options{}),
		Logger:       logging.Discard,
	}
}

func mustCreate(dir string, config Config) *Collection {
	c, err := Create(filepath.Join(dir, config.Name), config)
	if err != nil {
		panic(err)
	}
	return c
}

// reopen closes c and opens it again with the same shared state.
func reopen(c *Collection) *Collection {
	err := c.Close()
	if err != nil {
		panic(err)
	}
	reopened, err := Open(c.dir, c.config)
	if err != nil {
		panic(err)
	}
	return reopened
}

// liveStats drops the containers of datafiles that hold nothing.
func liveStats(c *Collection) map[uint64]statistics.Container {
	result := map[uint64]statistics.Container{}
	for fid, container := range c.stats.Snapshot() {
		if container == (statistics.Container{}) {
			continue
		}
		result[fid] = container
	}
	return result
}

// primaryState returns key to revision for every live document.
func primaryState(c *Collection) map[string]revision.ID {
	result := map[string]revision.ID{}
	c.primary.Ascend("", func(key string, rev revision.ID) bool {
		result[key] = rev
		return true
	})
	return result
}
