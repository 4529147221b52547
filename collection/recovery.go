package collection

import (
	"fmt"

	"github.com/fulldump/segmentdb/datafile"
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/document"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/marker"
	"github.com/fulldump/segmentdb/revision"
)

// RecoveryResult summarizes the replay done when the collection was opened.
type RecoveryResult struct {
	Datafiles         int      `json:"datafiles"`
	Documents         int64    `json:"documents"`
	Removes           int64    `json:"removes"`
	SpuriousDeletions int64    `json:"spurious_deletions"`
	MaxTick           uint64   `json:"max_tick"`
	TruncatedTail     bool     `json:"truncated_tail"`
	DiscardedBytes    int64    `json:"discarded_bytes"`
	RemovedFiles      []string `json:"removed_files,omitempty"`
}

// recover rebuilds the primary index, the revision cache and the statistics
// from the markers of every datafile and the journal, in creation order.
func (c *Collection) recover() (RecoveryResult, error) {
	result := RecoveryResult{}

	c.primary.Clear()
	c.revisions.Clear()
	c.stats.Replace(nil)

	seen := uint64(0)
	for _, d := range c.journal.Files() {
		result.Datafiles++
		if d.ID > seen {
			seen = d.ID
		}

		err := d.Iterate(func(e datafile.Entry) error {
			if e.Tick > seen {
				seen = e.Tick
			}
			switch e.Type {
			case marker.TypeDocument:
				if e.Tick > result.MaxTick {
					result.MaxTick = e.Tick
				}
				result.Documents++
				return c.replayDocument(d.ID, e)
			case marker.TypeRemove:
				if e.Tick > result.MaxTick {
					result.MaxTick = e.Tick
				}
				result.Removes++
				if !c.replayRemove(e) {
					result.SpuriousDeletions++
				}
			}
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("replay datafile %d: %w", d.ID, err)
		}
	}

	c.clock.Update(seen)

	if result.SpuriousDeletions > 0 {
		c.logger.Infof(logging.NSRecovery+"'%s': %d removes of unknown keys", c.Name, result.SpuriousDeletions)
	}
	c.logger.Debugf(logging.NSRecovery+"'%s': %d documents, %d removes in %d files", c.Name, result.Documents, result.Removes, result.Datafiles)
	return result, nil
}

func (c *Collection) replayDocument(fid uint64, e datafile.Entry) error {
	key, err := document.Key(e.Payload)
	if err == nil && key == "" {
		err = dberr.New(dberr.KindDocumentKeyBad, "missing _key")
	}
	if err != nil {
		return dberr.Wrap(dberr.KindCorruptDatafile, err, "document marker at %d", e.Offset)
	}
	rev, err := document.Rev(e.Payload)
	if err != nil {
		return dberr.Wrap(dberr.KindCorruptDatafile, err, "document marker at %d", e.Offset)
	}
	c.clock.Update(uint64(rev))

	position := revision.Position{Fid: fid, Offset: e.Offset, Size: e.Size}

	oldRev, exists := c.primary.Lookup(key)
	if !exists {
		c.primary.Insert(key, rev)
		c.revisions.Insert(rev, e.Payload, position)
		c.stats.IncreaseAlive(fid, 1, e.Size)
		return nil
	}

	// a newer revision of a known key
	if old, found := c.revisions.Remove(oldRev); found {
		c.stats.IncreaseDead(old.Fid, 1, old.Size)
	}
	c.primary.Update(key, rev)
	c.revisions.Insert(rev, e.Payload, position)
	c.stats.IncreaseAlive(fid, 1, e.Size)
	return nil
}

// replayRemove reports false for a remove of a key that is not alive.
func (c *Collection) replayRemove(e datafile.Entry) bool {
	key, err := document.Key(e.Payload)
	if err != nil || key == "" {
		return false
	}

	oldRev, exists := c.primary.Remove(key)
	if !exists {
		return false
	}
	if old, found := c.revisions.Remove(oldRev); found {
		c.stats.IncreaseDead(old.Fid, 1, old.Size)
		c.stats.IncreaseDeletions(old.Fid, 1)
	}
	return true
}
