package collection

import (
	"fmt"
	"time"

	"github.com/fulldump/segmentdb/datafile"
	"github.com/fulldump/segmentdb/document"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/marker"
	"github.com/fulldump/segmentdb/revision"
	"github.com/fulldump/segmentdb/statistics"
	"github.com/fulldump/segmentdb/transaction"
)

// CompactionResult describes one compaction run. A run that found nothing
// to do has no datafiles.
type CompactionResult struct {
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	Datafiles   []uint64      `json:"datafiles"`
	Removed     []uint64      `json:"removed"`
	Skipped     []uint64      `json:"skipped"`
	Documents   int64         `json:"documents"`
	Removes     int64         `json:"removes"`
	BytesBefore int64         `json:"bytes_before"`
	BytesAfter  int64         `json:"bytes_after"`
	Error       string        `json:"error,omitempty"`
}

// Compact rewrites every sealed datafile worth compacting without its dead
// revisions. It holds the collection write lock while it runs and returns
// a nil error on success.
func (c *Collection) Compact() (CompactionResult, error) {
	return c.runCompaction(false)
}

// TryCompact is Compact for background passes: datafiles kept in place by
// PreventCompaction are skipped instead of waited for.
func (c *Collection) TryCompact() (CompactionResult, error) {
	return c.runCompaction(true)
}

func (c *Collection) runCompaction(try bool) (CompactionResult, error) {
	result := CompactionResult{Start: time.Now(), Datafiles: []uint64{}, Removed: []uint64{}, Skipped: []uint64{}}

	err := c.checkAvailable()
	if err != nil {
		return result, err
	}

	trx := c.config.Transactions.Begin(transaction.Options{SingleOperation: true, LockTimeout: c.config.LockTimeout})
	err = c.lockFor(trx, true)
	if err != nil {
		trx.Abort()
		return result, err
	}
	defer trx.Commit()

	err = c.compact(&result, try)
	result.Duration = time.Since(result.Start)
	if err != nil {
		result.Error = err.Error()
		c.logger.Errorf(logging.NSCompact+"'%s': %s", c.Name, err)
	}

	c.lastMutex.Lock()
	c.lastCompaction = &result
	c.lastMutex.Unlock()

	return result, err
}

func (c *Collection) compact(result *CompactionResult, try bool) error {
	datafiles := c.journal.Datafiles()
	if len(datafiles) == 0 {
		return nil
	}
	oldest := datafiles[0].ID

	sealed := make([]uint64, 0, len(datafiles))
	for _, d := range datafiles {
		sealed = append(sealed, d.ID)
	}
	candidates := c.stats.CompactionCandidates(sealed, c.config.CompactionDeadRatio, c.config.CompactionMinDead)

	for _, fid := range candidates {
		d, exists := c.journal.Datafile(fid)
		if !exists {
			continue
		}
		if try {
			if !c.compactionLock.TryLock() {
				result.Skipped = append(result.Skipped, fid)
				continue
			}
		}
		result.Datafiles = append(result.Datafiles, fid)
		result.BytesBefore += d.Size()

		err := c.compactDatafile(d, fid == oldest, !try, result)
		if try {
			c.compactionLock.Unlock()
		}
		if err != nil {
			return fmt.Errorf("compact datafile %d: %w", fid, err)
		}
	}

	if len(result.Datafiles) > 0 {
		c.logger.Infof(logging.NSCompact+"'%s': compacted %d datafiles, %d -> %d bytes", c.Name, len(result.Datafiles), result.BytesBefore, result.BytesAfter)
	}
	return nil
}

type compactionMove struct {
	rev  revision.ID
	from revision.Position
	to   revision.Position
}

// compactDatafile copies the live document markers of d, and its remove
// markers unless d is the oldest datafile, into a compactor that then takes
// the place of d. With lockSwap unset the caller already holds the
// compaction lock.
func (c *Collection) compactDatafile(d *datafile.Datafile, oldest, lockSwap bool, result *CompactionResult) error {

	type kept struct {
		entry datafile.Entry
		rev   revision.ID
		from  revision.Position
		buf   []byte
	}

	keep := []kept{}
	total := int64(0)

	err := d.Iterate(func(e datafile.Entry) error {
		switch e.Type {
		case marker.TypeDocument:
			key, err := document.Key(e.Payload)
			if err != nil {
				return err
			}
			rev, err := document.Rev(e.Payload)
			if err != nil {
				return err
			}
			current, exists := c.primary.Lookup(key)
			if !exists || current != rev {
				return nil
			}
			cached, exists := c.revisions.Lookup(rev)
			if !exists || cached.Fid != d.ID || cached.Offset != e.Offset {
				return nil
			}
			buf, err := marker.Encode(e.Marker, c.compression)
			if err != nil {
				return err
			}
			keep = append(keep, kept{entry: e, rev: rev, from: cached.Position, buf: buf})
			total += int64(len(buf))
		case marker.TypeRemove:
			if oldest {
				return nil
			}
			buf, err := marker.Encode(e.Marker, marker.CompressionNone)
			if err != nil {
				return err
			}
			keep = append(keep, kept{entry: e, buf: buf})
			total += int64(len(buf))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(keep) == 0 {
		if lockSwap {
			c.compactionLock.Lock()
			defer c.compactionLock.Unlock()
		}

		err = c.journal.RemoveDatafile(d.ID)
		if err != nil {
			return err
		}
		c.stats.Remove(d.ID)
		result.Removed = append(result.Removed, d.ID)
		return nil
	}

	compactor, err := c.journal.CreateCompactor(d, total+marker.FooterSize)
	if err != nil {
		return err
	}

	moves := []compactionMove{}
	alive := statistics.Container{}
	for _, k := range keep {
		offset, err := compactor.Reserve(int64(len(k.buf)))
		if err == nil {
			err = compactor.WriteMarker(offset, k.buf, k.entry.Tick, k.entry.Type)
		}
		if err != nil {
			c.journal.CloseCompactor()
			return err
		}

		if k.entry.Type == marker.TypeRemove {
			result.Removes++
			continue
		}
		size := marker.Align(int64(len(k.buf)))
		moves = append(moves, compactionMove{
			rev:  k.rev,
			from: k.from,
			to:   revision.Position{Fid: compactor.ID, Offset: offset, Size: size},
		})
		alive.NumberAlive++
		alive.SizeAlive += size
		result.Documents++
	}

	_, _, footerTick := d.HeaderTicks()
	err = compactor.Seal(footerTick)
	if err != nil {
		c.journal.CloseCompactor()
		return err
	}

	if lockSwap {
		c.compactionLock.Lock()
		defer c.compactionLock.Unlock()
	}

	err = c.journal.ReplaceDatafileWithCompactor(compactor)
	if err != nil {
		c.journal.CloseCompactor()
		return err
	}

	for _, move := range moves {
		if !c.revisions.UpdateConditional(move.rev, move.from, move.to) {
			c.logger.Warnf(logging.NSCompact+"'%s': revision %s moved during compaction", c.Name, move.rev)
		}
	}
	c.stats.Set(d.ID, alive)
	result.BytesAfter += compactor.Size()
	return nil
}

// Dump visits the document and remove markers whose tick lies in
// [from, to], oldest first. Datafiles stay in place while it runs.
func (c *Collection) Dump(from, to uint64, f func(e datafile.Entry) error) error {
	err := c.checkAvailable()
	if err != nil {
		return err
	}

	c.PreventCompaction()
	defer c.AllowCompaction()

	files := c.journal.DatafilesInRange(from, to)
	if j := c.journal.Journal(); j != nil {
		files = append(files, j)
	}

	for _, d := range files {
		err := d.Iterate(func(e datafile.Entry) error {
			if !e.Type.IsData() || e.Tick < from || e.Tick > to {
				return nil
			}
			return f(e)
		})
		if err != nil {
			return fmt.Errorf("dump datafile %d: %w", d.ID, err)
		}
	}
	return nil
}
