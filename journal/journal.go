// Package journal manages the files of one collection: the single writable
// journal, the sealed datafiles and the compactor being filled.
package journal

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fulldump/segmentdb/datafile"
	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/marker"
)

// headerSlack is the room a fresh journal needs besides the marker itself:
// header, prologue and footer markers.
const headerSlack = 256

const DefaultJournalSize = 32 * 1024 * 1024

// Clock hands out strictly increasing ticks. It is shared with the document
// engine so every marker of the collection is totally ordered.
type Clock interface {
	Next() uint64
	// Update raises the clock to at least seen.
	Update(seen uint64)
}

type Config struct {
	Dir         string
	JournalSize int64
	Prologue    marker.ProloguePayload
	Clock       Clock
	Logger      logging.Logger
}

type Manager struct {
	config Config
	logger logging.Logger

	mutex     sync.RWMutex
	journal   *datafile.Datafile
	datafiles []*datafile.Datafile
	compactor *datafile.Datafile
}

// Region is space reserved in the journal for one marker.
type Region struct {
	Datafile *datafile.Datafile
	Offset   int64
	Size     int64
}

// Position locates a marker written through Append.
type Position struct {
	Fid    uint64
	Offset int64
	Size   int64
	Tick   uint64
}

func New(config Config) *Manager {
	if config.JournalSize <= 0 {
		config.JournalSize = DefaultJournalSize
	}
	return &Manager{
		config: config,
		logger: logging.OrDefault(config.Logger),
	}
}

func fileName(kind string, fid uint64) string {
	return fmt.Sprintf("%s-%d.db", kind, fid)
}

func (m *Manager) path(kind string, fid uint64) string {
	return filepath.Join(m.config.Dir, fileName(kind, fid))
}

// targetSize doubles the configured journal size until size fits.
func (m *Manager) targetSize(size int64) int64 {
	target := m.config.JournalSize
	for target-headerSlack < size {
		target *= 2
	}
	return target
}

func (m *Manager) createJournal(capacity int64) (*datafile.Datafile, error) {
	fid := m.config.Clock.Next()
	temp := m.path("temp", fid)

	d, err := datafile.Create(temp, datafile.CreateOptions{
		Fid:          fid,
		Capacity:     capacity,
		Prologue:     m.config.Prologue,
		HeaderTick:   m.config.Clock.Next(),
		PrologueTick: m.config.Clock.Next(),
	})
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}

	err = d.Rename(m.path("journal", fid))
	if err != nil {
		d.Remove()
		return nil, fmt.Errorf("create journal: %w", err)
	}

	m.logger.Debugf(logging.NSJournal+"created journal %d (%d bytes)", fid, capacity)
	return d, nil
}

// Reserve claims size bytes in the active journal. A full journal is sealed
// and replaced until the reservation succeeds.
func (m *Manager) Reserve(size int64) (Region, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.reserve(size)
}

func (m *Manager) reserve(size int64) (Region, error) {
	target := m.targetSize(size)

	for {
		fresh := false
		if m.journal == nil {
			journal, err := m.createJournal(target)
			if err != nil {
				return Region{}, err
			}
			m.journal = journal
			fresh = true
		}

		offset, err := m.journal.Reserve(size)
		if err == nil {
			return Region{Datafile: m.journal, Offset: offset, Size: marker.Align(size)}, nil
		}
		if !errors.Is(err, dberr.ErrDatafileFull) {
			return Region{}, err
		}
		if fresh {
			return Region{}, dberr.Wrap(dberr.KindNoJournalSpace, err, "marker of %d bytes", size)
		}

		err = m.sealJournal()
		if err != nil {
			return Region{}, err
		}
	}
}

// Append encodes a marker, reserves room for it and stamps it with a fresh
// tick once its place in the journal is known.
func (m *Manager) Append(t marker.Type, payload []byte, c marker.Compression) (Position, error) {
	buf, err := marker.Encode(marker.Marker{Type: t, Payload: payload}, c)
	if err != nil {
		return Position{}, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	region, err := m.reserve(int64(len(buf)))
	if err != nil {
		return Position{}, err
	}

	tick := m.config.Clock.Next()
	err = marker.SetTick(buf, tick)
	if err == nil {
		err = region.Datafile.WriteMarker(region.Offset, buf, tick, t)
	}
	if err != nil {
		abandonErr := region.Datafile.Abandon(region.Offset, region.Size)
		if abandonErr != nil {
			m.logger.Errorf(logging.NSJournal+"abandon region %d@%d: %s", region.Datafile.ID, region.Offset, abandonErr)
		}
		return Position{}, err
	}

	return Position{
		Fid:    region.Datafile.ID,
		Offset: region.Offset,
		Size:   int64(len(buf)),
		Tick:   tick,
	}, nil
}

func (m *Manager) sealJournal() error {
	journal := m.journal

	err := journal.Seal(m.config.Clock.Next())
	if err != nil {
		return fmt.Errorf("seal journal %d: %w", journal.ID, err)
	}
	err = journal.Rename(m.path("datafile", journal.ID))
	if err != nil {
		return fmt.Errorf("seal journal %d: %w", journal.ID, err)
	}

	m.datafiles = append(m.datafiles, journal)
	m.journal = nil

	m.logger.Infof(logging.NSJournal+"sealed journal %d (%d bytes)", journal.ID, journal.Size())
	return nil
}

// RotateActiveJournal seals the current journal into the datafile set. The
// next write opens a new journal.
func (m *Manager) RotateActiveJournal() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.journal == nil {
		return dberr.New(dberr.KindNoJournalSpace, "no active journal")
	}
	return m.sealJournal()
}

// Sync flushes the written but unsynced part of the journal.
func (m *Manager) Sync() error {
	m.mutex.RLock()
	journal := m.journal
	m.mutex.RUnlock()

	if journal == nil {
		return nil
	}
	return journal.Sync()
}

func (m *Manager) Journal() *datafile.Datafile {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.journal
}

// Datafiles returns the sealed datafiles in creation order.
func (m *Manager) Datafiles() []*datafile.Datafile {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]*datafile.Datafile(nil), m.datafiles...)
}

// Files returns every file holding data in replay order: sealed datafiles
// first, then the journal.
func (m *Manager) Files() []*datafile.Datafile {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	files := append([]*datafile.Datafile(nil), m.datafiles...)
	if m.journal != nil {
		files = append(files, m.journal)
	}
	return files
}

// Datafile finds a sealed datafile or the journal by id.
func (m *Manager) Datafile(fid uint64) (*datafile.Datafile, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.journal != nil && m.journal.ID == fid {
		return m.journal, true
	}
	for _, d := range m.datafiles {
		if d.ID == fid {
			return d, true
		}
	}
	return nil, false
}

// DatafilesInRange returns the sealed datafiles holding data ticks between
// dataMin and dataMax.
func (m *Manager) DatafilesInRange(dataMin, dataMax uint64) []*datafile.Datafile {
	result := []*datafile.Datafile{}
	for _, d := range m.Datafiles() {
		info := d.Info()
		if info.DataMin == 0 && info.DataMax == 0 {
			continue
		}
		if info.DataMax < dataMin || info.DataMin > dataMax {
			continue
		}
		result = append(result, d)
	}
	return result
}

// Compactor returns the compactor being filled, if any.
func (m *Manager) Compactor() *datafile.Datafile {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.compactor
}

// CreateCompactor opens a compaction target that will take the place of
// source. It reuses the source id and header ticks so replay order does not
// change.
func (m *Manager) CreateCompactor(source *datafile.Datafile, capacity int64) (*datafile.Datafile, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.compactor != nil {
		return nil, dberr.New(dberr.KindInternal, "compactor %d already in progress", m.compactor.ID)
	}

	headerTick, prologueTick, _ := source.HeaderTicks()
	d, err := datafile.Create(m.path("compaction", source.ID), datafile.CreateOptions{
		Fid:          source.ID,
		Capacity:     marker.Align(capacity) + headerSlack,
		Prologue:     m.config.Prologue,
		HeaderTick:   headerTick,
		PrologueTick: prologueTick,
	})
	if err != nil {
		return nil, fmt.Errorf("create compactor: %w", err)
	}

	m.compactor = d
	return d, nil
}

// CloseCompactor discards an unfinished compactor.
func (m *Manager) CloseCompactor() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.compactor == nil {
		return nil
	}
	err := m.compactor.Remove()
	m.compactor = nil
	return err
}

// ReplaceDatafileWithCompactor swaps the sealed compactor in for the datafile
// with the same id. The old file is removed before the rename, so a crash in
// between leaves only the compaction file, which Load promotes.
func (m *Manager) ReplaceDatafileWithCompactor(compactor *datafile.Datafile) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if compactor != m.compactor {
		return dberr.New(dberr.KindInternal, "datafile %d is not the active compactor", compactor.ID)
	}
	if !compactor.Sealed() {
		return dberr.New(dberr.KindInternal, "compactor %d is not sealed", compactor.ID)
	}

	for i, d := range m.datafiles {
		if d.ID != compactor.ID {
			continue
		}

		err := d.Remove()
		if err != nil {
			return err
		}
		err = compactor.Rename(m.path("datafile", compactor.ID))
		if err != nil {
			return err
		}

		m.datafiles[i] = compactor
		m.compactor = nil
		return nil
	}

	return dberr.New(dberr.KindInternal, "datafile %d not found", compactor.ID)
}

// RemoveDatafile drops a sealed datafile that holds nothing worth keeping.
func (m *Manager) RemoveDatafile(fid uint64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, d := range m.datafiles {
		if d.ID != fid {
			continue
		}
		err := d.Remove()
		if err != nil {
			return err
		}
		m.datafiles = append(m.datafiles[:i], m.datafiles[i+1:]...)
		return nil
	}
	return dberr.New(dberr.KindInternal, "datafile %d not found", fid)
}

// Close closes every file without sealing the journal.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var lastErr error
	if m.journal != nil {
		if err := m.journal.Sync(); err != nil {
			lastErr = err
		}
	}
	for _, d := range m.files() {
		if err := d.Close(); err != nil {
			lastErr = err
		}
	}
	if m.compactor != nil {
		m.compactor.Remove()
		m.compactor = nil
	}
	return lastErr
}

func (m *Manager) files() []*datafile.Datafile {
	files := append([]*datafile.Datafile(nil), m.datafiles...)
	if m.journal != nil {
		files = append(files, m.journal)
	}
	return files
}

func sortByID(files []*datafile.Datafile) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].ID < files[j].ID
	})
}
