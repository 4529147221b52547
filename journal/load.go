package journal

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/fulldump/segmentdb/datafile"
	"github.com/fulldump/segmentdb/logging"
)

var fileNamePattern = regexp.MustCompile(`^(temp|journal|datafile|compaction)-(\d+)\.db$`)

// LoadResult summarizes what Load found on disk.
type LoadResult struct {
	Datafiles      int
	Journals       int
	TruncatedTail  bool
	DiscardedBytes int64
	RemovedFiles   []string
}

// Load discovers the files of the collection directory. Leftover temp files
// and unfinished compactors are removed, a compactor whose datafile is gone is
// promoted, journals that carry a footer become datafiles and only the newest
// unsealed journal stays writable.
func (m *Manager) Load() (LoadResult, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := LoadResult{}

	entries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		return result, ioErrorf("read collection dir", err)
	}

	kinds := map[string]map[uint64]string{
		"temp":       {},
		"journal":    {},
		"datafile":   {},
		"compaction": {},
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		fid, err := strconv.ParseUint(match[2], 10, 64)
		if err != nil {
			continue
		}
		kinds[match[1]][fid] = m.path(match[1], fid)
	}

	for _, filename := range kinds["temp"] {
		m.logger.Warnf(logging.NSJournal+"removing unfinished file %s", filename)
		os.Remove(filename)
		result.RemovedFiles = append(result.RemovedFiles, filename)
	}

	for fid, filename := range kinds["compaction"] {
		if _, exists := kinds["datafile"][fid]; exists {
			m.logger.Warnf(logging.NSCompact+"removing unfinished compactor %s", filename)
			os.Remove(filename)
			result.RemovedFiles = append(result.RemovedFiles, filename)
			continue
		}
		target := m.path("datafile", fid)
		m.logger.Warnf(logging.NSCompact+"promoting compactor %s", filename)
		err := os.Rename(filename, target)
		if err != nil {
			return result, ioErrorf("promote compactor", err)
		}
		kinds["datafile"][fid] = target
	}

	datafiles := []*datafile.Datafile{}
	journals := []*datafile.Datafile{}

	fail := func(err error) (LoadResult, error) {
		for _, d := range append(datafiles, journals...) {
			d.Close()
		}
		return result, err
	}

	for _, filename := range kinds["datafile"] {
		d, _, err := datafile.Open(filename, datafile.OpenOptions{ExpectSealed: true})
		if err != nil {
			return fail(err)
		}
		datafiles = append(datafiles, d)
	}

	for _, filename := range kinds["journal"] {
		d, opened, err := datafile.Open(filename, datafile.OpenOptions{Repair: true})
		if err != nil {
			return fail(err)
		}
		if opened.TruncatedTail {
			m.logger.Warnf(logging.NSJournal+"journal %s: ignoring damaged tail at offset %d (%d bytes)", filename, opened.TruncatedAt, opened.DiscardedBytes)
			result.TruncatedTail = true
			result.DiscardedBytes += opened.DiscardedBytes
		}
		if d.Sealed() {
			err = d.Rename(m.path("datafile", d.ID))
			if err != nil {
				d.Close()
				return fail(err)
			}
			datafiles = append(datafiles, d)
			continue
		}
		journals = append(journals, d)
	}

	// footers of stale journals must sort after every tick already on disk
	for _, d := range append(append([]*datafile.Datafile{}, datafiles...), journals...) {
		info := d.Info()
		m.config.Clock.Update(info.ID)
		m.config.Clock.Update(info.TickMax)
	}

	sortByID(journals)
	for len(journals) > 1 {
		old := journals[0]
		journals = journals[1:]
		m.logger.Warnf(logging.NSJournal+"sealing stale journal %d", old.ID)
		err := old.Seal(m.config.Clock.Next())
		if err == nil {
			err = old.Rename(m.path("datafile", old.ID))
		}
		if err != nil {
			old.Close()
			return fail(err)
		}
		datafiles = append(datafiles, old)
	}

	sortByID(datafiles)
	m.datafiles = datafiles
	m.journal = nil
	if len(journals) == 1 {
		m.journal = journals[0]
	}

	result.Datafiles = len(m.datafiles)
	result.Journals = len(journals)
	return result, nil
}

func ioErrorf(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
