package datafile

import (
	"errors"
	"io"
	"os"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/marker"
)

type OpenOptions struct {
	// ExpectSealed makes any damaged marker fatal. Otherwise the file is a
	// journal and a damaged trailing marker is the end of the data.
	ExpectSealed bool

	// Repair zero-fills a journal after its last intact marker.
	Repair bool
}

// OpenResult reports what the scan found.
type OpenResult struct {
	Markers        int
	TruncatedTail  bool
	TruncatedAt    int64
	DiscardedBytes int64
}

// Open scans an existing datafile, restoring its write cursor and tick bounds.
func Open(path string, o OpenOptions) (*Datafile, OpenResult, error) {
	result := OpenResult{}

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, result, ioError("open datafile", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, result, ioError("stat datafile", err)
	}

	d := &Datafile{
		file:     file,
		path:     path,
		Capacity: stat.Size(),
	}

	end, tailErr, err := d.scan(stat.Size(), &result)
	if err != nil {
		file.Close()
		return nil, result, err
	}

	if tailErr != nil {
		if o.ExpectSealed || d.sealed {
			file.Close()
			return nil, result, dberr.Wrap(dberr.KindCorruptDatafile, tailErr, "%s offset %d", path, end)
		}
		result.TruncatedTail = true
		result.TruncatedAt = end
	}

	if o.ExpectSealed && !d.sealed {
		file.Close()
		return nil, result, dberr.New(dberr.KindCorruptDatafile, "%s: missing footer", path)
	}

	d.written = end
	d.synced = end

	if !d.sealed && result.TruncatedTail {
		result.DiscardedBytes = stat.Size() - end
		if o.Repair {
			// Dropping and re-extending the tail leaves zeros behind the cursor.
			err = file.Truncate(end)
			if err == nil {
				err = file.Truncate(d.Capacity)
			}
			if err == nil {
				err = file.Sync()
			}
			if err != nil {
				file.Close()
				return nil, result, ioError("repair journal", err)
			}
		}
	}

	return d, result, nil
}

// scan walks the markers of the file. Damage after the header is reported as
// tailErr with end pointing at the damaged marker.
func (d *Datafile) scan(limit int64, result *OpenResult) (end int64, tailErr error, err error) {

	header := make([]byte, marker.HeaderSize)
	offset := int64(0)

	for offset < limit {
		n, readErr := d.file.ReadAt(header, offset)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return offset, nil, ioError("read datafile", readErr)
		}

		f, frameErr := marker.ParseFrame(header[:n])
		if errors.Is(frameErr, marker.ErrEndOfSegment) {
			break
		}
		if frameErr == nil && int64(f.Size) > limit-offset {
			return offset, nil, dberr.New(dberr.KindCorruptDatafile, "%s offset %d: marker size %d exceeds remaining %d bytes", d.path, offset, f.Size, limit-offset)
		}
		if frameErr != nil {
			if offset == 0 {
				return 0, nil, dberr.Wrap(dberr.KindCorruptDatafile, frameErr, "%s: bad header", d.path)
			}
			return offset, frameErr, nil
		}

		buf := make([]byte, f.Size)
		_, readErr = d.file.ReadAt(buf, offset)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return offset, nil, ioError("read datafile", readErr)
		}

		m, size, decodeErr := marker.Decode(buf)
		if decodeErr != nil {
			if offset == 0 {
				return 0, nil, dberr.Wrap(dberr.KindCorruptDatafile, decodeErr, "%s: bad header", d.path)
			}
			if !d.followedBySentinel(offset+f.AlignedSize(), limit) {
				return offset, nil, dberr.Wrap(dberr.KindCorruptDatafile, decodeErr, "%s offset %d", d.path, offset)
			}
			return offset, decodeErr, nil
		}
		result.Markers++

		switch m.Type {
		case marker.TypeHeader:
			if offset != 0 {
				return offset, nil, dberr.New(dberr.KindCorruptDatafile, "%s: header marker at offset %d", d.path, offset)
			}
			h, err := marker.UnmarshalHeader(m.Payload)
			if err != nil {
				return 0, nil, dberr.Wrap(dberr.KindCorruptDatafile, err, "%s", d.path)
			}
			d.ID = h.Fid
			d.headerTick = m.Tick
		case marker.TypePrologue:
			d.prologueTick = m.Tick
		default:
			if offset == 0 {
				return 0, nil, dberr.New(dberr.KindCorruptDatafile, "%s: first marker is %s", d.path, m.Type)
			}
		}

		if d.tickMin == 0 || m.Tick < d.tickMin {
			d.tickMin = m.Tick
		}
		if m.Tick > d.tickMax {
			d.tickMax = m.Tick
		}
		if m.Type.IsData() {
			if d.dataMin == 0 || m.Tick < d.dataMin {
				d.dataMin = m.Tick
			}
			if m.Tick > d.dataMax {
				d.dataMax = m.Tick
			}
		}

		if m.Type == marker.TypeFooter {
			d.sealed = true
			d.footerOffset = offset
			d.footerTick = m.Tick
			return offset + size, nil, nil
		}

		offset += size
	}

	if offset == 0 {
		return 0, nil, dberr.New(dberr.KindCorruptDatafile, "%s: empty datafile", d.path)
	}

	return offset, nil, nil
}

// followedBySentinel tells a damaged last marker apart from damage in the
// middle of the data.
func (d *Datafile) followedBySentinel(offset, limit int64) bool {
	if offset >= limit {
		return true
	}
	header := make([]byte, marker.HeaderSize)
	n, err := d.file.ReadAt(header, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	_, err = marker.ParseFrame(header[:n])
	return errors.Is(err, marker.ErrEndOfSegment)
}
